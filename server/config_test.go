package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/russross/wimslti/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[server]
publicURL = https://lti.example.org/
sessionSecret = c2VjcmV0LXNlY3JldC1zZWNyZXQ=
wimsTimeoutSeconds = 3
teacherRole = Instructor
teacherRole = Mentor
pruneSchedule = @weekly

[log]
level = debug
json = true

[mail]
enabled = true
host = smtp.example.org
from = wimslti@example.org
`

func TestLoadConfig(t *testing.T) {
	root = t.TempDir()
	path := filepath.Join(root, "wimslti.cfg")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))
	t.Setenv("WIMSLTI_PORT", "9090")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://lti.example.org", cfg.Server.PublicURL)
	assert.Equal(t, "secret-secret-secret", cfg.Server.SessionSecret)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, filepath.Join(root, "db", "wimslti.db"), cfg.Server.SQLite3Path)
	assert.Equal(t, 3*time.Second, cfg.wimsTimeout())
	assert.Equal(t, "@hourly", cfg.Server.RelaySchedule)
	assert.Equal(t, "@weekly", cfg.Server.PruneSchedule)
	assert.True(t, cfg.Log.JSON)
	assert.True(t, cfg.Mail.Enabled)
	assert.Equal(t, 25, cfg.Mail.Port)

	roles, err := cfg.teacherRoles()
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleInstructor, RoleMentor}, roles)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	root = t.TempDir()
	t.Setenv("WIMSLTI_PUBLICURL", "https://lti.example.org")
	_, err := loadConfig(filepath.Join(root, "missing.cfg"))
	assert.EqualError(t, err, "cannot run with no sessionSecret in the config file")

	t.Setenv("WIMSLTI_SESSIONSECRET", "plain secret")
	cfg, err := loadConfig(filepath.Join(root, "missing.cfg"))
	require.NoError(t, err)
	assert.Equal(t, "plain secret", cfg.Server.SessionSecret)
	roles, err := cfg.teacherRoles()
	require.NoError(t, err)
	assert.Equal(t, DefaultTeacherRoles, roles)
}

func TestLoadConfigBadRole(t *testing.T) {
	root = t.TempDir()
	path := filepath.Join(root, "wimslti.cfg")
	require.NoError(t, os.WriteFile(path, []byte("[server]\npublicURL = x\nsessionSecret = y\nteacherRole = Wizard\n"), 0o600))
	_, err := loadConfig(path)
	assert.ErrorContains(t, err, "Wizard")
}
