package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/russross/wimslti/lti"
	. "github.com/russross/wimslti/types"
	"github.com/sirupsen/logrus"
	"gopkg.in/gcfg.v1"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigFile is the layout of wimslti.cfg.
type ConfigFile struct {
	Server struct {
		PublicURL          string   // base URL LMSes launch through: "https://lti.example.org"
		Port               int      // default 8080
		SQLite3Path        string   // default "$WIMSLTIROOT/db/wimslti.db"
		SessionSecret      string   // signs admin cookies: `head -c 32 /dev/urandom | base64`
		AdminPasswordHash  string   // bcrypt hash from `wimslti-admin hash-password`
		WimsTimeoutSeconds int      // default 10
		TeacherRole        []string // roles allowed to create classes: default Administrator, Instructor, Staff
		RelaySchedule      string   // default "@hourly"
		PruneSchedule      string   // default "@daily"
	}
	Log struct {
		Level      string // default "info"
		JSON       bool
		File       string // rotated log file; stderr only when empty
		MaxSizeMB  int
		MaxAgeDays int
		MaxBackups int
	}
	Mail struct {
		Enabled  bool
		Host     string
		Port     int
		Username string
		Password string
		From     string
	}
}

// Config is loaded once at startup and read-only afterwards.
var Config ConfigFile

var root string

func defaultConfig() ConfigFile {
	var cfg ConfigFile
	cfg.Server.Port = 8080
	cfg.Server.SQLite3Path = filepath.Join(root, "db", "wimslti.db")
	cfg.Server.WimsTimeoutSeconds = 10
	cfg.Server.RelaySchedule = "@hourly"
	cfg.Server.PruneSchedule = "@daily"
	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxAgeDays = 28
	cfg.Log.MaxBackups = 3
	cfg.Mail.Port = 25
	return cfg
}

// loadConfig reads path over the defaults; a missing file is not an error
// so that a pure environment configuration works.
func loadConfig(path string) (ConfigFile, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); err == nil {
		if err := gcfg.ReadFileInto(&cfg, path); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %v", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	env := func(name string, dst *string) {
		if v := os.Getenv("WIMSLTI_" + name); v != "" {
			*dst = v
		}
	}
	env("PUBLICURL", &cfg.Server.PublicURL)
	env("SQLITE3PATH", &cfg.Server.SQLite3Path)
	env("SESSIONSECRET", &cfg.Server.SessionSecret)
	env("ADMINPASSWORDHASH", &cfg.Server.AdminPasswordHash)
	env("MAILPASSWORD", &cfg.Mail.Password)
	if v := os.Getenv("WIMSLTI_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("WIMSLTI_PORT: %v", err)
		}
		cfg.Server.Port = port
	}

	cfg.Server.SessionSecret = unBase64(cfg.Server.SessionSecret)
	cfg.Server.PublicURL = strings.TrimSuffix(cfg.Server.PublicURL, "/")

	if cfg.Server.PublicURL == "" {
		return cfg, fmt.Errorf("cannot run with no publicURL in the config file")
	}
	if cfg.Server.SessionSecret == "" {
		return cfg, fmt.Errorf("cannot run with no sessionSecret in the config file")
	}
	if cfg.Server.SQLite3Path == "" {
		return cfg, fmt.Errorf("cannot run with no sqlite3Path in the config file")
	}
	if _, err := cfg.teacherRoles(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *ConfigFile) teacherRoles() ([]Role, error) {
	if len(cfg.Server.TeacherRole) == 0 {
		return DefaultTeacherRoles, nil
	}
	roles, unknown := lti.ParseRoles(strings.Join(cfg.Server.TeacherRole, ","))
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown teacherRole value(s): %v", unknown)
	}
	return roles, nil
}

func (cfg *ConfigFile) wimsTimeout() time.Duration {
	if cfg.Server.WimsTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.Server.WimsTimeoutSeconds) * time.Second
}

// setupLogging configures the standard logrus logger.
func setupLogging(cfg *ConfigFile) error {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if cfg.Log.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o750); err != nil {
			return err
		}
		logrus.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxAge:     cfg.Log.MaxAgeDays,
			MaxBackups: cfg.Log.MaxBackups,
		}))
	}
	return nil
}

func unBase64(s string) string {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(raw)
	}
	return s
}
