// Package wims talks to the adm/raw API of a WIMS server.
package wims

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blang/semver"
	. "github.com/russross/wimslti/types"
)

// ClientFunc builds the client for a configured server.
type ClientFunc func(*WimsServer) Client

// Client is the subset of the WIMS adm/raw API this tool relies on.
// qclass identifies a class on the server, rclass the namespace it was
// allocated in.
type Client interface {
	CheckIdent(ctx context.Context) (*ServerInfo, error)
	GetClass(ctx context.Context, qclass, rclass string) (*Class, error)
	AddClass(ctx context.Context, rclass string, class *Class, supervisor *User) (string, error)
	GetUser(ctx context.Context, qclass, rclass, quser string) (*User, error)
	AddUser(ctx context.Context, qclass, rclass string, user *User) error
	GetActivity(ctx context.Context, qclass, rclass string, kind ActivityKind, id int) (*Activity, error)
	ListActivities(ctx context.Context, qclass, rclass string, kind ActivityKind) ([]*Activity, error)
	GetScores(ctx context.Context, qclass, rclass string, kind ActivityKind, id int) ([]*Score, error)
	AuthUser(ctx context.Context, qclass, rclass, quser string) (string, error)
}

// ServerInfo is what checkident reports about a server.
type ServerInfo struct {
	Version semver.Version
}

// HasScoreField reports whether the server records a teacher-set sheet
// score next to the best attempt. Unknown versions are assumed recent.
func (s *ServerInfo) HasScoreField() bool {
	if s == nil || s.Version.Equals(semver.Version{}) {
		return true
	}
	return s.Version.GTE(semver.MustParse(CurrentVersion.ScoreFieldWimsVersion))
}

// Supported returns an APIError when the server predates the oldest WIMS
// release this tool can drive. Unknown versions pass.
func (s *ServerInfo) Supported() error {
	if s == nil || s.Version.Equals(semver.Version{}) {
		return nil
	}
	min := semver.MustParse(CurrentVersion.MinimumWimsVersion)
	if s.Version.LT(min) {
		return &APIError{Job: "checkident", Message: fmt.Sprintf("WIMS %s is too old, at least %s is required", s.Version, min)}
	}
	return nil
}

// Class describes a WIMS class.
type Class struct {
	QClass      string `json:"qclass"`
	Name        string `json:"name"`
	Institution string `json:"institution"`
	Email       string `json:"email"`
	Lang        string `json:"lang"`
	Expiration  string `json:"expiration"`
	Limit       int    `json:"limit"`
	Level       string `json:"level"`
	CSS         string `json:"css"`
	Password    string `json:"-"`
}

// User describes an account inside a WIMS class.
type User struct {
	QUser     string `json:"quser"`
	LastName  string `json:"lastname"`
	FirstName string `json:"firstname"`
	Email     string `json:"email"`
	Password  string `json:"-"`
}

// Activity modes as reported by WIMS.
const (
	ModePending = 0
	ModeActive  = 1
	ModeExpired = 2
	ModeHidden  = 3
)

var modeNames = []string{"pending", "active", "expired", "hidden"}

func ModeName(mode int) string {
	if mode >= 0 && mode < len(modeNames) {
		return modeNames[mode]
	}
	return fmt.Sprintf("mode %d", mode)
}

// Activity is a sheet or an exam.
type Activity struct {
	Kind        ActivityKind `json:"kind"`
	ID          int          `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Mode        int          `json:"mode"`
}

// Available reports whether students may currently open the activity.
func (a *Activity) Available() bool {
	return a.Mode == ModeActive || a.Mode == ModeExpired
}

// Score is one user's result on an activity. For sheets, Score is -1
// when no score was set and Best holds the best attempt as a percentage.
type Score struct {
	User  string
	Score float64
	Best  float64
}

// Normalize converts a raw WIMS score into the [0, 1] range the LMS expects.
func (s *Score) Normalize(kind ActivityKind, info *ServerInfo) float64 {
	var n float64
	switch kind {
	case KindSheet:
		if s.Score != -1 && info.HasScoreField() {
			n = s.Score / 10
		} else {
			n = s.Best / 100
		}
	case KindExam:
		n = s.Score / 10
	}
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// APIError is returned when a WIMS server answers with an error status.
type APIError struct {
	Job     string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("WIMS %s failed: %s", e.Job, e.Message)
}

// TransportError is returned when a WIMS server cannot be reached in time.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("WIMS server %s is unreachable: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func apiMessageContains(err error, fragment string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, fragment)
}

// IsNotExisting reports whether err says the requested object is gone.
func IsNotExisting(err error) bool {
	return apiMessageContains(err, "not existing")
}

// IsUserExists reports whether err says a username is already taken.
func IsUserExists(err error) bool {
	return apiMessageContains(err, "user already exists")
}

// IsNoUser reports whether err says a class has no participants yet.
func IsNoUser(err error) bool {
	return apiMessageContains(err, "There is no user in this class")
}
