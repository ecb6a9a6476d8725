package types

import (
	"fmt"
	"time"
)

const (
	CookieName           = "wimslti"
	SupervisorUsername   = "supervisor"
	MaxUsernameLength    = 22
	MaxUsernameSuffix    = 100
	LaunchMessageType    = "basic-lti-launch-request"
	DefaultClassLevel    = "H4"
	DefaultClassLimit    = 150
	DefaultClassDuration = 365 * 24 * time.Hour
)

// Lms is one LMS deployment allowed to launch into this tool.
// Rows are created by an administrator, never by a launch.
type Lms struct {
	ID          int64     `json:"id" meddler:"id,pk"`
	GUID        string    `json:"guid" meddler:"guid"`
	Name        string    `json:"name" meddler:"name"`
	URL         string    `json:"url" meddler:"url"`
	OAuthKey    string    `json:"oauthKey" meddler:"oauth_key"`
	OAuthSecret string    `json:"-" meddler:"oauth_secret"`
	CreatedAt   time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt   time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// WimsServer is a remote WIMS installation reachable through its adm/raw API.
type WimsServer struct {
	ID             int64     `json:"id" meddler:"id,pk"`
	Name           string    `json:"name" meddler:"name"`
	URL            string    `json:"url" meddler:"url"`
	Ident          string    `json:"-" meddler:"ident"`
	Passwd         string    `json:"-" meddler:"passwd"`
	RClass         string    `json:"rclass" meddler:"rclass"`
	ClassLimit     int       `json:"classLimit" meddler:"class_limit"`
	ExpirationDays int       `json:"expirationDays" meddler:"expiration_days"`
	CreatedAt      time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt      time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// Duration returns how long new classes on this server live by default.
func (s *WimsServer) Duration() time.Duration {
	if s.ExpirationDays <= 0 {
		return DefaultClassDuration
	}
	return time.Duration(s.ExpirationDays) * 24 * time.Hour
}

// Limit returns the default capacity of new classes on this server.
func (s *WimsServer) Limit() int {
	if s.ClassLimit <= 0 {
		return DefaultClassLimit
	}
	return s.ClassLimit
}

// ClassMapping links an LMS course (context) to a class on a WIMS server.
type ClassMapping struct {
	ID            int64     `json:"id" meddler:"id,pk"`
	LmsID         int64     `json:"lmsID" meddler:"lms_id"`
	LmsContextID  string    `json:"lmsContextID" meddler:"lms_context_id"`
	WimsServerID  int64     `json:"wimsServerID" meddler:"wims_server_id"`
	RemoteClassID string    `json:"remoteClassID" meddler:"remote_class_id"`
	Name          string    `json:"name" meddler:"name"`
	CreatedAt     time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt     time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// UserMapping links an LMS user to a user account inside a WIMS class.
// The supervisor row has no LMS user id.
type UserMapping struct {
	ID             int64     `json:"id" meddler:"id,pk"`
	ClassMappingID int64     `json:"classMappingID" meddler:"class_mapping_id"`
	LmsUserID      string    `json:"lmsUserID" meddler:"lms_user_id,zeroisnull"`
	RemoteUsername string    `json:"remoteUsername" meddler:"remote_username"`
	CreatedAt      time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt      time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

func (u *UserMapping) IsSupervisor() bool {
	return u.LmsUserID == ""
}

// ActivityKind distinguishes the two kinds of gradable WIMS activities.
type ActivityKind string

const (
	KindSheet ActivityKind = "sheet"
	KindExam  ActivityKind = "exam"
)

var ActivityKinds = []ActivityKind{KindSheet, KindExam}

func ParseActivityKind(s string) (ActivityKind, error) {
	switch ActivityKind(s) {
	case KindSheet, KindExam:
		return ActivityKind(s), nil
	}
	return "", fmt.Errorf("unknown activity kind %q", s)
}

// ActivityMapping links a WIMS sheet or exam to the LMS resource link
// that last launched it.
type ActivityMapping struct {
	ID                int64        `json:"id" meddler:"id,pk"`
	ClassMappingID    int64        `json:"classMappingID" meddler:"class_mapping_id"`
	Kind              ActivityKind `json:"kind" meddler:"kind"`
	RemoteActivityID  int          `json:"remoteActivityID" meddler:"remote_activity_id"`
	LmsResourceLinkID string       `json:"lmsResourceLinkID" meddler:"lms_resource_link_id"`
	CreatedAt         time.Time    `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt         time.Time    `json:"updatedAt" meddler:"updated_at,localtime"`
}

// GradeLink holds the outcome service credentials the LMS handed out for
// one user on one activity.
type GradeLink struct {
	ID                 int64     `json:"id" meddler:"id,pk"`
	UserMappingID      int64     `json:"userMappingID" meddler:"user_mapping_id"`
	ActivityMappingID  int64     `json:"activityMappingID" meddler:"activity_mapping_id"`
	OutcomeSourcedID   string    `json:"-" meddler:"outcome_sourcedid"`
	OutcomeCallbackURL string    `json:"-" meddler:"outcome_callback_url"`
	CreatedAt          time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt          time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}
