package types

import "strings"

// Role is one of the LTI roles this tool understands.
type Role int

const (
	RoleStudent Role = iota + 1
	RoleFaculty
	RoleMember
	RoleLearner
	RoleInstructor
	RoleMentor
	RoleStaff
	RoleAlumni
	RoleProspectiveStudent
	RoleContentDeveloper
	RoleGuest
	RoleOther
	RoleAdministrator
	RoleObserver
	RoleNone
)

// role labels as they appear after title-casing the LMS value
var roleLabels = map[Role]string{
	RoleStudent:            "Student",
	RoleFaculty:            "Faculty",
	RoleMember:             "Member",
	RoleLearner:            "Learner",
	RoleInstructor:         "Instructor",
	RoleMentor:             "Mentor",
	RoleStaff:              "Staff",
	RoleAlumni:             "Alumni",
	RoleProspectiveStudent: "Prospectivestudent",
	RoleContentDeveloper:   "Contentdeveloper",
	RoleGuest:              "Guest",
	RoleOther:              "Other",
	RoleAdministrator:      "Administrator",
	RoleObserver:           "Observer",
	RoleNone:               "None",
}

var rolesByLabel = func() map[string]Role {
	m := make(map[string]Role, len(roleLabels))
	for role, label := range roleLabels {
		m[label] = role
	}
	return m
}()

func (r Role) String() string {
	if label, ok := roleLabels[r]; ok {
		return label
	}
	return "Unknown"
}

// RoleFromLabel looks up a title-cased label.
func RoleFromLabel(label string) (Role, bool) {
	role, ok := rolesByLabel[label]
	return role, ok
}

// DefaultTeacherRoles may create classes and act as supervisor.
var DefaultTeacherRoles = []Role{RoleAdministrator, RoleInstructor, RoleStaff}

// RoleList renders roles for messages, e.g. "[Instructor, Staff]".
func RoleList(roles []Role) string {
	labels := make([]string, len(roles))
	for i, role := range roles {
		labels[i] = role.String()
	}
	return "[" + strings.Join(labels, ", ") + "]"
}
