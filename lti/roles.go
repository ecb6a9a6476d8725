package lti

import (
	"strings"

	. "github.com/russross/wimslti/types"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// prefixes an LMS may put in front of a role label
var rolePrefixes = []string{
	"urn:lti:instrole:ims/lis/",
	"urn:lti:sysrole:ims/lis/",
	"urn:lti:role:ims/lis/",
	"http://purl.imsglobal.org/vocab/lis/v2/membership#",
	"http://purl.imsglobal.org/vocab/lis/v2/institution/person#",
	"http://purl.imsglobal.org/vocab/lis/v2/system/person#",
}

// ParseRoles splits a comma-separated LTI roles value into known roles.
// Tokens that do not name a known role are returned separately so the
// caller can log them; they never cause a failure.
func ParseRoles(raw string) (roles []Role, unknown []string) {
	// casers keep state, so each call gets its own
	title := cases.Title(language.Und)
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		label := token
		if strings.Contains(label, "urn:") || strings.Contains(label, "purl.imsglobal.org") {
			for _, prefix := range rolePrefixes {
				label = strings.Replace(label, prefix, "", -1)
			}
		}
		role, ok := RoleFromLabel(title.String(label))
		if !ok {
			unknown = append(unknown, token)
			continue
		}
		roles = append(roles, role)
	}
	return roles, unknown
}

// IsTeacher reports whether any of roles is in the teacher-tier allow-list.
func IsTeacher(roles, allowed []Role) bool {
	for _, role := range roles {
		for _, elt := range allowed {
			if role == elt {
				return true
			}
		}
	}
	return false
}
