// Package lti parses and authenticates LTI 1.x basic launch requests and
// builds the signed outcome messages used to report grades back to an LMS.
package lti

import (
	"net/url"
	"sort"
	"strings"

	. "github.com/russross/wimslti/types"
)

// LaunchParams is the flat set of launch fields this tool reads.
type LaunchParams struct {
	MessageType    string
	Version        string
	ResourceLinkID string
	ResourceTitle  string
	ResourceDesc   string

	UserID     string
	Roles      string
	GivenName  string
	FamilyName string
	FullName   string
	Email      string

	ContextID    string
	ContextTitle string
	ContextLabel string

	Locale    string
	ReturnURL string

	ConsumerGUID        string
	ConsumerName        string
	ConsumerDescription string

	OutcomeServiceURL string
	ResultSourcedID   string

	ConsumerKey     string
	SignatureMethod string
	Timestamp       string
	Nonce           string
	OAuthVersion    string
	Signature       string
	Callback        string

	ClassName        string
	ClassInstitution string
	ClassEmail       string
	ClassLang        string
	ClassExpiration  string
	ClassLimit       string
	ClassLevel       string
	ClassCSS         string

	SupervisorLastName  string
	SupervisorFirstName string
}

func (p *LaunchParams) fields() []struct {
	key string
	dst *string
} {
	return []struct {
		key string
		dst *string
	}{
		{"lti_message_type", &p.MessageType},
		{"lti_version", &p.Version},
		{"resource_link_id", &p.ResourceLinkID},
		{"resource_link_title", &p.ResourceTitle},
		{"resource_link_description", &p.ResourceDesc},
		{"user_id", &p.UserID},
		{"roles", &p.Roles},
		{"lis_person_name_given", &p.GivenName},
		{"lis_person_name_family", &p.FamilyName},
		{"lis_person_name_full", &p.FullName},
		{"lis_person_contact_email_primary", &p.Email},
		{"context_id", &p.ContextID},
		{"context_title", &p.ContextTitle},
		{"context_label", &p.ContextLabel},
		{"launch_presentation_locale", &p.Locale},
		{"launch_presentation_return_url", &p.ReturnURL},
		{"tool_consumer_instance_guid", &p.ConsumerGUID},
		{"tool_consumer_instance_name", &p.ConsumerName},
		{"tool_consumer_instance_description", &p.ConsumerDescription},
		{"lis_outcome_service_url", &p.OutcomeServiceURL},
		{"lis_result_sourcedid", &p.ResultSourcedID},
		{"oauth_consumer_key", &p.ConsumerKey},
		{"oauth_signature_method", &p.SignatureMethod},
		{"oauth_timestamp", &p.Timestamp},
		{"oauth_nonce", &p.Nonce},
		{"oauth_version", &p.OAuthVersion},
		{"oauth_signature", &p.Signature},
		{"oauth_callback", &p.Callback},
		{"custom_class_name", &p.ClassName},
		{"custom_class_institution", &p.ClassInstitution},
		{"custom_class_email", &p.ClassEmail},
		{"custom_class_lang", &p.ClassLang},
		{"custom_class_expiration", &p.ClassExpiration},
		{"custom_class_limit", &p.ClassLimit},
		{"custom_class_level", &p.ClassLevel},
		{"custom_class_css", &p.ClassCSS},
		{"custom_supervisor_lastname", &p.SupervisorLastName},
		{"custom_supervisor_firstname", &p.SupervisorFirstName},
	}
}

var (
	protocolMandatory = []string{
		"lti_message_type",
		"lti_version",
		"resource_link_id",
		"oauth_signature_method",
		"oauth_timestamp",
		"oauth_nonce",
		"oauth_signature",
	}
	applicationMandatory = []string{
		"context_id",
		"context_title",
		"user_id",
		"lis_person_contact_email_primary",
		"lis_person_name_family",
		"lis_person_name_given",
		"roles",
		"oauth_consumer_key",
	}
)

// HasOutcome reports whether the launch carries grade passback credentials.
func (p *LaunchParams) HasOutcome() bool {
	return p.OutcomeServiceURL != "" && p.ResultSourcedID != ""
}

// ParseLaunch extracts the recognized launch fields from a form-encoded
// POST body. It fails on doubly-prefixed custom parameters, on missing
// mandatory fields, and on any message type other than a basic launch.
// Signature and custom value syntax are checked separately.
func ParseLaunch(form url.Values) (*LaunchParams, error) {
	var doubled []string
	for key := range form {
		if strings.HasPrefix(key, "custom_custom_") {
			doubled = append(doubled, key)
		}
	}
	if len(doubled) > 0 {
		sort.Strings(doubled)
		return nil, Invalidf("LTI request is invalid, found parameter(s) starting with 'custom_custom_': %v. "+
			"The LMS adds 'custom_' to custom parameters itself, remove the 'custom_' prefix from the tool configuration",
			doubled)
	}

	if missing := missingKeys(form, protocolMandatory); len(missing) > 0 {
		return nil, Invalidf("LTI request is invalid, missing parameter(s): %v", missing)
	}
	if missing := missingKeys(form, applicationMandatory); len(missing) > 0 {
		return nil, Invalidf("LTI request is invalid, WIMS LTI require parameter(s): %v", missing)
	}

	p := new(LaunchParams)
	for _, f := range p.fields() {
		*f.dst = form.Get(f.key)
	}
	if p.MessageType != LaunchMessageType {
		return nil, Invalidf("LTI request is invalid, parameter 'lti_message_type' must be equal to '%s', got '%s'",
			LaunchMessageType, p.MessageType)
	}
	if p.UserID == "" || p.ContextID == "" {
		return nil, Invalidf("LTI request is invalid, 'user_id' and 'context_id' must not be empty")
	}
	return p, nil
}

func missingKeys(form url.Values, keys []string) []string {
	var missing []string
	for _, key := range keys {
		if _, present := form[key]; !present {
			missing = append(missing, key)
		}
	}
	return missing
}
