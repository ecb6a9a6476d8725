package lti

import (
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	. "github.com/russross/wimslti/types"
)

// Languages and Levels are the values WIMS accepts for a class.
var (
	Languages = []string{"ca", "cn", "en", "es", "fr", "it", "nl", "si", "tw", "de"}
	Levels    = []string{
		"E1", "E2", "E3", "E4", "E5", "E6",
		"H1", "H2", "H3", "H4", "H5", "H6",
		"U1", "U2", "U3", "U4", "U5",
		"G", "R",
	}
)

const (
	MinClassLimit     = 5
	MaxClassLimit     = 500
	MinExpirationDays = 31
	MaxExpirationDays = 365
	ExpirationLayout  = "20060102"
)

var validate = validator.New()

// CheckEmail reports whether s is a syntactically valid email address.
func CheckEmail(s string) bool {
	return validate.Var(s, "required,email") == nil
}

// CheckCustom validates the syntax of the custom_class_* parameters that
// are present. Absent parameters fall back to defaults later and are not
// checked here.
func CheckCustom(p *LaunchParams, now time.Time) error {
	if p.ClassEmail != "" && !CheckEmail(p.ClassEmail) {
		return Invalidf("Invalid parameter 'custom_class_email' (%s): invalid email", p.ClassEmail)
	}
	if p.ClassLang != "" && !contains(Languages, p.ClassLang) {
		return Invalidf("Invalid parameter 'custom_class_lang' ('%s'): not supported by WIMS, must be one of %v",
			p.ClassLang, Languages)
	}
	if p.ClassLevel != "" && !contains(Levels, p.ClassLevel) {
		return Invalidf("Invalid parameter 'custom_class_level' ('%s'): must be one of %v", p.ClassLevel, Levels)
	}
	if p.ClassLimit != "" {
		n, err := strconv.Atoi(p.ClassLimit)
		if err != nil || n < MinClassLimit || n > MaxClassLimit {
			return Invalidf("Invalid parameter 'custom_class_limit' ('%s'): must be an integer in [%d, %d]",
				p.ClassLimit, MinClassLimit, MaxClassLimit)
		}
	}
	if p.ClassExpiration != "" {
		date, err := time.ParseInLocation(ExpirationLayout, p.ClassExpiration, now.Location())
		if err != nil {
			return Invalidf("Invalid parameter 'custom_class_expiration' ('%s'): must be formatted as 'YYYYMMDD'",
				p.ClassExpiration)
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		days := int(math.Round(date.Sub(today).Hours() / 24))
		if days < MinExpirationDays || days > MaxExpirationDays {
			return Invalidf("Invalid parameter 'custom_class_expiration' ('%s'): must be more than %d days "+
				"and less than %d days from now", p.ClassExpiration, MinExpirationDays, MaxExpirationDays)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, elt := range list {
		if elt == s {
			return true
		}
	}
	return false
}
