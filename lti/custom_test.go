package lti

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckCustom(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		p    LaunchParams
		bad  string
	}{
		{name: "no custom values", p: LaunchParams{}},
		{name: "all valid", p: LaunchParams{
			ClassEmail:      "teacher@example.org",
			ClassLang:       "fr",
			ClassLevel:      "U2",
			ClassLimit:      "500",
			ClassExpiration: "20260501",
		}},
		{name: "email", p: LaunchParams{ClassEmail: "not-an-email"}, bad: "custom_class_email"},
		{name: "lang", p: LaunchParams{ClassLang: "xx"}, bad: "custom_class_lang"},
		{name: "level", p: LaunchParams{ClassLevel: "H9"}, bad: "custom_class_level"},
		{name: "limit low", p: LaunchParams{ClassLimit: "4"}, bad: "custom_class_limit"},
		{name: "limit high", p: LaunchParams{ClassLimit: "501"}, bad: "custom_class_limit"},
		{name: "limit not a number", p: LaunchParams{ClassLimit: "ten"}, bad: "custom_class_limit"},
		{name: "expiration syntax", p: LaunchParams{ClassExpiration: "2026-05-01"}, bad: "custom_class_expiration"},
		{name: "expiration too soon", p: LaunchParams{ClassExpiration: "20260315"}, bad: "custom_class_expiration"},
		{name: "expiration too late", p: LaunchParams{ClassExpiration: "20270315"}, bad: "custom_class_expiration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCustom(&tt.p, now)
			if tt.bad == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.bad)
			}
		})
	}
}
