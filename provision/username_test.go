package provision

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsername(t *testing.T) {
	tests := []struct {
		given, family, want string
	}{
		{"Jhon", "Doe", "jdoe"},
		{"Jean", "Lefèvre", "jlefevre"},
		{"Éloïse", "Ñúñez", "enunez"},
		{"Anne", "O'Neil-Smith", "ao_neil_smith"},
		{"Søren", "Sørensen", "ssorensen"},
		{"Øystein", "Dæhlie", "odaehlie"},
		{"Jörg", "Weiß", "jweiss"},
		{"Ægir", "Łukasiewicz", "aelukasiewicz"},
		{"Anne", "Van Der Berg", "avan_der_berg"},
		{"", "Doe", "doe"},
		{"李", "王", "user"},
		{"", "", "user"},
		{"Jhon", strings.Repeat("x", 40), "j" + strings.Repeat("x", 21)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Username(tt.given, tt.family), "%s %s", tt.given, tt.family)
	}
}

func TestWithSuffix(t *testing.T) {
	assert.Equal(t, "jdoe", withSuffix("jdoe", 0))
	assert.Equal(t, "jdoe1", withSuffix("jdoe", 1))
	assert.Equal(t, "jdoe100", withSuffix("jdoe", 100))
}
