package provision

import (
	"strconv"
	"strings"
	"unicode"

	. "github.com/russross/wimslti/types"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letters with no decomposed form, spelled out in ASCII
var transliterations = strings.NewReplacer(
	"ø", "o",
	"æ", "ae",
	"œ", "oe",
	"ß", "ss",
	"ł", "l",
	"đ", "d",
	"ð", "d",
	"þ", "th",
	"ı", "i",
	"ŀ", "l",
)

// Username derives the base WIMS login for a user: the first letter of the
// given name followed by the family name, lowercased and reduced to ASCII
// letters, digits, and underscores.
func Username(given, family string) string {
	var first string
	for _, r := range strings.TrimSpace(given) {
		first = string(r)
		break
	}
	raw := transliterations.Replace(strings.ToLower(first + strings.TrimSpace(family)))

	// decompose accented letters and drop the combining marks
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, raw)
	if err != nil {
		plain = raw
	}

	var b strings.Builder
	for _, r := range plain {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '\'', r == '-', r == ' ':
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > MaxUsernameLength {
		name = name[:MaxUsernameLength]
	}
	if name == "" {
		name = "user"
	}
	return name
}

// withSuffix appends attempt n to base; attempt 0 is base itself.
func withSuffix(base string, n int) string {
	if n == 0 {
		return base
	}
	return base + strconv.Itoa(n)
}
