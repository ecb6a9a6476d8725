package lti

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	. "github.com/russross/wimslti/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const launchURL = "https://lti.example.org/lti/1/"

var secrets = SecretFunc(func(key string) (string, error) {
	if key == "moodle" {
		return "s3cret", nil
	}
	return "", ErrUnknownConsumer
})

func signedForm(t *testing.T, now time.Time) url.Values {
	form := launchForm()
	form.Set("oauth_timestamp", strconv.FormatInt(now.Unix(), 10))
	form.Del("oauth_signature")
	sig, err := signature("POST", launchURL, form, "s3cret")
	require.NoError(t, err)
	form.Set("oauth_signature", sig)
	return form
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "Ladies%20%2B%20Gentlemen", escape("Ladies + Gentlemen"))
	assert.Equal(t, "An%20encoded%20string%21", escape("An encoded string!"))
	assert.Equal(t, "Lef%C3%A8vre~_.-", escape("Lefèvre~_.-"))
}

func TestEncodeSortsNamesThenValues(t *testing.T) {
	v := url.Values{"b5": {"=%3D"}, "a3": {"a", "2 q"}, "c@": {""}, "a2": {"r b"}}
	assert.Equal(t, "a2=r%20b&a3=2%20q&a3=a&b5=%3D%253D&c%40=", string(encode(v)))
}

func TestBaseURL(t *testing.T) {
	u, _ := url.Parse("HTTPS://LTI.Example.org:443/lti/1/?x=1")
	assert.Equal(t, "https://lti.example.org/lti/1/", baseURL(u))
	u, _ = url.Parse("http://lti.example.org:8080/lti")
	assert.Equal(t, "http://lti.example.org:8080/lti", baseURL(u))
}

func TestVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := &Verifier{Secrets: secrets, Now: func() time.Time { return now }}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, v.Verify("POST", launchURL, signedForm(t, now)))
	})
	t.Run("equivalent URL", func(t *testing.T) {
		assert.NoError(t, v.Verify("post", "https://LTI.example.org:443/lti/1/", signedForm(t, now)))
	})

	tests := []struct {
		name   string
		url    string
		mutate func(url.Values)
		want   string
	}{
		{name: "tampered", mutate: func(f url.Values) { f.Set("roles", "Administrator") }, want: "signature check failed"},
		{name: "other url", url: "https://lti.example.org/lti/2/", want: "signature check failed"},
		{name: "unknown key", mutate: func(f url.Values) { f.Set("oauth_consumer_key", "canvas") }, want: "unknown consumer key 'canvas'"},
		{name: "method", mutate: func(f url.Values) { f.Set("oauth_signature_method", "PLAINTEXT") }, want: "unsupported signature method"},
		{name: "stale", mutate: func(f url.Values) {
			f.Set("oauth_timestamp", strconv.FormatInt(now.Add(-TimestampSkew).Unix(), 10))
		}, want: "more than 1800 seconds old"},
		{name: "bad timestamp", mutate: func(f url.Values) { f.Set("oauth_timestamp", "yesterday") }, want: "malformed oauth_timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := signedForm(t, now)
			if tt.mutate != nil {
				tt.mutate(form)
			}
			u := launchURL
			if tt.url != "" {
				u = tt.url
			}
			err := v.Verify("POST", u, form)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSign(t *testing.T) {
	body := []byte("<xml/>")
	req, err := http.NewRequest("POST", "https://lms.example.org/outcome?ctx=7", bytes.NewReader(body))
	require.NoError(t, err)
	require.NoError(t, Sign(req, body, "moodle", "s3cret"))

	header := req.Header.Get("Authorization")
	require.True(t, strings.HasPrefix(header, "OAuth "))
	params := make(url.Values)
	for _, part := range strings.Split(strings.TrimPrefix(header, "OAuth "), ", ") {
		eq := strings.Index(part, "=")
		k := part[:eq]
		val, err := url.PathUnescape(strings.Trim(part[eq+1:], `"`))
		require.NoError(t, err)
		if k != "realm" {
			params.Set(k, val)
		}
	}

	sum := sha1.Sum(body)
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), params.Get("oauth_body_hash"))
	assert.Equal(t, "moodle", params.Get("oauth_consumer_key"))
	assert.Equal(t, SignatureMethod, params.Get("oauth_signature_method"))

	sig := params.Get("oauth_signature")
	params.Del("oauth_signature")
	want, err := signature("POST", "https://lms.example.org/outcome?ctx=7", params, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, want, sig)
}

func TestSignFormRoundTrip(t *testing.T) {
	form := launchForm()
	require.NoError(t, SignForm("POST", launchURL, form, "moodle", "s3cret"))
	assert.Equal(t, SignatureMethod, form.Get("oauth_signature_method"))

	v := &Verifier{Secrets: secrets}
	assert.NoError(t, v.Verify("POST", launchURL, form))

	form.Set("context_title", "Tampered")
	assert.Error(t, v.Verify("POST", launchURL, form))
}
