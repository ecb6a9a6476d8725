package lti

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dchest/uniuri"
	. "github.com/russross/wimslti/types"
)

const (
	SignatureMethod = "HMAC-SHA1"
	TimestampSkew   = 1800 * time.Second
)

// ErrUnknownConsumer is returned by a SecretSource that has no secret for a key.
var ErrUnknownConsumer = errors.New("unknown consumer key")

// SecretSource finds the shared secret for an OAuth consumer key.
type SecretSource interface {
	ConsumerSecret(key string) (string, error)
}

// SecretFunc adapts an ordinary function to a SecretSource.
type SecretFunc func(key string) (string, error)

func (f SecretFunc) ConsumerSecret(key string) (string, error) {
	return f(key)
}

// Verifier checks OAuth1 HMAC-SHA1 signatures on launch requests.
// Nonces are not tracked.
type Verifier struct {
	Secrets SecretSource
	Now     func() time.Time
}

// Verify checks the signature carried in form against the secret of its
// consumer key. rawURL must be the URL the LMS posted to, as the LMS saw it.
func (v *Verifier) Verify(method, rawURL string, form url.Values) error {
	key := form.Get("oauth_consumer_key")
	secret, err := v.Secrets.ConsumerSecret(key)
	if err != nil {
		if errors.Is(err, ErrUnknownConsumer) {
			return Invalidf("LTI request is invalid, unknown consumer key '%s'", key)
		}
		return fmt.Errorf("looking up consumer key %q: %w", key, err)
	}

	if sm := form.Get("oauth_signature_method"); sm != SignatureMethod {
		return Invalidf("LTI request is invalid, unsupported signature method '%s'", sm)
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	stamp, err := strconv.ParseInt(form.Get("oauth_timestamp"), 10, 64)
	if err != nil {
		return Invalidf("LTI request is invalid, malformed oauth_timestamp '%s'", form.Get("oauth_timestamp"))
	}
	if now.Sub(time.Unix(stamp, 0)) >= TimestampSkew {
		return Invalidf("LTI request is invalid, oauth_timestamp is more than %d seconds old", int(TimestampSkew.Seconds()))
	}

	params := make(url.Values)
	for k, vs := range form {
		if k == "oauth_signature" {
			continue
		}
		params[k] = vs
	}
	expected, err := signature(method, rawURL, params, secret)
	if err != nil {
		return Invalidf("LTI request is invalid, cannot normalize launch URL: %v", err)
	}
	if !hmac.Equal([]byte(expected), []byte(form.Get("oauth_signature"))) {
		return Invalidf("LTI request is invalid, OAuth signature check failed")
	}
	return nil
}

// Sign adds an OAuth1 Authorization header to req, covering body through
// oauth_body_hash as the LTI outcomes service requires.
func Sign(req *http.Request, body []byte, key, secret string) error {
	sum := sha1.Sum(body)
	oauth := url.Values{
		"oauth_body_hash":        {base64.StdEncoding.EncodeToString(sum[:])},
		"oauth_consumer_key":     {key},
		"oauth_nonce":            {uniuri.NewLen(32)},
		"oauth_signature_method": {SignatureMethod},
		"oauth_timestamp":        {strconv.FormatInt(time.Now().Unix(), 10)},
		"oauth_version":          {"1.0"},
	}
	sig, err := signature(req.Method, req.URL.String(), oauth, secret)
	if err != nil {
		return err
	}
	oauth.Set("oauth_signature", sig)

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := []string{`realm=""`}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, escape(k), escape(oauth.Get(k))))
	}
	req.Header.Set("Authorization", "OAuth "+strings.Join(parts, ", "))
	return nil
}

// SignForm adds the oauth_* fields and signature a tool consumer sends
// with a form POST to rawURL.
func SignForm(method, rawURL string, form url.Values, key, secret string) error {
	form.Set("oauth_consumer_key", key)
	form.Set("oauth_signature_method", SignatureMethod)
	form.Set("oauth_timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	form.Set("oauth_nonce", uniuri.NewLen(32))
	form.Set("oauth_version", "1.0")
	form.Del("oauth_signature")
	sig, err := signature(method, rawURL, form, secret)
	if err != nil {
		return err
	}
	form.Set("oauth_signature", sig)
	return nil
}

// signature computes the base64 HMAC-SHA1 of the OAuth base string.
// Query parameters in rawURL join params in the base string.
func signature(method, rawURL string, params url.Values, secret string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	all := make(url.Values)
	for k, vs := range u.Query() {
		all[k] = append(all[k], vs...)
	}
	for k, vs := range params {
		all[k] = append(all[k], vs...)
	}

	base := strings.ToUpper(method) + "&" + escape(baseURL(u)) + "&" + escape(string(encode(all)))
	mac := hmac.New(sha1.New, []byte(escape(secret)+"&"))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// baseURL is scheme://host/path with default ports and the query removed.
func baseURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		host = strings.TrimSuffix(host, ":80")
	} else if scheme == "https" && strings.HasSuffix(host, ":443") {
		host = strings.TrimSuffix(host, ":443")
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// encode renders parameters sorted by escaped name, then escaped value.
func encode(v url.Values) []byte {
	type pair struct{ k, v string }
	var pairs []pair
	for k, vs := range v {
		for _, elt := range vs {
			pairs = append(pairs, pair{escape(k), escape(elt)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	var buf bytes.Buffer
	for _, p := range pairs {
		if buf.Len() > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(p.k)
		buf.WriteByte('=')
		buf.WriteString(p.v)
	}
	return buf.Bytes()
}

func escape(s string) string {
	var buf bytes.Buffer
	for _, b := range []byte(s) {
		if b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-' || b == '.' || b == '_' || b == '~' {
			buf.WriteByte(b)
		} else {
			fmt.Fprintf(&buf, "%%%02X", b)
		}
	}
	return buf.String()
}
