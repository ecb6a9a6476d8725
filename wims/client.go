package wims

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/dchest/uniuri"
	. "github.com/russross/wimslti/types"
)

// DefaultTimeout bounds every call to a WIMS server.
const DefaultTimeout = 10 * time.Second

// HTTPClient is a Client over the adm/raw JSON interface of one server.
// A new one is cheap and is normally built per launch or per sweep.
type HTTPClient struct {
	URL    string
	Ident  string
	Passwd string
	HTTP   *http.Client
}

// New returns a client for srv whose calls give up after timeout.
func New(srv *WimsServer, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		URL:    srv.URL,
		Ident:  srv.Ident,
		Passwd: srv.Passwd,
		HTTP:   &http.Client{Timeout: timeout},
	}
}

// flexInt accepts both 12 and "12"
type flexInt int

func (n *flexInt) UnmarshalJSON(raw []byte) error {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = flexInt(f)
	return nil
}

// flexFloat accepts both 1.5 and "1.5"
type flexFloat float64

func (n *flexFloat) UnmarshalJSON(raw []byte) error {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = flexFloat(f)
	return nil
}

type status struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// call runs one adm/raw job and decodes a successful answer into out.
func (c *HTTPClient) call(ctx context.Context, job string, params url.Values, out interface{}) error {
	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("module", "adm/raw")
	q.Set("job", job)
	q.Set("ident", c.Ident)
	q.Set("passwd", c.Passwd)
	q.Set("code", uniuri.NewLen(10))

	u := c.URL
	if strings.Contains(u, "?") {
		u += "&" + q.Encode()
	} else {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building WIMS %s request: %w", job, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &TransportError{URL: c.URL, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{URL: c.URL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Job: job, Message: fmt.Sprintf("unexpected HTTP status %s", resp.Status)}
	}

	var st status
	if err := json.Unmarshal(body, &st); err != nil {
		return &APIError{Job: job, Message: fmt.Sprintf("invalid response: %v", err)}
	}
	if st.Status != "OK" {
		return &APIError{Job: job, Message: st.Message}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return &APIError{Job: job, Message: fmt.Sprintf("invalid response: %v", err)}
		}
	}
	return nil
}

// lines renders key=value pairs the way adm/raw expects them in data1/data2.
func lines(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		b.WriteString(pairs[i])
		b.WriteByte('=')
		b.WriteString(strings.Replace(pairs[i+1], "\n", " ", -1))
		b.WriteByte('\n')
	}
	return b.String()
}

func (c *HTTPClient) CheckIdent(ctx context.Context) (*ServerInfo, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, "checkident", nil, &resp); err != nil {
		return nil, err
	}
	info := new(ServerInfo)
	if resp.Version != "" {
		if v, err := semver.ParseTolerant(resp.Version); err == nil {
			info.Version = v
		}
	}
	if err := info.Supported(); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *HTTPClient) GetClass(ctx context.Context, qclass, rclass string) (*Class, error) {
	var resp struct {
		QueryClass  string  `json:"query_class"`
		Description string  `json:"description"`
		Institution string  `json:"institution"`
		Email       string  `json:"email"`
		Lang        string  `json:"lang"`
		Expiration  string  `json:"expiration"`
		Limit       flexInt `json:"limit"`
		Level       string  `json:"level"`
		CSS         string  `json:"css"`
	}
	params := url.Values{"qclass": {qclass}, "rclass": {rclass}}
	if err := c.call(ctx, "getclass", params, &resp); err != nil {
		return nil, err
	}
	return &Class{
		QClass:      qclass,
		Name:        resp.Description,
		Institution: resp.Institution,
		Email:       resp.Email,
		Lang:        resp.Lang,
		Expiration:  resp.Expiration,
		Limit:       int(resp.Limit),
		Level:       resp.Level,
		CSS:         resp.CSS,
	}, nil
}

func (c *HTTPClient) AddClass(ctx context.Context, rclass string, class *Class, supervisor *User) (string, error) {
	var resp struct {
		ClassID json.RawMessage `json:"class_id"`
	}
	params := url.Values{
		"rclass": {rclass},
		"data1": {lines(
			"description", class.Name,
			"institution", class.Institution,
			"supervisor", strings.TrimSpace(supervisor.FirstName+" "+supervisor.LastName),
			"email", class.Email,
			"password", class.Password,
			"lang", class.Lang,
			"expiration", class.Expiration,
			"limit", strconv.Itoa(class.Limit),
			"level", class.Level,
			"css", class.CSS,
		)},
		"data2": {lines(
			"lastname", supervisor.LastName,
			"firstname", supervisor.FirstName,
			"password", supervisor.Password,
			"email", supervisor.Email,
		)},
	}
	if err := c.call(ctx, "addclass", params, &resp); err != nil {
		return "", err
	}
	qclass := strings.Trim(string(resp.ClassID), `"`)
	if qclass == "" || qclass == "null" {
		return "", &APIError{Job: "addclass", Message: "no class_id in response"}
	}
	class.QClass = qclass
	return qclass, nil
}

func (c *HTTPClient) GetUser(ctx context.Context, qclass, rclass, quser string) (*User, error) {
	var resp struct {
		LastName  string `json:"lastname"`
		FirstName string `json:"firstname"`
		Email     string `json:"email"`
	}
	params := url.Values{"qclass": {qclass}, "rclass": {rclass}, "quser": {quser}}
	if err := c.call(ctx, "getuser", params, &resp); err != nil {
		return nil, err
	}
	return &User{QUser: quser, LastName: resp.LastName, FirstName: resp.FirstName, Email: resp.Email}, nil
}

func (c *HTTPClient) AddUser(ctx context.Context, qclass, rclass string, user *User) error {
	params := url.Values{
		"qclass": {qclass},
		"rclass": {rclass},
		"quser":  {user.QUser},
		"data1": {lines(
			"lastname", user.LastName,
			"firstname", user.FirstName,
			"password", user.Password,
			"email", user.Email,
		)},
	}
	return c.call(ctx, "adduser", params, nil)
}

func (c *HTTPClient) GetActivity(ctx context.Context, qclass, rclass string, kind ActivityKind, id int) (*Activity, error) {
	var resp map[string]json.RawMessage
	params := url.Values{
		"qclass":        {qclass},
		"rclass":        {rclass},
		"q" + string(kind): {strconv.Itoa(id)},
	}
	if err := c.call(ctx, "get"+string(kind), params, &resp); err != nil {
		return nil, err
	}

	a := &Activity{Kind: kind, ID: id}
	var mode flexInt
	if raw, ok := resp[string(kind)+"_status"]; ok {
		if err := json.Unmarshal(raw, &mode); err != nil {
			return nil, &APIError{Job: "get" + string(kind), Message: fmt.Sprintf("invalid status: %v", err)}
		}
	}
	a.Mode = int(mode)
	if raw, ok := resp[string(kind)+"_title"]; ok {
		if err := json.Unmarshal(raw, &a.Title); err != nil {
			return nil, &APIError{Job: "get" + string(kind), Message: fmt.Sprintf("invalid title: %v", err)}
		}
	}
	if raw, ok := resp[string(kind)+"_description"]; ok {
		if err := json.Unmarshal(raw, &a.Description); err != nil {
			return nil, &APIError{Job: "get" + string(kind), Message: fmt.Sprintf("invalid description: %v", err)}
		}
	}
	return a, nil
}

func (c *HTTPClient) ListActivities(ctx context.Context, qclass, rclass string, kind ActivityKind) ([]*Activity, error) {
	var resp map[string]json.RawMessage
	params := url.Values{"qclass": {qclass}, "rclass": {rclass}}
	if err := c.call(ctx, "list"+string(kind)+"s", params, &resp); err != nil {
		return nil, err
	}
	var ids []flexInt
	if raw, ok := resp[string(kind)+"list"]; ok {
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, &APIError{Job: "list" + string(kind) + "s", Message: fmt.Sprintf("invalid list: %v", err)}
		}
	}
	var list []*Activity
	for _, id := range ids {
		a, err := c.GetActivity(ctx, qclass, rclass, kind, int(id))
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, nil
}

func (c *HTTPClient) GetScores(ctx context.Context, qclass, rclass string, kind ActivityKind, id int) ([]*Score, error) {
	var resp struct {
		Scores []struct {
			ID    string    `json:"id"`
			Score flexFloat `json:"user_score"`
			Best  flexFloat `json:"user_best"`
		} `json:"data_scores"`
	}
	params := url.Values{
		"qclass":           {qclass},
		"rclass":           {rclass},
		"q" + string(kind): {strconv.Itoa(id)},
	}
	if err := c.call(ctx, "get"+string(kind)+"scores", params, &resp); err != nil {
		return nil, err
	}
	scores := make([]*Score, 0, len(resp.Scores))
	for _, elt := range resp.Scores {
		scores = append(scores, &Score{User: elt.ID, Score: float64(elt.Score), Best: float64(elt.Best)})
	}
	return scores, nil
}

func (c *HTTPClient) AuthUser(ctx context.Context, qclass, rclass, quser string) (string, error) {
	var resp struct {
		HomeURL string `json:"home_url"`
	}
	params := url.Values{"qclass": {qclass}, "rclass": {rclass}, "quser": {quser}}
	if err := c.call(ctx, "authuser", params, &resp); err != nil {
		return "", err
	}
	if resp.HomeURL == "" {
		return "", &APIError{Job: "authuser", Message: "no home_url in response"}
	}
	return resp.HomeURL, nil
}
