package wims

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/russross/wimslti/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers adm/raw jobs from a table of canned JSON bodies.
func fakeServer(t *testing.T, answers map[string]interface{}) (*httptest.Server, *[]*http.Request) {
	var seen []*http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r)
		assert.Equal(t, "adm/raw", r.URL.Query().Get("module"))
		assert.Equal(t, "lti", r.URL.Query().Get("ident"))
		assert.Equal(t, "pw", r.URL.Query().Get("passwd"))
		answer, ok := answers[r.URL.Query().Get("job")]
		if !ok {
			answer = map[string]interface{}{"status": "ERROR", "message": "unknown job"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(answer)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newTestClient(url string) *HTTPClient {
	return New(&WimsServer{URL: url + "/wims/wims.cgi", Ident: "lti", Passwd: "pw"}, time.Second)
}

func TestClientCalls(t *testing.T) {
	srv, seen := fakeServer(t, map[string]interface{}{
		"checkident": map[string]interface{}{"status": "OK", "version": "4.21"},
		"getclass": map[string]interface{}{
			"status": "OK", "query_class": "9001", "description": "Algebra",
			"lang": "fr", "limit": "150", "level": "H4",
		},
		"addclass":       map[string]interface{}{"status": "OK", "class_id": 9002},
		"adduser":        map[string]interface{}{"status": "OK"},
		"getsheet":       map[string]interface{}{"status": "OK", "sheet_status": "1", "sheet_title": "Fractions"},
		"listexams":      map[string]interface{}{"status": "OK", "examlist": []string{"3"}},
		"getexam":        map[string]interface{}{"status": "OK", "exam_status": 2, "exam_title": "Final"},
		"getsheetscores": map[string]interface{}{"status": "OK", "data_scores": []map[string]interface{}{{"id": "jdoe", "user_score": -1, "user_best": "80"}}},
		"authuser":       map[string]interface{}{"status": "OK", "home_url": "http://wims/wims.cgi?session=ABC"},
	})
	c := newTestClient(srv.URL)
	ctx := context.Background()

	info, err := c.CheckIdent(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), info.Version.Major)
	assert.Equal(t, uint64(21), info.Version.Minor)

	class, err := c.GetClass(ctx, "9001", "myrclass")
	require.NoError(t, err)
	assert.Equal(t, "Algebra", class.Name)
	assert.Equal(t, 150, class.Limit)

	newClass := &Class{Name: "Geometry", Lang: "en", Limit: 30, Password: "secret"}
	qclass, err := c.AddClass(ctx, "myrclass", newClass, &User{QUser: "supervisor", LastName: "Supervisor"})
	require.NoError(t, err)
	assert.Equal(t, "9002", qclass)
	assert.Equal(t, "9002", newClass.QClass)
	data1 := (*seen)[len(*seen)-1].URL.Query().Get("data1")
	assert.Contains(t, data1, "description=Geometry\n")
	assert.Contains(t, data1, "limit=30\n")

	require.NoError(t, c.AddUser(ctx, "9002", "myrclass", &User{QUser: "jdoe", LastName: "Doe", FirstName: "Jhon"}))
	assert.Equal(t, "jdoe", (*seen)[len(*seen)-1].URL.Query().Get("quser"))

	sheet, err := c.GetActivity(ctx, "9002", "myrclass", KindSheet, 1)
	require.NoError(t, err)
	assert.Equal(t, ModeActive, sheet.Mode)
	assert.Equal(t, "Fractions", sheet.Title)
	assert.Equal(t, "1", (*seen)[len(*seen)-1].URL.Query().Get("qsheet"))

	exams, err := c.ListActivities(ctx, "9002", "myrclass", KindExam)
	require.NoError(t, err)
	require.Len(t, exams, 1)
	assert.Equal(t, 3, exams[0].ID)
	assert.Equal(t, ModeExpired, exams[0].Mode)

	scores, err := c.GetScores(ctx, "9002", "myrclass", KindSheet, 1)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, Score{User: "jdoe", Score: -1, Best: 80}, *scores[0])

	home, err := c.AuthUser(ctx, "9002", "myrclass", "jdoe")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(home, "http://wims/"))
}

func TestClientErrors(t *testing.T) {
	srv, _ := fakeServer(t, map[string]interface{}{
		"getclass":   map[string]interface{}{"status": "ERROR", "message": "class 9001 not existing"},
		"checkident": map[string]interface{}{"status": "OK", "version": "4.12"},
		"getsheet":   map[string]interface{}{"status": "OK", "sheet_status": "1", "sheet_title": 42},
		"getexam":    map[string]interface{}{"status": "OK", "exam_status": "1", "exam_title": "Final", "exam_description": []int{1}},
	})
	c := newTestClient(srv.URL)

	_, err := c.GetClass(context.Background(), "9001", "myrclass")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "getclass", apiErr.Job)
	assert.True(t, IsNotExisting(err))

	_, err = c.CheckIdent(context.Background())
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "WIMS 4.12.0 is too old, at least 4.15.0 is required", apiErr.Message)

	_, err = c.GetActivity(context.Background(), "9001", "myrclass", KindSheet, 1)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "getsheet", apiErr.Job)
	assert.Contains(t, apiErr.Message, "invalid title")

	_, err = c.GetActivity(context.Background(), "9001", "myrclass", KindExam, 1)
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "invalid description")

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer broken.Close()
	_, err = newTestClient(broken.URL).CheckIdent(context.Background())
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "invalid response")

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer slow.Close()
	c = New(&WimsServer{URL: slow.URL}, 50*time.Millisecond)
	_, err = c.CheckIdent(context.Background())
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}
