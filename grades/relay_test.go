package grades

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/blang/semver"
	"github.com/russross/wimslti/store"
	. "github.com/russross/wimslti/types"
	"github.com/russross/wimslti/wims"
	"github.com/russross/wimslti/wims/wimstest"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const responseTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<imsx_POXEnvelopeResponse xmlns="http://www.imsglobal.org/services/ltiv1p1/xsd/imsoms_v1p0">
  <imsx_POXHeader>
    <imsx_POXResponseHeaderInfo>
      <imsx_version>V1.0</imsx_version>
      <imsx_messageIdentifier>4560</imsx_messageIdentifier>
      <imsx_statusInfo>
        <imsx_codeMajor>%s</imsx_codeMajor>
        <imsx_severity>status</imsx_severity>
        <imsx_description>%s</imsx_description>
      </imsx_statusInfo>
    </imsx_POXResponseHeaderInfo>
  </imsx_POXHeader>
  <imsx_POXBody><replaceResultResponse/></imsx_POXBody>
</imsx_POXEnvelopeResponse>`

// gradebook is a fake LMS outcome service.
type gradebook struct {
	mu      sync.Mutex
	status  int
	major   string
	desc    string
	bodies  []string
	headers []string
}

func (g *gradebook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bodies = append(g.bodies, string(raw))
	g.headers = append(g.headers, r.Header.Get("Authorization"))
	if g.status != 0 {
		w.WriteHeader(g.status)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, responseTemplate, g.major, g.desc)
}

type env struct {
	st       *store.Store
	fake     *wimstest.Fake
	relay    *Relay
	lms      *gradebook
	lmsURL   string
	server   *WimsServer
	class    *ClassMapping
	sheet    *ActivityMapping
	logs     *test.Hook
	students map[string]*UserMapping
}

func newEnv(t *testing.T) *env {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	book := &gradebook{major: "success"}
	ts := httptest.NewServer(book)
	t.Cleanup(ts.Close)

	lms := &Lms{GUID: "moodle.example.org", Name: "Moodle", OAuthKey: "moodle", OAuthSecret: "s3cret"}
	require.NoError(t, st.InsertLms(lms))
	srv := &WimsServer{Name: "WIMS", URL: "https://wims.example.org/wims/wims.cgi", RClass: "myrclass"}
	require.NoError(t, st.InsertServer(srv))
	class := &ClassMapping{LmsID: lms.ID, LmsContextID: "ctx-1", WimsServerID: srv.ID, RemoteClassID: "9001", Name: "Algebra"}
	require.NoError(t, st.InsertClass(class))
	sheet := &ActivityMapping{ClassMappingID: class.ID, Kind: KindSheet, RemoteActivityID: 1, LmsResourceLinkID: "res-1"}
	require.NoError(t, st.InsertActivity(sheet))

	fake := wimstest.New()
	fake.Info = wims.ServerInfo{Version: semver.MustParse("4.18.0")}
	fake.PutClass(&wims.Class{QClass: "9001", Name: "Algebra"})
	fake.PutUser("9001", &wims.User{QUser: SupervisorUsername})

	require.NoError(t, st.InsertUser(&UserMapping{ClassMappingID: class.ID, RemoteUsername: SupervisorUsername}))
	students := make(map[string]*UserMapping)
	for i, name := range []string{"jdoe", "asmith"} {
		u := &UserMapping{ClassMappingID: class.ID, LmsUserID: fmt.Sprintf("u-%d", i), RemoteUsername: name}
		require.NoError(t, st.InsertUser(u))
		fake.PutUser("9001", &wims.User{QUser: name})
		students[name] = u
	}

	logger, hook := test.NewNullLogger()
	return &env{
		st:       st,
		fake:     fake,
		relay:    &Relay{Store: st, HTTP: ts.Client(), Log: logger},
		lms:      book,
		lmsURL:   ts.URL + "/mod/lti/service.php",
		server:   srv,
		class:    class,
		sheet:    sheet,
		logs:     hook,
		students: students,
	}
}

func TestRecordLink(t *testing.T) {
	e := newEnv(t)
	user := e.students["jdoe"]

	changed, err := e.relay.RecordLink(user, e.sheet, "src-1", e.lmsURL)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = e.relay.RecordLink(user, e.sheet, "src-1", e.lmsURL)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = e.relay.RecordLink(user, e.sheet, "src-2", e.lmsURL)
	require.NoError(t, err)
	assert.True(t, changed)

	link, err := e.st.FindGradeLink(user.ID, e.sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, "src-2", link.OutcomeSourcedID)
	n, err := e.st.CountGradeLinks(e.sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordLinkConcurrentLaunches(t *testing.T) {
	e := newEnv(t)
	user := e.students["jdoe"]

	// a competing launch stored its link first
	winner := &GradeLink{UserMappingID: user.ID, ActivityMappingID: e.sheet.ID, OutcomeSourcedID: "src-1", OutcomeCallbackURL: e.lmsURL}
	require.NoError(t, e.st.InsertGradeLink(winner))

	changed, err := e.relay.RecordLink(user, e.sheet, "src-1", e.lmsURL)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = e.relay.RecordLink(user, e.sheet, "src-2", e.lmsURL)
	require.NoError(t, err)
	assert.True(t, changed)
	link, err := e.st.FindGradeLink(user.ID, e.sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, link.ID)
	assert.Equal(t, "src-2", link.OutcomeSourcedID)

	// many launches at once write exactly one row
	other := e.students["asmith"]
	results := make(chan bool, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := e.relay.RecordLink(other, e.sheet, "src-a", e.lmsURL)
			assert.NoError(t, err)
			results <- changed
		}()
	}
	wg.Wait()
	close(results)
	writes := 0
	for changed := range results {
		if changed {
			writes++
		}
	}
	assert.Equal(t, 1, writes)
	n, err := e.st.CountGradeLinks(e.sheet.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRelayActivity(t *testing.T) {
	e := newEnv(t)
	_, err := e.relay.RecordLink(e.students["jdoe"], e.sheet, "src-jdoe", e.lmsURL)
	require.NoError(t, err)
	e.fake.PutScores("9001", KindSheet, 1,
		&wims.Score{User: "jdoe", Score: 7, Best: 50},
		&wims.Score{User: "asmith", Score: 10, Best: 100},
		&wims.Score{User: "ghost", Score: 10, Best: 100},
	)

	n, err := e.relay.RelayActivity(context.Background(), e.fake, &e.fake.Info, e.server, e.sheet)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, e.lms.bodies, 1)
	assert.Contains(t, e.lms.bodies[0], "<sourcedId>src-jdoe</sourcedId>")
	assert.Contains(t, e.lms.bodies[0], "<textString>0.7</textString>")
	assert.True(t, strings.HasPrefix(e.lms.headers[0], `OAuth realm=""`))
	assert.Contains(t, e.lms.headers[0], `oauth_consumer_key="moodle"`)
	assert.Contains(t, e.lms.headers[0], "oauth_body_hash=")

	// users without a link stay unlinked
	_, err = e.st.FindGradeLink(e.students["asmith"].ID, e.sheet.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRelayActivityOldServerUsesBest(t *testing.T) {
	e := newEnv(t)
	_, err := e.relay.RecordLink(e.students["jdoe"], e.sheet, "src-jdoe", e.lmsURL)
	require.NoError(t, err)
	e.fake.PutScores("9001", KindSheet, 1, &wims.Score{User: "jdoe", Score: 7, Best: 50})

	info := &wims.ServerInfo{Version: semver.MustParse("4.17.0")}
	n, err := e.relay.RelayActivity(context.Background(), e.fake, info, e.server, e.sheet)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, e.lms.bodies[0], "<textString>0.5</textString>")
}

func TestRelayActivityFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*gradebook)
		logged string
	}{
		{"rejected", func(g *gradebook) { g.major = "failure"; g.desc = "sourcedid unknown" }, "sourcedid unknown"},
		{"http status", func(g *gradebook) { g.status = http.StatusInternalServerError }, "500"},
		{"bad xml", func(g *gradebook) { g.status = 0; g.major = "" }, "parsing outcome response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			tt.setup(e.lms)
			_, err := e.relay.RecordLink(e.students["jdoe"], e.sheet, "src-jdoe", e.lmsURL)
			require.NoError(t, err)
			_, err = e.relay.RecordLink(e.students["asmith"], e.sheet, "src-asmith", e.lmsURL)
			require.NoError(t, err)
			e.fake.PutScores("9001", KindSheet, 1,
				&wims.Score{User: "jdoe", Score: 7},
				&wims.Score{User: "asmith", Score: 3},
			)

			n, err := e.relay.RelayActivity(context.Background(), e.fake, &e.fake.Info, e.server, e.sheet)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
			assert.Len(t, e.lms.bodies, 2, "one failure must not stop the batch")

			entry := e.logs.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, "grade relay failed", entry.Message)
			var fail *RelayFailure
			require.ErrorAs(t, entry.Data["error"].(error), &fail)
			assert.Contains(t, fail.Error(), tt.logged)
		})
	}
}

func TestRelayActivityNoUsers(t *testing.T) {
	e := newEnv(t)
	e.fake.PutClass(&wims.Class{QClass: "9002"})
	empty := &ClassMapping{LmsID: e.class.LmsID, LmsContextID: "ctx-2", WimsServerID: e.server.ID, RemoteClassID: "9002"}
	require.NoError(t, e.st.InsertClass(empty))
	exam := &ActivityMapping{ClassMappingID: empty.ID, Kind: KindExam, RemoteActivityID: 1}
	require.NoError(t, e.st.InsertActivity(exam))

	n, err := e.relay.RelayActivity(context.Background(), e.fake, &e.fake.Info, e.server, exam)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, e.lms.bodies)
}

func TestSweep(t *testing.T) {
	e := newEnv(t)
	_, err := e.relay.RecordLink(e.students["jdoe"], e.sheet, "src-jdoe", e.lmsURL)
	require.NoError(t, err)
	exam := &ActivityMapping{ClassMappingID: e.class.ID, Kind: KindExam, RemoteActivityID: 2}
	require.NoError(t, e.st.InsertActivity(exam))
	_, err = e.relay.RecordLink(e.students["jdoe"], exam, "src-exam", e.lmsURL)
	require.NoError(t, err)

	e.fake.PutScores("9001", KindSheet, 1, &wims.Score{User: "jdoe", Score: 10})
	e.fake.PutScores("9001", KindExam, 2, &wims.Score{User: "jdoe", Score: 4})
	clients := func(*WimsServer) wims.Client { return e.fake }

	n, err := e.relay.Sweep(context.Background(), clients)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, e.lms.bodies, 2)
	assert.Contains(t, e.lms.bodies[0], "src-jdoe", "sheets go first")
	assert.Contains(t, e.lms.bodies[1], "<textString>0.4</textString>")

	e.fake.Fail["getexamscores"] = &wims.APIError{Job: "getexamscores", Message: "boom"}
	n, err = e.relay.Sweep(context.Background(), clients)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e.fake.Fail["checkident"] = errors.New("bad credentials")
	n, err = e.relay.Sweep(context.Background(), clients)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
