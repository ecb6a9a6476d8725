// Package grades relays WIMS scores to LMS gradebooks through the LTI 1.1
// basic outcomes service.
package grades

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/russross/wimslti/lti"
	"github.com/russross/wimslti/store"
	. "github.com/russross/wimslti/types"
	"github.com/russross/wimslti/wims"
	"github.com/sirupsen/logrus"
)

const DefaultTimeout = 10 * time.Second

var relayed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wimslti_grade_relays_total",
		Help: "Outcome POSTs sent to LMS gradebooks, by result.",
	},
	[]string{"result"},
)

// RelayFailure is one outcome POST the LMS did not accept.
type RelayFailure struct {
	URL    string
	Status int
	Err    error
}

func (f *RelayFailure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("outcome POST to %s (HTTP %d): %v", f.URL, f.Status, f.Err)
	}
	return fmt.Sprintf("outcome POST to %s: %v", f.URL, f.Err)
}

func (f *RelayFailure) Unwrap() error { return f.Err }

// Doer sends outcome requests; *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Relay records grade callback credentials and pushes scores through them.
type Relay struct {
	Store *store.Store
	HTTP  Doer
	Log   logrus.FieldLogger
}

func New(st *store.Store, log logrus.FieldLogger) *Relay {
	return &Relay{
		Store: st,
		HTTP:  &http.Client{Timeout: DefaultTimeout},
		Log:   log,
	}
}

func (r *Relay) log() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

// RecordLink stores the outcome credentials an LMS handed out for user on
// activity and reports whether anything was written. Nothing is written
// when they match what is already stored.
func (r *Relay) RecordLink(user *UserMapping, activity *ActivityMapping, sourcedID, callbackURL string) (bool, error) {
	link := &GradeLink{
		UserMappingID:      user.ID,
		ActivityMappingID:  activity.ID,
		OutcomeSourcedID:   sourcedID,
		OutcomeCallbackURL: callbackURL,
	}
	err := r.Store.InsertGradeLink(link)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return false, err
	}

	// already linked, by an earlier launch or a concurrent one
	link, err = r.Store.FindGradeLink(user.ID, activity.ID)
	if err != nil {
		return false, err
	}
	if link.OutcomeSourcedID == sourcedID && link.OutcomeCallbackURL == callbackURL {
		return false, nil
	}
	link.OutcomeSourcedID = sourcedID
	link.OutcomeCallbackURL = callbackURL
	if err := r.Store.UpdateGradeLink(link); err != nil {
		return false, err
	}
	return true, nil
}

// RelayActivity sends the current score of every linked user of activity
// to the LMS and returns how many were accepted. Failed POSTs are logged
// and counted, never returned; an error means the scores could not be read.
func (r *Relay) RelayActivity(ctx context.Context, client wims.Client, info *wims.ServerInfo, srv *WimsServer, activity *ActivityMapping) (int, error) {
	class, err := r.Store.ClassByID(activity.ClassMappingID)
	if err != nil {
		return 0, err
	}
	lms, err := r.Store.LmsByID(class.LmsID)
	if err != nil {
		return 0, err
	}
	log := r.log().WithFields(logrus.Fields{
		"server":   srv.ID,
		"qclass":   class.RemoteClassID,
		"kind":     activity.Kind,
		"activity": activity.RemoteActivityID,
	})

	scores, err := client.GetScores(ctx, class.RemoteClassID, srv.RClass, activity.Kind, activity.RemoteActivityID)
	if wims.IsNoUser(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, score := range scores {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		user, err := r.Store.FindUserByUsername(class.ID, score.User)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return sent, err
		}
		link, err := r.Store.FindGradeLink(user.ID, activity.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return sent, err
		}

		value := score.Normalize(activity.Kind, info)
		ulog := log.WithFields(logrus.Fields{"quser": score.User, "score": value})
		if err := r.post(ctx, lms, link, value); err != nil {
			relayed.WithLabelValues("failure").Inc()
			ulog.WithError(err).Warn("grade relay failed")
			continue
		}
		relayed.WithLabelValues("success").Inc()
		ulog.Debug("grade relayed")
		sent++
	}
	return sent, nil
}

// post sends one signed replaceResult request.
func (r *Relay) post(ctx context.Context, lms *Lms, link *GradeLink, score float64) error {
	body, err := lti.ReplaceResult(uuid.NewString(), link.OutcomeSourcedID, score)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, link.OutcomeCallbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/xml")
	if err := lti.Sign(req, body, lms.OAuthKey, lms.OAuthSecret); err != nil {
		return err
	}

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return &RelayFailure{URL: link.OutcomeCallbackURL, Err: err}
	}
	defer resp.Body.Close()
	fail := &RelayFailure{URL: link.OutcomeCallbackURL, Status: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fail.Err = err
		return fail
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fail.Err = fmt.Errorf("LMS answered %s", resp.Status)
		return fail
	}
	status, err := lti.ParseOutcomeResponse(raw)
	if err != nil {
		fail.Err = err
		return fail
	}
	if !status.Success() {
		fail.Err = fmt.Errorf("LMS rejected the score (%s): %s", status.CodeMajor, status.Description)
		return fail
	}
	return nil
}
