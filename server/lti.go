package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-martini/martini"
	"github.com/russross/wimslti/lti"
	"github.com/russross/wimslti/provision"
	"github.com/russross/wimslti/store"
	. "github.com/russross/wimslti/types"
	"github.com/russross/wimslti/wims"
	"github.com/sirupsen/logrus"
)

// LaunchGet explains why a launch arrived as a GET.
func LaunchGet(w http.ResponseWriter, r *http.Request) {
	loggedHTTPErrorf(w, http.StatusMethodNotAllowed,
		"LTI launches must use POST, got %s on %s. If the URL configured in your LMS "+
			"does not end with a '/', the launch may have been redirected and turned into a GET: "+
			"add the trailing slash and try again.", r.Method, r.URL.Path)
}

func (a *App) launchHandler(kind ActivityKind) martini.Handler {
	return func(w http.ResponseWriter, r *http.Request, params martini.Params) {
		label := string(kind)
		if label == "" {
			label = "class"
		}
		target, err := a.Launch(r.Context(), r, params, kind)
		if err != nil {
			status := a.fail(w, err)
			launchesTotal.WithLabelValues(label, strconv.Itoa(status)).Inc()
			return
		}
		launchesTotal.WithLabelValues(label, strconv.Itoa(http.StatusFound)).Inc()
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// Launch runs one launch through validation, authentication, and
// reconciliation, returning the WIMS URL to send the user to. kind is
// empty for class launches.
func (a *App) Launch(ctx context.Context, r *http.Request, params martini.Params, kind ActivityKind) (string, error) {
	if err := r.ParseForm(); err != nil {
		return "", Invalidf("LTI request is invalid, cannot parse the form: %v", err)
	}
	form := r.PostForm
	p, err := lti.ParseLaunch(form)
	if err != nil {
		return "", err
	}
	if err := lti.CheckCustom(p, time.Now()); err != nil {
		return "", err
	}
	if err := a.Verifier.Verify(r.Method, a.PublicURL+r.URL.RequestURI(), form); err != nil {
		return "", err
	}

	serverID, err := strconv.ParseInt(params["server_id"], 10, 64)
	if err != nil {
		return "", NotFoundf("No WIMS server with id '%s'", params["server_id"])
	}
	srv, err := a.Store.ServerByID(serverID)
	if errors.Is(err, store.ErrNotFound) {
		return "", NotFoundf("No WIMS server with id %d", serverID)
	}
	if err != nil {
		return "", err
	}
	lms, err := a.Store.LmsByGUID(p.ConsumerGUID)
	if errors.Is(err, store.ErrNotFound) {
		return "", NotFoundf("No LMS found with uuid '%s'", p.ConsumerGUID)
	}
	if err != nil {
		return "", err
	}
	if lms.OAuthKey != p.ConsumerKey {
		return "", Forbiddenf("Consumer key '%s' does not belong to LMS '%s'", p.ConsumerKey, lms.Name)
	}

	client := a.ClientFor(srv)
	info, err := client.CheckIdent(ctx)
	if err != nil {
		return "", err
	}

	roles, unknown := lti.ParseRoles(p.Roles)
	log := a.Log.WithFields(logrus.Fields{"lms": lms.GUID, "server": srv.ID, "context": p.ContextID, "user": p.UserID})
	if len(unknown) > 0 {
		log.WithField("roles", unknown).Warn("ignoring unknown LTI roles")
	}
	l := &provision.Launch{Lms: lms, Server: srv, Client: client, Params: p, Roles: roles}

	class, remoteClass, err := a.Engine.ResolveClass(ctx, l, kind == "")
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			notFound.ClassLaunchURL = fmt.Sprintf("%s/lti/%d/", a.PublicURL, srv.ID)
		}
		return "", err
	}
	user, _, err := a.Engine.ResolveUser(ctx, l, class)
	if err != nil {
		return "", err
	}

	activityID := 0
	if kind != "" {
		if activityID, err = strconv.Atoi(params["activity_id"]); err != nil || activityID < 0 {
			return "", Invalidf("Invalid %s id '%s'", kind, params["activity_id"])
		}
		activity, _, err := a.Engine.ResolveActivity(ctx, l, class, kind, activityID)
		if err != nil {
			return "", err
		}
		if p.HasOutcome() {
			if _, err := a.Relay.RecordLink(user, activity, p.ResultSourcedID, p.OutcomeServiceURL); err != nil {
				return "", err
			}
		}
		if a.Engine.IsTeacher(l) {
			n, err := a.Relay.RelayActivity(ctx, client, info, srv, activity)
			alog := log.WithFields(logrus.Fields{"kind": kind, "activity": activityID, "relayed": n})
			if err != nil {
				alog.WithError(err).Warn("grade relay on teacher launch failed")
			} else {
				alog.Info("relayed grades on teacher launch")
			}
		}
	}

	home, err := client.AuthUser(ctx, class.RemoteClassID, srv.RClass, user.RemoteUsername)
	if err != nil {
		return "", err
	}
	lang := remoteClass.Lang
	if lang == "" {
		lang = "en"
	}
	return home + deepLink(lang, kind, activityID), nil
}

// deepLink is appended to the authenticated home URL.
func deepLink(lang string, kind ActivityKind, id int) string {
	link := "&lang=" + url.QueryEscape(lang)
	switch kind {
	case KindSheet:
		link += "&module=adm%2Fsheet&sh=" + strconv.Itoa(id)
	case KindExam:
		link += "&module=adm%2Fclass%2Fexam&+job=student&+exam=" + strconv.Itoa(id)
	}
	return link
}

// fail writes the response for a launch error and returns its status.
func (a *App) fail(w http.ResponseWriter, err error) int {
	var (
		invalid   *ValidationError
		forbidden *PermissionError
		notFound  *NotFoundError
		apiErr    *wims.APIError
		transport *wims.TransportError
	)
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
	case errors.As(err, &forbidden):
		status = http.StatusForbidden
	case errors.As(err, &notFound):
		status = http.StatusNotFound
		if notFound.ClassLaunchURL != "" {
			msg += fmt.Sprintf(". A teacher must first launch the class itself from the LMS (%s) to create it.",
				notFound.ClassLaunchURL)
		}
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
		msg = fmt.Sprintf("The WIMS server returned an error: %s", apiErr.Message)
	case errors.As(err, &transport):
		status = http.StatusGatewayTimeout
		msg = fmt.Sprintf("The WIMS server could not be reached: %v", transport)
	}
	loggedHTTPErrorf(w, status, "%s", msg)
	return status
}
