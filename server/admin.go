package main

import (
	"fmt"
	"net/http"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	. "github.com/russross/wimslti/types"
	"github.com/russross/wimslti/wims"
)

// PostAdminSession handles /v2/admin/session logins.
func PostAdminSession(w http.ResponseWriter, login AdminLogin, render render.Render) {
	if err := checkPassword(login.Password); err != nil {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "admin login failed")
		return
	}
	session := NewSession()
	if err := session.Save(w); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "%v", err)
		return
	}
	render.JSON(http.StatusOK, map[string]interface{}{"expiresAt": session.ExpiresAt})
}

func DeleteAdminSession(w http.ResponseWriter) {
	NewSession().Delete(w)
	w.WriteHeader(http.StatusNoContent)
}

// GetLmsList handles /v2/lms requests.
func (a *App) GetLmsList(w http.ResponseWriter, render render.Render) {
	list, err := a.Store.ListLms()
	if err != nil {
		loggedHTTPDBError(w, "LMS", err)
		return
	}
	if list == nil {
		list = []*Lms{}
	}
	render.JSON(http.StatusOK, list)
}

// GetLmsServers handles /v2/lms/:lms_id/servers requests,
// returning the WIMS servers that allow the LMS to create classes.
func (a *App) GetLmsServers(w http.ResponseWriter, params martini.Params, render render.Render) {
	lmsID, err := parseID(w, "lms_id", params["lms_id"])
	if err != nil {
		return
	}
	if _, err := a.Store.LmsByID(lmsID); err != nil {
		loggedHTTPDBError(w, "LMS", err)
		return
	}
	servers, err := a.Store.ListServers(lmsID)
	if err != nil {
		loggedHTTPDBError(w, "WIMS servers", err)
		return
	}
	if servers == nil {
		servers = []*WimsServer{}
	}
	render.JSON(http.StatusOK, servers)
}

// GetClasses handles /v2/servers/:server_id/lms/:lms_id/classes requests.
func (a *App) GetClasses(w http.ResponseWriter, params martini.Params, render render.Render) {
	serverID, err := parseID(w, "server_id", params["server_id"])
	if err != nil {
		return
	}
	lmsID, err := parseID(w, "lms_id", params["lms_id"])
	if err != nil {
		return
	}
	classes, err := a.Store.ListClasses(serverID, lmsID)
	if err != nil {
		loggedHTTPDBError(w, "classes", err)
		return
	}
	if classes == nil {
		classes = []*ClassMapping{}
	}
	render.JSON(http.StatusOK, classes)
}

// ActivityListing is a remote activity with the URL an LMS should launch.
type ActivityListing struct {
	*wims.Activity
	Status    string `json:"status"`
	LaunchURL string `json:"launchURL"`
}

// GetClassActivities handles /v2/classes/:class_id/activities requests,
// listing the sheets and exams of the remote class.
//
// Parameters: kind (sheet or exam, optional)
func (a *App) GetClassActivities(w http.ResponseWriter, r *http.Request, params martini.Params, render render.Render) {
	classID, err := parseID(w, "class_id", params["class_id"])
	if err != nil {
		return
	}
	class, err := a.Store.ClassByID(classID)
	if err != nil {
		loggedHTTPDBError(w, "class", err)
		return
	}
	srv, err := a.Store.ServerByID(class.WimsServerID)
	if err != nil {
		loggedHTTPDBError(w, "WIMS server", err)
		return
	}

	kinds := ActivityKinds
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind, err := ParseActivityKind(raw)
		if err != nil {
			loggedHTTPErrorf(w, http.StatusBadRequest, "%v", err)
			return
		}
		kinds = []ActivityKind{kind}
	}

	client := a.ClientFor(srv)
	listing := []*ActivityListing{}
	for _, kind := range kinds {
		activities, err := client.ListActivities(r.Context(), class.RemoteClassID, srv.RClass, kind)
		if err != nil {
			a.fail(w, err)
			return
		}
		for _, elt := range activities {
			listing = append(listing, &ActivityListing{
				Activity:  elt,
				Status:    wims.ModeName(elt.Mode),
				LaunchURL: fmt.Sprintf("%s/lti/%d/%ss/%d/", a.PublicURL, srv.ID, kind, elt.ID),
			})
		}
	}
	render.JSON(http.StatusOK, listing)
}

// PostRelay handles /v2/admin/relay, running a grade sweep now.
func (a *App) PostRelay(w http.ResponseWriter, r *http.Request, render render.Render) {
	a.runSweep(w, r, render, a.relayJob)
}

// PostPrune handles /v2/admin/prune, running an orphan class sweep now.
func (a *App) PostPrune(w http.ResponseWriter, r *http.Request, render render.Render) {
	a.runSweep(w, r, render, a.pruneJob)
}

func (a *App) runSweep(w http.ResponseWriter, r *http.Request, render render.Render, job *sweep) {
	n, ran, err := job.Run(r.Context())
	if !ran {
		loggedHTTPErrorf(w, http.StatusConflict, "a %s sweep is already running", job.name)
		return
	}
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "%s sweep failed: %v", job.name, err)
		return
	}
	render.JSON(http.StatusOK, map[string]interface{}{"job": job.name, "count": n})
}
