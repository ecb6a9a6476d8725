// Package provision reconciles the local mapping tables with the live state
// of a WIMS server, creating classes, users, and activities on first use and
// repairing mappings whose remote side has disappeared.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dchest/uniuri"
	"github.com/russross/wimslti/lti"
	"github.com/russross/wimslti/notify"
	"github.com/russross/wimslti/store"
	. "github.com/russross/wimslti/types"
	"github.com/russross/wimslti/wims"
	"github.com/sirupsen/logrus"
)

const passwordLength = 16

// Engine finds or creates the WIMS side of a launch.
type Engine struct {
	Store        *store.Store
	Notifier     notify.Sender
	TeacherRoles []Role
	Log          logrus.FieldLogger
	Now          func() time.Time
}

// Launch is one authenticated launch being resolved.
type Launch struct {
	Lms    *Lms
	Server *WimsServer
	Client wims.Client
	Params *lti.LaunchParams
	Roles  []Role
}

func (e *Engine) log() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) teacherRoles() []Role {
	if len(e.TeacherRoles) == 0 {
		return DefaultTeacherRoles
	}
	return e.TeacherRoles
}

// IsTeacher reports whether the launch comes from a teacher-tier role.
func (e *Engine) IsTeacher(l *Launch) bool {
	return lti.IsTeacher(l.Roles, e.teacherRoles())
}

func (l *Launch) fields() logrus.Fields {
	return logrus.Fields{
		"lms":     l.Lms.GUID,
		"server":  l.Server.ID,
		"context": l.Params.ContextID,
		"user":    l.Params.UserID,
	}
}

// ResolveClass returns the class mapped to the launch context together
// with its remote state. A mapping whose remote class is gone is deleted.
// When no usable mapping exists, a class is created if create is set and
// the launch comes from a teacher; otherwise a NotFoundError is returned.
func (e *Engine) ResolveClass(ctx context.Context, l *Launch, create bool) (*ClassMapping, *wims.Class, error) {
	log := e.log().WithFields(l.fields())
	p := l.Params

	class, err := e.Store.FindClass(l.Server.ID, l.Lms.ID, p.ContextID)
	switch {
	case err == nil:
		remote, err := l.Client.GetClass(ctx, class.RemoteClassID, l.Server.RClass)
		if err == nil {
			return class, remote, nil
		}
		if !wims.IsNotExisting(err) {
			return nil, nil, err
		}
		log.WithField("qclass", class.RemoteClassID).
			Info("class was deleted from the WIMS server, removing its mapping")
		if err := e.Store.DeleteClass(class.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("deleting stale class %d: %w", class.ID, err)
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, nil, err
	}

	if !create {
		return nil, nil, NotFoundf("Could not find a WIMS class for context '%s' on server '%s'",
			p.ContextID, l.Server.Name)
	}
	if !e.IsTeacher(l) {
		return nil, nil, Forbiddenf("You must have at least one of these LTI roles to create a WIMS class: %s. "+
			"Your roles are: %s", RoleList(e.teacherRoles()), RoleList(l.Roles))
	}
	allowed, err := e.Store.IsAllowed(l.Server.ID, l.Lms.ID)
	if err != nil {
		return nil, nil, err
	}
	if !allowed {
		return nil, nil, Forbiddenf("LMS '%s' is not allowed to create classes on WIMS server '%s'",
			l.Lms.Name, l.Server.Name)
	}

	remote, supervisor := e.newClass(l)
	qclass, err := l.Client.AddClass(ctx, l.Server.RClass, remote, supervisor)
	if err != nil {
		return nil, nil, err
	}
	remote.QClass = qclass

	class = &ClassMapping{
		LmsID:         l.Lms.ID,
		LmsContextID:  p.ContextID,
		WimsServerID:  l.Server.ID,
		RemoteClassID: qclass,
		Name:          remote.Name,
	}
	if err := e.Store.InsertClass(class); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// a concurrent launch created the mapping first; use its class
			log.WithField("qclass", qclass).Warn("lost class creation race, remote class left unused")
			return e.ResolveClass(ctx, l, false)
		}
		return nil, nil, err
	}
	log.WithField("qclass", qclass).Info("created WIMS class")

	sup := &UserMapping{ClassMappingID: class.ID, RemoteUsername: SupervisorUsername}
	if err := e.Store.InsertUser(sup); err != nil && !errors.Is(err, store.ErrConflict) {
		return nil, nil, err
	}

	if e.Notifier != nil {
		creds := &notify.Credentials{
			LmsName:    l.Lms.Name,
			LmsURL:     l.Lms.URL,
			ServerName: l.Server.Name,
			ServerURL:  l.Server.URL,
			Class:      remote,
			Supervisor: supervisor,
		}
		if err := e.Notifier.SendCredentials(ctx, creds); err != nil {
			log.WithError(err).Warn("could not send class credentials")
		}
	}
	return class, remote, nil
}

// newClass builds the remote class and supervisor descriptors for a
// launch. Custom parameters win over standard LTI fields, which win over
// server defaults.
func (e *Engine) newClass(l *Launch) (*wims.Class, *wims.User) {
	p := l.Params
	class := &wims.Class{
		Name:        first(p.ClassName, p.ContextTitle, p.ContextLabel, p.ContextID),
		Institution: first(p.ClassInstitution, p.ConsumerDescription, p.ConsumerName, l.Lms.Name),
		Email:       first(p.ClassEmail, p.Email),
		Lang:        first(p.ClassLang, localeLang(p.Locale)),
		Expiration:  first(p.ClassExpiration, e.now().Add(l.Server.Duration()).Format(lti.ExpirationLayout)),
		Limit:       l.Server.Limit(),
		Level:       first(p.ClassLevel, DefaultClassLevel),
		CSS:         p.ClassCSS,
		Password:    uniuri.NewLen(passwordLength),
	}
	if n, err := strconv.Atoi(p.ClassLimit); err == nil {
		class.Limit = n
	}

	lastName := p.SupervisorLastName
	if lastName == "" && p.SupervisorFirstName == "" {
		lastName = "Supervisor"
	}
	supervisor := &wims.User{
		QUser:     SupervisorUsername,
		LastName:  lastName,
		FirstName: p.SupervisorFirstName,
		Email:     class.Email,
		Password:  uniuri.NewLen(passwordLength),
	}
	return class, supervisor
}

// localeLang maps "fr-FR" to "fr", using English for anything WIMS lacks.
func localeLang(locale string) string {
	if len(locale) < 2 {
		return "en"
	}
	lang := strings.ToLower(locale[:2])
	for _, elt := range lti.Languages {
		if elt == lang {
			return lang
		}
	}
	return "en"
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ResolveUser returns the user account for the launch inside class,
// creating it on the WIMS server when needed. Teachers act as the class
// supervisor.
func (e *Engine) ResolveUser(ctx context.Context, l *Launch, class *ClassMapping) (*UserMapping, *wims.User, error) {
	log := e.log().WithFields(l.fields()).WithField("qclass", class.RemoteClassID)
	p := l.Params

	var user *UserMapping
	var err error
	if e.IsTeacher(l) {
		user, err = e.Store.FindSupervisor(class.ID)
		if errors.Is(err, store.ErrNotFound) {
			user, err = e.Store.FindUserByLmsID(class.ID, p.UserID)
		}
	} else {
		user, err = e.Store.FindUserByLmsID(class.ID, p.UserID)
	}
	if err == nil {
		remote, err := l.Client.GetUser(ctx, class.RemoteClassID, l.Server.RClass, user.RemoteUsername)
		if err != nil {
			return nil, nil, err
		}
		return user, remote, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}

	remote := &wims.User{
		LastName:  p.FamilyName,
		FirstName: p.GivenName,
		Email:     p.Email,
		Password:  uniuri.NewLen(passwordLength),
	}
	base := Username(p.GivenName, p.FamilyName)
	for n := 0; ; n++ {
		remote.QUser = withSuffix(base, n)
		err := l.Client.AddUser(ctx, class.RemoteClassID, l.Server.RClass, remote)
		if err == nil {
			break
		}
		if !wims.IsUserExists(err) || n >= MaxUsernameSuffix {
			return nil, nil, err
		}
	}

	user = &UserMapping{ClassMappingID: class.ID, LmsUserID: p.UserID, RemoteUsername: remote.QUser}
	if err := e.Store.InsertUser(user); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return nil, nil, err
		}
		log.WithField("quser", remote.QUser).Warn("lost user creation race, remote user left unused")
		winner, err := e.Store.FindUserByLmsID(class.ID, p.UserID)
		if err != nil {
			return nil, nil, err
		}
		remote, err := l.Client.GetUser(ctx, class.RemoteClassID, l.Server.RClass, winner.RemoteUsername)
		if err != nil {
			return nil, nil, err
		}
		return winner, remote, nil
	}
	log.WithField("quser", remote.QUser).Info("created WIMS user")
	return user, remote, nil
}

// ResolveActivity fetches a sheet or exam of class and records which LMS
// resource link reached it last. Activities that are pending or hidden
// cannot be launched.
func (e *Engine) ResolveActivity(ctx context.Context, l *Launch, class *ClassMapping, kind ActivityKind, id int) (*ActivityMapping, *wims.Activity, error) {
	activity, err := e.Store.FindActivity(class.ID, kind, id)
	known := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}

	remote, err := l.Client.GetActivity(ctx, class.RemoteClassID, l.Server.RClass, kind, id)
	if err != nil {
		return nil, nil, err
	}
	if !remote.Available() {
		return nil, nil, Forbiddenf("This WIMS %s (%d) is currently unavailable (%s)", kind, id, wims.ModeName(remote.Mode))
	}

	if !known {
		activity = &ActivityMapping{
			ClassMappingID:    class.ID,
			Kind:              kind,
			RemoteActivityID:  id,
			LmsResourceLinkID: l.Params.ResourceLinkID,
		}
		err := e.Store.InsertActivity(activity)
		if err == nil {
			return activity, remote, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, nil, err
		}
		// a concurrent launch recorded it first; rebind its row below
		if activity, err = e.Store.FindActivity(class.ID, kind, id); err != nil {
			return nil, nil, err
		}
	}

	activity.LmsResourceLinkID = l.Params.ResourceLinkID
	if err := e.Store.UpdateActivity(activity); err != nil {
		return nil, nil, err
	}
	return activity, remote, nil
}
