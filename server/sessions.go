package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	. "github.com/russross/wimslti/types"
	"golang.org/x/crypto/bcrypt"
)

const sessionLifetime = 12 * time.Hour

// AdminLogin is the admin login form.
type AdminLogin struct {
	Password string `form:"password" binding:"required"`
}

type CookieSession struct {
	ExpiresAt time.Time
	Admin     bool
	path      string
}

func NewSession() *CookieSession {
	return &CookieSession{
		ExpiresAt: time.Now().Add(sessionLifetime),
		Admin:     true,
		path:      "/",
	}
}

func GetSession(r *http.Request) (*CookieSession, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, fmt.Errorf("unable to read session cookie")
	}

	// decode and verify signature
	session := new(CookieSession)
	secure := securecookie.New([]byte(Config.Server.SessionSecret), nil)
	secure.MaxAge(0)
	if err = secure.Decode(CookieName, cookie.Value, session); err != nil {
		return nil, fmt.Errorf("unable to decode session cookie")
	}

	if session.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("session is expired; must log in again to continue")
	}
	if !session.Admin {
		return nil, fmt.Errorf("session is not an admin session")
	}
	session.path = "/"
	return session, nil
}

func (session *CookieSession) Save(w http.ResponseWriter) error {
	secure := securecookie.New([]byte(Config.Server.SessionSecret), nil)
	secure.MaxAge(0)
	encoded, err := secure.Encode(CookieName, session)
	if err != nil {
		return fmt.Errorf("creating session: %v", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     session.path,
		Expires:  session.ExpiresAt,
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		Secure:   true,
		HttpOnly: true,
	})
	return nil
}

func (session *CookieSession) Delete(w http.ResponseWriter) {
	epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	http.SetCookie(w, &http.Cookie{
		Name:    CookieName,
		Value:   "deleted",
		Path:    session.path,
		Expires: epoch,
		MaxAge:  -1,
		Secure:  true,
	})
}

// checkPassword compares a login attempt with the configured bcrypt hash.
func checkPassword(password string) error {
	if Config.Server.AdminPasswordHash == "" {
		return fmt.Errorf("admin login is disabled: no adminPasswordHash configured")
	}
	return bcrypt.CompareHashAndPassword([]byte(Config.Server.AdminPasswordHash), []byte(password))
}
