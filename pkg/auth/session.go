package auth

import (
	"crypto/sha256"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

// sessionKeyEditingSession holds the id of the caller's current editing session.
const sessionKeyEditingSession = "editing_session_id"

// SessionCookies remembers which editing session a browser is working in.
// The cookie is signed, not encrypted; it only carries an opaque id.
type SessionCookies struct {
	store *sessions.CookieStore
	name  string
}

// NewSessionCookies creates the cookie store. The secret is SHA-256 hashed to
// derive the signing key and must be stable across restarts and replicas.
func NewSessionCookies(name, secret string, maxAge time.Duration, settings CookieSettings) *SessionCookies {
	key := sha256.Sum256([]byte(secret))

	store := sessions.NewCookieStore(key[:])
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   settings.Domain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   settings.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionCookies{store: store, name: name}
}

// Current returns the remembered editing session id, if any.
func (c *SessionCookies) Current(r *http.Request) (string, bool) {
	session, err := c.store.Get(r, c.name)
	if err != nil {
		return "", false
	}
	id, ok := session.Values[sessionKeyEditingSession].(string)
	return id, ok && id != ""
}

// Remember stores id as the current editing session.
func (c *SessionCookies) Remember(w http.ResponseWriter, r *http.Request, id string) error {
	// A tampered or stale cookie yields a fresh session alongside the error.
	session, _ := c.store.Get(r, c.name)
	session.Values[sessionKeyEditingSession] = id
	return session.Save(r, w)
}

// Forget clears the remembered editing session.
func (c *SessionCookies) Forget(w http.ResponseWriter, r *http.Request) error {
	session, _ := c.store.Get(r, c.name)
	delete(session.Values, sessionKeyEditingSession)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}
