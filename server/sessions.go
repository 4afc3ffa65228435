package server

import (
	"log/slog"
	"net/http"
	"time"
)

const sessionCookieName = "lit_session"

// SessionManager binds browser sessions to a cookie.
type SessionManager struct {
	store        *SessionStore
	logger       *slog.Logger
	ttl          time.Duration
	secure       bool
	cookieDomain string
}

// NewSessionManager constructs a session manager honouring config.
func NewSessionManager(cfg Config, store *SessionStore, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		store:        store,
		logger:       logger,
		ttl:          parseDuration(cfg.Sessions.TTL, DefaultSessionTTL),
		secure:       !cfg.Server.DevMode,
		cookieDomain: cfg.Server.CookieDomain,
	}
}

// Fetch returns the session for the request cookie, if one is live.
func (sm *SessionManager) Fetch(r *http.Request) (*BrowserSession, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, false
	}
	sess, ok := sm.store.Get(cookie.Value)
	if !ok {
		return nil, false
	}

	// Sliding expiration: extend on activity.
	sm.store.Touch(sess.ID, sm.ttl)
	return sess, true
}

// Ensure returns the request's session, creating one and setting the cookie
// when none exists yet.
func (sm *SessionManager) Ensure(w http.ResponseWriter, r *http.Request) *BrowserSession {
	if sess, ok := sm.Fetch(r); ok {
		return sess
	}

	sess := sm.store.NewSession(sm.ttl)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		// Lax, not Strict: the IdP redirect back to /auth/callback is a
		// cross-site top-level GET and must carry this cookie.
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sm.ttl.Seconds()),
	})
	return sess
}

// Clear drops the session and its cookie.
func (sm *SessionManager) Clear(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sm.store.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
