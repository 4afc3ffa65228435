package server

import (
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/google/uuid"

	"litgate/auth"
)

// BrowserSession is the server-side stand-in for one browser's storage: the
// durable token store, the tab-scoped PKCE flow store, and the one-shot
// silent-SSO flags all hang off it.
type BrowserSession struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time

	Tokens *auth.MemoryKV
	Flow   *auth.MemoryKV
	Flags  *auth.MemoryKV

	// idpClient carries this browser's IdP cookies so credentialed calls
	// (token exchange, logout, session check) stay per-user.
	idpClient *http.Client
	mu        sync.Mutex
}

// IdPClient returns the session's cookie-jar HTTP client, creating it on
// first use.
func (s *BrowserSession) IdPClient() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idpClient == nil {
		jar, _ := cookiejar.New(nil)
		s.idpClient = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}
	return s.idpClient
}

// SessionStore keeps browser sessions in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*BrowserSession
}

// NewSessionStore constructs the store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*BrowserSession)}
}

// NewSession creates and stores a fresh session expiring after ttl.
func (s *SessionStore) NewSession(ttl time.Duration) *BrowserSession {
	sess := &BrowserSession{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
		Tokens:    auth.NewMemoryKV(),
		Flow:      auth.NewMemoryKV(),
		Flags:     auth.NewMemoryKV(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return sess
}

// Get retrieves a live session by ID; expired sessions are dropped.
func (s *SessionStore) Get(id string) (*BrowserSession, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(sess.ExpiresAt) {
		s.Delete(id)
		return nil, false
	}
	return sess, true
}

// Touch extends a session's expiry.
func (s *SessionStore) Touch(id string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.ExpiresAt = time.Now().Add(ttl)
	}
}

// Delete removes a session.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len reports the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
