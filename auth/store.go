package auth

import (
	"encoding/json"
	"sync"
)

// KV is the storage dependency for token and flow state. In the gateway it
// is backed by the per-browser session; tests substitute NewMemoryKV.
type KV interface {
	Get(key string) string
	Set(key, value string)
	Remove(key string)
}

// MemoryKV is a mutex-guarded map implementation of KV.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryKV constructs an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

// Get returns the stored value or "".
func (m *MemoryKV) Get(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key]
}

// Set stores a value.
func (m *MemoryKV) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Remove deletes a key.
func (m *MemoryKV) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// Len reports the number of stored keys.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Token storage keys. keyToken is canonical; the two aliases are read for
// compatibility with older app code that wrote a different key.
const (
	keyToken        = "auth_token"
	keyLegacyAccess = "access_token"
	keyLegacyToken  = "token"
	keyUser         = "user"
)

// tokenKeyOrder is the fixed read priority: canonical first.
var tokenKeyOrder = []string{keyToken, keyLegacyAccess, keyLegacyToken}

// TokenStore persists the bearer credential and the derived user cache.
type TokenStore struct {
	kv KV
}

// NewTokenStore wraps a KV as a token store.
func NewTokenStore(kv KV) *TokenStore {
	return &TokenStore{kv: kv}
}

// Get returns the first non-empty token among the canonical key and legacy
// aliases, or "" if none is set.
func (s *TokenStore) Get() string {
	for _, key := range tokenKeyOrder {
		if v := s.kv.Get(key); v != "" {
			return v
		}
	}
	return ""
}

// Set writes the canonical key. An empty token behaves as Clear.
func (s *TokenStore) Set(token string) {
	if token == "" {
		s.Clear()
		return
	}
	s.kv.Set(keyToken, token)
}

// SaveExchange persists a token returned by the code exchange. Older code
// paths still read access_token directly, so the exchange path mirrors the
// token there as well.
func (s *TokenStore) SaveExchange(token string) {
	s.Set(token)
	if token != "" {
		s.kv.Set(keyLegacyAccess, token)
	}
}

// Clear removes the canonical key, every legacy alias, and the derived user
// cache. Idempotent.
func (s *TokenStore) Clear() {
	for _, key := range tokenKeyOrder {
		s.kv.Remove(key)
	}
	s.kv.Remove(keyUser)
}

// CacheUser stores the derived user for synchronous reads without
// re-decoding the token.
func (s *TokenStore) CacheUser(u *User) {
	if u == nil {
		s.kv.Remove(keyUser)
		return
	}
	b, err := json.Marshal(u)
	if err != nil {
		return
	}
	s.kv.Set(keyUser, string(b))
}

// CachedUser returns the cached derived user, or nil. A cached user without
// a token is never returned: the token is the source of truth.
func (s *TokenStore) CachedUser() *User {
	if s.Get() == "" {
		return nil
	}
	raw := s.kv.Get(keyUser)
	if raw == "" {
		return nil
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil
	}
	return &u
}

// Ephemeral PKCE keys, written at login initiation and consumed exactly once
// by the callback handler.
const (
	keyFlowVerifier = "pkce_verifier"
	keyFlowState    = "pkce_state"
)

// FlowStore holds the per-attempt PKCE parameters. Backed by tab-scoped
// storage: values do not survive the browser session.
type FlowStore struct {
	kv KV
}

// NewFlowStore wraps a KV as a PKCE flow store.
func NewFlowStore(kv KV) *FlowStore {
	return &FlowStore{kv: kv}
}

// Save persists the verifier and state. Must complete before the redirect to
// the IdP is issued: the callback runs in a fresh page load and can only
// reconstruct the attempt from this store.
func (s *FlowStore) Save(verifier, state string) {
	s.kv.Set(keyFlowVerifier, verifier)
	s.kv.Set(keyFlowState, state)
}

// Consume returns the stored parameters and deletes them unconditionally,
// whatever the caller decides afterwards. PKCE parameters are single-use;
// a second Consume reports ok=false.
func (s *FlowStore) Consume() (verifier, state string, ok bool) {
	verifier = s.kv.Get(keyFlowVerifier)
	state = s.kv.Get(keyFlowState)
	s.kv.Remove(keyFlowVerifier)
	s.kv.Remove(keyFlowState)
	if verifier == "" || state == "" {
		return "", "", false
	}
	return verifier, state, true
}

// Pending reports whether a login attempt is in flight.
func (s *FlowStore) Pending() bool {
	return s.kv.Get(keyFlowState) != ""
}
