package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for the SSO flow. Handlers route on these with errors.Is,
// so every failure path must map onto exactly one of them.
var (
	// ErrCryptoUnavailable means the platform random source failed. Login
	// cannot proceed; there is no non-cryptographic fallback.
	ErrCryptoUnavailable = errors.New("crypto random source unavailable")

	// ErrSessionExpired covers two cases: PKCE parameters missing at
	// callback time (attempt timed out, storage cleared, or replay), and a
	// bearer token rejected by the API with 401.
	ErrSessionExpired = errors.New("session expired")

	// ErrCsrfMismatch means the state returned by the IdP differs from the
	// stored one. Treated as a potential attack and never retried.
	ErrCsrfMismatch = errors.New("state mismatch")

	// ErrNotAuthenticated is returned by the authenticated request helper
	// when no token is present before the request is attempted.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrMissingAuthorizationCode means the callback carried neither a code
	// nor the explicit login-required indicator.
	ErrMissingAuthorizationCode = errors.New("authorization code missing")

	// ErrLoginRequired is the "no global session exists" signal
	// (sso_login_required=true on the callback). It is not a failure; the
	// caller proceeds to manual login without surfacing an error.
	ErrLoginRequired = errors.New("login required")
)

// TokenExchangeError reports a rejected code exchange. Description carries
// the IdP's error_description when one was returned.
type TokenExchangeError struct {
	Code        string
	Description string
	err         error
}

func (e *TokenExchangeError) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("token exchange failed: %s", e.Description)
	case e.Code != "":
		return fmt.Sprintf("token exchange failed: %s", e.Code)
	default:
		return "token exchange failed"
	}
}

func (e *TokenExchangeError) Unwrap() error { return e.err }

// CallbackError wraps an OAuth error parameter delivered on the redirect
// back. Distinct from a missing code so callers can surface the IdP's
// message instead of a generic one.
type CallbackError struct {
	Code        string
	Description string
}

func (e *CallbackError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s", e.Description)
	}
	return fmt.Sprintf("authorization failed: %s", e.Code)
}
