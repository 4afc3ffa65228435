package auth

import (
	"context"
	"errors"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// TokenResponse is the raw reply from the IdP token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// CallbackParams are the query parameters the IdP appends when redirecting
// back to /auth/callback.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	LoginRequired    bool
	RedirectTo       string
}

// ParseCallback extracts the callback parameters from a query string.
func ParseCallback(q url.Values) CallbackParams {
	return CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		LoginRequired:    q.Get("sso_login_required") == "true",
		RedirectTo:       q.Get("redirect_to"),
	}
}

// Classify maps parsed callback parameters to the flow outcome before any
// exchange is attempted. A nil return means the code exchange should
// proceed.
func (p CallbackParams) Classify() error {
	if p.Error != "" {
		return &CallbackError{Code: p.Error, Description: p.ErrorDescription}
	}
	if p.Code == "" {
		if p.LoginRequired {
			// No global session at the IdP. Expected on every silent
			// attempt for a signed-out user; callers route to manual
			// login without an error banner.
			return ErrLoginRequired
		}
		return ErrMissingAuthorizationCode
	}
	return nil
}

// HandleCallback completes a login attempt: it consumes the stored PKCE
// parameters (single-use, deleted whatever the outcome), binds the returned
// state to the stored one, and exchanges the code for a token. redirectURI
// must match the URI used at initiation byte for byte, appended query
// included — the IdP enforces this.
//
// On success the token is persisted under the canonical key and the
// access_token alias before the response is returned.
func (c *Client) HandleCallback(ctx context.Context, code, state, redirectURI string) (*TokenResponse, error) {
	verifier, storedState, ok := c.flow.Consume()
	if !ok {
		// Attempt timed out, storage was cleared, or the callback was
		// replayed.
		return nil, ErrSessionExpired
	}
	if state != storedState {
		return nil, ErrCsrfMismatch
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ExchangeTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := c.oauthConfig(redirectURI).Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, exchangeError(err)
	}

	resp := &TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}

	c.tokens.SaveExchange(tok.AccessToken)
	return resp, nil
}

// exchangeError normalizes oauth2 failures into TokenExchangeError,
// preserving the IdP's error_description when the reply carried one.
func exchangeError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		return &TokenExchangeError{
			Code:        retrieve.ErrorCode,
			Description: retrieve.ErrorDescription,
			err:         err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TokenExchangeError{Description: "token endpoint timed out", err: err}
	}
	return &TokenExchangeError{err: err}
}
