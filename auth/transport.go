package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Credentials are user-supplied login inputs. Name is only used by signup.
type Credentials struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the outcome of a credential submission. Exactly one field
// is set: Token when the transport obtained one directly, Form when the
// browser must complete a first-party POST to the IdP.
type LoginResult struct {
	Token *TokenResponse
	Form  *FormPost
}

// CredentialTransport submits credentials to the IdP. Two implementations
// exist because cookie policy dictates different mechanics: FormTransport
// hands the browser a first-party form submit, DirectTransport exchanges
// JSON over fetch where that still works.
type CredentialTransport interface {
	Login(ctx context.Context, creds Credentials) (LoginResult, error)
}

// FormTransport prepares a full-page form POST to the IdP login endpoint.
// The IdP answers with a redirect back to /auth/callback, so the rest of the
// flow is the ordinary callback handling.
type FormTransport struct {
	Client *Client
}

// Login builds the form submission; no network call happens here.
func (t *FormTransport) Login(_ context.Context, creds Credentials) (LoginResult, error) {
	form, err := t.Client.BeginFormLogin(creds, LoginOptions{})
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Form: &form}, nil
}

// DirectTransport POSTs credentials to the brand-scoped login endpoint and
// stores the returned token synchronously. This is the legacy path kept for
// surfaces that cannot render the form flow.
type DirectTransport struct {
	Client *Client
}

// Login exchanges credentials for a token and registers the SSO session as
// a best-effort side call.
func (t *DirectTransport) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	c := t.Client

	payload := map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	}
	if c.cfg.Brand != "" {
		payload["brand_id"] = c.cfg.Brand
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return LoginResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.endpoint("/login"), bytes.NewReader(body))
	if err != nil {
		return LoginResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Brand != "" {
		req.Header.Set("x-brand", c.cfg.Brand)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var idpErr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = json.Unmarshal(raw, &idpErr)
		if idpErr.ErrorDescription != "" || idpErr.Error != "" {
			return LoginResult{}, &CallbackError{Code: idpErr.Error, Description: idpErr.ErrorDescription}
		}
		return LoginResult{}, fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return LoginResult{}, fmt.Errorf("login: decode response: %w", err)
	}
	if token.AccessToken == "" {
		return LoginResult{}, fmt.Errorf("login: empty access token")
	}

	c.tokens.Set(token.AccessToken)
	t.registerSSOSession(ctx, token.AccessToken)

	return LoginResult{Token: &token}, nil
}

// registerSSOSession tells the IdP to establish its own session for the
// freshly minted token, so later silent logins on sibling brands succeed.
// Failure here never fails the login itself.
func (t *DirectTransport) registerSSOSession(ctx context.Context, token string) {
	c := t.Client
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.endpoint("/session"), nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("sso session register failed", "error", err)
		return
	}
	resp.Body.Close()
}
