package auth

import (
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// LoginOptions tune a login initiation.
type LoginOptions struct {
	// BrandID overrides the client's configured brand code in the brand_id
	// parameter. Empty means the configured brand.
	BrandID string
	// RedirectURI overrides the default {origin}/auth/callback target. The
	// exchange later presents this exact URI, query string included.
	RedirectURI string
}

// CallbackRedirectURI builds the redirect URI for a login attempt that must
// return the user to redirectTo afterwards. The token exchange has to
// present a byte-for-byte identical URI, so both the initiator and the
// callback handler build it here and nowhere else.
func CallbackRedirectURI(origin, redirectTo string) string {
	uri := strings.TrimSuffix(origin, "/") + "/auth/callback"
	if redirectTo != "" && redirectTo != "/" {
		uri += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return uri
}

// BeginLogin starts an authorization-code + PKCE attempt: generates the
// PKCE parameters, persists them to the flow store, and returns the IdP
// authorize URL. The caller must issue a top-level navigation to that URL —
// third-party cookie blocking means only a first-party visit to the IdP's
// origin can read its session cookie. Nothing after the navigation runs in
// this page, so the flow store write happens strictly first.
func (c *Client) BeginLogin(opts LoginOptions) (string, error) {
	verifier, state, err := c.beginFlow()
	if err != nil {
		return "", err
	}

	redirectURI := opts.RedirectURI
	if redirectURI == "" {
		redirectURI = CallbackRedirectURI(c.cfg.Origin, "")
	}
	brandID := opts.BrandID
	if brandID == "" {
		brandID = c.cfg.Brand
	}

	params := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", GenerateChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", ChallengeMethodS256),
	}
	if brandID != "" {
		params = append(params, oauth2.SetAuthURLParam("brand_id", brandID))
	}

	return c.oauthConfig(redirectURI).AuthCodeURL(state, params...), nil
}

// FormPost describes a full-page form submission the browser must perform
// against the IdP's own origin. The first-party POST lets the IdP set its
// session cookie where an XHR could not.
type FormPost struct {
	Action string
	Fields url.Values
}

// BeginFormLogin prepares the credential form flow: fresh PKCE parameters
// are stored, and the returned FormPost targets {base}/login?mode=redirect
// with the same fields the authorize redirect would carry. Credential
// inputs (email, password) are left to the rendered form; pre-filled values
// from creds are included when present.
func (c *Client) BeginFormLogin(creds Credentials, opts LoginOptions) (FormPost, error) {
	return c.beginFormFlow("/login", creds, opts, false)
}

// BeginFormSignup is BeginFormLogin against the signup endpoint, which also
// carries the display name field.
func (c *Client) BeginFormSignup(creds Credentials, opts LoginOptions) (FormPost, error) {
	return c.beginFormFlow("/signup", creds, opts, true)
}

func (c *Client) beginFormFlow(path string, creds Credentials, opts LoginOptions, withName bool) (FormPost, error) {
	verifier, state, err := c.beginFlow()
	if err != nil {
		return FormPost{}, err
	}

	redirectURI := opts.RedirectURI
	if redirectURI == "" {
		redirectURI = CallbackRedirectURI(c.cfg.Origin, "")
	}
	brandID := opts.BrandID
	if brandID == "" {
		brandID = c.cfg.Brand
	}

	fields := url.Values{}
	fields.Set("client_id", c.cfg.ClientID)
	fields.Set("redirect_uri", redirectURI)
	fields.Set("code_challenge", GenerateChallenge(verifier))
	fields.Set("code_challenge_method", ChallengeMethodS256)
	fields.Set("state", state)
	fields.Set("response_mode", "redirect")
	if brandID != "" {
		fields.Set("brand_id", brandID)
	}
	if creds.Email != "" {
		fields.Set("email", creds.Email)
	}
	if creds.Password != "" {
		fields.Set("password", creds.Password)
	}
	if withName && creds.Name != "" {
		fields.Set("name", creds.Name)
	}

	return FormPost{
		Action: c.cfg.endpoint(path) + "?mode=redirect",
		Fields: fields,
	}, nil
}

func (c *Client) beginFlow() (verifier, state string, err error) {
	verifier, err = GenerateVerifier()
	if err != nil {
		return "", "", err
	}
	state, err = GenerateState()
	if err != nil {
		return "", "", err
	}
	c.flow.Save(verifier, state)
	return verifier, state, nil
}
