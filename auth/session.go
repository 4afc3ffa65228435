package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExchangeTimeout bounds the token exchange POST. A stalled exchange
// surfaces as a TokenExchangeError instead of a perpetual loading state.
const DefaultExchangeTimeout = 15 * time.Second

// Config describes one brand's view of the central IdP.
type Config struct {
	// BaseURL is the SSO service root, e.g. https://sso.litsuite.app.
	BaseURL string
	// ClientID identifies this brand's OAuth client at the IdP.
	ClientID string
	// Origin is the brand's own origin; the default redirect URI is
	// Origin + "/auth/callback".
	Origin string
	// Brand is the short brand code, sent as brand_id and as the x-brand
	// header on API calls. Immutable for the process lifetime.
	Brand string

	// AuthorizeURL and TokenURL override the conventional {base}/authorize
	// and {base}/token endpoints, e.g. when resolved via OIDC discovery.
	AuthorizeURL string
	TokenURL     string

	// ExchangeTimeout caps the code-for-token POST. Zero means
	// DefaultExchangeTimeout.
	ExchangeTimeout time.Duration

	// HTTPClient performs credentialed IdP calls (token, logout, check).
	// It must carry a cookie jar so the IdP can correlate its own session.
	// Nil gets a fresh jar-backed client.
	HTTPClient *http.Client

	// APIClient performs bearer-authenticated API calls. Nil means
	// http.DefaultClient.
	APIClient *http.Client
}

func (c Config) authorizeURL() string {
	if c.AuthorizeURL != "" {
		return c.AuthorizeURL
	}
	return strings.TrimSuffix(c.BaseURL, "/") + "/authorize"
}

func (c Config) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return strings.TrimSuffix(c.BaseURL, "/") + "/token"
}

func (c Config) endpoint(path string) string {
	return strings.TrimSuffix(c.BaseURL, "/") + path
}

// Client is the session facade: one consolidated implementation of login,
// logout, callback handling, current-user derivation, and authenticated
// requests. The two historical variants (plain code exchange vs. first-party
// form submit) survive as CredentialTransport implementations.
type Client struct {
	cfg       Config
	tokens    *TokenStore
	flow      *FlowStore
	transport CredentialTransport
	http      *http.Client
	api       *http.Client
	logger    *slog.Logger
}

// New constructs a session facade over the given stores. The token store is
// durable per browser; the flow store is tab-scoped and single-use.
func New(cfg Config, tokens *TokenStore, flow *FlowStore, logger *slog.Logger) *Client {
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = DefaultExchangeTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, _ := cookiejar.New(nil)
		httpClient = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}
	apiClient := cfg.APIClient
	if apiClient == nil {
		apiClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:    cfg,
		tokens: tokens,
		flow:   flow,
		http:   httpClient,
		api:    apiClient,
		logger: logger,
	}
	c.transport = &FormTransport{Client: c}
	return c
}

// Tokens exposes the underlying token store.
func (c *Client) Tokens() *TokenStore { return c.tokens }

// Flow exposes the underlying PKCE flow store.
func (c *Client) Flow() *FlowStore { return c.flow }

// Brand returns the configured brand code.
func (c *Client) Brand() string { return c.cfg.Brand }

// Token returns the current bearer token, or "".
func (c *Client) Token() string { return c.tokens.Get() }

// SetTransport swaps the credential transport. The default is the
// first-party form submit; the direct JSON exchange remains available for
// surfaces where the form flow is not viable.
func (c *Client) SetTransport(t CredentialTransport) {
	c.transport = t
}

// CurrentUser derives the user from the stored token. Returns nil when no
// token is present or the payload cannot be decoded; it never errors.
func (c *Client) CurrentUser() *User {
	token := c.tokens.Get()
	if token == "" {
		return nil
	}
	if u := c.tokens.CachedUser(); u != nil {
		return u
	}
	u := decodeUser(token)
	if u != nil {
		c.tokens.CacheUser(u)
	}
	return u
}

// Login submits credentials through the configured transport.
func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	return c.transport.Login(ctx, creds)
}

// Logout clears the local token first, then notifies the IdP best-effort.
// A failed remote call never resurrects the local session.
func (c *Client) Logout(ctx context.Context) {
	c.tokens.Clear()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.endpoint("/logout"), nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("sso logout notify failed", "error", err)
		return
	}
	resp.Body.Close()
}

// Do performs a bearer-authenticated API request, attaching the
// Authorization and x-brand headers. It fails fast with
// ErrNotAuthenticated when no token exists, and on a 401 reply clears the
// token and returns ErrSessionExpired. This is the single enforcement point
// for sessions invalidated server-side.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	token := c.tokens.Get()
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if c.cfg.Brand != "" {
		req.Header.Set("x-brand", c.cfg.Brand)
	}

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.tokens.Clear()
		return nil, ErrSessionExpired
	}
	return resp, nil
}

// CheckSession asks the IdP whether a global session exists for this
// browser. The answer only informs the silent-login policy; it is advisory,
// never a trust decision.
func (c *Client) CheckSession(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.endpoint("/check"), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("session check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("session check: %w", err)
	}
	return body.Active, nil
}

// oauthConfig builds the per-call oauth2 configuration. RedirectURL varies
// per attempt because silent login preserves the visited path in it.
func (c *Client) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.cfg.authorizeURL(),
			TokenURL:  c.cfg.tokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
