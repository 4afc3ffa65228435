package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"litgate/auth"
	"litgate/brand"
)

const callbackPath = "/auth/callback"

// App bundles runtime dependencies for the gateway.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Brand    brand.Brand
	Sessions *SessionManager
	Metrics  *Metrics

	authorizeURL string
	tokenURL     string
	proxy        *APIProxy
}

// NewApp wires together the gateway from configuration. Endpoint discovery,
// when enabled, happens once here.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	b, err := brand.Resolve(cfg.Brand.Code, cfg.Brand.Name)
	if err != nil {
		return nil, err
	}

	authorizeURL := cfg.SSO.AuthorizeURL
	tokenURL := cfg.SSO.TokenURL
	if cfg.SSO.DiscoverEndpoints {
		endpoints, err := auth.Discover(ctx, cfg.SSO.BaseURL)
		if err != nil {
			return nil, err
		}
		authorizeURL = endpoints.AuthorizeURL
		tokenURL = endpoints.TokenURL
		logger.Info("sso endpoints discovered",
			"authorize_url", authorizeURL, "token_url", tokenURL)
	}

	app := &App{
		Config:       cfg,
		Logger:       logger,
		Brand:        b,
		Sessions:     NewSessionManager(cfg, NewSessionStore(), logger),
		Metrics:      NewMetrics(),
		authorizeURL: authorizeURL,
		tokenURL:     tokenURL,
	}

	if cfg.API.Target != "" {
		proxy, err := NewAPIProxy(cfg.API, app, logger)
		if err != nil {
			return nil, fmt.Errorf("init api proxy: %w", err)
		}
		app.proxy = proxy
	}

	return app, nil
}

// authClient builds the session facade bound to one browser's stores.
func (a *App) authClient(sess *BrowserSession) *auth.Client {
	cfg := auth.Config{
		BaseURL:         a.Config.SSO.BaseURL,
		ClientID:        a.Config.SSO.ClientID,
		Origin:          strings.TrimSuffix(a.Config.Server.PublicURL, "/"),
		Brand:           a.Brand.Code,
		AuthorizeURL:    a.authorizeURL,
		TokenURL:        a.tokenURL,
		ExchangeTimeout: parseDuration(a.Config.SSO.ExchangeTimeout, DefaultExchangeTimeout),
		HTTPClient:      sess.IdPClient(),
	}
	return auth.New(cfg, auth.NewTokenStore(sess.Tokens), auth.NewFlowStore(sess.Flow), a.Logger)
}

// handleCallback terminates the OAuth redirect back from the IdP.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Ensure(w, r)
	client := a.authClient(sess)
	params := auth.ParseCallback(r.URL.Query())

	if err := params.Classify(); err != nil {
		a.routeCallbackFailure(w, r, err)
		return
	}

	redirectURI := auth.CallbackRedirectURI(strings.TrimSuffix(a.Config.Server.PublicURL, "/"), params.RedirectTo)
	if _, err := client.HandleCallback(r.Context(), params.Code, params.State, redirectURI); err != nil {
		a.routeCallbackFailure(w, r, err)
		return
	}

	a.Metrics.LoginsCompleted.Inc()
	a.Logger.Info("login completed", "brand", a.Brand.Code)
	http.Redirect(w, r, safeLocalRedirect(params.RedirectTo), http.StatusFound)
}

// routeCallbackFailure sends every callback outcome short of success to the
// login page. Messages stay generic except where the IdP supplied a
// description; stack traces never reach the user.
func (a *App) routeCallbackFailure(w http.ResponseWriter, r *http.Request, err error) {
	var reason, message string

	var cbErr *auth.CallbackError
	var exchange *auth.TokenExchangeError
	switch {
	case errors.Is(err, auth.ErrLoginRequired):
		// No global session. Expected outcome of a silent attempt for a
		// signed-out user: plain login page, no error banner.
		http.Redirect(w, r, a.Config.SSO.LoginPath, http.StatusFound)
		return
	case errors.Is(err, auth.ErrSessionExpired):
		reason, message = "session_expired", "Your login attempt expired. Please sign in again."
	case errors.Is(err, auth.ErrCsrfMismatch):
		// Potential attack: log the specifics, show a generic message.
		reason, message = "state_mismatch", "Sign-in could not be completed. Please try again."
	case errors.Is(err, auth.ErrMissingAuthorizationCode):
		reason, message = "missing_code", "Sign-in could not be completed. Please try again."
	case errors.As(err, &cbErr):
		reason = "idp_error"
		message = cbErr.Description
		if message == "" {
			message = "Sign-in was rejected. Please try again."
		}
	case errors.As(err, &exchange):
		reason = "exchange_failed"
		message = exchange.Description
		if message == "" {
			message = "Sign-in could not be completed. Please try again."
		}
	default:
		reason, message = "internal", "Sign-in could not be completed. Please try again."
	}

	a.Metrics.LoginsFailed.WithLabelValues(reason).Inc()
	a.Logger.Warn("callback failed", "reason", reason, "error", err)
	http.Redirect(w, r, a.Config.SSO.LoginPath+"?error="+url.QueryEscape(message), http.StatusFound)
}

// handleLoginPage serves the manual sign-in form. The form posts straight to
// the IdP's own origin so its session cookie is set first-party; the PKCE
// fields are generated and stored before the page renders.
func (a *App) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Ensure(w, r)
	client := a.authClient(sess)

	form, err := client.BeginFormLogin(auth.Credentials{}, auth.LoginOptions{})
	if err != nil {
		a.Logger.Error("login page init failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	a.Metrics.LoginsInitiated.Inc()
	a.renderCredentialPage(w, credentialPage{
		Title:    "Sign in to " + a.Brand.Name,
		Action:   form.Action,
		Fields:   form.Fields,
		Error:    r.URL.Query().Get("error"),
		WithName: false,
	})
}

// handleSignupPage mirrors the login page against the signup endpoint.
func (a *App) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Ensure(w, r)
	client := a.authClient(sess)

	form, err := client.BeginFormSignup(auth.Credentials{}, auth.LoginOptions{})
	if err != nil {
		a.Logger.Error("signup page init failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	a.renderCredentialPage(w, credentialPage{
		Title:    "Create your " + a.Brand.Name + " account",
		Action:   form.Action,
		Fields:   form.Fields,
		WithName: true,
	})
}

// handleDirectLogin is the legacy JSON credential exchange for surfaces
// that cannot render the form flow.
func (a *App) handleDirectLogin(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Ensure(w, r)
	client := a.authClient(sess)
	client.SetTransport(&auth.DirectTransport{Client: client})

	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if creds.Email == "" || creds.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	if _, err := client.Login(r.Context(), creds); err != nil {
		a.Metrics.LoginsFailed.WithLabelValues("direct").Inc()
		a.Logger.Warn("direct login failed", "error", err)
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	a.Metrics.LoginsCompleted.Inc()
	writeJSON(w, map[string]any{
		"authenticated": true,
		"user":          client.CurrentUser(),
	})
}

// handleLogout clears the local token first, then notifies the IdP.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := a.Sessions.Fetch(r); ok {
		a.authClient(sess).Logout(r.Context())
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleSessionStatus reports auth state for the page shell.
func (a *App) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	var user *auth.User
	if sess, ok := a.Sessions.Fetch(r); ok {
		user = a.authClient(sess).CurrentUser()
	}
	writeJSON(w, map[string]any{
		"authenticated": user != nil,
		"user":          user,
		"brand":         a.Brand.Code,
	})
}

// handleCheckSession asks the IdP whether a global session exists. Exposed
// for the page shell; the answer is advisory only.
func (a *App) handleCheckSession(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Ensure(w, r)
	active, err := a.authClient(sess).CheckSession(r.Context())
	if err != nil {
		a.Logger.Warn("session check failed", "error", err)
	}
	writeJSON(w, map[string]any{"active": active})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "brand": a.Brand.Code})
}

// handleIndex serves the minimal page shell. The real product UIs are
// client-rendered bundles outside this repository; this page exists so the
// gateway can run standalone.
func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	var user *auth.User
	if sess, ok := a.Sessions.Fetch(r); ok {
		user = a.authClient(sess).CurrentUser()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, map[string]any{
		"Brand": a.Brand,
		"User":  user,
	}); err != nil {
		a.Logger.Error("render index", "error", err)
	}
}

type credentialPage struct {
	Title    string
	Action   string
	Fields   url.Values
	Error    string
	WithName bool
}

func (a *App) renderCredentialPage(w http.ResponseWriter, page credentialPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := credentialTemplate.Execute(w, page); err != nil {
		a.Logger.Error("render credential page", "error", err)
	}
}

// safeLocalRedirect confines the post-login target to a local path so the
// redirect_to parameter cannot become an open redirect.
func safeLocalRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return "/"
	}
	return target
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

var credentialTemplate = template.Must(template.New("credential").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 420px; margin: 80px auto; padding: 20px; }
        h1 { font-size: 1.4em; color: #333; }
        .error { background-color: #f8d7da; color: #721c24; padding: 10px; border-radius: 5px; margin-bottom: 16px; }
        label { display: block; margin-top: 12px; color: #555; }
        input { width: 100%; padding: 8px; margin-top: 4px; box-sizing: border-box; }
        button { margin-top: 20px; padding: 10px 24px; background-color: #007bff; color: white; border: none; border-radius: 5px; cursor: pointer; }
    </style>
</head>
<body>
    <h1>{{.Title}}</h1>
    {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
    <form method="POST" action="{{.Action}}">
        {{range $key, $values := .Fields}}<input type="hidden" name="{{$key}}" value="{{index $values 0}}">
        {{end}}{{if .WithName}}<label>Name<input type="text" name="name" required></label>
        {{end}}<label>Email<input type="email" name="email" required></label>
        <label>Password<input type="password" name="password" required></label>
        <button type="submit">Continue</button>
    </form>
</body>
</html>`))

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Brand.Name}}</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
        .status { padding: 10px; margin: 20px 0; border-radius: 5px; }
        .authenticated { background-color: #d4edda; color: #155724; }
        .unauthenticated { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>{{.Brand.Name}}</h1>
    {{if .User}}
    <div class="status authenticated">Signed in as <strong>{{if .User.Email}}{{.User.Email}}{{else}}{{.User.ID}}{{end}}</strong></div>
    <form method="POST" action="/auth/logout"><button type="submit">Sign out</button></form>
    {{else}}
    <div class="status unauthenticated">Not signed in</div>
    <a href="/login">Sign in</a> &middot; <a href="/signup">Create account</a>
    {{end}}
</body>
</html>`))
