package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"litgate/auth"
)

func newTestApp(t *testing.T, idpURL string) *App {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Server.PublicURL = "https://law.litsuite.app"
	cfg.Brand.Code = "law"
	cfg.SSO.BaseURL = idpURL
	cfg.SSO.ClientID = "lit-law"
	cfg.SSO.ExchangeTimeout = "5s"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := NewApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return app
}

func signTestHandlerToken(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":      "user-42",
		"email":    "pat@example.com",
		"brand_id": "law",
		"role":     "student",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// navigate performs a page navigation request, carrying cookies forward.
func navigate(t *testing.T, h http.Handler, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", sessionCookieName)
	return nil
}

func TestFirstNavigationTriggersSilentSSO(t *testing.T) {
	idp := httptest.NewServer(http.NotFoundHandler())
	defer idp.Close()

	app := newTestApp(t, idp.URL)
	router := app.Routes()

	w := navigate(t, router, "/workbook/7?tab=notes", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}

	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect location: %v", err)
	}
	if !strings.HasPrefix(loc.String(), idp.URL+"/authorize") {
		t.Fatalf("expected redirect to IdP authorize endpoint, got %s", loc)
	}

	q := loc.Query()
	if q.Get("client_id") != "lit-law" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("brand_id") != "law" {
		t.Errorf("brand_id = %q", q.Get("brand_id"))
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Errorf("missing PKCE parameters: %v", q)
	}
	wantRedirect := "https://law.litsuite.app/auth/callback?redirect_to=" + url.QueryEscape("/workbook/7?tab=notes")
	if q.Get("redirect_uri") != wantRedirect {
		t.Errorf("redirect_uri = %q, want %q", q.Get("redirect_uri"), wantRedirect)
	}

	// The same browser navigating again must not be redirected a second time.
	cookie := sessionCookie(t, w)
	w2 := navigate(t, router, "/workbook/7", []*http.Cookie{cookie})
	if w2.Code != http.StatusOK {
		t.Fatalf("second navigation: expected 200, got %d", w2.Code)
	}
}

func TestCallbackCompletesLogin(t *testing.T) {
	token := signTestHandlerToken(t)
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer idp.Close()

	app := newTestApp(t, idp.URL)
	router := app.Routes()

	// First navigation stores the flow parameters and yields the state.
	w := navigate(t, router, "/dashboard", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("expected silent redirect, got %d", w.Code)
	}
	cookie := sessionCookie(t, w)
	loc, _ := url.Parse(w.Header().Get("Location"))
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("no state in authorize URL")
	}

	// IdP sends the user back with a code.
	w2 := navigate(t, router, "/auth/callback?code=code-1&state="+state+"&redirect_to="+url.QueryEscape("/dashboard"), []*http.Cookie{cookie})
	if w2.Code != http.StatusFound {
		t.Fatalf("callback: expected 302, got %d", w2.Code)
	}
	if got := w2.Header().Get("Location"); got != "/dashboard" {
		t.Errorf("post-login redirect = %q, want /dashboard", got)
	}

	// Session status now reports the user.
	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(cookie)
	w3 := httptest.NewRecorder()
	router.ServeHTTP(w3, req)

	var status struct {
		Authenticated bool       `json:"authenticated"`
		User          *auth.User `json:"user"`
		Brand         string     `json:"brand"`
	}
	if err := json.NewDecoder(w3.Body).Decode(&status); err != nil {
		t.Fatalf("decode session status: %v", err)
	}
	if !status.Authenticated {
		t.Fatal("expected authenticated session")
	}
	if status.User == nil || status.User.Email != "pat@example.com" {
		t.Errorf("user = %+v", status.User)
	}
	if status.Brand != "law" {
		t.Errorf("brand = %q", status.Brand)
	}
}

func TestCallbackLoginRequired(t *testing.T) {
	idp := httptest.NewServer(http.NotFoundHandler())
	defer idp.Close()
	app := newTestApp(t, idp.URL)

	w := navigate(t, app.Routes(), "/auth/callback?sso_login_required=true", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	// Expected outcome for a signed-out user: plain login page, no banner.
	if got := w.Header().Get("Location"); got != "/login" {
		t.Errorf("redirect = %q, want /login", got)
	}
}

func TestCallbackIdPErrorSurfacesDescription(t *testing.T) {
	idp := httptest.NewServer(http.NotFoundHandler())
	defer idp.Close()
	app := newTestApp(t, idp.URL)

	w := navigate(t, app.Routes(), "/auth/callback?error=access_denied&error_description=Account+suspended", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	loc, _ := url.Parse(w.Header().Get("Location"))
	if loc.Path != "/login" {
		t.Errorf("redirect path = %q", loc.Path)
	}
	if got := loc.Query().Get("error"); got != "Account suspended" {
		t.Errorf("error message = %q", got)
	}
}

func TestCallbackStateMismatchStaysGeneric(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called on state mismatch")
	}))
	defer idp.Close()
	app := newTestApp(t, idp.URL)
	router := app.Routes()

	w := navigate(t, router, "/", nil)
	cookie := sessionCookie(t, w)

	w2 := navigate(t, router, "/auth/callback?code=code-1&state=forged-state", []*http.Cookie{cookie})
	if w2.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w2.Code)
	}
	loc, _ := url.Parse(w2.Header().Get("Location"))
	if loc.Path != "/login" {
		t.Errorf("redirect path = %q", loc.Path)
	}
	if msg := loc.Query().Get("error"); strings.Contains(msg, "state") || strings.Contains(msg, "csrf") {
		t.Errorf("message leaks internals: %q", msg)
	}
}

func TestLoginPageRendersIdPForm(t *testing.T) {
	idp := httptest.NewServer(http.NotFoundHandler())
	defer idp.Close()
	app := newTestApp(t, idp.URL)

	w := navigate(t, app.Routes(), "/login?error=Wrong+password", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, idp.URL+"/login?mode=redirect") {
		t.Error("form does not target the IdP login endpoint")
	}
	if !strings.Contains(body, `name="code_challenge"`) {
		t.Error("form missing code_challenge field")
	}
	if !strings.Contains(body, "Wrong password") {
		t.Error("error banner not rendered")
	}
}

func TestLogoutClearsSessionToken(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer idp.Close()
	app := newTestApp(t, idp.URL)
	router := app.Routes()

	sess := app.Sessions.store.NewSession(time.Hour)
	auth.NewTokenStore(sess.Tokens).Set("tok-1")
	cookie := &http.Cookie{Name: sessionCookieName, Value: sess.ID}

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if auth.NewTokenStore(sess.Tokens).Get() != "" {
		t.Error("token survived logout")
	}
}

func TestSafeLocalRedirect(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/dashboard", "/dashboard"},
		{"/workbook/7?tab=notes", "/workbook/7?tab=notes"},
		{"https://evil.example.com", "/"},
		{"//evil.example.com", "/"},
	}
	for _, tc := range cases {
		if got := safeLocalRedirect(tc.in); got != tc.want {
			t.Errorf("safeLocalRedirect(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
