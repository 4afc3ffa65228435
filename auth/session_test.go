package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestCurrentUserDecodesClaims(t *testing.T) {
	client := newTestClient(t, "http://idp.invalid")

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signTestToken(t, jwt.MapClaims{
		"sub":      "user-7",
		"email":    "tutor@litsuite.app",
		"brand_id": "lang",
		"role":     "teacher",
		"roles":    []string{"teacher", "moderator"},
		"exp":      exp.Unix(),
	})
	client.Tokens().Set(token)

	u := client.CurrentUser()
	if u == nil {
		t.Fatalf("expected user")
	}
	if u.ID != "user-7" || u.Email != "tutor@litsuite.app" || u.Brand != "lang" || u.Role != "teacher" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(u.Roles) != 2 || u.Roles[1] != "moderator" {
		t.Fatalf("roles: %v", u.Roles)
	}
	if !u.ExpiresAt.Equal(exp) {
		t.Fatalf("expiry: got %v want %v", u.ExpiresAt, exp)
	}

	// Second read comes from the cache.
	if cached := client.Tokens().CachedUser(); cached == nil || cached.ID != "user-7" {
		t.Fatalf("derived user not cached: %+v", cached)
	}
}

func TestCurrentUserNilCases(t *testing.T) {
	client := newTestClient(t, "http://idp.invalid")

	if u := client.CurrentUser(); u != nil {
		t.Fatalf("no token: expected nil, got %+v", u)
	}

	// A malformed token yields nil, never a panic or error.
	client.Tokens().Set("not-a-jwt")
	if u := client.CurrentUser(); u != nil {
		t.Fatalf("garbage token: expected nil, got %+v", u)
	}
}

func TestDoFailsFastWithoutToken(t *testing.T) {
	client := newTestClient(t, "http://idp.invalid")
	req, _ := http.NewRequest(http.MethodGet, "http://api.invalid/classes", nil)
	if _, err := client.Do(req); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestDoAttachesHeaders(t *testing.T) {
	var gotAuth, gotBrand string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBrand = r.Header.Get("x-brand")
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	client := newTestClient(t, "http://idp.invalid")
	client.Tokens().Set("tok-1")

	req, _ := http.NewRequest(http.MethodGet, api.URL+"/classes", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer tok-1" {
		t.Fatalf("Authorization: %q", gotAuth)
	}
	if gotBrand != "law" {
		t.Fatalf("x-brand: %q", gotBrand)
	}
}

func TestDoClearsTokenOn401(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	client := newTestClient(t, "http://idp.invalid")
	client.Tokens().Set("revoked")

	req, _ := http.NewRequest(http.MethodGet, api.URL+"/classes", nil)
	if _, err := client.Do(req); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if got := client.Tokens().Get(); got != "" {
		t.Fatalf("token must be cleared after 401, got %q", got)
	}
}

func TestLogoutClearsBeforeNotify(t *testing.T) {
	var sawLogout bool
	var tokenAtNotify string

	client := newTestClient(t, "http://placeholder.invalid")
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/logout" && r.Method == http.MethodPost {
			sawLogout = true
			tokenAtNotify = client.Tokens().Get()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.NotFound(w, r)
	}))
	defer idp.Close()
	client.cfg.BaseURL = idp.URL

	client.Tokens().Set("tok")
	client.Logout(context.Background())

	if !sawLogout {
		t.Fatalf("logout endpoint not notified")
	}
	if tokenAtNotify != "" {
		t.Fatalf("token must be cleared before the remote call, saw %q", tokenAtNotify)
	}
}

func TestLogoutSurvivesNetworkFailure(t *testing.T) {
	client := newTestClient(t, "http://idp.invalid:1")
	client.Tokens().Set("tok")
	client.Logout(context.Background())
	if got := client.Tokens().Get(); got != "" {
		t.Fatalf("local clear must not depend on the remote call, got %q", got)
	}
}

func TestCheckSession(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/check" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"active": true})
	}))
	defer idp.Close()

	client := newTestClient(t, idp.URL)
	active, err := client.CheckSession(context.Background())
	if err != nil {
		t.Fatalf("CheckSession: %v", err)
	}
	if !active {
		t.Fatalf("expected active session")
	}
}

func TestDirectTransportLogin(t *testing.T) {
	var registered bool
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			var creds map[string]string
			if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
				t.Fatalf("decode credentials: %v", err)
			}
			if creds["email"] != "a@b.c" || creds["brand_id"] != "law" {
				t.Fatalf("unexpected credential payload: %v", creds)
			}
			writeTokenResponse(w, "direct-token")
		case "/session":
			registered = true
			// Registration failing must not fail the login.
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer idp.Close()

	client := newTestClient(t, idp.URL)
	client.SetTransport(&DirectTransport{Client: client})

	result, err := client.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Token == nil || result.Token.AccessToken != "direct-token" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := client.Tokens().Get(); got != "direct-token" {
		t.Fatalf("token not stored: %q", got)
	}
	if !registered {
		t.Fatalf("sso session registration not attempted")
	}
}

func TestFormTransportLogin(t *testing.T) {
	client := newTestClient(t, "https://sso.litsuite.app")

	result, err := client.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Form == nil {
		t.Fatalf("expected form post result")
	}
	form := result.Form
	if form.Action != "https://sso.litsuite.app/login?mode=redirect" {
		t.Fatalf("action: %q", form.Action)
	}
	for _, field := range []string{"client_id", "redirect_uri", "code_challenge", "state", "email", "password"} {
		if form.Fields.Get(field) == "" {
			t.Fatalf("form field %q missing", field)
		}
	}
	if form.Fields.Get("code_challenge_method") != "S256" {
		t.Fatalf("code_challenge_method: %q", form.Fields.Get("code_challenge_method"))
	}
	if form.Fields.Get("response_mode") != "redirect" {
		t.Fatalf("response_mode: %q", form.Fields.Get("response_mode"))
	}
	if !client.Flow().Pending() {
		t.Fatalf("PKCE parameters must be stored before the form submit")
	}
}
