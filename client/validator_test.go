package client

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

type testKeys struct {
	private *rsa.PrivateKey
	jwks    *httptest.Server
	hits    int
}

func newTestKeys(t *testing.T) *testKeys {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tk := &testKeys{private: key}
	tk.jwks = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tk.hits++
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       key.Public(),
			KeyID:     "test-key",
			Algorithm: "RS256",
			Use:       "sig",
		}}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(tk.jwks.Close)
	return tk
}

func (tk *testKeys) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(tk.private)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":      "https://sso.litsuite.app",
		"sub":      "user-42",
		"email":    "pat@example.com",
		"brand_id": "law",
		"role":     "student",
		"roles":    []string{"student", "beta"},
		"exp":      time.Now().Add(time.Hour).Unix(),
		"iat":      time.Now().Unix(),
	}
}

func TestValidateAcceptsSignedToken(t *testing.T) {
	tk := newTestKeys(t)
	v := NewValidator(ValidatorConfig{
		Issuer:  "https://sso.litsuite.app",
		JWKSURL: tk.jwks.URL,
		Brand:   "law",
	})

	claims, err := v.Validate(context.Background(), tk.sign(t, baseClaims()))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "user-42" || claims.Email != "pat@example.com" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Brand != "law" || claims.Role != "student" {
		t.Errorf("claims = %+v", claims)
	}
	if !claims.HasRole("beta") {
		t.Error("roles list not mapped")
	}
	if claims.HasRole("admin") {
		t.Error("unexpected role")
	}
}

func TestValidateRejects(t *testing.T) {
	tk := newTestKeys(t)

	cases := []struct {
		name   string
		cfg    ValidatorConfig
		mutate func(jwt.MapClaims)
	}{
		{"expired", ValidatorConfig{JWKSURL: tk.jwks.URL}, func(c jwt.MapClaims) {
			c["exp"] = time.Now().Add(-time.Hour).Unix()
		}},
		{"wrong issuer", ValidatorConfig{Issuer: "https://sso.litsuite.app", JWKSURL: tk.jwks.URL}, func(c jwt.MapClaims) {
			c["iss"] = "https://other.example.com"
		}},
		{"wrong brand", ValidatorConfig{JWKSURL: tk.jwks.URL, Brand: "law"}, func(c jwt.MapClaims) {
			c["brand_id"] = "math"
		}},
		{"no subject", ValidatorConfig{JWKSURL: tk.jwks.URL}, func(c jwt.MapClaims) {
			delete(c, "sub")
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewValidator(tc.cfg)
			claims := baseClaims()
			tc.mutate(claims)
			if _, err := v.Validate(context.Background(), tk.sign(t, claims)); err == nil {
				t.Fatal("expected validation failure")
			}
		})
	}
}

func TestValidateRejectsWrongKey(t *testing.T) {
	tk := newTestKeys(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, baseClaims())
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(other)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	v := NewValidator(ValidatorConfig{JWKSURL: tk.jwks.URL})
	if _, err := v.Validate(context.Background(), signed); err == nil {
		t.Fatal("expected signature failure")
	}
}

func TestJWKSCacheAvoidsRefetch(t *testing.T) {
	tk := newTestKeys(t)
	v := NewValidator(ValidatorConfig{JWKSURL: tk.jwks.URL, CacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := v.Validate(context.Background(), tk.sign(t, baseClaims())); err != nil {
			t.Fatalf("Validate %d: %v", i, err)
		}
	}
	if tk.hits != 1 {
		t.Errorf("jwks fetched %d times, want 1", tk.hits)
	}
}

func TestRequireAuthMiddleware(t *testing.T) {
	tk := newTestKeys(t)
	v := NewValidator(ValidatorConfig{JWKSURL: tk.jwks.URL})

	var got *Claims
	handler := RequireAuth(v, "student")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ClaimsFromContext(r.Context())
	}))

	// Valid token with the required role.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tk.sign(t, baseClaims()))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got == nil || got.Subject != "user-42" {
		t.Errorf("claims in context = %+v", got)
	}

	// Missing header.
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/", nil))
	if w2.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w2.Code)
	}

	// Role the user does not hold.
	denied := RequireAuth(v, "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req3 := httptest.NewRequest(http.MethodGet, "/", nil)
	req3.Header.Set("Authorization", "Bearer "+tk.sign(t, baseClaims()))
	w3 := httptest.NewRecorder()
	denied.ServeHTTP(w3, req3)
	if w3.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w3.Code)
	}
}
