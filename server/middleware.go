package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"litgate/auth"
)

type requestIDKey struct{}

// RequestIDMiddleware attaches a request ID for traceability.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = randomID()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware emits structured request logs using slog.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Info("http_request",
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// RecoveryMiddleware guards against panics.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic", "error", err, "path", r.URL.Path)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware enforces HSTS in production.
func SecurityHeadersMiddleware(maxAge int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security",
					fmt.Sprintf("max-age=%d; includeSubDomains", maxAge))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SilentSSOMiddleware runs the one-shot silent login on page navigations.
// When no guard holds, the visitor is bounced through the IdP so an
// existing cross-brand session is picked up invisibly; path and query are
// preserved so they land back where they started.
func (a *App) SilentSSOMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isPageNavigation(r) {
			next.ServeHTTP(w, r)
			return
		}

		sess := a.Sessions.Ensure(w, r)
		sso := auth.NewSilentSSO(a.authClient(sess), sess.Flags, callbackPath, a.Config.SSO.SignupPath)

		authorizeURL, ok, err := sso.Attempt(r.URL.Path, r.URL.RequestURI())
		if err != nil {
			// Crypto failure: no silent attempt, page still renders.
			a.Logger.Error("silent sso attempt failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if ok {
			a.Metrics.SilentAttempts.Inc()
			a.Logger.Info("silent sso redirect", "path", r.URL.Path, "brand", a.Brand.Code)
			http.Redirect(w, r, authorizeURL, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isPageNavigation filters the requests that correspond to a user opening a
// page: top-level GETs that expect HTML. API calls, assets, and the auth
// routes themselves never trigger a silent attempt.
func isPageNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	path := r.URL.Path
	if strings.HasPrefix(path, "/auth/") || strings.HasPrefix(path, "/api/") {
		return false
	}
	switch path {
	case "/healthz", "/metrics":
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// RequestIDFromContext extracts the request ID.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
