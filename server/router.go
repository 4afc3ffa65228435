package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the gateway router.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}

	r.Get("/healthz", a.handleHealth)
	r.Get("/metrics", a.Metrics.Handler().ServeHTTP)

	r.Get(callbackPath, a.handleCallback)
	r.Get("/login", a.handleLoginPage)
	r.Get("/signup", a.handleSignupPage)
	r.Post("/auth/login", a.handleDirectLogin)
	r.Post("/auth/logout", a.handleLogout)
	r.Get("/auth/session", a.handleSessionStatus)
	r.Get("/auth/check", a.handleCheckSession)

	if a.proxy != nil {
		r.Handle("/api/*", a.proxy)
	}

	// Page navigations fall through to the shell; the silent SSO middleware
	// may intercept them with a redirect to the IdP first.
	r.Group(func(r chi.Router) {
		r.Use(a.SilentSSOMiddleware)
		r.Get("/*", a.handleIndex)
	})

	return r
}
