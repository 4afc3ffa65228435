package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"litgate/auth"
)

type proxySessionKey struct{}

// APIProxy forwards /api requests to the backend REST service with the
// browser session's bearer token attached. The browser never sees the token;
// it only holds the gateway session cookie.
type APIProxy struct {
	app    *App
	cfg    APIConfig
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

// NewAPIProxy builds the reverse proxy for the configured backend target.
func NewAPIProxy(cfg APIConfig, app *App, logger *slog.Logger) (*APIProxy, error) {
	targetURL, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}

	timeout := parseDuration(cfg.Timeout, DefaultAPITimeout)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	p := &APIProxy{app: app, cfg: cfg, logger: logger}

	proxy := httputil.NewSingleHostReverseProxy(targetURL)
	proxy.Transport = transport

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)

		if cfg.StripPrefix != "" && strings.HasPrefix(req.URL.Path, cfg.StripPrefix) {
			req.URL.Path = strings.TrimPrefix(req.URL.Path, cfg.StripPrefix)
			if req.URL.Path == "" {
				req.URL.Path = "/"
			}
		}
		req.Host = targetURL.Host

		if clientIP, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
			prior := req.Header.Get("X-Forwarded-For")
			if prior != "" {
				clientIP = prior + ", " + clientIP
			}
			req.Header.Set("X-Forwarded-For", clientIP)
		}
		req.Header.Set("X-Forwarded-Proto", schemeFromRequest(req))
	}

	proxy.ModifyResponse = p.modifyResponse

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error",
			"target", cfg.Target,
			"error", err,
			"path", r.URL.Path,
		)
		writeJSONError(w, http.StatusBadGateway, "backend unavailable")
	}

	p.proxy = proxy
	return p, nil
}

// ServeHTTP attaches the session's token and forwards the request. A missing
// or expired token fails fast without touching the backend.
func (p *APIProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, ok := p.app.Sessions.Fetch(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "not_authenticated")
		return
	}

	token := auth.NewTokenStore(sess.Tokens).Get()
	if token == "" {
		writeJSONError(w, http.StatusUnauthorized, "not_authenticated")
		return
	}

	r.Header.Set("Authorization", "Bearer "+token)
	r.Header.Set("x-brand", p.app.Brand.Code)

	// Stash the session so the 401 hook below can clear its tokens.
	r = r.WithContext(context.WithValue(r.Context(), proxySessionKey{}, sess))
	p.proxy.ServeHTTP(w, r)
}

// modifyResponse turns a backend 401 into a clean local sign-out: the
// session's cached token is dropped so the next page navigation retriggers
// the silent SSO attempt.
func (p *APIProxy) modifyResponse(resp *http.Response) error {
	if resp.StatusCode != http.StatusUnauthorized {
		return nil
	}

	if sess, ok := resp.Request.Context().Value(proxySessionKey{}).(*BrowserSession); ok {
		auth.NewTokenStore(sess.Tokens).Clear()
		p.app.Metrics.SessionsExpired.Inc()
		p.logger.Info("backend rejected token, session cleared",
			"path", resp.Request.URL.Path)
	}

	// Replace the backend's body with the gateway's canonical shape so the
	// page shell knows where to send the user.
	body := []byte(`{"error":"session_expired","redirect":"` + p.app.Config.SSO.LoginPath + `"}`)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Header.Set("Content-Type", "application/json")
	return nil
}

func schemeFromRequest(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
