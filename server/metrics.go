package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus counters for the login flows.
type Metrics struct {
	registry *prometheus.Registry

	LoginsInitiated prometheus.Counter
	LoginsCompleted prometheus.Counter
	LoginsFailed    *prometheus.CounterVec
	SilentAttempts  prometheus.Counter
	SessionsExpired prometheus.Counter
}

// NewMetrics creates and registers the gateway metrics on a private
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		LoginsInitiated: factory.NewCounter(prometheus.CounterOpts{
			Name: "litgate_logins_initiated_total",
			Help: "Login attempts redirected to the identity provider.",
		}),
		LoginsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "litgate_logins_completed_total",
			Help: "Callback exchanges that produced a token.",
		}),
		LoginsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "litgate_logins_failed_total",
			Help: "Callback handling failures by reason.",
		}, []string{"reason"}),
		SilentAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "litgate_silent_sso_attempts_total",
			Help: "Silent SSO redirects issued on first page load.",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "litgate_sessions_expired_total",
			Help: "Bearer tokens cleared after the API answered 401.",
		}),
	}
}

// Handler serves the metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
