package metrics

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics covers the REST API: per-route traffic, latency per API area,
// outcomes of session mutations and rate limiter denials.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlightGauge   prometheus.Gauge
	SessionActions  *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of API requests by area (sessions, economy, realtime).",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "area"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total API requests by route and status code.",
		}, []string{"method", "route", "status_code"}),
		InFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "API requests currently being served.",
		}),
		SessionActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "actions_total",
			Help:      "Session create/join/leave/complete calls by outcome.",
		}, []string{"action", "outcome"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests denied by the API rate limiter, by key scope (user or ip).",
		}, []string{"scope"}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlightGauge, m.SessionActions, m.RateLimited)
	return m
}

// Middleware records API traffic. Scrapes, probes and long-lived WebSocket
// streams are not recorded; the error middleware must run inside it so the
// final status is visible.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if skipPath(route) {
				return next(c)
			}
			method := c.Request().Method

			m.InFlightGauge.Inc()
			defer m.InFlightGauge.Dec()

			timer := prometheus.NewTimer(m.RequestDuration.WithLabelValues(method, routeArea(route)))
			err := next(c)
			timer.ObserveDuration()

			status := c.Response().Status
			m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			if action := sessionAction(method, route); action != "" {
				m.SessionActions.WithLabelValues(action, outcome(status)).Inc()
			}
			return err
		}
	}
}

func skipPath(path string) bool {
	return path == "/metrics" || strings.HasPrefix(path, "/health/") || strings.HasPrefix(path, "/ws/")
}

func routeArea(route string) string {
	switch {
	case strings.HasPrefix(route, "/api/sessions"):
		return "sessions"
	case strings.HasPrefix(route, "/api/economy/"):
		return "economy"
	case strings.HasPrefix(route, "/api/realtime/"):
		return "realtime"
	default:
		return "other"
	}
}

// sessionAction names the session mutation behind a route, or "" for reads.
func sessionAction(method, route string) string {
	if method != http.MethodPost {
		return ""
	}
	switch route {
	case "/api/sessions":
		return "create"
	case "/api/sessions/:id/join":
		return "join"
	case "/api/sessions/:id/leave":
		return "leave"
	case "/api/sessions/:id/complete":
		return "complete"
	default:
		return ""
	}
}

// outcome separates business rejections (4xx) from failures (5xx).
func outcome(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "error"
	case status >= http.StatusBadRequest:
		return "rejected"
	default:
		return "ok"
	}
}
