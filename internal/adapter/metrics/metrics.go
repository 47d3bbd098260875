// Package metrics holds the HTTP-facing Prometheus collectors that are registered on an explicit
// registry, and the /metrics handler that serves them together with the global collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rallylife"

// NewRegistry creates the registry for request-scoped collectors. Go runtime and
// process collectors already live on the default registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler serves the default registry merged with reg.
func Handler(reg *prometheus.Registry) http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, reg}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}
