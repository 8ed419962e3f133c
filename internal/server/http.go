// Package server owns the tiny HTTP surface of the discovery process:
// /metrics for the Prometheus exposition endpoint and /healthz for liveness.
package server

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the process is healthy and, if not, a short reason.
type HealthFunc func() (bool, string)

const (
	metricsPath = "/metrics"
	healthzPath = "/healthz"
)

// NewMux returns an http.ServeMux serving /metrics and /healthz. The health
// endpoint answers 200 when healthy and 503 with the reason otherwise.
func NewMux(isHealthy HealthFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.Handler())
	mux.HandleFunc(healthzPath, func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.Header().Set("Content-Type", "text/plain; charset=utf-8")

		ok, reason := isHealthy()
		if ok {
			responseWriter.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(responseWriter, "ok\n")

			return
		}

		if reason == "" {
			reason = "unhealthy"
		}

		responseWriter.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(responseWriter, reason+"\n")
	})

	return mux
}
