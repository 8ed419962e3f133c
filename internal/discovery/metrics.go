/*
 * MIT License
 *
 * Copyright (c) 2025 James McDonald
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package discovery

// Self-observability for the discovery loop itself, exposed at /metrics.
// These say nothing about the discovered targets; they track whether this
// process is doing its job.

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	prometheusNamespace = "swarmer"
	prometheusSubsystem = "discovery"
)

// lastPassSuccessUnixNano is the UnixNano timestamp of the latest successful
// pass (0 means "never").
var lastPassSuccessUnixNano int64

var (
	passDurationHistogram   prometheus.Histogram
	passesTotalCounter      prometheus.Counter
	passErrorsTotalCounter  prometheus.Counter
	writeErrorsTotalCounter prometheus.Counter
	endpointsGauge          prometheus.Gauge
	healthGauge             prometheus.Gauge
	buildInfoGauge          *prometheus.GaugeVec
)

// ConfigureMetrics registers the discovery self-observability metrics.
func ConfigureMetrics() {
	passDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   prometheusNamespace,
		Subsystem:   prometheusSubsystem,
		Name:        "pass_duration_seconds",
		Help:        "Duration of one discovery pass, in seconds.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: nil,
	})
	prometheus.MustRegister(passDurationHistogram)

	passesTotalCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   prometheusNamespace,
		Subsystem:   prometheusSubsystem,
		Name:        "passes_total",
		Help:        "Total number of discovery passes attempted.",
		ConstLabels: nil,
	})
	prometheus.MustRegister(passesTotalCounter)

	passErrorsTotalCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   prometheusNamespace,
		Subsystem:   prometheusSubsystem,
		Name:        "pass_errors_total",
		Help:        "Total number of discovery passes that failed.",
		ConstLabels: nil,
	})
	prometheus.MustRegister(passErrorsTotalCounter)

	writeErrorsTotalCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   prometheusNamespace,
		Subsystem:   prometheusSubsystem,
		Name:        "write_errors_total",
		Help:        "Total number of target file writes that failed.",
		ConstLabels: nil,
	})
	prometheus.MustRegister(writeErrorsTotalCounter)

	endpointsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   prometheusNamespace,
		Subsystem:   prometheusSubsystem,
		Name:        "endpoints",
		Help:        "Number of endpoints produced by the latest successful pass.",
		ConstLabels: nil,
	})
	prometheus.MustRegister(endpointsGauge)

	healthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   prometheusNamespace,
		Subsystem:   prometheusSubsystem,
		Name:        "health",
		Help:        "Discovery health status: 1=healthy, 0=unhealthy.",
		ConstLabels: nil,
	})
	prometheus.MustRegister(healthGauge)
}

// ConfigureBuildInfoMetric registers the build info metric and sets it to 1
// with the ldflags-injected values as labels.
func ConfigureBuildInfoMetric(version, commit, date string) {
	buildInfoGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   prometheusNamespace,
		Subsystem:   prometheusSubsystem,
		Name:        "build_info",
		Help:        "Build information for this binary.",
		ConstLabels: nil,
	}, []string{"version", "commit", "date"})
	prometheus.MustRegister(buildInfoGauge)

	buildInfoGauge.WithLabelValues(version, commit, date).Set(1)
}

// ObservePassDuration records a single pass duration.
func ObservePassDuration(duration time.Duration) {
	if passDurationHistogram != nil {
		passDurationHistogram.Observe(duration.Seconds())
	}
}

// IncPasses increments the total passes counter.
func IncPasses() {
	if passesTotalCounter != nil {
		passesTotalCounter.Inc()
	}
}

// IncPassErrors increments the pass errors counter.
func IncPassErrors() {
	if passErrorsTotalCounter != nil {
		passErrorsTotalCounter.Inc()
	}
}

// IncWriteErrors increments the write errors counter.
func IncWriteErrors() {
	if writeErrorsTotalCounter != nil {
		writeErrorsTotalCounter.Inc()
	}
}

// SetEndpointCount records the size of the latest successful result.
func SetEndpointCount(count int) {
	if endpointsGauge != nil {
		endpointsGauge.Set(float64(count))
	}
}

// MarkPassOK records the time of the latest pass that discovered and wrote
// its result successfully.
func MarkPassOK(now time.Time) {
	atomic.StoreInt64(&lastPassSuccessUnixNano, now.UnixNano())
}

// HealthSnapshot returns whether discovery is healthy and a human reason.
// Healthy means at least one successful pass exists and it is not older than
// max(3*interval, 30s).
func HealthSnapshot(interval time.Duration, now time.Time) (healthy bool, reason string) {
	nano := atomic.LoadInt64(&lastPassSuccessUnixNano)
	if nano == 0 {
		return false, "no successful pass yet"
	}

	minWindow := 30 * time.Second

	window := max(3*interval, minWindow)
	if now.Sub(time.Unix(0, nano)) > window {
		return false, "last successful pass too old"
	}

	return true, ""
}

// SetHealth sets the health gauge to 1 or 0.
func SetHealth(healthy bool) {
	if healthGauge == nil {
		return
	}

	if healthy {
		healthGauge.Set(1)
	} else {
		healthGauge.Set(0)
	}
}
