// Package main wires and runs the prometheus-swarmer binary. It owns CLI
// flag parsing, logging setup, the discovery loop, and the HTTP server that
// exposes the tool's own metrics and health.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/jamesmcdonald/prometheus-swarmer/internal/discovery"
	"github.com/jamesmcdonald/prometheus-swarmer/internal/logger"
	"github.com/jamesmcdonald/prometheus-swarmer/internal/output"
	"github.com/jamesmcdonald/prometheus-swarmer/internal/server"
)

const (
	// DefaultInterval is the default pause between discovery passes.
	DefaultInterval = 60 * time.Second

	// Operability constants.
	minInterval         = 1 * time.Second
	httpShutdownTimeout = 10 * time.Second
	healthTickInterval  = 5 * time.Second
)

// stringSlice implements flag.Value to support repeated -network flags
// (e.g., -network proxy -network backend). Each call to Set appends a value.
type stringSlice []string

// ErrEmptyFlagValue is returned when a repeated flag (like -network) is
// provided with an empty value.
var ErrEmptyFlagValue = errors.New("empty flag value")

// String returns the flag value in a human-friendly form.
func (values *stringSlice) String() string {
	return fmt.Sprint(*values)
}

// Set implements flag.Value for stringSlice by appending non-empty values.
func (values *stringSlice) Set(value string) error {
	if value == "" {
		return ErrEmptyFlagValue
	}

	*values = append(*values, value)

	return nil
}

var (
	// CLI flags.
	outputPath = flag.String("output", discovery.DefaultOutputPath, "Path to write target JSON to")
	portLabel  = flag.String("label", discovery.DefaultPortLabel, "Service label to identify the metrics port")
	portEnv    = flag.String("env-name", discovery.DefaultPortEnv, "Environment variable to identify the metrics port")
	selfName   = flag.String(
		"service",
		discovery.DefaultServiceName,
		"Name of the prometheus service to detect (excluded from output)",
	)
	interval = flag.Duration(
		"interval",
		DefaultInterval,
		"How often to run discovery (Go duration, e.g. 60s, 2m). Minimum 1s.",
	)
	listenAddr = flag.String("listen-addr", "0.0.0.0:9122", "IP address and port for /metrics and /healthz")
	logFormat  = flag.String("log-format", "text", "Either json or text")
	logLevel   = flag.String("log-level", "info", "Either debug, info, warn, error")
	logTime    = flag.Bool("log-time", false, "Include timestamp in logs")
	help       = flag.Bool("help", false, "Display help message")

	networkOverride stringSlice
)

// usage prints flag usage to stdout.
func usage() {
	outWriter := os.Stdout
	_, _ = fmt.Fprintf(outWriter, "Usage of %s:\n", os.Args[0])
	flag.CommandLine.SetOutput(outWriter)
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

// run contains the full program logic and returns an exit code, so defers
// (cancel(), Close(), etc.) execute before the process exits.
func run() int {
	flag.Var(&networkOverride, "network",
		"Monitoring network name; repeatable. Overrides auto-detection when set.")
	flag.Parse()

	if *help {
		usage()

		return 0
	}

	if *interval < minInterval {
		_, _ = fmt.Fprintf(os.Stderr, "interval must be >= %s\n", minInterval)

		return 1
	}

	_ = logger.Configure(*logFormat, *logLevel, *logTime)
	loggerInstance := logger.L()

	loggerInstance.Info("prometheus-swarmer starting",
		"version", version,
		"commit", commit,
		"date", date,
	)

	discovery.ConfigureMetrics()
	discovery.ConfigureBuildInfoMetric(version, commit, date)

	// Root context canceled on SIGINT/SIGTERM. Cancellation is observed at
	// the interval wait, never mid-pass.
	rootContext, cancelRoot := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancelRoot()

	// Docker client is configured from environment variables (DOCKER_HOST, etc.)
	// and opened exactly once for the life of the process.
	dockerClient, newClientErr := client.NewClientWithOpts(client.FromEnv)
	if newClientErr != nil {
		loggerInstance.Error("docker client init failed", "err", newClientErr)

		return 1
	}
	defer dockerClient.Close()

	dockerClient.NegotiateAPIVersion(rootContext)

	discoverer := discovery.New(dockerClient, discovery.Config{
		PortLabel:   *portLabel,
		PortEnv:     *portEnv,
		ServiceName: *selfName,
		Networks:    []string(networkOverride),
	})

	if resolveErr := discoverer.ResolveNetworks(rootContext); resolveErr != nil {
		loggerInstance.Error("monitoring network resolution failed", "err", resolveErr)

		return 1
	}

	writer := output.NewWriter(*outputPath)

	var workerGroup sync.WaitGroup
	startDiscoveryLoop(rootContext, &workerGroup, discoverer, writer, *interval)
	startHealthUpdater(rootContext, &workerGroup, *interval)

	isHealthy := func() (bool, string) {
		return discovery.HealthSnapshot(*interval, time.Now())
	}

	runError := runHTTPServer(rootContext, *listenAddr, server.NewMux(isHealthy))
	if runError != nil && !errors.Is(runError, http.ErrServerClosed) &&
		!errors.Is(runError, context.Canceled) {
		loggerInstance.Error("http server error", "err", runError)
	}

	workerGroup.Wait()

	return 0
}

// startDiscoveryLoop runs discovery passes strictly one at a time: an
// immediate first pass, then one per tick. A failed pass or write is logged
// and retried on the next interval; it never terminates the process.
func startDiscoveryLoop(
	parentContext context.Context,
	waitGroup *sync.WaitGroup,
	discoverer *discovery.Discoverer,
	writer *output.Writer,
	delay time.Duration,
) {
	waitGroup.Add(1)

	go func() {
		defer waitGroup.Done()

		loggerInstance := logger.L()
		loggerInstance.Debug("start discovery loop", "every", delay)

		ticker := time.NewTicker(delay)
		defer ticker.Stop()

		passOnce := func(now time.Time) {
			loggerInstance.Debug("start discovery")

			startTime := now
			endpoints, discoverErr := discoverer.Discover(parentContext)
			discovery.ObservePassDuration(time.Since(startTime))
			discovery.IncPasses()

			if discoverErr != nil {
				discovery.IncPassErrors()
				loggerInstance.Error("discovery pass failed", "err", discoverErr)

				return
			}

			loggerInstance.Debug("finish discovery", "endpoints", len(endpoints))

			if writeErr := writer.Write(endpoints); writeErr != nil {
				discovery.IncWriteErrors()
				loggerInstance.Error("target file write failed", "err", writeErr)

				return
			}

			discovery.SetEndpointCount(len(endpoints))
			discovery.MarkPassOK(now)

			healthy, _ := discovery.HealthSnapshot(delay, now)
			discovery.SetHealth(healthy)
		}

		// Immediate first pass, no waiting for the first tick.
		passOnce(time.Now())

		for {
			select {
			case <-parentContext.Done():
				loggerInstance.Debug("discovery loop: context canceled")

				return
			case <-ticker.C:
				passOnce(time.Now())
			}
		}
	}()
}

// startHealthUpdater keeps the health gauge honest between passes, so a
// stalled loop flips to unhealthy without waiting for the next pass.
func startHealthUpdater(
	parentContext context.Context,
	waitGroup *sync.WaitGroup,
	delay time.Duration,
) {
	waitGroup.Add(1)

	go func() {
		defer waitGroup.Done()

		ticker := time.NewTicker(healthTickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-parentContext.Done():
				return
			case <-ticker.C:
				healthy, _ := discovery.HealthSnapshot(delay, time.Now())
				discovery.SetHealth(healthy)
			}
		}
	}()
}

func runHTTPServer(parentContext context.Context, address string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errorChannel := make(chan error, 1)

	go func() {
		errorChannel <- httpServer.ListenAndServe()
	}()

	var resultError error

	select {
	case resultError = <-errorChannel:
		// fallthrough to shutdown path
	case <-parentContext.Done():
		// context canceled: proceed to shutdown
	}

	shutdownContext, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()

	shutdownErr := httpServer.Shutdown(shutdownContext)
	if shutdownErr != nil {
		logger.L().Warn("HTTP server shutdown", "err", shutdownErr)
	}

	return resultError
}
