// Package discovery implements Docker Swarm service discovery for Prometheus.
// One pass enumerates swarm services, resolves each service's metrics port,
// matches running tasks against the monitoring networks, and assembles
// file_sd endpoint records. Passes are stateless: each result fully replaces
// the previous one.
package discovery

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/swarm"
	"github.com/jamesmcdonald/prometheus-swarmer/internal/logger"
)

// Defaults for the configuration surface. They match the conventions of the
// swarm deployments this tool grew up in.
const (
	DefaultOutputPath  = "/etc/prometheus/swarm.d/swarm-endpoints.json"
	DefaultPortLabel   = "prometheus.port"
	DefaultPortEnv     = "SERVICE_PORTS"
	DefaultServiceName = "prometheus"
)

// DefaultNetworks is the fallback monitoring network set used when the
// monitoring service cannot be located or reports no network attachments.
var DefaultNetworks = []string{"proxy"}

// excludeLabel opts a service out of discovery when present as a key in
// either the service-level or container-level label set.
const excludeLabel = "nometrics"

// SwarmClient is the slice of the Docker Engine API the Discoverer needs.
// *client.Client satisfies it; tests substitute a fake. The caller owns the
// client lifetime: it is opened once at startup and reused across passes.
type SwarmClient interface {
	ServiceList(ctx context.Context, options types.ServiceListOptions) ([]swarm.Service, error)
	TaskList(ctx context.Context, options types.TaskListOptions) ([]swarm.Task, error)
	ServiceInspectWithRaw(
		ctx context.Context,
		serviceID string,
		options types.ServiceInspectOptions,
	) (swarm.Service, []byte, error)
}

// Config carries the plain-string configuration surface of a Discoverer.
type Config struct {
	// PortLabel is the service label whose value declares the metrics port.
	PortLabel string
	// PortEnv is the container environment variable that declares the
	// metrics port when the label is absent.
	PortEnv string
	// ServiceName is the monitoring service's own name, used both for
	// self-exclusion and for network auto-detection.
	ServiceName string
	// Networks statically overrides monitoring network auto-detection when
	// non-empty.
	Networks []string
}

// withDefaults fills zero-valued fields so a partially populated Config
// behaves like the historical CLI defaults.
func (c Config) withDefaults() Config {
	if c.PortLabel == "" {
		c.PortLabel = DefaultPortLabel
	}

	if c.PortEnv == "" {
		c.PortEnv = DefaultPortEnv
	}

	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}

	return c
}

// Discoverer produces one DiscoveryResult per Discover call. It is not safe
// for concurrent use; the scheduling loop runs passes strictly one at a time.
type Discoverer struct {
	client   SwarmClient
	config   Config
	networks networkSet
}

// New returns a Discoverer talking to the given swarm client. Call
// ResolveNetworks before the first Discover so the monitoring network set is
// populated.
func New(client SwarmClient, config Config) *Discoverer {
	return &Discoverer{
		client:   client,
		config:   config.withDefaults(),
		networks: nil,
	}
}

// Discover runs one discovery pass and returns the endpoint records in
// service listing order. Per-service and per-task skip conditions are logged
// at debug level and never fail the pass; a failed listing call fails the
// whole pass so the scheduler can retry on the next interval.
func (d *Discoverer) Discover(ctx context.Context) ([]Endpoint, error) {
	log := logger.L()

	services, err := d.client.ServiceList(ctx, types.ServiceListOptions{})
	if err != nil {
		return nil, fmt.Errorf("service list: %w", err)
	}

	endpoints := make([]Endpoint, 0, len(services))

	for i := range services {
		svc := &services[i]
		name := svc.Spec.Name

		// The monitoring service can watch itself.
		if name == d.config.ServiceName {
			continue
		}

		serviceLabels := svc.Spec.Labels

		var (
			containerLabels map[string]string
			env             []string
		)

		if cspec := svc.Spec.TaskTemplate.ContainerSpec; cspec != nil {
			containerLabels = cspec.Labels
			env = cspec.Env
		}

		if hasKey(serviceLabels, excludeLabel) || hasKey(containerLabels, excludeLabel) {
			log.Debug("service has a 'nometrics' label, skipping", "service", name)

			continue
		}

		port, ok := ResolvePort(serviceLabels, env, d.config.PortLabel, d.config.PortEnv)
		if !ok {
			log.Debug("unable to find port for service, skipping", "service", name)

			continue
		}

		tasks, err := d.client.TaskList(ctx, types.TaskListOptions{
			Filters: serviceFilter(svc.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("task list for service %s: %w", name, err)
		}

		for taskIndex := range tasks {
			task := &tasks[taskIndex]

			// Skip tasks the scheduler no longer wants running.
			if task.DesiredState != swarm.TaskStateRunning {
				continue
			}

			if len(task.NetworksAttachments) == 0 {
				log.Debug("task on no networks, skipping", "service", name, "task", task.ID)

				continue
			}

			endpoint, ok := d.endpointForTask(name, task, port, serviceLabels, containerLabels, env)
			if !ok {
				continue
			}

			endpoints = append(endpoints, endpoint)
			log.Debug("added endpoint", "service", name, "target", endpoint.Targets[0])
		}
	}

	return endpoints, nil
}

// endpointForTask scans a task's network attachments in orchestrator order
// and builds a record for the first one on a monitoring network. At most one
// endpoint is produced per task; attachments without addresses are passed
// over so a target never lacks its address.
func (d *Discoverer) endpointForTask(
	serviceName string,
	task *swarm.Task,
	port string,
	serviceLabels, containerLabels map[string]string,
	env []string,
) (Endpoint, bool) {
	for i := range task.NetworksAttachments {
		attachment := &task.NetworksAttachments[i]
		if !d.networks.contains(attachment.Network.Spec.Name) {
			continue
		}

		if len(attachment.Addresses) == 0 {
			logger.L().Debug("attachment has no addresses, skipping",
				"service", serviceName,
				"network", attachment.Network.Spec.Name,
			)

			continue
		}

		return buildEndpoint(serviceName, task, attachment, port, serviceLabels, containerLabels, env), true
	}

	return Endpoint{}, false
}

func hasKey(labelSet map[string]string, key string) bool {
	_, ok := labelSet[key]

	return ok
}

func serviceFilter(serviceID string) filters.Args {
	return filters.NewArgs(filters.Arg("service", serviceID))
}
