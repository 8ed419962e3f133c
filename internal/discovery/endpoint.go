package discovery

import (
	"net"
	"strings"

	"github.com/docker/docker/api/types/swarm"
	labelutil "github.com/jamesmcdonald/prometheus-swarmer/internal/labels"
)

// Label keys emitted on every endpoint (job) or conditionally (the rest).
const (
	jobLabel         = "job"
	containerIDLabel = "container_id"
	// metricsPathLabel is the well-known Prometheus relabeling target for a
	// non-default scrape path.
	metricsPathLabel = "__metrics_path__"
	// metricsPathEnv is the container environment variable that declares a
	// custom metrics path.
	metricsPathEnv = "PROM_METRICS_PATH"
)

// Endpoint is one scrape target record in the Prometheus file_sd schema:
// a single "<ip>:<port>" target plus its label set.
type Endpoint struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels"`
}

// buildEndpoint assembles the record for one task on one matched network
// attachment. The caller guarantees the attachment has at least one address;
// the first one is used, with any CIDR suffix stripped. Container status is
// optional metadata: when absent the container_id label is simply omitted.
func buildEndpoint(
	serviceName string,
	task *swarm.Task,
	attachment *swarm.NetworkAttachment,
	port string,
	serviceLabels, containerLabels map[string]string,
	env []string,
) Endpoint {
	address, _, _ := strings.Cut(attachment.Addresses[0], "/")

	labelSet := map[string]string{
		jobLabel: serviceName,
	}

	for key, value := range labelutil.Sanitize(labelutil.ServicePrefix, serviceLabels) {
		labelSet[key] = value
	}

	for key, value := range labelutil.Sanitize(labelutil.ContainerPrefix, containerLabels) {
		labelSet[key] = value
	}

	if task.Status.ContainerStatus != nil && task.Status.ContainerStatus.ContainerID != "" {
		labelSet[containerIDLabel] = task.Status.ContainerStatus.ContainerID
	}

	if path, ok := envValue(env, metricsPathEnv); ok && path != "" {
		labelSet[metricsPathLabel] = path
	}

	return Endpoint{
		Targets: []string{net.JoinHostPort(address, port)},
		Labels:  labelSet,
	}
}
