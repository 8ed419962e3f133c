//nolint:testpackage // tests need access to unexported state (networks set, endpointForTask)
package discovery

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/errdefs"
)

// fakeSwarm implements SwarmClient from fixtures. Task listing honors the
// "service" filter the Discoverer sets, keyed by service ID or name.
type fakeSwarm struct {
	services   []swarm.Service
	tasks      map[string][]swarm.Task
	monitoring *swarm.Service

	serviceListErr error
	taskListErr    error
}

func (f *fakeSwarm) ServiceList(_ context.Context, _ types.ServiceListOptions) ([]swarm.Service, error) {
	if f.serviceListErr != nil {
		return nil, f.serviceListErr
	}

	return f.services, nil
}

func (f *fakeSwarm) TaskList(_ context.Context, options types.TaskListOptions) ([]swarm.Task, error) {
	if f.taskListErr != nil {
		return nil, f.taskListErr
	}

	ids := options.Filters.Get("service")
	if len(ids) != 1 {
		return nil, fmt.Errorf("expected exactly one service filter, got %v", ids)
	}

	return f.tasks[ids[0]], nil
}

func (f *fakeSwarm) ServiceInspectWithRaw(
	_ context.Context,
	serviceID string,
	_ types.ServiceInspectOptions,
) (swarm.Service, []byte, error) {
	if f.monitoring != nil &&
		(serviceID == f.monitoring.ID || serviceID == f.monitoring.Spec.Name) {
		return *f.monitoring, nil, nil
	}

	return swarm.Service{}, nil, errdefs.NotFound(fmt.Errorf("no such service: %s", serviceID))
}

// --- fixture helpers ---

func makeService(id, name string, labels, containerLabels map[string]string, env []string) swarm.Service {
	var svc swarm.Service

	svc.ID = id
	svc.Spec.Annotations = swarm.Annotations{Name: name, Labels: labels}
	svc.Spec.TaskTemplate.ContainerSpec = &swarm.ContainerSpec{
		Labels: containerLabels,
		Env:    env,
	}

	return svc
}

func makeAttachment(networkName string, addresses ...string) swarm.NetworkAttachment {
	var att swarm.NetworkAttachment

	att.Network.Spec.Annotations.Name = networkName
	att.Addresses = addresses

	return att
}

func makeTask(id string, desired swarm.TaskState, attachments ...swarm.NetworkAttachment) swarm.Task {
	var task swarm.Task

	task.ID = id
	task.DesiredState = desired
	task.NetworksAttachments = attachments

	return task
}

func newTestDiscoverer(t *testing.T, fake *fakeSwarm, networks ...string) *Discoverer {
	t.Helper()

	d := New(fake, Config{Networks: networks})
	if err := d.ResolveNetworks(context.Background()); err != nil {
		t.Fatalf("ResolveNetworks: %v", err)
	}

	return d
}

// --- tests ---

func TestDiscoverScenario(t *testing.T) {
	t.Parallel()

	fake := &fakeSwarm{
		services: []swarm.Service{
			makeService("web-id", "web", map[string]string{"prometheus.port": "8080"}, nil, nil),
		},
		tasks: map[string][]swarm.Task{
			"web-id": {
				makeTask("t1", swarm.TaskStateRunning, makeAttachment("proxy", "10.0.0.5/24")),
			},
		},
	}

	endpoints, err := newTestDiscoverer(t, fake, "proxy").Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(endpoints) != 1 {
		t.Fatalf("expected 1 endpoint, got %d", len(endpoints))
	}

	endpoint := endpoints[0]
	if got := endpoint.Targets[0]; got != "10.0.0.5:8080" {
		t.Fatalf("target: got %q want %q", got, "10.0.0.5:8080")
	}

	if got := endpoint.Labels["job"]; got != "web" {
		t.Fatalf("job label: got %q want %q", got, "web")
	}

	if got := endpoint.Labels["service_label_prometheus_port"]; got != "8080" {
		t.Fatalf("sanitized service label: got %q want %q", got, "8080")
	}
}

func TestDiscoverExcludesMonitoringService(t *testing.T) {
	t.Parallel()

	// The prometheus service matches every inclusion criterion and must
	// still never appear in the output.
	fake := &fakeSwarm{
		services: []swarm.Service{
			makeService("prom-id", "prometheus", map[string]string{"prometheus.port": "9090"}, nil, nil),
		},
		tasks: map[string][]swarm.Task{
			"prom-id": {
				makeTask("t1", swarm.TaskStateRunning, makeAttachment("proxy", "10.0.0.2/24")),
			},
		},
	}

	endpoints, err := newTestDiscoverer(t, fake, "proxy").Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(endpoints) != 0 {
		t.Fatalf("expected no endpoints for the monitoring service, got %v", endpoints)
	}
}

func TestDiscoverSkipsOptedOutServices(t *testing.T) {
	t.Parallel()

	fake := &fakeSwarm{
		services: []swarm.Service{
			makeService("a-id", "a",
				map[string]string{"prometheus.port": "80", "nometrics": ""}, nil, nil),
			makeService("b-id", "b",
				map[string]string{"prometheus.port": "80"},
				map[string]string{"nometrics": "1"}, nil),
		},
		tasks: map[string][]swarm.Task{
			"a-id": {makeTask("t1", swarm.TaskStateRunning, makeAttachment("proxy", "10.0.0.3/24"))},
			"b-id": {makeTask("t2", swarm.TaskStateRunning, makeAttachment("proxy", "10.0.0.4/24"))},
		},
	}

	endpoints, err := newTestDiscoverer(t, fake, "proxy").Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(endpoints) != 0 {
		t.Fatalf("expected opted-out services to contribute nothing, got %v", endpoints)
	}
}

func TestDiscoverSkipsServicesWithoutPort(t *testing.T) {
	t.Parallel()

	fake := &fakeSwarm{
		services: []swarm.Service{
			makeService("a-id", "a", map[string]string{"team": "infra"}, nil, []string{"PATH=/bin"}),
		},
		tasks: map[string][]swarm.Task{
			"a-id": {makeTask("t1", swarm.TaskStateRunning, makeAttachment("proxy", "10.0.0.3/24"))},
		},
	}

	endpoints, err := newTestDiscoverer(t, fake, "proxy").Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(endpoints) != 0 {
		t.Fatalf("expected no endpoints without a resolvable port, got %v", endpoints)
	}
}

func TestDiscoverEnvPort(t *testing.T) {
	t.Parallel()

	fake := &fakeSwarm{
		services: []swarm.Service{
			makeService("a-id", "a", nil, nil, []string{"SERVICE_PORTS=9100,9101"}),
		},
		tasks: map[string][]swarm.Task{
			"a-id": {makeTask("t1", swarm.TaskStateRunning, makeAttachment("proxy", "10.0.0.7/16"))},
		},
	}

	endpoints, err := newTestDiscoverer(t, fake, "proxy").Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(endpoints) != 1 || endpoints[0].Targets[0] != "10.0.0.7:9100" {
		t.Fatalf("expected 10.0.0.7:9100 from env port list, got %v", endpoints)
	}
}

func TestDiscoverSkipsNonRunningTasks(t *testing.T) {
	t.Parallel()

	fake := &fakeSwarm{
		services: []swarm.Service{
			makeService("a-id", "a", map[string]string{"prometheus.port": "80"}, nil, nil),
		},
		tasks: map[string][]swarm.Task{
			"a-id": {
				makeTask("t1", swarm.TaskStateShutdown, makeAttachment("proxy", "10.0.0.3/24")),
				makeTask("t2", swarm.TaskStateRunning),
			},
		},
	}

	endpoints, err := newTestDiscoverer(t, fake, "proxy").Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(endpoints) != 0 {
		t.Fatalf("expected nothing from shutdown or network-less tasks, got %v", endpoints)
	}
}

func TestDiscoverFirstEligibleNetworkWins(t *testing.T) {
	t.Parallel()

	fake := &fakeSwarm{
		services: []swarm.Service{
			makeService("a-id", "a", map[string]string{"prometheus.port": "80"}, nil, nil),
		},
		tasks: map[string][]swarm.Task{
			"a-id": {
				makeTask("t1", swarm.TaskStateRunning,
					makeAttachment("ingress", "10.255.0.9/16"),  // ineligible
					makeAttachment("proxy", "10.0.0.9/24"),      // first eligible: wins
					makeAttachment("backend", "10.0.1.9/24"),    // eligible but later
				),
			},
		},
	}

	endpoints, err := newTestDiscoverer(t, fake, "proxy", "backend").Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(endpoints) != 1 {
		t.Fatalf("expected exactly one endpoint per task, got %d", len(endpoints))
	}

	if got := endpoints[0].Targets[0]; got != "10.0.0.9:80" {
		t.Fatalf("expected the first eligible attachment's address, got %q", got)
	}
}

func TestDiscoverIdempotent(t *testing.T) {
	t.Parallel()

	fake := &fakeSwarm{
		services: []swarm.Service{
			makeService("a-id", "a", map[string]string{"prometheus.port": "80", "tier": "web"}, nil, nil),
			makeService("b-id", "b", nil, map[string]string{"build.rev": "abc"},
				[]string{"SERVICE_PORTS=9100"}),
		},
		tasks: map[string][]swarm.Task{
			"a-id": {makeTask("t1", swarm.TaskStateRunning, makeAttachment("proxy", "10.0.0.3/24"))},
			"b-id": {makeTask("t2", swarm.TaskStateRunning, makeAttachment("proxy", "10.0.0.4/24"))},
		},
	}

	d := newTestDiscoverer(t, fake, "proxy")

	first, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("first Discover: %v", err)
	}

	second, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("second Discover: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("discovery is not idempotent:\nfirst:  %v\nsecond: %v", first, second)
	}
}

func TestDiscoverContainerIDLabel(t *testing.T) {
	t.Parallel()

	withStatus := makeTask("t1", swarm.TaskStateRunning, makeAttachment("proxy", "10.0.0.3/24"))
	withStatus.Status.ContainerStatus = &swarm.ContainerStatus{ContainerID: "deadbeef"}

	fake := &fakeSwarm{
		services: []swarm.Service{
			makeService("a-id", "a", map[string]string{"prometheus.port": "80"}, nil, nil),
			makeService("b-id", "b", map[string]string{"prometheus.port": "81"}, nil, nil),
		},
		tasks: map[string][]swarm.Task{
			"a-id": {withStatus},
			"b-id": {makeTask("t2", swarm.TaskStateRunning, makeAttachment("proxy", "10.0.0.4/24"))},
		},
	}

	endpoints, err := newTestDiscoverer(t, fake, "proxy").Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(endpoints))
	}

	if got := endpoints[0].Labels["container_id"]; got != "deadbeef" {
		t.Fatalf("container_id: got %q want %q", got, "deadbeef")
	}

	if _, ok := endpoints[1].Labels["container_id"]; ok {
		t.Fatal("container_id must be omitted when container status is absent")
	}
}

func TestDiscoverListFailureIsFatalToPass(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("daemon unreachable")

	d := newTestDiscoverer(t, &fakeSwarm{serviceListErr: sentinel}, "proxy")

	if _, err := d.Discover(context.Background()); !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped listing error, got %v", err)
	}
}

func TestDiscoverTaskListFailureIsFatalToPass(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("daemon unreachable")

	fake := &fakeSwarm{
		services: []swarm.Service{
			makeService("a-id", "a", map[string]string{"prometheus.port": "80"}, nil, nil),
		},
		taskListErr: sentinel,
	}

	if _, err := newTestDiscoverer(t, fake, "proxy").Discover(context.Background()); !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped task listing error, got %v", err)
	}
}

func TestDiscoverSkipsEligibleAttachmentWithoutAddresses(t *testing.T) {
	t.Parallel()

	fake := &fakeSwarm{
		services: []swarm.Service{
			makeService("a-id", "a", map[string]string{"prometheus.port": "80"}, nil, nil),
		},
		tasks: map[string][]swarm.Task{
			"a-id": {
				makeTask("t1", swarm.TaskStateRunning,
					makeAttachment("proxy"),                  // eligible, but no address
					makeAttachment("backend", "10.0.1.9/24"), // next eligible
				),
			},
		},
	}

	endpoints, err := newTestDiscoverer(t, fake, "proxy", "backend").Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(endpoints) != 1 || endpoints[0].Targets[0] != "10.0.1.9:80" {
		t.Fatalf("expected fallthrough to the next eligible attachment, got %v", endpoints)
	}
}
