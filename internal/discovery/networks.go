package discovery

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/jamesmcdonald/prometheus-swarmer/internal/logger"
)

// networkSet is the set of network names eligible for producing scrape
// targets. It is resolved once and read-only during passes.
type networkSet map[string]struct{}

func newNetworkSet(names []string) networkSet {
	set := make(networkSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}

	return set
}

func (s networkSet) contains(name string) bool {
	_, ok := s[name]

	return ok
}

// ResolveNetworks populates the monitoring network set. A static override in
// the configuration wins; otherwise the set is auto-detected from the
// networks the monitoring service's first task is attached to. A missing
// monitoring service is an expected configuration state, not an error: the
// default set applies. The resolved set is cached for subsequent passes.
func (d *Discoverer) ResolveNetworks(ctx context.Context) error {
	if len(d.config.Networks) > 0 {
		d.networks = newNetworkSet(d.config.Networks)

		return nil
	}

	names, err := d.detectNetworks(ctx)
	if err != nil {
		return err
	}

	d.networks = newNetworkSet(names)

	return nil
}

// detectNetworks looks up the monitoring service by name and collects the
// network names from its first task's attachments. Any expected-absence
// condition falls back to DefaultNetworks; only real API failures propagate.
func (d *Discoverer) detectNetworks(ctx context.Context) ([]string, error) {
	log := logger.L()

	svc, _, err := d.client.ServiceInspectWithRaw(
		ctx,
		d.config.ServiceName,
		types.ServiceInspectOptions{InsertDefaults: false},
	)
	if client.IsErrNotFound(err) {
		log.Debug("monitoring service not found, using default networks",
			"service", d.config.ServiceName,
		)

		return DefaultNetworks, nil
	} else if err != nil {
		return nil, fmt.Errorf("inspect monitoring service %s: %w", d.config.ServiceName, err)
	}

	tasks, err := d.client.TaskList(ctx, types.TaskListOptions{
		Filters: serviceFilter(svc.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("task list for monitoring service %s: %w", d.config.ServiceName, err)
	}

	if len(tasks) == 0 || len(tasks[0].NetworksAttachments) == 0 {
		log.Debug("monitoring service is not on any networks, using defaults",
			"service", d.config.ServiceName,
		)

		return DefaultNetworks, nil
	}

	firstTask := &tasks[0]
	names := make([]string, 0, len(firstTask.NetworksAttachments))

	for i := range firstTask.NetworksAttachments {
		names = append(names, firstTask.NetworksAttachments[i].Network.Spec.Name)
	}

	log.Debug("discovered monitoring networks", "networks", names)

	return names, nil
}
