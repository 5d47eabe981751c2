package ic

import (
	"context"
	"log/slog"

	"github.com/nexuts-io/nexuts/internal/metrics"
	"github.com/nexuts-io/nexuts/internal/router"
	"github.com/nexuts-io/nexuts/internal/store"
)

// RegistryFleet answers FleetStatus from the sqlite registry, scraping
// each schedulable instance's /metrics endpoint on demand so the router
// always decides on a fresh load snapshot (spec §4.7's "on-demand
// metrics" path), grounded on original_source/Nexuts/nexuts.py's
// get_best_instance gathering sentry_instances before scoring.
type RegistryFleet struct {
	registry  *store.Registry
	collector *metrics.Collector
	log       *slog.Logger
}

// NewRegistryFleet builds a FleetStatus backed by registry and collector.
func NewRegistryFleet(registry *store.Registry, collector *metrics.Collector, log *slog.Logger) *RegistryFleet {
	if log == nil {
		log = slog.Default()
	}
	return &RegistryFleet{registry: registry, collector: collector, log: log}
}

// AvailableWorkers implements FleetStatus.
func (f *RegistryFleet) AvailableWorkers(ctx context.Context) []router.WorkerStatus {
	fleet, err := f.registry.LoadAll(ctx)
	if err != nil {
		f.log.Warn("fleet load failed", "error", err)
		return nil
	}

	var out []router.WorkerStatus
	for _, sentry := range fleet {
		for _, inst := range sentry.Instances {
			ws := router.WorkerStatus{WorkerID: inst.InstanceID, Healthy: inst.Status}
			if inst.Status {
				load, err := f.collector.Load(ctx, sentry.IP, inst.ServicePort, inst.PodType)
				if err != nil {
					f.log.Warn("metrics scrape failed", "instance_id", inst.InstanceID, "error", err)
					ws.Healthy = false
				} else {
					ws.Load = load
				}
			}
			out = append(out, ws)
		}
	}
	return out
}
