package gpu

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/accelwatch/k8s-gpu-exporter/internal/errors"
	"github.com/accelwatch/k8s-gpu-exporter/internal/observability"
	"github.com/accelwatch/k8s-gpu-exporter/internal/snapshot"
	"github.com/accelwatch/k8s-gpu-exporter/internal/store"
	"github.com/accelwatch/k8s-gpu-exporter/pkg/model"
)

// BindingResolver resolves GPU ordinals to the pods consuming them.
// *mapping.Mapper is the production implementation.
type BindingResolver interface {
	Bindings(ctx context.Context) (map[string]model.Binding, error)
}

// Collector runs the fixed-interval GPU collection cycle: invoke the vendor
// tool, parse its report, resolve workload bindings, and publish the result
// to the metrics registry as one batch. It implements collector.Collector.
//
// Cycles run on a single goroutine and never overlap; a cycle that outlasts
// the interval simply delays the next tick.
type Collector struct {
	runner   ToolRunner
	resolver BindingResolver
	metrics  *observability.Metrics
	latest   *store.Latest[*model.Snapshot]
	node     string
	interval time.Duration

	stopCh chan struct{}
	done   chan struct{}

	syncOnce sync.Once
	synced   chan struct{}
}

// NewCollector creates a Collector that polls via runner every interval and
// stores each published snapshot in latest.
func NewCollector(runner ToolRunner, resolver BindingResolver, metrics *observability.Metrics, latest *store.Latest[*model.Snapshot], node string, interval time.Duration) *Collector {
	return &Collector{
		runner:   runner,
		resolver: resolver,
		metrics:  metrics,
		latest:   latest,
		node:     node,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		synced:   make(chan struct{}),
	}
}

// Name returns the collector name.
func (c *Collector) Name() string { return "gpu" }

// Start launches the background collection goroutine.
func (c *Collector) Start(ctx context.Context) error {
	go c.run(ctx)
	return nil
}

// WaitForSync blocks until the first cycle completes or the context is canceled.
func (c *Collector) WaitForSync(ctx context.Context) error {
	select {
	case <-c.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the collector to stop and waits for the goroutine to exit.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.done
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)

	// Collect immediately on start.
	c.cycle(ctx)
	c.syncOnce.Do(func() { close(c.synced) })

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cycle(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cycle performs one collection pass. Tool failure aborts the cycle before
// anything is published, so the registry keeps serving the previous cycle and
// the collection timestamp does not advance. Mapping failure degrades to
// unmapped identities rather than dropping readings.
func (c *Collector) cycle(ctx context.Context) {
	start := time.Now()

	out, err := c.runner.Collect(ctx)
	if err != nil {
		c.countError(errors.CodeOf(err))
		slog.Error("gpu collector: tool invocation failed", "error", err)
		return
	}

	readings, skipped := ParseSMIOutput(out)
	if skipped > 0 {
		c.metrics.CollectionErrors.WithLabelValues(string(errors.CodeParse)).Add(float64(skipped))
		slog.Warn("gpu collector: skipped malformed report fields", "fields", skipped)
	}

	bindings, err := c.resolver.Bindings(ctx)
	if err != nil {
		c.countError(errors.CodeMapping)
		slog.Warn("gpu collector: workload mapping failed, reporting devices as unmapped", "error", err)
		bindings = nil
	}

	snap := snapshot.Build(c.node, readings, bindings, time.Now())
	if err := c.metrics.PublishCycle(snap); err != nil {
		c.countError(errors.CodeRegistryUpdate)
		slog.Error("gpu collector: failed to publish cycle", "error", err)
		return
	}
	c.latest.Store(snap)

	sum := snapshot.ComputeSummary(snap)
	slog.Info("gpu collection cycle complete",
		"cycle_id", snap.CycleID,
		"devices", sum.DeviceCount,
		"mapped", sum.MappedCount,
		"namespaces", sum.NamespaceCount,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

func (c *Collector) countError(code errors.Code) {
	c.metrics.CollectionErrors.WithLabelValues(string(code)).Inc()
}
