// Package agent wires the exporter's subsystems together and owns their
// lifecycle: collectors start, complete their first cycles, readiness flips,
// and everything stops on shutdown.
package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/accelwatch/k8s-gpu-exporter/internal/collector"
	"github.com/accelwatch/k8s-gpu-exporter/internal/store"
	"github.com/accelwatch/k8s-gpu-exporter/pkg/model"
)

// defaultSyncTimeout bounds how long Run waits for first cycles before
// reporting ready regardless.
const defaultSyncTimeout = 2 * time.Minute

// Agent orchestrates the registered collectors and reports readiness once
// their first cycles complete.
type Agent struct {
	registry    *collector.Registry
	latest      *store.Latest[*model.Snapshot]
	syncTimeout time.Duration

	ready     atomic.Bool
	startedAt time.Time
}

// New creates an Agent managing the given registry. syncTimeout bounds the
// wait for first cycles; 0 selects the default.
func New(registry *collector.Registry, latest *store.Latest[*model.Snapshot], syncTimeout time.Duration) *Agent {
	return &Agent{
		registry:    registry,
		latest:      latest,
		syncTimeout: syncTimeout,
		startedAt:   time.Now(),
	}
}

// IsReady reports whether the first collection cycles have completed (or
// their wait expired). Implements health.ReadinessChecker.
func (a *Agent) IsReady() bool {
	return a.ready.Load()
}

// LatestSnapshot returns the most recent completed cycle, or nil before the
// first one. Implements health.SnapshotProvider.
func (a *Agent) LatestSnapshot() *model.Snapshot {
	return a.latest.Load()
}

// Run executes the exporter lifecycle: start all collectors, wait for their
// first cycles, mark ready, then block until the context is canceled.
// Collectors publish to the metrics registry on their own; Run only manages
// their lifetime.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.registry.StartAll(ctx); err != nil {
		var partial *collector.PartialStartError
		if stderrors.As(err, &partial) {
			slog.Warn("some collectors failed to start, continuing with partial data",
				"failed", partial.Failed, "total", partial.Total)
		} else {
			return fmt.Errorf("failed to start collectors: %w", err)
		}
	}
	defer a.registry.StopAll()

	syncTimeout := a.syncTimeout
	if syncTimeout == 0 {
		syncTimeout = defaultSyncTimeout
	}
	slog.Info("waiting for first collection cycles",
		"collectors", a.registry.Names(), "timeout", syncTimeout)

	syncCtx, syncCancel := context.WithTimeout(ctx, syncTimeout)
	defer syncCancel()
	syncStart := time.Now()
	if err := a.registry.WaitForSync(syncCtx); err != nil {
		// Ready regardless; the error counter and the stalled collection
		// timestamp make the degradation visible to scrapers.
		slog.Warn("first collection cycles incomplete, reporting ready anyway",
			"error", err,
			"timeout", syncTimeout,
			"elapsed", time.Since(syncStart).Round(time.Millisecond),
		)
	} else {
		slog.Info("first collection cycles completed",
			"elapsed", time.Since(syncStart).Round(time.Millisecond))
	}

	a.ready.Store(true)
	slog.Info("exporter is ready",
		"startup", time.Since(a.startedAt).Round(time.Millisecond))

	<-ctx.Done()
	return ctx.Err()
}
