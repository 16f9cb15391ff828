// Package podusage enriches accelerator telemetry with the CPU and memory
// consumption of the pods bound to GPUs, sourced from metrics.k8s.io.
package podusage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsv1beta1client "k8s.io/metrics/pkg/client/clientset/versioned/typed/metrics/v1beta1"

	"github.com/accelwatch/k8s-gpu-exporter/internal/errors"
	"github.com/accelwatch/k8s-gpu-exporter/internal/observability"
	"github.com/accelwatch/k8s-gpu-exporter/internal/store"
	"github.com/accelwatch/k8s-gpu-exporter/pkg/model"
)

// UsageAPI abstracts the metrics.k8s.io pod listing for testability.
type UsageAPI interface {
	ListPodMetrics(ctx context.Context) ([]metricsv1beta1.PodMetrics, error)
}

// usageAPIClient wraps the real metrics client to implement UsageAPI.
type usageAPIClient struct {
	client metricsv1beta1client.MetricsV1beta1Interface
}

func (c *usageAPIClient) ListPodMetrics(ctx context.Context) ([]metricsv1beta1.PodMetrics, error) {
	list, err := c.client.PodMetricses(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// Collector polls metrics.k8s.io on a timer and publishes CPU and memory
// usage for the pods the latest GPU cycle mapped to a device. Pods without
// an accelerator are never published, so series stay bounded by GPU count
// rather than cluster size. It implements collector.Collector.
type Collector struct {
	api      UsageAPI
	latest   *store.Latest[*model.Snapshot]
	metrics  *observability.Metrics
	node     string
	interval time.Duration

	stopCh chan struct{}
	done   chan struct{}

	syncOnce sync.Once
	synced   chan struct{}
}

// NewCollector creates a Collector that polls using the given UsageAPI.
func NewCollector(api UsageAPI, latest *store.Latest[*model.Snapshot], metrics *observability.Metrics, node string, interval time.Duration) *Collector {
	return &Collector{
		api:      api,
		latest:   latest,
		metrics:  metrics,
		node:     node,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		synced:   make(chan struct{}),
	}
}

// NewCollectorFromClient creates a Collector backed by a real metrics.k8s.io client.
func NewCollectorFromClient(client metricsv1beta1client.MetricsV1beta1Interface, latest *store.Latest[*model.Snapshot], metrics *observability.Metrics, node string, interval time.Duration) *Collector {
	return NewCollector(&usageAPIClient{client: client}, latest, metrics, node, interval)
}

// Name returns the collector name.
func (c *Collector) Name() string { return "podusage" }

// Start launches the background polling goroutine.
func (c *Collector) Start(ctx context.Context) error {
	go c.run(ctx)
	return nil
}

// WaitForSync blocks until the first usage poll completes or ctx is canceled.
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

	// Poll immediately on start.
	c.poll(ctx)
	c.syncOnce.Do(func() { close(c.synced) })

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.poll(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Collector) poll(ctx context.Context) {
	bound := c.boundPods()
	if len(bound) == 0 {
		// Nothing holds a GPU right now; clear any usage series left over
		// from pods that released their devices.
		c.metrics.PublishPodUsage(c.node, nil)
		slog.Debug("pod usage collector: no accelerator-bound pods")
		return
	}

	items, err := c.api.ListPodMetrics(ctx)
	if err != nil {
		// Skip the cycle; previously published usage values stay in place.
		c.metrics.CollectionErrors.WithLabelValues(string(errors.CodeUsageQuery)).Inc()
		slog.Warn("pod usage collector: metrics API query failed", "error", err)
		return
	}

	usages := make([]model.PodUsage, 0, len(bound))
	for _, pm := range items {
		if _, ok := bound[model.Binding{Namespace: pm.Namespace, Pod: pm.Name}]; !ok {
			continue
		}
		var cores float64
		var bytes int64
		for _, cm := range pm.Containers {
			cpuQ := cm.Usage["cpu"]
			memQ := cm.Usage["memory"]
			cores += cpuQ.AsApproximateFloat64()
			bytes += memQ.Value()
		}
		usages = append(usages, model.PodUsage{
			Namespace:   pm.Namespace,
			Pod:         pm.Name,
			CPUCores:    cores,
			MemoryBytes: bytes,
		})
	}

	c.metrics.PublishPodUsage(c.node, usages)
	slog.Debug("pod usage collector: poll complete", "bound_pods", len(bound), "published", len(usages))
}

// boundPods collects the pod identities holding a device in the latest
// completed GPU cycle. Unmapped devices contribute nothing.
func (c *Collector) boundPods() map[model.Binding]struct{} {
	snap := c.latest.Load()
	if snap == nil {
		return nil
	}
	bound := make(map[model.Binding]struct{})
	for _, d := range snap.Devices {
		if d.Namespace == model.Unmapped {
			continue
		}
		bound[model.Binding{Namespace: d.Namespace, Pod: d.Pod}] = struct{}{}
	}
	return bound
}
