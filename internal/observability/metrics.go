package observability

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/accelwatch/k8s-gpu-exporter/pkg/model"
)

// deviceLabels order every per-accelerator sample carries.
var deviceLabels = []string{"node", "gpu_id", "namespace", "pod"}

// Metrics holds all Prometheus metrics on a custom registry, avoiding the
// global default. It is the single shared surface between the collection
// loop and scrapers: PublishCycle commits a whole cycle under the write
// lock, Gather serves readers under the read lock, so a scrape never
// observes half a cycle.
//
// Committed gauge values persist until overwritten. Label sets absent from
// a later cycle are kept as-is; a stalled source shows through
// k8s_gpu_last_collection_timestamp_seconds rather than vanishing series.
type Metrics struct {
	registry *prometheus.Registry
	mu       sync.RWMutex

	// Device gauges (node, gpu_id, namespace, pod)
	GPUUtilization *prometheus.GaugeVec
	GPUMemory      *prometheus.GaugeVec
	GPUPower       *prometheus.GaugeVec

	// Namespace aggregates
	NamespaceUtilization *prometheus.GaugeVec
	NamespaceMemory      *prometheus.GaugeVec
	NamespaceGPUCount    *prometheus.GaugeVec

	// Health signals
	LastCollection   prometheus.Gauge
	CollectionErrors *prometheus.CounterVec

	// Pod usage enrichment (node, namespace, pod)
	PodCPUUsage    *prometheus.GaugeVec
	PodMemoryUsage *prometheus.GaugeVec

	BuildInfo *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance with all metrics registered on a
// custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		GPUUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "k8s_gpu_utilization",
			Help: "GPU utilization percentage.",
		}, deviceLabels),
		GPUMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "k8s_gpu_memory",
			Help: "GPU memory usage percentage.",
		}, deviceLabels),
		GPUPower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "k8s_gpu_power",
			Help: "GPU power usage in watts.",
		}, deviceLabels),

		NamespaceUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "k8s_namespace_gpu_utilization_total",
			Help: "Total GPU utilization percentage per namespace.",
		}, []string{"namespace"}),
		NamespaceMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "k8s_namespace_gpu_memory_total",
			Help: "Total GPU memory usage percentage per namespace.",
		}, []string{"namespace"}),
		NamespaceGPUCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "k8s_namespace_gpu_count",
			Help: "Number of GPUs allocated per namespace.",
		}, []string{"namespace"}),

		LastCollection: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "k8s_gpu_last_collection_timestamp_seconds",
			Help: "Unix timestamp of the last completed collection cycle.",
		}),
		CollectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "k8s_gpu_collector_errors_total",
			Help: "Total number of collection errors.",
		}, []string{"type"}),

		PodCPUUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "k8s_gpu_pod_cpu_usage_cores",
			Help: "CPU usage in cores for pods bound to GPUs.",
		}, []string{"node", "namespace", "pod"}),
		PodMemoryUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "k8s_gpu_pod_memory_usage_bytes",
			Help: "Memory usage in bytes for pods bound to GPUs.",
		}, []string{"node", "namespace", "pod"}),

		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "k8s_gpu_exporter_build_info",
			Help: "Build information for the exporter, value is always 1.",
		}, []string{"version"}),
	}

	// Register all metrics with the custom registry.
	reg.MustRegister(
		m.GPUUtilization,
		m.GPUMemory,
		m.GPUPower,
		m.NamespaceUtilization,
		m.NamespaceMemory,
		m.NamespaceGPUCount,
		m.LastCollection,
		m.CollectionErrors,
		m.PodCPUUsage,
		m.PodMemoryUsage,
		m.BuildInfo,
	)

	return m
}

// SetBuildInfo publishes the running version as a constant-1 gauge.
func (m *Metrics) SetBuildInfo(version string) {
	m.BuildInfo.WithLabelValues(version).Set(1)
}

// PublishCycle commits one completed cycle as an atomic batch: per-device
// gauges for every field present in the snapshot, namespace totals, and the
// last-collection timestamp. Values from earlier cycles stay published
// until a later cycle overwrites the same label set.
func (m *Metrics) PublishCycle(snap *model.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("publish cycle: nil snapshot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range snap.Devices {
		d := &snap.Devices[i]
		if d.Utilization != nil {
			m.GPUUtilization.WithLabelValues(snap.Node, d.GPUID, d.Namespace, d.Pod).Set(*d.Utilization)
		}
		if d.Memory != nil {
			m.GPUMemory.WithLabelValues(snap.Node, d.GPUID, d.Namespace, d.Pod).Set(*d.Memory)
		}
		if d.Power != nil {
			m.GPUPower.WithLabelValues(snap.Node, d.GPUID, d.Namespace, d.Pod).Set(*d.Power)
		}
	}

	for ns, totals := range snap.Namespaces {
		m.NamespaceUtilization.WithLabelValues(ns).Set(totals.Utilization)
		m.NamespaceMemory.WithLabelValues(ns).Set(totals.Memory)
		m.NamespaceGPUCount.WithLabelValues(ns).Set(float64(totals.GPUCount))
	}

	m.LastCollection.Set(float64(snap.CollectedAt.Unix()))
	return nil
}

// PublishPodUsage replaces the pod usage gauges wholesale. Unlike device
// gauges these reset each cycle, because metrics.k8s.io samples churn with
// pod lifecycle and stale usage rows would misreport dead pods as running.
func (m *Metrics) PublishPodUsage(node string, usages []model.PodUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PodCPUUsage.Reset()
	m.PodMemoryUsage.Reset()
	for _, u := range usages {
		m.PodCPUUsage.WithLabelValues(node, u.Namespace, u.Pod).Set(u.CPUCores)
		m.PodMemoryUsage.WithLabelValues(node, u.Namespace, u.Pod).Set(float64(u.MemoryBytes))
	}
}

// Gather implements prometheus.Gatherer for the exposition handler. Holding
// the read lock excludes in-flight publishes, so concurrent scrapes all see
// whole cycles.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry.Gather()
}
