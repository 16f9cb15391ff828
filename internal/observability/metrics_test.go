package observability

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/accelwatch/k8s-gpu-exporter/pkg/model"
)

// findGauge looks up a gauge series by family name and label subset.
// The bool reports whether the series exists at all.
func findGauge(t *testing.T, m *Metrics, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	families, err := m.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			match := true
			for k, v := range labels {
				found := false
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
						break
					}
				}
				if !found {
					match = false
					break
				}
			}
			if match {
				return metric.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}

func floatPtr(v float64) *float64 { return &v }

func testCycle(node string) *model.Snapshot {
	return &model.Snapshot{
		CycleID:     "cycle-1",
		Node:        node,
		CollectedAt: time.Now(),
		Devices: []model.DeviceSample{
			{GPUID: "0", Namespace: "ml-team", Pod: "train-a", Utilization: floatPtr(42), Memory: floatPtr(67), Power: floatPtr(152)},
			{GPUID: "1", Namespace: model.Unmapped, Pod: model.Unmapped, Utilization: floatPtr(13)},
		},
		Namespaces: map[string]model.NamespaceTotals{
			"ml-team": {Utilization: 42, Memory: 67, GPUCount: 1},
		},
	}
}

func TestNewMetrics_NoRegistrationPanic(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if _, err := m.Gather(); err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
}

func TestNewMetrics_CustomRegistry(t *testing.T) {
	m := NewMetrics()
	m.CollectionErrors.WithLabelValues("parse").Inc()

	families, err := m.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	// Our metrics must not leak into the default registry.
	defaultFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("DefaultGatherer.Gather failed: %v", err)
	}

	customNames := make(map[string]bool)
	for _, f := range families {
		customNames[f.GetName()] = true
	}
	for _, f := range defaultFamilies {
		if customNames[f.GetName()] {
			t.Errorf("metric %q found in default registry — should only be in custom registry", f.GetName())
		}
	}
}

func TestNewMetrics_AllNamesHavePrefix(t *testing.T) {
	m := NewMetrics()
	m.CollectionErrors.WithLabelValues("parse").Inc()
	m.LastCollection.Set(1)
	m.SetBuildInfo("test")

	families, err := m.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("no metric families gathered")
	}
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "k8s_") {
			t.Errorf("metric %q does not start with k8s_ prefix", f.GetName())
		}
	}
}

func TestNewMetrics_NoDuplicateRegistrationPanic(t *testing.T) {
	// Two instances must not collide because each owns its registry.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("creating Metrics twice panicked: %v", r)
		}
	}()

	_ = NewMetrics()
	_ = NewMetrics()
}

func TestPublishCycle_SetsDeviceGauges(t *testing.T) {
	m := NewMetrics()

	if err := m.PublishCycle(testCycle("node-a")); err != nil {
		t.Fatalf("PublishCycle failed: %v", err)
	}

	labels := map[string]string{"node": "node-a", "gpu_id": "0", "namespace": "ml-team", "pod": "train-a"}
	if got, ok := findGauge(t, m, "k8s_gpu_utilization", labels); !ok || got != 42 {
		t.Errorf("k8s_gpu_utilization{gpu_id=0} = %v (found=%v), want 42", got, ok)
	}
	if got, ok := findGauge(t, m, "k8s_gpu_memory", labels); !ok || got != 67 {
		t.Errorf("k8s_gpu_memory{gpu_id=0} = %v (found=%v), want 67", got, ok)
	}
	if got, ok := findGauge(t, m, "k8s_gpu_power", labels); !ok || got != 152 {
		t.Errorf("k8s_gpu_power{gpu_id=0} = %v (found=%v), want 152", got, ok)
	}

	// Device 1 carries only utilization; the other families must not gain
	// a series for it.
	unmapped := map[string]string{"gpu_id": "1", "namespace": "unmapped", "pod": "unmapped"}
	if got, ok := findGauge(t, m, "k8s_gpu_utilization", unmapped); !ok || got != 13 {
		t.Errorf("k8s_gpu_utilization{gpu_id=1} = %v (found=%v), want 13", got, ok)
	}
	if _, ok := findGauge(t, m, "k8s_gpu_memory", map[string]string{"gpu_id": "1"}); ok {
		t.Error("k8s_gpu_memory{gpu_id=1} exists despite a nil reading field")
	}
	if _, ok := findGauge(t, m, "k8s_gpu_power", map[string]string{"gpu_id": "1"}); ok {
		t.Error("k8s_gpu_power{gpu_id=1} exists despite a nil reading field")
	}
}

func TestPublishCycle_NamespaceTotals(t *testing.T) {
	m := NewMetrics()

	if err := m.PublishCycle(testCycle("node-a")); err != nil {
		t.Fatalf("PublishCycle failed: %v", err)
	}

	ns := map[string]string{"namespace": "ml-team"}
	if got, ok := findGauge(t, m, "k8s_namespace_gpu_utilization_total", ns); !ok || got != 42 {
		t.Errorf("namespace utilization = %v (found=%v), want 42", got, ok)
	}
	if got, ok := findGauge(t, m, "k8s_namespace_gpu_memory_total", ns); !ok || got != 67 {
		t.Errorf("namespace memory = %v (found=%v), want 67", got, ok)
	}
	if got, ok := findGauge(t, m, "k8s_namespace_gpu_count", ns); !ok || got != 1 {
		t.Errorf("namespace gpu count = %v (found=%v), want 1", got, ok)
	}
}

func TestPublishCycle_RetainsAbsentIndices(t *testing.T) {
	m := NewMetrics()

	first := testCycle("node-a")
	if err := m.PublishCycle(first); err != nil {
		t.Fatalf("PublishCycle failed: %v", err)
	}

	// The next cycle sees only device 0 with a new value.
	second := &model.Snapshot{
		CycleID:     "cycle-2",
		Node:        "node-a",
		CollectedAt: time.Now(),
		Devices: []model.DeviceSample{
			{GPUID: "0", Namespace: "ml-team", Pod: "train-a", Utilization: floatPtr(55)},
		},
	}
	if err := m.PublishCycle(second); err != nil {
		t.Fatalf("PublishCycle failed: %v", err)
	}

	if got, _ := findGauge(t, m, "k8s_gpu_utilization", map[string]string{"gpu_id": "0"}); got != 55 {
		t.Errorf("gpu 0 utilization = %v, want 55 after overwrite", got)
	}
	// Device 1 was absent from the second cycle; its value persists.
	if got, ok := findGauge(t, m, "k8s_gpu_utilization", map[string]string{"gpu_id": "1"}); !ok || got != 13 {
		t.Errorf("gpu 1 utilization = %v (found=%v), want retained 13", got, ok)
	}
}

func TestPublishCycle_TimestampGauge(t *testing.T) {
	m := NewMetrics()

	at := time.Now()
	snap := &model.Snapshot{CycleID: "c", Node: "node-a", CollectedAt: at}
	if err := m.PublishCycle(snap); err != nil {
		t.Fatalf("PublishCycle failed: %v", err)
	}

	pb := &dto.Metric{}
	if err := m.LastCollection.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != float64(at.Unix()) {
		t.Errorf("LastCollection = %v, want %v", got, float64(at.Unix()))
	}
}

func TestPublishCycle_NilSnapshot(t *testing.T) {
	m := NewMetrics()
	if err := m.PublishCycle(nil); err == nil {
		t.Error("PublishCycle(nil) = nil, want error")
	}
}

func TestCollectionErrors_CountsByType(t *testing.T) {
	m := NewMetrics()

	m.CollectionErrors.WithLabelValues("mapping").Inc()
	m.CollectionErrors.WithLabelValues("mapping").Inc()
	m.CollectionErrors.WithLabelValues("tool_invocation").Inc()

	pb := &dto.Metric{}
	if err := m.CollectionErrors.WithLabelValues("mapping").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 2 {
		t.Errorf("CollectionErrors(mapping) = %v, want 2", got)
	}

	pb = &dto.Metric{}
	if err := m.CollectionErrors.WithLabelValues("tool_invocation").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 1 {
		t.Errorf("CollectionErrors(tool_invocation) = %v, want 1", got)
	}
}

func TestPublishPodUsage_ResetsBetweenCycles(t *testing.T) {
	m := NewMetrics()

	m.PublishPodUsage("node-a", []model.PodUsage{
		{Namespace: "ml-team", Pod: "train-a", CPUCores: 1.5, MemoryBytes: 2048},
		{Namespace: "ml-team", Pod: "train-b", CPUCores: 0.5, MemoryBytes: 1024},
	})

	if got, ok := findGauge(t, m, "k8s_gpu_pod_cpu_usage_cores", map[string]string{"pod": "train-a"}); !ok || got != 1.5 {
		t.Errorf("pod cpu usage train-a = %v (found=%v), want 1.5", got, ok)
	}

	// The next usage cycle no longer sees train-b; its series must go.
	m.PublishPodUsage("node-a", []model.PodUsage{
		{Namespace: "ml-team", Pod: "train-a", CPUCores: 2.0, MemoryBytes: 4096},
	})

	if got, _ := findGauge(t, m, "k8s_gpu_pod_cpu_usage_cores", map[string]string{"pod": "train-a"}); got != 2.0 {
		t.Errorf("pod cpu usage train-a = %v, want 2.0", got)
	}
	if _, ok := findGauge(t, m, "k8s_gpu_pod_cpu_usage_cores", map[string]string{"pod": "train-b"}); ok {
		t.Error("pod cpu usage for train-b still present after reset")
	}
	if got, ok := findGauge(t, m, "k8s_gpu_pod_memory_usage_bytes", map[string]string{"pod": "train-a"}); !ok || got != 4096 {
		t.Errorf("pod memory usage train-a = %v (found=%v), want 4096", got, ok)
	}
}

func TestSetBuildInfo(t *testing.T) {
	m := NewMetrics()
	m.SetBuildInfo("1.2.3")

	if got, ok := findGauge(t, m, "k8s_gpu_exporter_build_info", map[string]string{"version": "1.2.3"}); !ok || got != 1 {
		t.Errorf("build info = %v (found=%v), want 1", got, ok)
	}
}

func TestGather_ConcurrentWithPublish(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			snap := testCycle("node-a")
			snap.Devices[0].Utilization = floatPtr(float64(i))
			if err := m.PublishCycle(snap); err != nil {
				t.Errorf("PublishCycle failed: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		if _, err := m.Gather(); err != nil {
			t.Errorf("Gather failed: %v", err)
			break
		}
	}
	close(stop)
	wg.Wait()
}
