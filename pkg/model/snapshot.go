package model

import "time"

// DeviceSample is one accelerator's readings joined with the workload
// identity resolved for it in the same cycle.
type DeviceSample struct {
	GPUID     string `json:"gpu_id"`
	Namespace string `json:"namespace"`
	Pod       string `json:"pod"`

	Utilization *float64 `json:"utilization_pct,omitempty"`
	Memory      *float64 `json:"memory_pct,omitempty"`
	Power       *float64 `json:"power_watts,omitempty"`
}

// NamespaceTotals aggregates device readings over the mapped devices of one
// namespace.
type NamespaceTotals struct {
	Utilization float64 `json:"utilization_total"`
	Memory      float64 `json:"memory_total"`
	GPUCount    int     `json:"gpu_count"`
}

// Snapshot is the immutable result of one completed collection cycle.
type Snapshot struct {
	CycleID     string    `json:"cycle_id"`
	Node        string    `json:"node"`
	CollectedAt time.Time `json:"collected_at"`

	Devices    []DeviceSample             `json:"devices"`
	Namespaces map[string]NamespaceTotals `json:"namespaces,omitempty"`
}

// SnapshotSummary holds computed counts for the cycle log line.
type SnapshotSummary struct {
	DeviceCount    int `json:"device_count"`
	MappedCount    int `json:"mapped_count"`
	NamespaceCount int `json:"namespace_count"`
}
