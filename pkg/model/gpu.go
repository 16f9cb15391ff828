package model

// Unmapped is the identity reported for accelerators whose consuming
// workload could not be resolved.
const Unmapped = "unmapped"

// Reading holds the metric values parsed from one rocm-smi section for a
// single accelerator. A nil field means the tool output did not contain that
// value; it is never reported as zero.
type Reading struct {
	Utilization *float64 `json:"utilization_pct,omitempty"`
	Memory      *float64 `json:"memory_pct,omitempty"`
	Power       *float64 `json:"power_watts,omitempty"`
}

// Binding associates an accelerator index with the pod consuming it.
type Binding struct {
	Namespace string `json:"namespace"`
	Pod       string `json:"pod"`
}

// PodUsage holds live CPU/memory consumption for one pod, sourced from the
// metrics.k8s.io API.
type PodUsage struct {
	Namespace   string  `json:"namespace"`
	Pod         string  `json:"pod"`
	CPUCores    float64 `json:"cpu_cores"`
	MemoryBytes int64   `json:"memory_bytes"`
}
