// Package snapshot joins one cycle's readings and workload bindings into the
// immutable result the registry publishes.
package snapshot

import (
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/accelwatch/k8s-gpu-exporter/pkg/model"
)

// Build joins parsed readings with workload bindings into a Snapshot.
// Accelerators without a binding receive the unmapped identity. Namespace
// totals aggregate mapped devices only, counting nil fields as zero.
func Build(node string, readings map[string]model.Reading, bindings map[string]model.Binding, at time.Time) *model.Snapshot {
	snap := &model.Snapshot{
		CycleID:     uuid.NewString(),
		Node:        node,
		CollectedAt: at,
		Devices:     make([]model.DeviceSample, 0, len(readings)),
	}

	namespaces := make(map[string]model.NamespaceTotals)
	for _, idx := range sortedIndices(readings) {
		r := readings[idx]
		binding, mapped := bindings[idx]
		if !mapped {
			binding = model.Binding{Namespace: model.Unmapped, Pod: model.Unmapped}
		}

		snap.Devices = append(snap.Devices, model.DeviceSample{
			GPUID:       idx,
			Namespace:   binding.Namespace,
			Pod:         binding.Pod,
			Utilization: r.Utilization,
			Memory:      r.Memory,
			Power:       r.Power,
		})

		if !mapped {
			continue
		}
		totals := namespaces[binding.Namespace]
		if r.Utilization != nil {
			totals.Utilization += *r.Utilization
		}
		if r.Memory != nil {
			totals.Memory += *r.Memory
		}
		totals.GPUCount++
		namespaces[binding.Namespace] = totals
	}

	if len(namespaces) > 0 {
		snap.Namespaces = namespaces
	}
	return snap
}

// sortedIndices orders accelerator indices numerically where possible so
// device lists and debug output read in hardware order.
func sortedIndices(readings map[string]model.Reading) []string {
	indices := make([]string, 0, len(readings))
	for idx := range readings {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool {
		a, aerr := strconv.Atoi(indices[i])
		b, berr := strconv.Atoi(indices[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return indices[i] < indices[j]
	})
	return indices
}
