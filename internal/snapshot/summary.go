package snapshot

import "github.com/accelwatch/k8s-gpu-exporter/pkg/model"

// ComputeSummary calculates the per-cycle counts reported in the cycle log.
func ComputeSummary(snap *model.Snapshot) model.SnapshotSummary {
	s := model.SnapshotSummary{
		DeviceCount:    len(snap.Devices),
		NamespaceCount: len(snap.Namespaces),
	}
	for i := range snap.Devices {
		if snap.Devices[i].Namespace != model.Unmapped {
			s.MappedCount++
		}
	}
	return s
}
