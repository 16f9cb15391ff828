// Package gpu implements the AMD GPU collection cycle.
//
// Each cycle invokes rocm-smi once for utilization, memory, and power,
// parses the free-text report into per-device readings, resolves each
// device ordinal to the pod consuming it, and publishes the result to the
// metrics registry as a single batch.
//
// rocm-smi prints for humans, not machines, and its layout drifts between
// ROCm releases. Every format assumption therefore lives in parser.go:
// device sections are introduced by "GPU[N]" tags, metric lines are matched
// by phrase, and values are taken as the first token after the last colon.
// A field that does not parse is skipped and counted, never zeroed, so a
// missing sample is distinguishable from an idle device.
package gpu
