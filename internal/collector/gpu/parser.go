package gpu

import (
	"bufio"
	"bytes"
	"log/slog"
	"strconv"
	"strings"

	"github.com/accelwatch/k8s-gpu-exporter/pkg/model"
)

// Metric phrases as printed by rocm-smi --showuse --showmemuse --showpower.
// Matched as substrings so banner columns and concise-output variants both work.
const (
	phraseUtilization = "GPU use (%)"
	phraseMemory      = "GPU Memory Allocated (VRAM%)"
	phrasePower       = "Current Socket Graphics Package Power (W)"
)

// headerPrefix introduces a device section. rocm-smi prefixes every
// device-scoped line with "GPU[N]", so a header line may carry a metric too.
const headerPrefix = "GPU["

// ParseSMIOutput parses rocm-smi free-text output into per-accelerator
// readings keyed by device index. It also returns the number of metric
// fields that were recognized but held no parseable number.
//
// Lines before the first device header are ignored. A repeated header for
// the same index continues filling the same reading, last write wins per
// field. A field that never parses stays nil rather than reporting zero.
func ParseSMIOutput(data []byte) (map[string]model.Reading, int) {
	devices := make(map[string]*model.Reading)
	skipped := 0
	current := ""

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, headerPrefix) {
			idx, ok := parseHeaderIndex(line)
			if !ok {
				continue
			}
			current = idx
			if _, exists := devices[current]; !exists {
				devices[current] = &model.Reading{}
			}
		}

		if current == "" {
			continue
		}

		// Header lines fall through here so "GPU[0] : GPU use (%): 42"
		// attributes the metric to the index it just established.
		switch {
		case strings.Contains(line, phraseUtilization):
			if v, ok := parseMetricValue(line); ok {
				devices[current].Utilization = &v
			} else {
				skipped++
				slog.Debug("skipping unparseable utilization field", "gpu_id", current, "line", line)
			}
		case strings.Contains(line, phraseMemory):
			if v, ok := parseMetricValue(line); ok {
				devices[current].Memory = &v
			} else {
				skipped++
				slog.Debug("skipping unparseable memory field", "gpu_id", current, "line", line)
			}
		case strings.Contains(line, phrasePower):
			if v, ok := parseMetricValue(line); ok {
				devices[current].Power = &v
			} else {
				skipped++
				slog.Debug("skipping unparseable power field", "gpu_id", current, "line", line)
			}
		}
	}

	result := make(map[string]model.Reading, len(devices))
	for idx, r := range devices {
		result[idx] = *r
	}
	return result, skipped
}

// parseHeaderIndex extracts the device index from a "GPU[N]..." line.
// Malformed headers (no closing bracket, empty index) report false and do
// not disturb the current-device context.
func parseHeaderIndex(line string) (string, bool) {
	rest := line[len(headerPrefix):]
	end := strings.IndexByte(rest, ']')
	if end <= 0 {
		return "", false
	}
	return rest[:end], true
}

// parseMetricValue extracts the numeric value from a metric line: the first
// whitespace-separated token after the last colon. rocm-smi lines carry a
// colon inside the device tag and another before the value, so only the last
// one delimits the number.
func parseMetricValue(line string) (float64, bool) {
	colon := strings.LastIndexByte(line, ':')
	if colon < 0 || colon == len(line)-1 {
		return 0, false
	}
	fields := strings.Fields(line[colon+1:])
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
