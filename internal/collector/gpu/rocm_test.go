package gpu

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accelwatch/k8s-gpu-exporter/internal/errors"
)

// writeTool writes an executable shell script standing in for rocm-smi.
func writeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rocm-smi")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestSMIRunner_CollectSuccess(t *testing.T) {
	path := writeTool(t, "#!/bin/sh\n"+
		"echo 'GPU[0]		: GPU use (%): 42'\n"+
		"echo 'GPU[0]		: Current Socket Graphics Package Power (W): 152.0'\n")

	runner := NewSMIRunner(path, 5*time.Second)
	out, err := runner.Collect(context.Background())
	require.NoError(t, err)

	readings, skipped := ParseSMIOutput(out)
	require.Len(t, readings, 1)
	assert.Zero(t, skipped)
	require.NotNil(t, readings["0"].Utilization)
	assert.InDelta(t, 42.0, *readings["0"].Utilization, 0.001)
	require.NotNil(t, readings["0"].Power)
	assert.InDelta(t, 152.0, *readings["0"].Power, 0.001)
}

func TestSMIRunner_NonZeroExit(t *testing.T) {
	path := writeTool(t, "#!/bin/sh\n"+
		"echo 'ERROR: Unable to detect any GPU devices' >&2\n"+
		"exit 1\n")

	runner := NewSMIRunner(path, 5*time.Second)
	_, err := runner.Collect(context.Background())
	require.Error(t, err)

	assert.Equal(t, errors.CodeToolInvocation, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "Unable to detect any GPU devices")
}

func TestSMIRunner_Timeout(t *testing.T) {
	path := writeTool(t, "#!/bin/sh\nsleep 5\n")

	runner := NewSMIRunner(path, 100*time.Millisecond)
	start := time.Now()
	_, err := runner.Collect(context.Background())
	require.Error(t, err)

	assert.Equal(t, errors.CodeToolInvocation, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSMIRunner_MissingBinary(t *testing.T) {
	runner := NewSMIRunner(filepath.Join(t.TempDir(), "no-such-tool"), time.Second)
	_, err := runner.Collect(context.Background())
	require.Error(t, err)

	assert.Equal(t, errors.CodeToolInvocation, errors.CodeOf(err))
}
