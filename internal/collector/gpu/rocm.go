package gpu

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/accelwatch/k8s-gpu-exporter/internal/errors"
)

// smiArgs requests the utilization, memory, and power sections in one
// invocation, so a cycle reads one self-consistent report.
var smiArgs = []string{"--showuse", "--showmemuse", "--showpower"}

// ToolRunner abstracts the rocm-smi invocation for testability.
type ToolRunner interface {
	Collect(ctx context.Context) ([]byte, error)
}

// smiRunner implements ToolRunner by executing the rocm-smi binary.
type smiRunner struct {
	path    string
	timeout time.Duration
}

// NewSMIRunner creates a ToolRunner that invokes the binary at path with a
// hard per-invocation timeout.
func NewSMIRunner(path string, timeout time.Duration) ToolRunner {
	return &smiRunner{path: path, timeout: timeout}
}

func (r *smiRunner) Collect(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.path, smiArgs...)
	out, err := cmd.Output()
	if err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.New(errors.CodeToolInvocation,
				fmt.Sprintf("%s timed out after %s", r.path, r.timeout), err)
		}
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, errors.New(errors.CodeToolInvocation,
				fmt.Sprintf("%s failed: %s", r.path, stderrExcerpt(exitErr.Stderr)), err)
		}
		return nil, errors.New(errors.CodeToolInvocation, r.path+" invocation failed", err)
	}
	return out, nil
}

// stderrExcerpt reduces tool stderr to its first line for log-friendly errors.
func stderrExcerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
