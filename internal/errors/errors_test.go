package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCycleError_Implements_Error(t *testing.T) {
	ce := New(CodeToolInvocation, "rocm-smi exited 1", nil)

	var err error = ce
	if err.Error() != "rocm-smi exited 1" {
		t.Fatalf("expected Error() = %q, got %q", "rocm-smi exited 1", err.Error())
	}
}

func TestCycleError_MessageIncludesCause(t *testing.T) {
	cause := stderrors.New("context deadline exceeded")
	ce := New(CodeMapping, "pod list failed", cause)

	want := "pod list failed: context deadline exceeded"
	if ce.Error() != want {
		t.Fatalf("expected Error() = %q, got %q", want, ce.Error())
	}
}

func TestCycleError_Unwrap(t *testing.T) {
	cause := stderrors.New("exit status 1")
	ce := New(CodeToolInvocation, "rocm-smi failed", cause)

	if !stderrors.Is(ce, cause) {
		t.Error("expected errors.Is to reach the wrapped cause")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"direct cycle error", New(CodeMapping, "timeout", nil), CodeMapping},
		{"wrapped cycle error", fmt.Errorf("cycle failed: %w", New(CodeToolInvocation, "exit 1", nil)), CodeToolInvocation},
		{"plain error", stderrors.New("boom"), CodeRegistryUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
