package errors

import stderrors "errors"

// Code is a typed failure category. Its value doubles as the "type" label on
// the k8s_gpu_collector_errors_total counter, so codes stay lowercase.
type Code string

// Failure categories recorded by the collection loop.
const (
	CodeToolInvocation Code = "tool_invocation"
	CodeParse          Code = "parse"
	CodeMapping        Code = "mapping"
	CodeRegistryUpdate Code = "registry_update"
	CodeUsageQuery     Code = "usage_query"
)

// CycleError is a failure inside one collection cycle, carrying the category
// used for counting and an optional wrapped cause.
type CycleError struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As compatibility.
func (e *CycleError) Unwrap() error {
	return e.Err
}

// New builds a CycleError wrapping err.
func New(code Code, message string, err error) *CycleError {
	return &CycleError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the failure category from err, walking the wrap chain.
// Errors produced outside this package count as registry_update, the
// catch-all for faults the loop itself did not classify.
func CodeOf(err error) Code {
	var ce *CycleError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return CodeRegistryUpdate
}
