package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies why an invocation failed.
type ErrorKind string

const (
	KindEmptyPrompt     ErrorKind = "empty_prompt"
	KindInvalidRequest  ErrorKind = "invalid_request"
	KindInvalidBackend  ErrorKind = "invalid_backend"
	KindBackendNotFound ErrorKind = "backend_not_found"
	KindNonZeroExit     ErrorKind = "non_zero_exit"
	KindTimeout         ErrorKind = "timeout"
)

// InvocationError is returned by a single invocation. ExitCode is only set
// for KindNonZeroExit.
type InvocationError struct {
	Kind     ErrorKind
	ExitCode *int
	Detail   string
	Message  string
}

func (e *InvocationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Detail != "" && e.Kind != KindNonZeroExit {
		return msg + ": " + e.Detail
	}
	return msg
}

// Code returns the exit code, or -1 when the process did not exit normally.
func (e *InvocationError) Code() int {
	if e.ExitCode == nil {
		return -1
	}
	return *e.ExitCode
}

// NewInvocationError builds an error of the given kind.
func NewInvocationError(kind ErrorKind, detail, format string, args ...any) *InvocationError {
	return &InvocationError{Kind: kind, Detail: detail, Message: fmt.Sprintf(format, args...)}
}

// ErrEmptyPrompt is the canonical empty prompt error.
func ErrEmptyPrompt() *InvocationError {
	return &InvocationError{Kind: KindEmptyPrompt, Message: "prompt cannot be empty"}
}

// NonZeroExit builds the error for a process that exited with code != 0.
func NonZeroExit(executable string, code int, detail string) *InvocationError {
	return &InvocationError{
		Kind:     KindNonZeroExit,
		ExitCode: &code,
		Detail:   detail,
		Message:  fmt.Sprintf("%s exited with code %d: %s", executable, code, detail),
	}
}

// KindOf returns the ErrorKind of the first InvocationError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var inv *InvocationError
	if errors.As(err, &inv) {
		return inv.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries an InvocationError of kind k.
func IsKind(err error, k ErrorKind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

// BatchError is raised by the fail-fast dispatcher once every unit has finished.
type BatchError struct {
	FirstIndex  int
	Cause       error
	FailedCount int
	TotalCount  int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("invocation %d failed: %v (%d of %d invocations failed)",
		e.FirstIndex, e.Cause, e.FailedCount, e.TotalCount)
}

func (e *BatchError) Unwrap() error {
	return e.Cause
}
