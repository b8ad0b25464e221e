// ABOUTME: Error taxonomy shared by the gateway and the executor.
// ABOUTME: Every boundary-crossing failure is converted into one of five kinds before it leaves.

package protocol

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the coarse error category callers branch on.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindPolicy      Kind = "policy_denied"
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "channel_unavailable"
	KindExecution   Kind = "execution_failure"
)

// Code narrows a Kind to the specific condition.
type Code string

const (
	CodeMissingInput  Code = "missing_input"
	CodeUnknownTool   Code = "unknown_tool"
	CodePathEscape    Code = "path_escape"
	CodeNotAllowed    Code = "not_allowed"
	CodeNotFound      Code = "not_found"
	CodePatchConflict Code = "patch_conflict"
	CodeNoObservers   Code = "no_observers"
	CodeClosed        Code = "closed"
	CodeDeadline      Code = "deadline"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches sentinels by kind and, when the target has one, by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrValidation    = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrMissingInput  = &Error{Kind: KindValidation, Code: CodeMissingInput, Message: "missing input"}
	ErrUnknownTool   = &Error{Kind: KindValidation, Code: CodeUnknownTool, Message: "unknown tool"}
	ErrNotFound      = &Error{Kind: KindValidation, Code: CodeNotFound, Message: "not found"}
	ErrPolicyDenied  = &Error{Kind: KindPolicy, Message: "denied by policy"}
	ErrPathEscape    = &Error{Kind: KindPolicy, Code: CodePathEscape, Message: "path outside workspace root"}
	ErrNotAllowed    = &Error{Kind: KindPolicy, Code: CodeNotAllowed, Message: "command not allowed"}
	ErrTimeout       = &Error{Kind: KindTimeout, Message: "timed out"}
	ErrUnavailable   = &Error{Kind: KindUnavailable, Message: "executor not connected"}
	ErrChannelClosed = &Error{Kind: KindUnavailable, Code: CodeClosed, Message: "channel closed"}
	ErrNoObservers   = &Error{Kind: KindUnavailable, Code: CodeNoObservers, Message: "no observers connected"}
	ErrExecution     = &Error{Kind: KindExecution, Message: "execution failed"}
	ErrPatchConflict = &Error{Kind: KindExecution, Code: CodePatchConflict, Message: "patch does not apply cleanly"}
)

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError classifies err. Unclassified errors become execution failures;
// context deadlines become timeouts.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Message != err.Error() {
			return &Error{Kind: e.Kind, Code: e.Code, Message: err.Error()}
		}
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Code: CodeDeadline, Message: err.Error()}
	}
	return &Error{Kind: KindExecution, Message: err.Error()}
}

// KindOf returns the Kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}
