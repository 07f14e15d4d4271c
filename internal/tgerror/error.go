// Package tgerror provides the single typed Error used across the engine:
// a message, an optional call-site location, an optional wrapped cause, and
// a Kind identifying the construction site.
package tgerror

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind classifies an Error by the subsystem that constructed it, not by a
// bare discriminant.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalid
	KindSandbox
	KindProcessExit
	KindChecksumMismatch
	KindJSRuntime
	KindIO
	KindCancellation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindSandbox:
		return "sandbox"
	case KindProcessExit:
		return "process_exit"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	case KindJSRuntime:
		return "js_runtime"
	case KindIO:
		return "io"
	case KindCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// Error is the engine-wide error type. It is never produced by a panic —
// every fallible operation returns one of these through a normal result.
type Error struct {
	Kind     Kind
	Message  string
	Location string // file:line of the call site that constructed this Error
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind with no cause, capturing the
// caller's location.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Location: callerLocation(),
	}
}

// Wrap annotates cause with a human-readable message and call-site location,
// following a "WrapErr-style" propagation policy. If cause is already an
// *Error, its Kind is preserved unless overridden with WrapKind.
func Wrap(cause error, format string, args ...any) *Error {
	kind := KindUnknown
	var existing *Error
	if errors.As(cause, &existing) {
		kind = existing.Kind
	}
	return &Error{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Location: callerLocation(),
		Cause:    cause,
	}
}

// WrapKind is Wrap but pins the resulting Error's Kind explicitly — used at
// the evaluator boundary so a target failure and a task failure are
// distinguishable at the top level.
func WrapKind(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Location: callerLocation(),
		Cause:    cause,
	}
}

// Is reports whether the first *Error in err's chain has the given kind.
// Kinds of *Errors wrapped below it are not consulted, so a WrapKind error
// reports only its own kind, not its cause's.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Chain renders the error's wrap chain top-down, one line per frame, with
// the source-mapped location when present, matching the CLI's rendering
// contract.
func Chain(err error) []string {
	var lines []string
	for err != nil {
		var e *Error
		if errors.As(err, &e) {
			if e.Location != "" {
				lines = append(lines, fmt.Sprintf("%s (%s)", e.Message, e.Location))
			} else {
				lines = append(lines, e.Message)
			}
			err = e.Cause
			continue
		}
		lines = append(lines, err.Error())
		break
	}
	return lines
}

func callerLocation() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", file, line)
}
