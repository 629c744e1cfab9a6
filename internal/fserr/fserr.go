// Package fserr defines the error kinds the core distinguishes between,
// per the error handling design: per-item failures never abort a scan,
// structural failures always do, user input never mutates the store.
package fserr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for callers that need to branch on it (CLI
// exit codes, HTTP status mapping, retry policy) without inspecting
// concrete types.
type Kind int

const (
	// KindUserInput covers empty/invalid caller-supplied values. Never
	// mutates the store.
	KindUserInput Kind = iota
	// KindConflict covers attempts to do something the current state
	// forbids (start a scan while one is running, clear pause mid-unwind,
	// delete a running schedule).
	KindConflict
	// KindStorage covers serialisation failures and constraint
	// violations from the relational store.
	KindStorage
	// KindFatal covers unrecoverable exceptions inside a scan task;
	// triggers the Error terminal transition.
	KindFatal
	// KindInterrupt covers cooperative cancellation.
	KindInterrupt
)

func (k Kind) String() string {
	switch k {
	case KindUserInput:
		return "user_input"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	case KindFatal:
		return "fatal"
	case KindInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and a message intended
// for the caller.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Cause() error { return e.cause }

// New builds a Kind-tagged error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a Kind-tagged error around an existing cause, recording a
// stack trace at the call site via pkg/errors.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, cause: errors.WithStack(cause)}
}

// Is reports whether err (or something it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var fe *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			fe = e
			break
		}
		err = errors.Unwrap(err)
	}
	return fe != nil && fe.Kind == k
}

func UserInput(format string, args ...any) *Error {
	return New(KindUserInput, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func Storage(cause error, format string, args ...any) *Error {
	return Wrap(KindStorage, cause, fmt.Sprintf(format, args...))
}

func Fatal(cause error, format string, args ...any) *Error {
	return Wrap(KindFatal, cause, fmt.Sprintf(format, args...))
}

// ErrInterrupted is the sentinel a worker/walk loop returns when it
// observes the cooperative cancellation flag.
var ErrInterrupted = New(KindInterrupt, "interrupted")
