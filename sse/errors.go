// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sse

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType classifies an [Error].
type ErrorType string

const (
	// ProtocolViolation marks a malformed call: missing or undecodable header,
	// wrong row width, wrong column type. Fatal to the call.
	ProtocolViolation ErrorType = "ProtocolViolation"
	// UnknownFunction marks a call whose function id is not in the table.
	UnknownFunction ErrorType = "UnknownFunction"
	// StreamCancelled marks a call abandoned because the peer went away or
	// the call context was cancelled.
	StreamCancelled ErrorType = "StreamCancelled"
	// FunctionError marks a failure inside a function implementation.
	FunctionError ErrorType = "FunctionError"
)

// Sentinels for use with errors.Is.
var (
	ErrProtocolViolation = &Error{Type: ProtocolViolation}
	ErrUnknownFunction   = &Error{Type: UnknownFunction}
	ErrStreamCancelled   = &Error{Type: StreamCancelled}
	ErrFunction          = &Error{Type: FunctionError}
)

// Error is the error type returned from call setup and execution.
type Error struct {
	Type       ErrorType
	Message    string
	FunctionID int32
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Type. A target with an empty Type
// matches every *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == "" || t.Type == e.Type
}

func protocolErrorf(format string, args ...any) *Error {
	return &Error{Type: ProtocolViolation, Message: fmt.Sprintf(format, args...)}
}

// cancelled wraps a context error, keeping an existing *Error as is.
func cancelled(id int32, cause error) *Error {
	var e *Error
	if errors.As(cause, &e) {
		return e
	}
	return &Error{Type: StreamCancelled, Message: "call cancelled", FunctionID: id, Err: cause}
}

// isCancellation reports whether err comes from a cancelled or expired context.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// typeOf returns the ErrorType of err, or FunctionError for foreign errors.
func typeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return FunctionError
}
