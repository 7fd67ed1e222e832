// Unified error handling for the printer host driver
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Transport errors: the serial link could not be opened or written.
	ErrTransport ErrorCode = "TRANSPORT"

	// Protocol errors: the firmware sent something we could not interpret.
	ErrProtocol ErrorCode = "PROTOCOL"

	// Motion errors
	ErrOutOfBounds ErrorCode = "OUT_OF_BOUNDS"

	// Caller errors
	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// Runtime errors
	ErrTimeout  ErrorCode = "TIMEOUT"
	ErrNotReady ErrorCode = "NOT_READY"

	// Configuration errors
	ErrConfig ErrorCode = "CONFIG"
)

// HostError is the unified error type for the host driver
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Axis is the offending axis for bounds violations ("X", "Y" or "Z")
	Axis string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetAxis sets the offending axis
func (e *HostError) SetAxis(axis string) *HostError {
	e.Axis = axis
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Transport errors

// TransportError creates an error for a failed open or write on the link
func TransportError(operation string, err error) *HostError {
	return Wrap(err, ErrTransport, fmt.Sprintf("transport %s failed", operation))
}

// Protocol errors

// ProtocolError creates an error for a firmware line that could not be parsed
func ProtocolError(reason, line string) *HostError {
	return New(ErrProtocol, reason).SetContext("line", line)
}

// Motion errors

// OutOfBoundsError creates an error for a target outside the machine envelope
func OutOfBoundsError(axis string, coord, max float64) *HostError {
	return New(ErrOutOfBounds, fmt.Sprintf("%s coordinate %g out of bounds [0, %g]", axis, coord, max)).
		SetAxis(axis)
}

// Caller errors

// InvalidArgumentError creates an error for a rejected argument
func InvalidArgumentError(name string, value interface{}) *HostError {
	return New(ErrInvalidArgument, fmt.Sprintf("invalid %s: '%v'", name, value))
}

// Runtime errors

// TimeoutError creates an error for a wait that exceeded its bound
func TimeoutError(waitingFor string, err error) *HostError {
	return Wrap(err, ErrTimeout, fmt.Sprintf("timed out waiting for %s", waitingFor))
}

// NotReadyError creates an error for an operation attempted before Init
func NotReadyError(state string) *HostError {
	return New(ErrNotReady, fmt.Sprintf("printer not ready (state: %s)", state))
}

// Configuration errors

// ConfigError wraps a configuration loading failure
func ConfigError(path string, err error) *HostError {
	return Wrap(err, ErrConfig, fmt.Sprintf("failed to load %s", path))
}

// Is checks if error, or any error it wraps, matches given error code
func Is(err error, code ErrorCode) bool {
	var hostErr *HostError
	for err != nil {
		if !stderrors.As(err, &hostErr) {
			return false
		}
		if hostErr.Code == code {
			return true
		}
		err = hostErr.Err
	}
	return false
}

// IsTransport checks if error is a transport error
func IsTransport(err error) bool {
	return Is(err, ErrTransport)
}

// IsProtocol checks if error is a protocol error
func IsProtocol(err error) bool {
	return Is(err, ErrProtocol)
}

// IsOutOfBounds checks if error is a bounds violation
func IsOutOfBounds(err error) bool {
	return Is(err, ErrOutOfBounds)
}

// IsTimeout checks if error is a timeout
func IsTimeout(err error) bool {
	return Is(err, ErrTimeout)
}
