/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dbgp

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned for commands sent to, or pending on, a connection that has ended.
	ErrConnectionClosed = errors.New("debugger engine connection is closed")

	// ErrCommandTimeout is returned when the engine does not answer a command in time.
	// The connection that failed to answer is considered broken afterwards.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrNoFocusedConnection is returned when a command targets the focused connection, but no connection is stopped at a break.
	ErrNoFocusedConnection = errors.New("no debugger engine connection is paused")

	// ErrUnknownConnection is returned when a command targets a connection id that is not (or no longer) attached.
	ErrUnknownConnection = errors.New("unknown debugger engine connection")

	// ErrProtocolViolation is returned when the engine sends data that does not follow the DBGp protocol.
	ErrProtocolViolation = errors.New("DBGp protocol violation")

	// ErrMultiplexerDisposed is returned when using a multiplexer after Dispose() was called.
	ErrMultiplexerDisposed = errors.New("connection multiplexer is disposed")
)

// EngineError is an error reported by the debugger engine in response to a command.
type EngineError struct {
	Command string
	Code    int
	Message string
}

func (e *EngineError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("engine error %d for command '%s'", e.Code, e.Command)
	}
	return fmt.Sprintf("engine error %d for command '%s': %s", e.Code, e.Command, e.Message)
}

// IsConnectionError returns true if the error means the connection to the engine is no longer usable.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrCommandTimeout) ||
		errors.Is(err, ErrProtocolViolation)
}

// IsEngineError returns true if the engine processed the command and reported an error.
func IsEngineError(err error) bool {
	var engineErr *EngineError
	return errors.As(err, &engineErr)
}
