/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleObject is returned when a remote object id refers to a value from an earlier pause.
	ErrStaleObject = errors.New("remote object is no longer available")

	// ErrUnknownObject is returned for remote object ids that were never handed out, or were released.
	ErrUnknownObject = errors.New("unknown remote object")

	// ErrUnknownBreakpoint is returned when removing a breakpoint that does not exist.
	ErrUnknownBreakpoint = errors.New("unknown breakpoint")

	// ErrUnknownScript is returned when asking for the source of a script that was never reported.
	ErrUnknownScript = errors.New("unknown script")

	// ErrUnsupported is returned for commands that are understood, but cannot be carried out with DBGp.
	ErrUnsupported = errors.New("not supported by the debugger engine")

	// ErrInvalidParams is returned when command parameters are missing or have the wrong type.
	ErrInvalidParams = errors.New("invalid command parameters")
)

// unknownMethodError is returned by a handler that does not implement the requested verb.
type unknownMethodError struct {
	domain string
	verb   string
}

func (e *unknownMethodError) Error() string {
	return fmt.Sprintf("Unknown method: %s.%s", e.domain, e.verb)
}

func unknownMethod(domain, verb string) error {
	return &unknownMethodError{domain: domain, verb: verb}
}

// IsObjectError returns true if the error means a remote object id could not be resolved.
func IsObjectError(err error) bool {
	return errors.Is(err, ErrStaleObject) || errors.Is(err, ErrUnknownObject)
}
