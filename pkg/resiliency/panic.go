/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"fmt"
	"runtime/debug"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
)

// PanicError is a panic recovered at the top of a goroutine: an engine reader, a command handler, or main.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was an error, so errors.Is works on re-panicked errors.
func (e *PanicError) Unwrap() error {
	if err, isError := e.Value.(error); isError {
		return err
	}
	return nil
}

// MakePanicError turns the result of recover() into an error and logs it with the stack of the panicking goroutine.
// It returns nil if there was no panic. The error is permanent, so retry loops give up on it.
func MakePanicError(recovered any, log logr.Logger) error {
	if recovered == nil {
		return nil
	}

	panicErr := &PanicError{Value: recovered, Stack: string(debug.Stack())}
	log.Error(panicErr, "Recovered from panic", "Stack", panicErr.Stack)
	return backoff.Permanent(panicErr)
}
