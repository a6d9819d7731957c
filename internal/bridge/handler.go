/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"context"
	"encoding/json"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
)

const (
	DebuggerDomain = "Debugger"
	PageDomain     = "Page"
	ConsoleDomain  = "Console"
	RuntimeDomain  = "Runtime"
)

// Handler translates the commands of one Chrome DevTools protocol domain.
//
// Dispatch is called on its own goroutine for every command addressed to the domain.
// The returned value becomes the result of the reply; a returned error becomes an error reply.
// Handlers may emit any number of events through their Callback.
type Handler interface {
	Domain() string
	Dispatch(ctx context.Context, id int64, verb string, params json.RawMessage) (any, error)
}

// eventConsumer is implemented by handlers that react to engine activity.
// consumeEvents runs until the event channel is closed; ctx ends when the session is disposed.
type eventConsumer interface {
	consumeEvents(ctx context.Context, events <-chan dbgp.Event)
}
