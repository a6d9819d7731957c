/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
)

const (
	runtimeObjectOwner = "runtime"
	executionContextID = 1
)

// debuggerPeer is what the Runtime domain needs from the Debugger domain.
// Remote objects stay owned by the handler that created them; the Runtime domain asks the owner to resolve them.
type debuggerPeer interface {
	getProperties(ctx context.Context, objectID string) ([]PropertyDescriptor, error)
	releaseStartGate()
}

// RuntimeHandler implements the Runtime domain: expression evaluation and object inspection.
type RuntimeHandler struct {
	callback *Callback
	mux      *dbgp.Multiplexer
	debugger debuggerPeer
	log      logr.Logger
	objects  *objectResolver
}

func newRuntimeHandler(callback *Callback, mux *dbgp.Multiplexer, debugger debuggerPeer, log logr.Logger) *RuntimeHandler {
	return &RuntimeHandler{
		callback: callback,
		mux:      mux,
		debugger: debugger,
		log:      log.WithName(RuntimeDomain),
		objects:  &objectResolver{mux: mux, table: NewObjectTable(runtimeObjectOwner)},
	}
}

func (h *RuntimeHandler) Domain() string {
	return RuntimeDomain
}

func (h *RuntimeHandler) Dispatch(ctx context.Context, _ int64, verb string, params json.RawMessage) (any, error) {
	switch verb {
	case "enable":
		h.callback.SendEvent("Runtime.executionContextCreated", map[string]any{
			"context": ExecutionContextDescription{
				ID:            executionContextID,
				Origin:        "",
				Name:          "HHVM",
				FrameID:       mainFrameID,
				IsPageContext: true,
			},
		})
		return emptyResult, nil
	case "disable":
		return emptyResult, nil
	case "evaluate":
		return h.evaluate(ctx, params)
	case "getProperties":
		return h.getProperties(ctx, params)
	case "releaseObject":
		return h.releaseObject(params)
	case "releaseObjectGroup":
		return h.releaseObjectGroup(params)
	case "runIfWaitingForDebugger":
		h.debugger.releaseStartGate()
		return emptyResult, nil
	case "callFunctionOn":
		return nil, fmt.Errorf("Runtime.callFunctionOn is %w", ErrUnsupported)
	default:
		return nil, unknownMethod(RuntimeDomain, verb)
	}
}

// Evaluates an expression in the global scope of the paused engine.
func (h *RuntimeHandler) evaluate(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Expression  string `json:"expression"`
		ObjectGroup string `json:"objectGroup"`
	}
	if decodeErr := decodeParams(params, &p); decodeErr != nil {
		return nil, decodeErr
	}

	focused, hasFocus := h.mux.Focused()
	if !hasFocus {
		return nil, dbgp.ErrNoFocusedConnection
	}

	resp, sendErr := h.mux.Send(ctx, focused, dbgp.EvalCommand(p.Expression))
	if dbgp.IsEngineError(sendErr) {
		return EvaluationResult{Result: errorObject(sendErr), WasThrown: true}, nil
	}
	if sendErr != nil {
		return nil, sendErr
	}
	if len(resp.Properties) == 0 {
		return EvaluationResult{Result: RemoteObject{Type: "undefined"}}, nil
	}

	origin := propertyOrigin{connection: focused, group: p.ObjectGroup}
	return EvaluationResult{Result: h.objects.remoteObject(origin, &resp.Properties[0])}, nil
}

func (h *RuntimeHandler) getProperties(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		ObjectID string `json:"objectId"`
	}
	if decodeErr := decodeParams(params, &p); decodeErr != nil {
		return nil, decodeErr
	}

	var descriptors []PropertyDescriptor
	var err error
	switch objectOwner(p.ObjectID) {
	case runtimeObjectOwner:
		descriptors, err = h.objects.getProperties(ctx, p.ObjectID)
	case debuggerObjectOwner:
		descriptors, err = h.debugger.getProperties(ctx, p.ObjectID)
	default:
		err = fmt.Errorf("%w: '%s'", ErrUnknownObject, p.ObjectID)
	}
	if err != nil {
		return nil, err
	}

	return map[string]any{"result": descriptors}, nil
}

func (h *RuntimeHandler) releaseObject(params json.RawMessage) (any, error) {
	var p struct {
		ObjectID string `json:"objectId"`
	}
	if decodeErr := decodeParams(params, &p); decodeErr != nil {
		return nil, decodeErr
	}
	h.objects.table.release(p.ObjectID)
	return emptyResult, nil
}

func (h *RuntimeHandler) releaseObjectGroup(params json.RawMessage) (any, error) {
	var p struct {
		ObjectGroup string `json:"objectGroup"`
	}
	if decodeErr := decodeParams(params, &p); decodeErr != nil {
		return nil, decodeErr
	}
	h.objects.table.releaseGroup(p.ObjectGroup)
	return emptyResult, nil
}

func (h *RuntimeHandler) connectionContinued(id dbgp.ConnectionID) {
	if h.objects.table.references(id) {
		h.objects.table.Advance()
	}
}

// Evaluation results refer to the engine state at the time of the pause, so they expire when execution continues.
func (h *RuntimeHandler) consumeEvents(_ context.Context, events <-chan dbgp.Event) {
	for e := range events {
		switch {
		case e.Kind == dbgp.StatusChanged && e.Status != dbgp.StatusBreak,
			e.Kind == dbgp.ConnectionEnded:
			h.connectionContinued(e.Connection.ID)
		case e.Kind == dbgp.SessionEnded:
			h.objects.table.Advance()
		}
	}
}

var _ Handler = (*RuntimeHandler)(nil)
var _ eventConsumer = (*RuntimeHandler)(nil)
var _ debuggerPeer = (*DebuggerHandler)(nil)
