/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
	"github.com/microsoft/dbgp-bridge/pkg/concurrency"
)

// SessionEndReason tells why a debugging session ended.
type SessionEndReason int

const (
	// The debugged script (or the last of the debugged requests) finished.
	SessionEndNormal SessionEndReason = iota
	// The last engine connection was lost or misbehaved.
	SessionEndBackendError
)

func (r SessionEndReason) String() string {
	switch r {
	case SessionEndNormal:
		return "normal"
	case SessionEndBackendError:
		return "backend error"
	default:
		return fmt.Sprintf("SessionEndReason(%d)", int(r))
	}
}

const (
	debuggerObjectOwner = "debugger"
	backtraceGroup      = "backtrace"
)

// DebuggerHandler implements the Debugger domain: breakpoints, stepping, call stacks and pause/resume events.
//
// Engine connections start out held at their first line (the start gate) until the front end
// signals it is ready (Runtime.runIfWaitingForDebugger), so that breakpoints are in place before any code runs.
type DebuggerHandler struct {
	callback *Callback
	mux      *dbgp.Multiplexer
	log      logr.Logger
	objects  *objectResolver
	scripts  *scriptRegistry

	// Serializes all work on the breakpoint store, including the engine round-trips that update it.
	breakpointsLock *concurrency.FifoLock
	breakpoints     *breakpointStore

	lock          *sync.Mutex
	paused        dbgp.ConnectionID // connection whose pause the front end is shown, 0 if none
	lastBreak     map[dbgp.ConnectionID]*dbgp.Response
	gateOpen      bool
	waitingAtGate map[dbgp.ConnectionID]bool
	skipAllPauses bool
	onEnd         []func(SessionEndReason)
	onContinued   []func(dbgp.ConnectionID)
	endNotified   bool
}

func newDebuggerHandler(callback *Callback, mux *dbgp.Multiplexer, log logr.Logger) *DebuggerHandler {
	return &DebuggerHandler{
		callback:        callback,
		mux:             mux,
		log:             log.WithName(DebuggerDomain),
		objects:         &objectResolver{mux: mux, table: NewObjectTable(debuggerObjectOwner)},
		scripts:         newScriptRegistry(),
		breakpointsLock: concurrency.NewFifoLock(),
		breakpoints:     newBreakpointStore(),
		lock:            &sync.Mutex{},
		lastBreak:       make(map[dbgp.ConnectionID]*dbgp.Response),
		waitingAtGate:   make(map[dbgp.ConnectionID]bool),
	}
}

func (h *DebuggerHandler) Domain() string {
	return DebuggerDomain
}

func (h *DebuggerHandler) Dispatch(ctx context.Context, _ int64, verb string, params json.RawMessage) (any, error) {
	switch verb {
	case "enable":
		return h.enable(ctx)
	case "disable", "setAsyncCallStackDepth", "skipStackFrames", "setOverlayMessage":
		return emptyResult, nil
	case "canSetScriptSource":
		return map[string]bool{"result": false}, nil
	case "pause":
		return h.pause(ctx)
	case "resume":
		return h.resume()
	case "stepInto":
		return h.step("step_into")
	case "stepOver":
		return h.step("step_over")
	case "stepOut":
		return h.step("step_out")
	case "setBreakpointByUrl":
		return h.setBreakpointByURL(ctx, params)
	case "removeBreakpoint":
		return h.removeBreakpoint(ctx, params)
	case "setBreakpointsActive":
		return h.setBreakpointsActive(ctx, params)
	case "setPauseOnExceptions":
		return h.setPauseOnExceptions(ctx, params)
	case "setSkipAllPauses":
		return h.setSkipAllPauses(params)
	case "evaluateOnCallFrame":
		return h.evaluateOnCallFrame(ctx, params)
	case "getScriptSource":
		return h.getScriptSource(ctx, params)
	default:
		return nil, unknownMethod(DebuggerDomain, verb)
	}
}

func (h *DebuggerHandler) onSessionEnd(callback func(SessionEndReason)) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.onEnd = append(h.onEnd, callback)
}

// onContinue registers a function that is called when the front end lets a paused engine continue,
// before the command that continued it is answered.
func (h *DebuggerHandler) onContinue(callback func(dbgp.ConnectionID)) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.onContinued = append(h.onContinued, callback)
}

func (h *DebuggerHandler) enable(ctx context.Context) (any, error) {
	// The front end may have been reloaded; tell it again about everything it may have missed.
	for _, s := range h.scripts.all() {
		h.sendScriptParsed(s)
	}

	h.lock.Lock()
	paused := h.paused
	h.lock.Unlock()
	if paused != 0 {
		h.showPaused(ctx, paused)
	}
	return emptyResult, nil
}

func (h *DebuggerHandler) pause(ctx context.Context) (any, error) {
	if _, hasFocus := h.mux.Focused(); hasFocus {
		return emptyResult, nil
	}

	for _, info := range h.mux.Connections() {
		if info.Status == dbgp.StatusRunning {
			if breakErr := h.mux.Break(ctx, info.ID); breakErr != nil {
				return nil, breakErr
			}
			return emptyResult, nil
		}
	}
	return emptyResult, nil
}

func (h *DebuggerHandler) resume() (any, error) {
	if _, hasFocus := h.mux.Focused(); !hasFocus {
		// Nothing is paused, but engines might be waiting to start.
		h.releaseStartGate()
		return emptyResult, nil
	}
	return h.continueFocused("run")
}

func (h *DebuggerHandler) step(command string) (any, error) {
	return h.continueFocused(command)
}

// Objects from the pause the engine leaves are dropped before the continuation is issued;
// once it is, another stopped engine may be focused and shown.
// The Debugger.resumed event follows when the status change comes through.
func (h *DebuggerHandler) continueFocused(command string) (any, error) {
	id, hasFocus := h.mux.Focused()
	if !hasFocus {
		return nil, dbgp.ErrNoFocusedConnection
	}

	h.objects.table.Advance()
	h.lock.Lock()
	callbacks := h.onContinued
	h.lock.Unlock()
	for _, callback := range callbacks {
		callback(id)
	}

	if _, resumeErr := h.mux.Resume(id, dbgp.NewCommand(command)); resumeErr != nil {
		return nil, resumeErr
	}
	return emptyResult, nil
}

// releaseStartGate lets engines that are waiting at their first line run, and lets later ones run right away.
func (h *DebuggerHandler) releaseStartGate() {
	h.lock.Lock()
	h.gateOpen = true
	waiting := h.waitingAtGate
	h.waitingAtGate = make(map[dbgp.ConnectionID]bool)
	h.lock.Unlock()

	for id := range waiting {
		h.run(id)
	}
}

func (h *DebuggerHandler) run(id dbgp.ConnectionID) {
	if _, resumeErr := h.mux.Resume(id, dbgp.NewCommand("run")); resumeErr != nil && !errors.Is(resumeErr, dbgp.ErrUnknownConnection) {
		h.log.Error(resumeErr, "Could not start engine", "Connection", int(id))
	}
}

// Breakpoints

func (h *DebuggerHandler) setBreakpointByURL(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		LineNumber *int   `json:"lineNumber"`
		URL        string `json:"url"`
		Condition  string `json:"condition"`
	}
	if decodeErr := decodeParams(params, &p); decodeErr != nil {
		return nil, decodeErr
	}
	if p.URL == "" || p.LineNumber == nil || *p.LineNumber < 0 {
		return nil, fmt.Errorf("%w: url and lineNumber are required", ErrInvalidParams)
	}

	if lockErr := h.breakpointsLock.Lock(ctx); lockErr != nil {
		return nil, lockErr
	}
	defer h.breakpointsLock.Unlock()

	bp := h.breakpoints.add(toFileURI(p.URL), *p.LineNumber+1, p.Condition)
	active := h.breakpoints.active

	results := h.mux.Broadcast(ctx, func(info dbgp.ConnectionInfo) *dbgp.Command {
		if _, present := h.breakpoints.engineID(info.ID, bp.id); present {
			return nil
		}
		cmd := bp.command()
		if !active {
			cmd = cmd.WithArg("s", "disabled")
		}
		return cmd
	})
	for _, r := range results {
		if r.Err != nil {
			h.log.Info("Engine did not accept breakpoint", "Connection", int(r.ConnectionID), "File", bp.fileURI, "Line", bp.line, "Error", r.Err.Error())
			continue
		}
		h.breakpoints.recordSet(r.ConnectionID, bp.id, r.Response.ID, active)
	}

	return map[string]any{
		"breakpointId": bp.id,
		"locations":    []Location{},
	}, nil
}

func (h *DebuggerHandler) removeBreakpoint(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		BreakpointID string `json:"breakpointId"`
	}
	if decodeErr := decodeParams(params, &p); decodeErr != nil {
		return nil, decodeErr
	}

	if lockErr := h.breakpointsLock.Lock(ctx); lockErr != nil {
		return nil, lockErr
	}
	defer h.breakpointsLock.Unlock()

	if !h.breakpoints.remove(p.BreakpointID) {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownBreakpoint, p.BreakpointID)
	}

	results := h.mux.Broadcast(ctx, func(info dbgp.ConnectionInfo) *dbgp.Command {
		if engineID, present := h.breakpoints.engineID(info.ID, p.BreakpointID); present {
			return dbgp.BreakpointRemoveCommand(engineID)
		}
		return nil
	})
	for _, r := range results {
		// An engine that does not know the breakpoint does not have it either.
		if r.Err == nil || dbgp.IsEngineError(r.Err) {
			h.breakpoints.recordRemoved(r.ConnectionID, p.BreakpointID)
		}
	}

	return emptyResult, nil
}

func (h *DebuggerHandler) setBreakpointsActive(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Active bool `json:"active"`
	}
	if decodeErr := decodeParams(params, &p); decodeErr != nil {
		return nil, decodeErr
	}

	if lockErr := h.breakpointsLock.Lock(ctx); lockErr != nil {
		return nil, lockErr
	}
	defer h.breakpointsLock.Unlock()

	h.breakpoints.active = p.Active
	return emptyResult, h.syncAllBreakpoints(ctx)
}

func (h *DebuggerHandler) setPauseOnExceptions(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		State pauseOnExceptionsState `json:"state"`
	}
	if decodeErr := decodeParams(params, &p); decodeErr != nil {
		return nil, decodeErr
	}
	switch p.State {
	case pauseOnNoExceptions, pauseOnUncaughtExceptions, pauseOnAllExceptions:
	default:
		return nil, fmt.Errorf("%w: unknown pause on exceptions state '%s'", ErrInvalidParams, p.State)
	}

	if lockErr := h.breakpointsLock.Lock(ctx); lockErr != nil {
		return nil, lockErr
	}
	defer h.breakpointsLock.Unlock()

	h.breakpoints.pauseOnExceptions = p.State
	return emptyResult, h.syncAllBreakpoints(ctx)
}

// Brings every connection that can take commands up to date. Must be called with breakpointsLock held.
func (h *DebuggerHandler) syncAllBreakpoints(ctx context.Context) error {
	for _, info := range h.mux.Connections() {
		if info.Status == dbgp.StatusRunning {
			continue
		}
		if syncErr := h.syncBreakpoints(ctx, info.ID); syncErr != nil {
			if ctx.Err() != nil {
				return syncErr
			}
			h.log.V(1).Info("Could not update breakpoints", "Connection", int(info.ID), "Error", syncErr.Error())
		}
	}
	return nil
}

// Brings the breakpoints of one connection up to date. Must be called with breakpointsLock held.
func (h *DebuggerHandler) syncBreakpoints(ctx context.Context, conn dbgp.ConnectionID) error {
	for _, change := range h.breakpoints.changes(conn) {
		resp, sendErr := h.mux.Send(ctx, conn, change.cmd)
		if sendErr != nil && !dbgp.IsEngineError(sendErr) {
			return sendErr
		}

		switch change.kind {
		case breakpointAdded:
			if sendErr != nil {
				h.log.Info("Engine did not accept breakpoint", "Connection", int(conn), "Command", change.cmd.String(), "Error", sendErr.Error())
				continue
			}
			h.breakpoints.recordSet(conn, change.key, resp.ID, change.enabled)

		case breakpointRemoved:
			h.breakpoints.recordRemoved(conn, change.key)

		case breakpointUpdated:
			if sendErr != nil {
				continue
			}
			if engineID, present := h.breakpoints.engineID(conn, change.key); present {
				h.breakpoints.recordSet(conn, change.key, engineID, change.enabled)
			}
		}
	}
	return nil
}

func (h *DebuggerHandler) setSkipAllPauses(params json.RawMessage) (any, error) {
	var p struct {
		Skipped bool `json:"skipped"`
		Skip    bool `json:"skip"`
	}
	if decodeErr := decodeParams(params, &p); decodeErr != nil {
		return nil, decodeErr
	}

	h.lock.Lock()
	defer h.lock.Unlock()
	h.skipAllPauses = p.Skipped || p.Skip
	return emptyResult, nil
}

// Inspection

func (h *DebuggerHandler) evaluateOnCallFrame(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		CallFrameID string `json:"callFrameId"`
		Expression  string `json:"expression"`
		ObjectGroup string `json:"objectGroup"`
	}
	if decodeErr := decodeParams(params, &p); decodeErr != nil {
		return nil, decodeErr
	}

	frame, lookupErr := h.objects.table.lookup(p.CallFrameID)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if frame.kind != frameHandle {
		return nil, fmt.Errorf("%w: '%s' is not a call frame", ErrInvalidParams, p.CallFrameID)
	}

	resp, sendErr := h.mux.Send(ctx, frame.connection, dbgp.PropertyGetCommand(frame.depth, 0, p.Expression, 0))
	if dbgp.IsEngineError(sendErr) {
		return EvaluationResult{Result: errorObject(sendErr), WasThrown: true}, nil
	}
	if sendErr != nil {
		return nil, sendErr
	}
	if len(resp.Properties) == 0 {
		return EvaluationResult{Result: RemoteObject{Type: "undefined"}}, nil
	}

	group := p.ObjectGroup
	if group == "" {
		group = backtraceGroup
	}
	origin := propertyOrigin{connection: frame.connection, depth: frame.depth, group: group}
	return EvaluationResult{Result: h.objects.remoteObject(origin, &resp.Properties[0])}, nil
}

func (h *DebuggerHandler) getScriptSource(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		ScriptID string `json:"scriptId"`
	}
	if decodeErr := decodeParams(params, &p); decodeErr != nil {
		return nil, decodeErr
	}

	s, found := h.scripts.byScriptID(p.ScriptID)
	if !found {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownScript, p.ScriptID)
	}

	resp, sendErr := h.mux.Send(ctx, h.sourceConnection(s), dbgp.SourceCommand(s.url))
	if sendErr != nil {
		return nil, sendErr
	}
	source, decodeErr := resp.Text()
	if decodeErr != nil {
		return nil, decodeErr
	}
	return map[string]string{"scriptSource": source}, nil
}

// Picks a connection that can answer a source command right now. Running engines cannot.
func (h *DebuggerHandler) sourceConnection(s script) dbgp.ConnectionID {
	if info, found := h.mux.Connection(s.connection); found && info.Status != dbgp.StatusRunning {
		return s.connection
	}
	if focused, hasFocus := h.mux.Focused(); hasFocus {
		return focused
	}
	for _, info := range h.mux.Connections() {
		if info.Status != dbgp.StatusRunning {
			return info.ID
		}
	}
	return s.connection
}

// getProperties resolves remote objects handed out by the Debugger domain (scopes and their variables)
// on behalf of the Runtime domain.
func (h *DebuggerHandler) getProperties(ctx context.Context, objectID string) ([]PropertyDescriptor, error) {
	return h.objects.getProperties(ctx, objectID)
}

// Engine events

func (h *DebuggerHandler) consumeEvents(ctx context.Context, events <-chan dbgp.Event) {
	for e := range events {
		switch e.Kind {
		case dbgp.ConnectionAttached:
			h.connectionAttached(ctx, e.Connection.ID)

		case dbgp.StatusChanged:
			if e.Status == dbgp.StatusBreak {
				h.connectionStopped(ctx, e.Connection.ID, e.Response)
			} else {
				h.connectionResumed(e.Connection.ID)
			}

		case dbgp.FocusChanged:
			h.lock.Lock()
			alreadyShown := h.paused == e.Connection.ID
			h.lock.Unlock()
			if !alreadyShown {
				h.showPaused(ctx, e.Connection.ID)
			}

		case dbgp.NotifyReceived:
			if e.Notify.Name == "breakpoint_resolved" && e.Notify.Breakpoint != nil {
				h.breakpointResolved(ctx, e.Connection.ID, e.Notify.Breakpoint)
			}

		case dbgp.ConnectionEnded:
			h.connectionEnded(ctx, e.Connection.ID)

		case dbgp.SessionEnded:
			h.sessionEnded(e.Reason)
		}
	}
}

func (h *DebuggerHandler) connectionAttached(ctx context.Context, id dbgp.ConnectionID) {
	if lockErr := h.breakpointsLock.Lock(ctx); lockErr != nil {
		return
	}
	syncErr := h.syncBreakpoints(ctx, id)
	h.breakpointsLock.Unlock()
	if syncErr != nil {
		h.log.Error(syncErr, "Could not set breakpoints for new engine connection", "Connection", int(id))
		return
	}

	h.lock.Lock()
	gateOpen := h.gateOpen
	if !gateOpen {
		h.waitingAtGate[id] = true
	}
	h.lock.Unlock()

	if gateOpen {
		h.run(id)
	}
}

func (h *DebuggerHandler) connectionStopped(ctx context.Context, id dbgp.ConnectionID, resp *dbgp.Response) {
	h.lock.Lock()
	h.lastBreak[id] = resp
	skip := h.skipAllPauses
	h.lock.Unlock()

	// Breakpoint changes made while the engine was running could not reach it until now.
	if lockErr := h.breakpointsLock.Lock(ctx); lockErr != nil {
		return
	}
	syncErr := h.syncBreakpoints(ctx, id)
	h.breakpointsLock.Unlock()
	if syncErr != nil {
		h.log.V(1).Info("Could not update breakpoints", "Connection", int(id), "Error", syncErr.Error())
	}

	if skip {
		h.run(id)
		return
	}

	if focused, hasFocus := h.mux.Focused(); hasFocus && focused == id {
		h.showPaused(ctx, id)
	}
}

// Tells the front end that execution stopped on the given connection.
func (h *DebuggerHandler) showPaused(ctx context.Context, id dbgp.ConnectionID) {
	h.lock.Lock()
	previous := h.paused
	resp := h.lastBreak[id]
	h.lock.Unlock()

	if previous != 0 && previous != id {
		h.connectionResumed(previous)
	}

	callFrames, framesErr := h.callFrames(ctx, id)
	if framesErr != nil {
		h.log.Error(framesErr, "Could not retrieve call stack of paused engine", "Connection", int(id))
		return
	}

	params := pausedParams{CallFrames: callFrames, Reason: "other"}
	if resp != nil && resp.Message != nil && resp.Message.Exception != "" {
		params.Reason = "exception"
		params.Data = &RemoteObject{
			Type:        "object",
			Subtype:     "error",
			ClassName:   resp.Message.Exception,
			Description: resp.Message.Exception + ": " + resp.Message.Text,
		}
	}

	h.lock.Lock()
	h.paused = id
	h.lock.Unlock()
	h.callback.SendEvent("Debugger.paused", params)
}

func (h *DebuggerHandler) callFrames(ctx context.Context, id dbgp.ConnectionID) ([]CallFrame, error) {
	stackResp, stackErr := h.mux.Send(ctx, id, dbgp.StackGetCommand())
	if stackErr != nil {
		return nil, stackErr
	}

	var contexts []dbgp.ContextName
	if namesResp, namesErr := h.mux.Send(ctx, id, dbgp.ContextNamesCommand(0)); namesErr == nil {
		contexts = namesResp.Contexts
	} else if !dbgp.IsEngineError(namesErr) {
		return nil, namesErr
	}

	callFrames := make([]CallFrame, 0, len(stackResp.Stack))
	for _, frame := range stackResp.Stack {
		s := h.ensureScript(frame.Filename, id)
		origin := propertyOrigin{connection: id, depth: frame.Level, group: backtraceGroup}

		scopes := make([]Scope, 0, len(contexts))
		for _, c := range contexts {
			scopeOrigin := origin
			scopeOrigin.contextID = c.ID
			scopes = append(scopes, Scope{
				Type:   scopeType(c),
				Object: h.objects.scopeObject(scopeOrigin, c.Name),
				Name:   c.Name,
			})
		}

		callFrames = append(callFrames, CallFrame{
			CallFrameID:  h.objects.table.add(objectHandle{kind: frameHandle, connection: id, depth: frame.Level, group: backtraceGroup}),
			FunctionName: frame.Where,
			Location:     Location{ScriptID: s.id, LineNumber: max(frame.LineNo-1, 0)},
			ScopeChain:   scopes,
			This:         RemoteObject{Type: "undefined"},
		})
	}
	return callFrames, nil
}

func scopeType(c dbgp.ContextName) string {
	if c.ID == 0 {
		return "local"
	}
	return "global"
}

func (h *DebuggerHandler) connectionResumed(id dbgp.ConnectionID) {
	h.lock.Lock()
	if h.paused != id {
		h.lock.Unlock()
		return
	}
	h.paused = 0
	h.lock.Unlock()

	h.objects.table.Advance()
	h.callback.SendEvent("Debugger.resumed", nil)
}

func (h *DebuggerHandler) breakpointResolved(ctx context.Context, id dbgp.ConnectionID, engineBP *dbgp.Breakpoint) {
	if lockErr := h.breakpointsLock.Lock(ctx); lockErr != nil {
		return
	}
	breakpointID, found := h.breakpoints.frontEndID(id, engineBP.ID)
	var fileURI string
	if found {
		fileURI = h.breakpoints.breakpoints[breakpointID].fileURI
	}
	h.breakpointsLock.Unlock()

	if !found || engineBP.LineNo <= 0 {
		return
	}
	if engineBP.Filename != "" {
		fileURI = engineBP.Filename
	}

	s := h.ensureScript(fileURI, id)
	h.callback.SendEvent("Debugger.breakpointResolved", breakpointResolvedParams{
		BreakpointID: breakpointID,
		Location:     Location{ScriptID: s.id, LineNumber: engineBP.LineNo - 1},
	})
}

func (h *DebuggerHandler) connectionEnded(ctx context.Context, id dbgp.ConnectionID) {
	h.lock.Lock()
	delete(h.lastBreak, id)
	delete(h.waitingAtGate, id)
	h.lock.Unlock()

	if lockErr := h.breakpointsLock.Lock(ctx); lockErr == nil {
		h.breakpoints.forget(id)
		h.breakpointsLock.Unlock()
	}

	h.connectionResumed(id)
}

func (h *DebuggerHandler) sessionEnded(reason dbgp.EndReason) {
	h.objects.table.Advance()
	h.scripts.reset()

	endReason := SessionEndNormal
	if reason == dbgp.EndReasonError {
		endReason = SessionEndBackendError
	}

	h.lock.Lock()
	if h.endNotified {
		h.lock.Unlock()
		return
	}
	h.endNotified = true
	callbacks := h.onEnd
	h.lock.Unlock()

	h.log.Info("Debugging session ended", "Reason", endReason.String())
	for _, callback := range callbacks {
		callback(endReason)
	}
}

// Returns the script for a file, telling the front end about it if it is new.
func (h *DebuggerHandler) ensureScript(fileURI string, conn dbgp.ConnectionID) script {
	s, isNew := h.scripts.ensure(fileURI, conn)
	if isNew {
		h.sendScriptParsed(s)
	}
	return s
}

func (h *DebuggerHandler) sendScriptParsed(s script) {
	h.callback.SendEvent("Debugger.scriptParsed", scriptParsedParams{ScriptID: s.id, URL: s.url})
}

func errorObject(err error) RemoteObject {
	description := err.Error()
	var engineErr *dbgp.EngineError
	if errors.As(err, &engineErr) && engineErr.Message != "" {
		description = engineErr.Message
	}
	return RemoteObject{Type: "object", Subtype: "error", ClassName: "Error", Description: description}
}

var _ Handler = (*DebuggerHandler)(nil)
var _ eventConsumer = (*DebuggerHandler)(nil)
