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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
	"github.com/microsoft/dbgp-bridge/internal/telemetry"
	"github.com/microsoft/dbgp-bridge/pkg/resiliency"
)

type TranslatorConfig struct {
	// Which engine connections to accept and how to talk to them.
	Connection dbgp.ConnectionConfig

	// Receives serialized replies and events.
	Sink Sink

	// Upper bound for handling a single command, including all engine round-trips it needs.
	// Zero means dbgp.DefaultCommandTimeout; a negative value disables the bound.
	CommandTimeout time.Duration

	Logger logr.Logger
}

func (c TranslatorConfig) withDefaults() TranslatorConfig {
	if c.CommandTimeout == 0 {
		c.CommandTimeout = dbgp.DefaultCommandTimeout
	}
	if c.Logger.GetSink() == nil {
		c.Logger = logr.Discard()
	}
	if c.Connection.Logger.GetSink() == nil {
		c.Connection.Logger = c.Logger
	}
	return c
}

// Translator serves one debugging session: it routes Chrome DevTools protocol commands to the domain handlers
// and owns the engine connection multiplexer they share.
type Translator struct {
	config   TranslatorConfig
	log      logr.Logger
	mux      *dbgp.Multiplexer
	callback *Callback
	handlers map[string]Handler
	debugger *DebuggerHandler

	lifetimeCtx context.Context
	cancel      context.CancelFunc
	disposed    atomic.Bool
	disposeOnce sync.Once
	dispatches  sync.WaitGroup
	consumers   sync.WaitGroup

	tracer          trace.Tracer
	commandCounter  metric.Int64Counter
	commandDuration metric.Float64Histogram
}

// NewTranslator creates a session with the Debugger, Page, Console and Runtime domains.
// Call Start() to begin accepting engine connections.
func NewTranslator(config TranslatorConfig) *Translator {
	config = config.withDefaults()
	mux := dbgp.NewMultiplexer(config.Connection)
	t := newTranslator(config, mux)

	t.debugger = newDebuggerHandler(t.callback, mux, t.log)
	t.addHandler(t.debugger)
	t.addHandler(newPageHandler(t.callback, t.log))
	t.addHandler(newConsoleHandler(t.callback, t.log))
	runtime := newRuntimeHandler(t.callback, mux, t.debugger, t.log)
	t.debugger.onContinue(runtime.connectionContinued)
	t.addHandler(runtime)
	return t
}

func newTranslator(config TranslatorConfig, mux *dbgp.Multiplexer) *Translator {
	lifetimeCtx, cancel := context.WithCancel(context.Background())
	ts := telemetry.GetTelemetrySystem()
	meter := ts.MeterProvider.Meter("bridge")
	log := config.Logger.WithName("Translator")

	return &Translator{
		config:      config,
		log:         log,
		mux:         mux,
		callback:    NewCallback(config.Sink, log),
		handlers:    make(map[string]Handler),
		lifetimeCtx: lifetimeCtx,
		cancel:      cancel,

		tracer:          ts.TracerProvider.Tracer("bridge"),
		commandCounter:  telemetry.NewInt64Counter(meter, "cdp_commands", "Chrome DevTools protocol commands handled"),
		commandDuration: telemetry.NewDurationHistogram(meter, "cdp_command_duration", "Time to handle a Chrome DevTools protocol command"),
	}
}

// Handlers are registered while the session is constructed and never change afterwards.
// Handlers that react to engine activity are subscribed right away, so they see every connection.
func (t *Translator) addHandler(h Handler) {
	t.handlers[h.Domain()] = h

	if consumer, isConsumer := h.(eventConsumer); isConsumer {
		events := t.mux.Subscribe(t.lifetimeCtx)
		t.consumers.Add(1)
		go func() {
			defer t.consumers.Done()
			consumer.consumeEvents(t.lifetimeCtx, events)
		}()
	}
}

// Start begins accepting debugger engine connections.
func (t *Translator) Start(ctx context.Context) error {
	if t.disposed.Load() {
		return dbgp.ErrMultiplexerDisposed
	}
	return t.mux.Start(ctx)
}

// EngineAddr returns the address engines should connect to, or "" if the session does not listen for engines.
func (t *Translator) EngineAddr() string {
	if addr := t.mux.ListenAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// OnSessionEnd registers a function that is called once, when the debugging session ends.
func (t *Translator) OnSessionEnd(callback func(reason SessionEndReason)) {
	if t.debugger != nil {
		t.debugger.onSessionEnd(callback)
	}
}

// HandleCommand processes one command envelope. Exactly one reply is delivered for it, asynchronously
// for commands that reach a handler.
func (t *Translator) HandleCommand(raw string) {
	if t.disposed.Load() {
		t.log.V(1).Info("Ignoring command received after the session was disposed")
		return
	}
	t.log.V(2).Info("Handling command", "Command", raw)

	var envelope struct {
		ID     *int64          `json:"id"`
		Method json.RawMessage `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if parseErr := json.Unmarshal([]byte(raw), &envelope); parseErr != nil {
		t.replyWithError(nil, fmt.Sprintf("Failed to parse command: %s", parseErr.Error()))
		return
	}

	id := envelope.ID
	if id != nil && !t.callback.expect(*id) {
		t.log.Info("Command id is already in use by another command, the reply will not be correlated", "ID", *id)
		id = nil
	}

	var method string
	if len(envelope.Method) == 0 || json.Unmarshal(envelope.Method, &method) != nil || method == "" {
		t.replyWithError(id, "Missing method: "+raw)
		return
	}

	domain, verb, found := strings.Cut(method, ".")
	if !found || domain == "" || verb == "" || strings.Contains(verb, ".") {
		t.replyWithError(id, "Badly formatted method: "+raw)
		return
	}

	handler, known := t.handlers[domain]
	if !known {
		t.replyWithError(id, "Unknown domain: "+raw)
		return
	}

	params := envelope.Params
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage("{}")
	}

	t.dispatches.Add(1)
	go func() {
		defer t.dispatches.Done()
		t.dispatch(handler, id, verb, params)
	}()
}

func (t *Translator) dispatch(handler Handler, id *int64, verb string, params json.RawMessage) {
	ctx := t.lifetimeCtx
	if t.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.CommandTimeout)
		defer cancel()
	}

	var numericID int64
	if id != nil {
		numericID = *id
	}
	method := handler.Domain() + "." + verb

	start := time.Now()
	result, err := telemetry.CallWithTelemetry(t.tracer, "cdp."+method, ctx, func(spanCtx context.Context) (result any, err error) {
		defer func() {
			if panicErr := resiliency.MakePanicError(recover(), t.log); panicErr != nil {
				result = nil
				err = panicErr
			}
		}()
		return handler.Dispatch(spanCtx, numericID, verb, params)
	}, attribute.String("method", method), telemetry.SuppressIfSuccessful())

	outcome := "success"
	var unknownMethodErr *unknownMethodError
	switch {
	case err == nil:
		t.callback.Reply(id, result)

	case errors.As(err, &unknownMethodErr):
		outcome = "unknown_method"
		t.replyWithError(id, err.Error())

	case errors.Is(err, dbgp.ErrCommandTimeout) || errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
		t.replyWithError(id, "Command timed out")

	default:
		outcome = "error"
		t.log.Error(err, "Command failed", "Method", method, "ID", numericID)
		t.replyWithError(id, "Error handling command: "+err.Error())
	}

	attrs := metric.WithAttributes(attribute.String("domain", handler.Domain()), attribute.String("outcome", outcome))
	t.commandCounter.Add(context.Background(), 1, attrs)
	t.commandDuration.Record(context.Background(), time.Since(start).Seconds(), attrs)
}

func (t *Translator) replyWithError(id *int64, message string) {
	t.log.V(1).Info("Replying with error", "Error", message)
	t.callback.ReplyWithError(id, message)
}

// Dispose ends the session: all engine connections are closed and nothing is delivered to the sink anymore.
// Calling it more than once has no further effect.
func (t *Translator) Dispose() {
	t.disposeOnce.Do(func() {
		t.disposed.Store(true)
		t.callback.Close()
		t.mux.Dispose()
		t.cancel()
		t.log.V(1).Info("Debugging session disposed")
	})
}

// Wait blocks until all commands that were being handled have been replied to,
// and, after Dispose(), until handlers stopped processing engine events.
func (t *Translator) Wait() {
	t.dispatches.Wait()
	if t.disposed.Load() {
		t.consumers.Wait()
	}
}
