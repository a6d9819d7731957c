/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dbgp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/smallnest/chanx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/microsoft/dbgp-bridge/internal/telemetry"
)

type EventKind int

const (
	// A new engine connection passed the filters and finished setup.
	ConnectionAttached EventKind = iota
	// The engine status changed. A change to StatusBreak also moves focus to the connection.
	StatusChanged
	// Focus moved to a connection that was already stopped at a break,
	// because the previously focused connection resumed or went away.
	FocusChanged
	// The engine copied program output to the IDE.
	StreamReceived
	// The engine sent an asynchronous notification.
	NotifyReceived
	// The connection is gone. Reason tells whether it ended normally.
	ConnectionEnded
	// The last connection went away and the session is configured to end when that happens.
	SessionEnded
)

func (k EventKind) String() string {
	switch k {
	case ConnectionAttached:
		return "ConnectionAttached"
	case StatusChanged:
		return "StatusChanged"
	case FocusChanged:
		return "FocusChanged"
	case StreamReceived:
		return "StreamReceived"
	case NotifyReceived:
		return "NotifyReceived"
	case ConnectionEnded:
		return "ConnectionEnded"
	case SessionEnded:
		return "SessionEnded"
	default:
		return "EventKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Event describes something that happened to one of the connections of a Multiplexer.
// Events that concern the same connection are delivered in the order in which they happened.
type Event struct {
	Kind       EventKind
	Connection ConnectionInfo // zero value for SessionEnded
	Status     Status         // StatusChanged
	Response   *Response      // StatusChanged: the response that carried the new status, nil if the bridge changed it
	Stream     *Stream        // StreamReceived
	Notify     *Notify        // NotifyReceived
	Reason     EndReason      // ConnectionEnded and SessionEnded
	Err        error          // ConnectionEnded: the failure, if any
}

// BroadcastResult is the outcome of a broadcast command on a single connection.
type BroadcastResult struct {
	ConnectionID ConnectionID
	Response     *Response
	Err          error
}

type subscriber struct {
	ctx context.Context
	ch  *chanx.UnboundedChan[Event]
}

// Multiplexer manages all engine connections of a debugging session.
//
// The Multiplexer maintains focus: the focused connection is the one that most recently stopped at a break.
// Focus is always either unset or a live connection in the break state. Commands sent to the Focused
// target go to that connection.
type Multiplexer struct {
	config ConnectionConfig
	log    logr.Logger

	lifetimeCtx context.Context
	cancel      context.CancelFunc

	lock         *sync.Mutex
	connections  map[ConnectionID]*Connection
	announced    map[ConnectionID]bool
	focused      ConnectionID
	nextID       ConnectionID
	breakSeq     uint64
	lastBreak    map[ConnectionID]uint64 // order in which connections last stopped
	disposed     bool
	sessionEnded bool
	connector    *Connector

	subscribersLock *sync.Mutex
	subscribers     map[*subscriber]struct{}

	wg          sync.WaitGroup
	disposeOnce sync.Once

	tracer            trace.Tracer
	commandCounter    metric.Int64Counter
	timeoutCounter    metric.Int64Counter
	activeConnections metric.Int64UpDownCounter
	commandLatency    metric.Float64Histogram
}

func NewMultiplexer(config ConnectionConfig) *Multiplexer {
	config = config.withDefaults()
	lifetimeCtx, cancel := context.WithCancel(context.Background())
	ts := telemetry.GetTelemetrySystem()
	meter := ts.MeterProvider.Meter("dbgp")

	return &Multiplexer{
		config:          config,
		log:             config.Logger.WithName("Multiplexer"),
		lifetimeCtx:     lifetimeCtx,
		cancel:          cancel,
		lock:            &sync.Mutex{},
		connections:     make(map[ConnectionID]*Connection),
		announced:       make(map[ConnectionID]bool),
		lastBreak:       make(map[ConnectionID]uint64),
		subscribersLock: &sync.Mutex{},
		subscribers:     make(map[*subscriber]struct{}),

		tracer:            ts.TracerProvider.Tracer("dbgp"),
		commandCounter:    telemetry.NewInt64Counter(meter, "engine_commands", "Commands sent to debugger engines"),
		timeoutCounter:    telemetry.NewInt64Counter(meter, "engine_command_timeouts", "Commands that debugger engines failed to answer in time"),
		activeConnections: telemetry.NewInt64UpDownCounter(meter, "engine_connections", "Attached debugger engine connections"),
		commandLatency:    telemetry.NewDurationHistogram(meter, "engine_command_duration", "Round-trip time of commands sent to debugger engines"),
	}
}

// Start begins listening for engine connections, unless listening is disabled by a negative port.
// Listening stops when ctx is cancelled or the multiplexer is disposed.
func (m *Multiplexer) Start(ctx context.Context) error {
	if m.config.Port < 0 {
		return nil
	}

	connector, connectorErr := NewConnector(m.config, func(transport Transport, init InitPacket) {
		if _, attachErr := m.Attach(m.lifetimeCtx, transport, init); attachErr != nil {
			m.log.Error(attachErr, "Could not attach debugger engine connection")
		}
	})
	if connectorErr != nil {
		return connectorErr
	}

	m.lock.Lock()
	if m.disposed {
		m.lock.Unlock()
		return ErrMultiplexerDisposed
	}
	m.connector = connector
	m.lock.Unlock()

	listenCtx, cancelListen := context.WithCancel(m.lifetimeCtx)
	context.AfterFunc(ctx, cancelListen)
	return connector.Listen(listenCtx)
}

// ListenAddr returns the address engines should connect to, or nil if the multiplexer is not listening.
func (m *Multiplexer) ListenAddr() net.Addr {
	m.lock.Lock()
	connector := m.connector
	m.lock.Unlock()

	if connector == nil {
		return nil
	}
	return connector.Addr()
}

// Attach adopts an engine connection that has completed the init handshake.
// The engine is configured and a ConnectionAttached event is published.
func (m *Multiplexer) Attach(ctx context.Context, transport Transport, init InitPacket) (ConnectionID, error) {
	m.lock.Lock()
	if m.disposed {
		m.lock.Unlock()
		_ = transport.Close()
		return 0, ErrMultiplexerDisposed
	}
	m.nextID++
	conn := newConnection(m.nextID, transport, init, m, m.log)
	m.connections[conn.id] = conn
	m.sessionEnded = false
	m.lock.Unlock()

	m.activeConnections.Add(context.Background(), 1)
	m.log.Info("Debugger engine attached", "Connection", int(conn.id), "AppID", init.AppID, "FileURI", init.FileURI, "RemoteAddr", transport.RemoteAddr())
	conn.start()

	if setupErr := m.setup(ctx, conn); setupErr != nil {
		conn.terminate(EndReasonError, setupErr)
		return conn.id, setupErr
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if _, live := m.connections[conn.id]; !live {
		return conn.id, ErrConnectionClosed
	}
	m.announced[conn.id] = true
	m.publish(Event{Kind: ConnectionAttached, Connection: conn.Info()})

	return conn.id, nil
}

// Configures a freshly attached engine. Engines that do not support a feature report an error,
// which is not a reason to give up on the connection.
func (m *Multiplexer) setup(ctx context.Context, conn *Connection) error {
	setupCommands := []*Command{
		featureSetCommand("max_depth", strconv.Itoa(m.config.MaxDepth)),
		featureSetCommand("max_children", strconv.Itoa(m.config.MaxChildren)),
		featureSetCommand("show_hidden", "1"),
		featureSetCommand("notify_ok", "1"),
		featureSetCommand("resolved_breakpoints", "1"),
		NewCommand("stdout").WithArg("c", "1"),
		NewCommand("stderr").WithArg("c", "1"),
	}

	for _, cmd := range setupCommands {
		_, sendErr := m.sendTo(ctx, conn, cmd)
		switch {
		case sendErr == nil:
		case IsEngineError(sendErr):
			m.log.V(1).Info("Engine does not support setup command", "Connection", int(conn.id), "Command", cmd.String(), "Error", sendErr.Error())
		default:
			return fmt.Errorf("setting up debugger engine connection failed: %w", sendErr)
		}
	}
	return nil
}

// Detach asks the engine to continue without the debugger and closes the connection.
func (m *Multiplexer) Detach(ctx context.Context, id ConnectionID) error {
	conn, resolveErr := m.resolve(id)
	if resolveErr != nil {
		return resolveErr
	}

	_, detachErr := m.sendTo(ctx, conn, NewCommand("detach"))
	conn.Close()
	if detachErr != nil && !IsConnectionError(detachErr) {
		return detachErr
	}
	return nil
}

// Send sends a command to a connection (or to the focused connection) and waits for the response.
// Unless the command resumes execution, it fails with ErrCommandTimeout if the engine
// does not answer within the configured command timeout.
func (m *Multiplexer) Send(ctx context.Context, target ConnectionID, cmd *Command) (*Response, error) {
	conn, resolveErr := m.resolve(target)
	if resolveErr != nil {
		return nil, resolveErr
	}
	return m.sendTo(ctx, conn, cmd)
}

// Broadcast sends a command to every connection that can currently accept commands.
// Running engines only accept break, so they are skipped; callers reconcile them at the next break.
// The build function may return nil to skip a connection.
// Results are ordered by connection id.
func (m *Multiplexer) Broadcast(ctx context.Context, build func(info ConnectionInfo) *Command) []BroadcastResult {
	m.lock.Lock()
	var targets []*Connection
	for _, conn := range m.connections {
		if conn.Status() != StatusRunning {
			targets = append(targets, conn)
		}
	}
	m.lock.Unlock()

	slices.SortFunc(targets, func(a, b *Connection) int { return int(a.id - b.id) })

	results := make([]BroadcastResult, len(targets))
	var wg sync.WaitGroup
	sent := 0
	for _, conn := range targets {
		cmd := build(conn.Info())
		if cmd == nil {
			continue
		}

		i := sent
		sent++
		results[i].ConnectionID = conn.id
		wg.Add(1)
		go func(conn *Connection) {
			defer wg.Done()
			results[i].Response, results[i].Err = m.sendTo(ctx, conn, cmd)
		}(conn)
	}
	wg.Wait()

	return results[:sent]
}

// Resume sends a continuation command (run, step_into, step_over, step_out) in the background.
// The connection loses focus and is reported as running right away; the engine answers
// (and the connection changes status again) only when execution stops.
func (m *Multiplexer) Resume(target ConnectionID, cmd *Command) (ConnectionID, error) {
	if !cmd.IsContinuation() {
		return 0, fmt.Errorf("'%s' does not resume execution", cmd.Name)
	}

	m.lock.Lock()
	conn, resolveErr := m.resolveLocked(target)
	if resolveErr != nil {
		m.lock.Unlock()
		return 0, resolveErr
	}
	if m.focused == conn.id {
		m.focused = 0
	}
	m.lock.Unlock()

	conn.setStatus(StatusRunning, nil)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, sendErr := m.sendTo(m.lifetimeCtx, conn, cmd); sendErr != nil && !IsConnectionError(sendErr) && !errors.Is(sendErr, context.Canceled) {
			m.log.Error(sendErr, "Resuming engine execution failed", "Connection", int(conn.id), "Command", cmd.Name)
		}
	}()

	return conn.id, nil
}

// Break asks a running engine to stop.
func (m *Multiplexer) Break(ctx context.Context, target ConnectionID) error {
	conn, resolveErr := m.resolve(target)
	if resolveErr != nil {
		return resolveErr
	}

	return telemetry.CallWithTelemetryNoResult(m.tracer, "dbgp.break", ctx, conn.Break,
		attribute.Int("connection", int(conn.id)))
}

// Focused returns the id of the focused connection, if any.
func (m *Multiplexer) Focused() (ConnectionID, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.focused, m.focused != 0
}

// Connections returns a snapshot of all live connections, ordered by id.
func (m *Multiplexer) Connections() []ConnectionInfo {
	m.lock.Lock()
	infos := make([]ConnectionInfo, 0, len(m.connections))
	for _, conn := range m.connections {
		infos = append(infos, conn.Info())
	}
	m.lock.Unlock()

	slices.SortFunc(infos, func(a, b ConnectionInfo) int { return int(a.ID - b.ID) })
	return infos
}

// Connection returns a snapshot of a single connection.
func (m *Multiplexer) Connection(id ConnectionID) (ConnectionInfo, bool) {
	conn, resolveErr := m.resolve(id)
	if resolveErr != nil {
		return ConnectionInfo{}, false
	}
	return conn.Info(), true
}

// Subscribe returns a channel that receives all events published after the call.
// The subscription ends, and the channel is closed, when ctx is done.
func (m *Multiplexer) Subscribe(ctx context.Context) <-chan Event {
	sub := &subscriber{
		ctx: ctx,
		ch:  chanx.NewUnboundedChan[Event](ctx, 16),
	}

	m.subscribersLock.Lock()
	m.subscribers[sub] = struct{}{}
	m.subscribersLock.Unlock()

	context.AfterFunc(ctx, func() {
		m.subscribersLock.Lock()
		delete(m.subscribers, sub)
		m.subscribersLock.Unlock()
	})

	return sub.ch.Out
}

// Dispose closes all connections and stops listening. Pending commands fail with ErrConnectionClosed.
func (m *Multiplexer) Dispose() {
	m.disposeOnce.Do(func() {
		m.lock.Lock()
		m.disposed = true
		m.focused = 0
		conns := make([]*Connection, 0, len(m.connections))
		for _, conn := range m.connections {
			conns = append(conns, conn)
		}
		connector := m.connector
		m.lock.Unlock()

		if connector != nil {
			if closeErr := connector.Close(); closeErr != nil {
				m.log.V(1).Info("Error closing engine listener", "Error", closeErr.Error())
			}
		}

		for _, conn := range conns {
			// Engines that are not busy can continue without the debugger; running ones are simply cut off.
			if conn.queue.TryLock() {
				_ = conn.transport.WriteCommand(NewCommand("detach").Encode(int(conn.txSeq.Add(1))))
				conn.queue.Unlock()
			}
			conn.terminate(EndReasonDisposed, nil)
		}

		m.cancel()
		m.wg.Wait()
		if connector != nil {
			connector.Wait()
		}
		m.log.V(1).Info("Connection multiplexer disposed")
	})
}

func (m *Multiplexer) resolve(target ConnectionID) (*Connection, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.resolveLocked(target)
}

func (m *Multiplexer) resolveLocked(target ConnectionID) (*Connection, error) {
	if m.disposed {
		return nil, ErrMultiplexerDisposed
	}

	if target == Focused {
		if m.focused == 0 {
			return nil, ErrNoFocusedConnection
		}
		target = m.focused
	}

	conn, found := m.connections[target]
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrUnknownConnection, target)
	}
	return conn, nil
}

func (m *Multiplexer) sendTo(ctx context.Context, conn *Connection, cmd *Command) (*Response, error) {
	if !cmd.IsContinuation() && m.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.CommandTimeout)
		defer cancel()
	}

	spanAttrs := []attribute.KeyValue{attribute.Int("connection", int(conn.id))}
	if !cmd.IsContinuation() {
		spanAttrs = append(spanAttrs, telemetry.SuppressIfSuccessful())
	}

	start := time.Now()
	resp, err := telemetry.CallWithTelemetry(m.tracer, "dbgp."+cmd.Name, ctx, func(spanCtx context.Context) (*Response, error) {
		return conn.Send(spanCtx, cmd)
	}, spanAttrs...)

	outcome := "success"
	switch {
	case err == nil:
	case IsEngineError(err):
		outcome = "engine_error"
	case errors.Is(err, ErrCommandTimeout):
		outcome = "timeout"
		m.timeoutCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", cmd.Name)))
	default:
		outcome = "failure"
	}
	attrs := metric.WithAttributes(attribute.String("command", cmd.Name), attribute.String("outcome", outcome))
	m.commandCounter.Add(context.Background(), 1, attrs)
	if !cmd.IsContinuation() {
		m.commandLatency.Record(context.Background(), time.Since(start).Seconds(), attrs)
	}

	return resp, err
}

// If nothing has focus, focus the connection that most recently stopped at a break and is still there.
func (m *Multiplexer) refocus() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.focused != 0 || m.disposed {
		return
	}

	var candidate *Connection
	for id, conn := range m.connections {
		if conn.Status() == StatusBreak && (candidate == nil || m.lastBreak[id] > m.lastBreak[candidate.id]) {
			candidate = conn
		}
	}
	if candidate == nil {
		return
	}

	m.focused = candidate.id
	m.publish(Event{Kind: FocusChanged, Connection: candidate.Info()})
}

func (m *Multiplexer) publish(e Event) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()

	for sub := range m.subscribers {
		select {
		case sub.ch.In <- e:
		case <-sub.ctx.Done():
		}
	}
}

// connectionObserver implementation. Connection events are published while holding the multiplexer lock,
// which keeps the events of a single connection in order.

func (m *Multiplexer) statusChanged(c *Connection, status Status, resp *Response) {
	m.lock.Lock()
	_, live := m.connections[c.id]
	if live {
		if status == StatusBreak {
			m.focused = c.id
			m.breakSeq++
			m.lastBreak[c.id] = m.breakSeq
		} else if m.focused == c.id {
			m.focused = 0
		}
		if m.announced[c.id] {
			m.publish(Event{Kind: StatusChanged, Connection: c.Info(), Status: status, Response: resp})
		}
	}
	m.lock.Unlock()

	if !live {
		return
	}

	if status == StatusStopping {
		// The script finished. Let the engine tear down, then drop the connection.
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if _, stopErr := m.sendTo(m.lifetimeCtx, c, NewCommand("stop")); stopErr != nil && !IsConnectionError(stopErr) {
				m.log.V(1).Info("Engine did not acknowledge stop", "Connection", int(c.id), "Error", stopErr.Error())
			}
			c.Close()
		}()
	}

	if status != StatusBreak {
		m.refocus()
	}
}

func (m *Multiplexer) streamReceived(c *Connection, s *Stream) {
	m.publishFor(c, Event{Kind: StreamReceived, Stream: s})
}

func (m *Multiplexer) notifyReceived(c *Connection, n *Notify) {
	m.publishFor(c, Event{Kind: NotifyReceived, Notify: n})
}

// Publishes an event about a connection, unless the connection has not been announced yet (or is gone).
func (m *Multiplexer) publishFor(c *Connection, e Event) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.announced[c.id] {
		e.Connection = c.Info()
		m.publish(e)
	}
}

func (m *Multiplexer) connectionEnded(c *Connection, reason EndReason, cause error) {
	m.lock.Lock()
	_, present := m.connections[c.id]
	delete(m.connections, c.id)
	announced := m.announced[c.id]
	delete(m.announced, c.id)
	delete(m.lastBreak, c.id)
	wasFocused := m.focused == c.id
	if wasFocused {
		m.focused = 0
	}
	endSession := present && !m.disposed && !m.sessionEnded && m.config.EndDebugWhenNoRequests && len(m.connections) == 0
	if endSession {
		m.sessionEnded = true
	}
	if announced {
		// Published under the lock so that it cannot overtake the ConnectionAttached event.
		m.publish(Event{Kind: ConnectionEnded, Connection: c.Info(), Reason: reason, Err: cause})
	}
	m.lock.Unlock()

	if present {
		m.activeConnections.Add(context.Background(), -1)
	}
	m.log.Info("Debugger engine detached", "Connection", int(c.id), "Reason", reason.String())

	if wasFocused {
		m.refocus()
	}
	if endSession {
		m.log.Info("Last debugger engine connection ended, ending the debugging session")
		m.publish(Event{Kind: SessionEnded, Reason: reason, Err: cause})
	}
}

var _ connectionObserver = (*Multiplexer)(nil)
