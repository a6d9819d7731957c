// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dbgp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/microsoft/dbgp-bridge/pkg/concurrency"
	"github.com/microsoft/dbgp-bridge/pkg/resiliency"
	"github.com/microsoft/dbgp-bridge/pkg/syncmap"
)

// ConnectionID identifies an engine connection within a Multiplexer. Valid ids are positive.
type ConnectionID int

// Focused is a pseudo connection id that targets the connection which currently has focus.
const Focused ConnectionID = 0

// EndReason tells why an engine connection (or the whole debugging session) ended.
type EndReason int

const (
	// The engine finished (or detached) and closed the connection cleanly.
	EndReasonNormal EndReason = iota
	// The connection broke: I/O failure, protocol violation or unanswered command.
	EndReasonError
	// The bridge shut the connection down because the debugging session was disposed.
	EndReasonDisposed
)

func (r EndReason) String() string {
	switch r {
	case EndReasonNormal:
		return "normal"
	case EndReasonError:
		return "error"
	case EndReasonDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("EndReason(%d)", int(r))
	}
}

// ConnectionInfo is a point-in-time snapshot of a connection's identity and state.
type ConnectionInfo struct {
	ID     ConnectionID
	Init   InitPacket
	Status Status
}

type connectionObserver interface {
	statusChanged(c *Connection, status Status, resp *Response)
	streamReceived(c *Connection, s *Stream)
	notifyReceived(c *Connection, n *Notify)
	connectionEnded(c *Connection, reason EndReason, cause error)
}

// Connection is the IDE side of a single engine socket.
//
// Commands sent with Send() are queued and issued strictly one at a time, in the order Send() was called.
// Responses are matched to commands by transaction id. Break() bypasses the queue because it is the
// one command an engine accepts while another command (a continuation) is outstanding.
type Connection struct {
	id        ConnectionID
	init      InitPacket
	transport Transport
	observer  connectionObserver
	log       logr.Logger

	txSeq   atomic.Int64
	queue   *concurrency.FifoLock
	pending syncmap.Map[int, chan *Response] // nil channel marks an abandoned command

	stateMu sync.Mutex
	status  Status
	ended   bool
	reason  EndReason

	done          chan struct{}
	terminateOnce sync.Once
}

func newConnection(id ConnectionID, transport Transport, init InitPacket, observer connectionObserver, log logr.Logger) *Connection {
	return &Connection{
		id:        id,
		init:      init,
		transport: transport,
		observer:  observer,
		log:       log.WithValues("Connection", int(id), "AppID", init.AppID, "FileURI", init.FileURI),
		queue:     concurrency.NewFifoLock(),
		status:    StatusStarting,
		done:      make(chan struct{}),
	}
}

func (c *Connection) ID() ConnectionID {
	return c.id
}

func (c *Connection) Init() InitPacket {
	return c.init
}

func (c *Connection) Status() Status {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.status
}

func (c *Connection) Info() ConnectionInfo {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return ConnectionInfo{ID: c.id, Init: c.init, Status: c.status}
}

// Done is closed when the connection has ended.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) IsAlive() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return !c.ended
}

// Number of commands waiting for their turn to be sent.
func (c *Connection) Queued() int {
	return c.queue.Waiting()
}

func (c *Connection) start() {
	go c.readLoop()
}

// Send queues the command, waits for its turn, sends it and waits for the engine response.
// If the engine reports an error, both the response and an *EngineError are returned.
// If the context deadline expires while waiting for the response the connection is considered
// broken and terminated, and ErrCommandTimeout is returned.
func (c *Connection) Send(ctx context.Context, cmd *Command) (*Response, error) {
	if lockErr := c.queue.Lock(ctx); lockErr != nil {
		// The command was never sent, so the engine is not at fault.
		if errors.Is(lockErr, context.DeadlineExceeded) {
			return nil, ErrCommandTimeout
		}
		return nil, lockErr
	}
	defer c.queue.Unlock()

	return c.roundTrip(ctx, cmd)
}

// Break asks a running engine to stop. It does not wait for queued commands.
func (c *Connection) Break(ctx context.Context) error {
	_, err := c.roundTrip(ctx, NewCommand("break"))
	return err
}

// Close ends the connection. Pending and future commands fail with ErrConnectionClosed.
func (c *Connection) Close() {
	c.terminate(EndReasonNormal, nil)
}

func (c *Connection) roundTrip(ctx context.Context, cmd *Command) (*Response, error) {
	if !c.IsAlive() {
		return nil, ErrConnectionClosed
	}

	txID := int(c.txSeq.Add(1))
	respChan := make(chan *Response, 1)
	c.pending.Store(txID, respChan)

	commandLine := cmd.Encode(txID)
	c.log.V(2).Info("Sending command", "Command", commandLine)

	if writeErr := c.transport.WriteCommand(commandLine); writeErr != nil {
		c.pending.Delete(txID)
		c.terminate(EndReasonError, writeErr)
		return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, writeErr)
	}

	select {
	case resp, ok := <-respChan:
		return c.complete(resp, ok)

	case <-c.done:
		// The response might have arrived right before the connection went down.
		select {
		case resp, ok := <-respChan:
			return c.complete(resp, ok)
		default:
			return nil, ErrConnectionClosed
		}

	case <-ctx.Done():
		if _, stillPending := c.pending.LoadAndDelete(txID); !stillPending {
			// Lost the race with the response (or with connection shutdown).
			if resp, ok := <-respChan; ok {
				return c.complete(resp, ok)
			}
			return nil, ErrConnectionClosed
		}

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.terminate(EndReasonError, fmt.Errorf("%w: no response to '%s'", ErrCommandTimeout, cmd.Name))
			return nil, ErrCommandTimeout
		}

		// The caller gave up. The engine will still answer, so remember to drop that answer quietly.
		c.pending.Store(txID, nil)
		return nil, ctx.Err()
	}
}

func (c *Connection) complete(resp *Response, ok bool) (*Response, error) {
	if !ok {
		return nil, ErrConnectionClosed
	}
	if respErr := resp.Err(); respErr != nil {
		return resp, respErr
	}
	return resp, nil
}

func (c *Connection) readLoop() {
	defer func() {
		if panicErr := resiliency.MakePanicError(recover(), c.log); panicErr != nil {
			c.terminate(EndReasonError, panicErr)
		}
	}()

	for {
		packet, readErr := c.transport.ReadPacket()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				c.terminate(EndReasonNormal, nil)
			} else {
				c.terminate(EndReasonError, readErr)
			}
			return
		}

		switch {
		case packet.Response != nil:
			if handleErr := c.handleResponse(packet.Response); handleErr != nil {
				c.terminate(EndReasonError, handleErr)
				return
			}

		case packet.Stream != nil:
			c.observer.streamReceived(c, packet.Stream)

		case packet.Notify != nil:
			c.observer.notifyReceived(c, packet.Notify)

		case packet.Init != nil:
			c.log.Info("Ignoring repeated init packet from engine")
		}
	}
}

func (c *Connection) handleResponse(resp *Response) error {
	if resp.Status != "" {
		c.setStatus(resp.Status, resp)
	}

	respChan, found := c.pending.LoadAndDelete(resp.TransactionID)
	if !found {
		return fmt.Errorf("%w: response to '%s' has unknown transaction id %d", ErrProtocolViolation, resp.Command, resp.TransactionID)
	}
	if respChan == nil {
		c.log.V(1).Info("Dropping response to abandoned command", "Command", resp.Command, "TransactionID", resp.TransactionID)
		return nil
	}

	respChan <- resp
	return nil
}

// Records the engine status and notifies the observer if it changed.
func (c *Connection) setStatus(status Status, resp *Response) {
	c.stateMu.Lock()
	if c.ended || c.status == status {
		c.stateMu.Unlock()
		return
	}
	c.status = status
	c.stateMu.Unlock()

	c.log.V(1).Info("Engine status changed", "Status", status)
	c.observer.statusChanged(c, status, resp)
}

func (c *Connection) terminate(reason EndReason, cause error) {
	c.terminateOnce.Do(func() {
		c.stateMu.Lock()
		c.ended = true
		c.reason = reason
		c.stateMu.Unlock()

		if cause != nil {
			c.log.Error(cause, "Engine connection failed")
		} else {
			c.log.V(1).Info("Engine connection ended", "Reason", reason.String())
		}

		if closeErr := c.transport.Close(); closeErr != nil {
			c.log.V(1).Info("Error closing engine transport", "Error", closeErr.Error())
		}

		c.pending.Range(func(txID int, _ chan *Response) bool {
			if respChan, found := c.pending.LoadAndDelete(txID); found && respChan != nil {
				close(respChan)
			}
			return true
		})

		close(c.done)
		c.observer.connectionEnded(c, reason, cause)
	})
}
