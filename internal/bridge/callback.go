/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"encoding/json"
	"sync"

	"github.com/go-logr/logr"

	"github.com/microsoft/dbgp-bridge/pkg/syncmap"
)

// Sink receives serialized replies and events. Calls are never concurrent.
type Sink func(message string)

type replyMessage struct {
	ID     *int64  `json:"id"`
	Result any     `json:"result,omitempty"`
	Error  *string `json:"error,omitempty"`
}

type eventMessage struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// Callback serializes replies and events and hands them to the front-end sink.
//
// Each command id that was announced with expect() is replied to at most once.
// After Close() nothing reaches the sink anymore.
type Callback struct {
	sink Sink
	log  logr.Logger

	// Protects the sink and the closed flag.
	lock   *sync.Mutex
	closed bool

	outstanding syncmap.Map[int64, struct{}]
}

func NewCallback(sink Sink, log logr.Logger) *Callback {
	if sink == nil {
		sink = func(string) {}
	}
	return &Callback{
		sink: sink,
		log:  log.WithName("Callback"),
		lock: &sync.Mutex{},
	}
}

// Registers a command id that is waiting for a reply.
// Returns false if a command with the same id is already outstanding.
func (c *Callback) expect(id int64) bool {
	_, loaded := c.outstanding.LoadOrStore(id, struct{}{})
	return !loaded
}

// Reply delivers a successful reply. A nil id produces a reply with a null id.
func (c *Callback) Reply(id *int64, result any) {
	if result == nil {
		result = emptyResult
	}
	c.reply(replyMessage{ID: id, Result: result})
}

// ReplyWithError delivers an error reply. A nil id produces a reply with a null id,
// which is used when the id of the failed command could not be determined.
func (c *Callback) ReplyWithError(id *int64, message string) {
	c.reply(replyMessage{ID: id, Error: &message})
}

func (c *Callback) reply(msg replyMessage) {
	if msg.ID != nil {
		if _, found := c.outstanding.LoadAndDelete(*msg.ID); !found {
			c.log.V(1).Info("Dropping reply to a command that is not outstanding", "ID", *msg.ID)
			return
		}
	}
	c.send(msg)
}

// SendEvent delivers an event with the given method name ("Domain.event").
func (c *Callback) SendEvent(method string, params any) {
	if params == nil {
		params = emptyResult
	}
	c.send(eventMessage{Method: method, Params: params})
}

// Close stops all further deliveries.
func (c *Callback) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
}

func (c *Callback) send(msg any) {
	data, marshalErr := json.Marshal(msg)
	if marshalErr != nil {
		c.log.Error(marshalErr, "Could not serialize message for the debugging front end")
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		c.log.V(1).Info("Session is closed, dropping message", "Message", string(data))
		return
	}
	c.sink(string(data))
}
