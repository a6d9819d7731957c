/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package dbgptest provides a scriptable, in-process debugger engine for tests.
package dbgptest

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
)

// ReceivedCommand is a command as the engine received it from the IDE.
type ReceivedCommand struct {
	Name          string
	TransactionID int
	Args          map[string]string
	Data          []byte
	Raw           string
}

// Reply describes how the engine answers a command.
type Reply struct {
	// Engine status reported with the response. Empty means the attribute is omitted.
	Status dbgp.Status
	Reason string
	// Extra attributes for the <response> element, already formatted (e.g. `id="5"`).
	Attrs string
	// Inner XML of the <response> element.
	Body string
	// Error code; if not zero the response carries an <error> element instead of Body.
	ErrorCode    int
	ErrorMessage string
	// If set, the engine does not answer now. The command can be answered later with Engine.Respond().
	Hold bool
}

// ReplyFunc computes the reply to a received command.
type ReplyFunc func(cmd ReceivedCommand) Reply

// Engine simulates a DBGp debugger engine. By default it answers setup and breakpoint commands
// successfully, holds continuation commands until Pause() or Finish() is called,
// and reports a one-frame stack located at the script being debugged.
type Engine struct {
	Init dbgp.InitPacket

	conn    net.Conn
	ideSide net.Conn

	writeLock *sync.Mutex

	lock                sync.Mutex
	handlers            map[string]ReplyFunc
	received            []ReceivedCommand
	receivedChanged     chan struct{}
	pendingContinuation *ReceivedCommand
	held                map[int]ReceivedCommand
	nextBreakpointID    int

	done     chan struct{}
	doneOnce sync.Once
}

// NewEngine creates an engine connected to the IDE through an in-memory pipe.
// Use Transport() for the IDE end; the init packet is not sent, since the handshake is assumed done.
func NewEngine(init dbgp.InitPacket) *Engine {
	engineSide, ideSide := net.Pipe()
	e := newEngine(init, engineSide)
	e.ideSide = ideSide
	go e.serve()
	return e
}

// DialEngine connects to an IDE listening on the given address and sends the init packet.
func DialEngine(ctx context.Context, address string, init dbgp.InitPacket) (*Engine, error) {
	var d net.Dialer
	conn, dialErr := d.DialContext(ctx, "tcp", address)
	if dialErr != nil {
		return nil, fmt.Errorf("failed to dial IDE at %s: %w", address, dialErr)
	}

	e := newEngine(init, conn)
	if sendErr := e.send(InitXML(init)); sendErr != nil {
		_ = conn.Close()
		return nil, sendErr
	}
	go e.serve()
	return e, nil
}

func newEngine(init dbgp.InitPacket, conn net.Conn) *Engine {
	return &Engine{
		Init:             init,
		conn:             conn,
		writeLock:        &sync.Mutex{},
		handlers:         make(map[string]ReplyFunc),
		receivedChanged:  make(chan struct{}),
		held:             make(map[int]ReceivedCommand),
		nextBreakpointID: 1,
		done:             make(chan struct{}),
	}
}

// Transport returns the IDE end of an in-memory engine.
func (e *Engine) Transport() dbgp.Transport {
	return dbgp.NewNetTransport(e.ideSide)
}

// Handle overrides the reply for a command.
func (e *Engine) Handle(name string, f ReplyFunc) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.handlers[name] = f
}

// Received returns all commands received so far, in order.
func (e *Engine) Received() []ReceivedCommand {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]ReceivedCommand(nil), e.received...)
}

// ReceivedNames returns the names of the commands received so far, in order.
func (e *Engine) ReceivedNames() []string {
	var names []string
	for _, cmd := range e.Received() {
		names = append(names, cmd.Name)
	}
	return names
}

// WaitFor blocks until the engine has received the n-th (1-based) command with the given name.
func (e *Engine) WaitFor(ctx context.Context, name string, n int) (ReceivedCommand, error) {
	for {
		e.lock.Lock()
		count := 0
		for _, cmd := range e.received {
			if cmd.Name == name {
				count++
				if count == n {
					e.lock.Unlock()
					return cmd, nil
				}
			}
		}
		changed := e.receivedChanged
		e.lock.Unlock()

		select {
		case <-changed:
		case <-e.done:
			return ReceivedCommand{}, fmt.Errorf("engine closed before receiving '%s'", name)
		case <-ctx.Done():
			return ReceivedCommand{}, fmt.Errorf("timed out waiting for '%s' (received %v): %w", name, e.ReceivedNames(), ctx.Err())
		}
	}
}

// Pause answers the outstanding continuation command with status break, as if a breakpoint was hit.
func (e *Engine) Pause() error {
	return e.answerContinuation(Reply{Status: dbgp.StatusBreak, Reason: "ok"})
}

// Finish answers the outstanding continuation command with status stopping, as if the script ended.
func (e *Engine) Finish() error {
	return e.answerContinuation(Reply{Status: dbgp.StatusStopping, Reason: "ok"})
}

// HasPendingContinuation reports whether the engine is running (holding a continuation command).
func (e *Engine) HasPendingContinuation() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.pendingContinuation != nil
}

// Respond answers a command that was held.
func (e *Engine) Respond(transactionID int, reply Reply) error {
	e.lock.Lock()
	cmd, found := e.held[transactionID]
	delete(e.held, transactionID)
	e.lock.Unlock()

	if !found {
		return fmt.Errorf("no held command with transaction id %d", transactionID)
	}
	return e.send(ResponseXML(cmd, reply))
}

// SendRaw sends an arbitrary packet payload to the IDE.
func (e *Engine) SendRaw(payload string) error {
	return e.send(payload)
}

// SendStream sends program output to the IDE.
func (e *Engine) SendStream(streamType string, text string) error {
	return e.send(fmt.Sprintf(`<?xml version="1.0" encoding="iso-8859-1"?>`+"\n"+
		`<stream xmlns="urn:debugger_protocol_v1" type="%s" encoding="base64">%s</stream>`,
		streamType, base64.StdEncoding.EncodeToString([]byte(text))))
}

// SendNotify sends a notification with the given name and inner XML.
func (e *Engine) SendNotify(name string, body string) error {
	return e.send(fmt.Sprintf(`<?xml version="1.0" encoding="iso-8859-1"?>`+"\n"+
		`<notify xmlns="urn:debugger_protocol_v1" xmlns:xdebug="https://xdebug.org/dbgp/xdebug" name="%s">%s</notify>`,
		name, body))
}

// Close drops the connection, as an engine whose process ended would.
func (e *Engine) Close() error {
	e.doneOnce.Do(func() { close(e.done) })
	return e.conn.Close()
}

// Done is closed when the engine connection is closed.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) send(payload string) error {
	e.writeLock.Lock()
	defer e.writeLock.Unlock()
	return dbgp.WriteFrame(e.conn, []byte(payload))
}

func (e *Engine) answerContinuation(reply Reply) error {
	e.lock.Lock()
	cmd := e.pendingContinuation
	e.pendingContinuation = nil
	e.lock.Unlock()

	if cmd == nil {
		return errors.New("the engine is not running")
	}
	return e.send(ResponseXML(*cmd, reply))
}

func (e *Engine) serve() {
	defer func() { _ = e.Close() }()
	reader := bufio.NewReader(e.conn)

	for {
		line, readErr := reader.ReadString(0)
		if readErr != nil {
			return
		}

		cmd, parseErr := ParseCommand(strings.TrimSuffix(line, "\x00"))
		if parseErr != nil {
			return
		}

		e.lock.Lock()
		e.received = append(e.received, cmd)
		close(e.receivedChanged)
		e.receivedChanged = make(chan struct{})
		handler, hasHandler := e.handlers[cmd.Name]
		e.lock.Unlock()

		var reply Reply
		if hasHandler {
			reply = handler(cmd)
		} else {
			reply = e.defaultReply(cmd)
		}

		if reply.Hold {
			e.lock.Lock()
			e.held[cmd.TransactionID] = cmd
			e.lock.Unlock()
			continue
		}

		if sendErr := e.send(ResponseXML(cmd, reply)); sendErr != nil {
			return
		}

		if cmd.Name == "stop" || cmd.Name == "detach" {
			return
		}
	}
}

func (e *Engine) defaultReply(cmd ReceivedCommand) Reply {
	switch cmd.Name {
	case "run", "step_into", "step_over", "step_out":
		e.lock.Lock()
		e.pendingContinuation = &cmd
		e.lock.Unlock()
		return Reply{Hold: true}

	case "break":
		// Answer the break itself first, then the continuation it interrupted.
		go func() { _ = e.Pause() }()
		return Reply{Attrs: `success="1"`}

	case "stop":
		return Reply{Status: dbgp.StatusStopped, Reason: "ok"}

	case "detach":
		return Reply{Status: dbgp.StatusStopping, Reason: "ok"}

	case "breakpoint_set":
		e.lock.Lock()
		id := e.nextBreakpointID
		e.nextBreakpointID++
		e.lock.Unlock()
		return Reply{Attrs: fmt.Sprintf(`id="%d" state="enabled"`, id)}

	case "stack_get":
		return Reply{Body: fmt.Sprintf(`<stack where="{main}" level="0" type="file" filename="%s" lineno="1"></stack>`, html.EscapeString(e.Init.FileURI))}

	case "context_names":
		return Reply{Body: `<context name="Locals" id="0"></context><context name="Superglobals" id="1"></context>`}

	case "context_get":
		return Reply{}

	case "source":
		return Reply{Attrs: `encoding="base64"`, Body: base64.StdEncoding.EncodeToString([]byte("<?php\n"))}

	case "eval", "property_get", "property_value":
		return Reply{ErrorCode: 300, ErrorMessage: "can not get property"}

	default:
		return Reply{Attrs: `success="1"`}
	}
}

// InitXML renders an init packet.
func InitXML(init dbgp.InitPacket) string {
	init.XMLName = xml.Name{Local: "init"}
	data, err := xml.Marshal(init)
	if err != nil {
		panic(err)
	}
	return `<?xml version="1.0" encoding="iso-8859-1"?>` + "\n" + string(data)
}

// ResponseXML renders the response to a command.
func ResponseXML(cmd ReceivedCommand, reply Reply) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="iso-8859-1"?>` + "\n")
	fmt.Fprintf(&sb, `<response xmlns="urn:debugger_protocol_v1" xmlns:xdebug="https://xdebug.org/dbgp/xdebug" command="%s" transaction_id="%d"`, cmd.Name, cmd.TransactionID)
	if reply.Status != "" {
		fmt.Fprintf(&sb, ` status="%s" reason="%s"`, reply.Status, reply.Reason)
	}
	if reply.Attrs != "" {
		sb.WriteString(" ")
		sb.WriteString(reply.Attrs)
	}
	sb.WriteString(">")
	if reply.ErrorCode != 0 {
		fmt.Fprintf(&sb, `<error code="%d"><message><![CDATA[%s]]></message></error>`, reply.ErrorCode, reply.ErrorMessage)
	} else {
		sb.WriteString(reply.Body)
	}
	sb.WriteString("</response>")
	return sb.String()
}

// PropertyXML renders a scalar property. Values are sent base64-encoded, as real engines do.
func PropertyXML(name, fullName, typ, value string) string {
	return fmt.Sprintf(`<property name="%s" fullname="%s" type="%s" encoding="base64"><![CDATA[%s]]></property>`,
		html.EscapeString(name), html.EscapeString(fullName), typ, base64.StdEncoding.EncodeToString([]byte(value)))
}

// CompoundPropertyXML renders an array or object property with the given (already rendered) children.
func CompoundPropertyXML(name, fullName, typ, className string, numChildren int, children ...string) string {
	classAttr := ""
	if className != "" {
		classAttr = fmt.Sprintf(` classname="%s"`, html.EscapeString(className))
	}
	hasChildren := 0
	if numChildren > 0 {
		hasChildren = 1
	}
	return fmt.Sprintf(`<property name="%s" fullname="%s" type="%s"%s children="%d" numchildren="%d" page="0" pagesize="100">%s</property>`,
		html.EscapeString(name), html.EscapeString(fullName), typ, classAttr, hasChildren, numChildren, strings.Join(children, ""))
}

// ParseCommand splits a command line into its name, transaction id, arguments and data.
func ParseCommand(line string) (ReceivedCommand, error) {
	cmd := ReceivedCommand{Args: make(map[string]string), Raw: line}

	dataPart := ""
	if idx := strings.Index(line, " -- "); idx >= 0 {
		dataPart = line[idx+4:]
		line = line[:idx]
	}

	tokens, tokenErr := splitArgs(line)
	if tokenErr != nil {
		return cmd, tokenErr
	}
	if len(tokens) == 0 {
		return cmd, errors.New("empty command")
	}

	cmd.Name = tokens[0]
	for i := 1; i+1 < len(tokens); i += 2 {
		cmd.Args[strings.TrimPrefix(tokens[i], "-")] = tokens[i+1]
	}

	txID, txErr := strconv.Atoi(cmd.Args["i"])
	if txErr != nil {
		return cmd, fmt.Errorf("command '%s' has no valid transaction id", cmd.Name)
	}
	cmd.TransactionID = txID

	if dataPart != "" {
		data, decodeErr := base64.StdEncoding.DecodeString(dataPart)
		if decodeErr != nil {
			return cmd, decodeErr
		}
		cmd.Data = data
	}

	return cmd, nil
}

func splitArgs(line string) ([]string, error) {
	var tokens []string
	var current strings.Builder
	inQuotes, escaped, hasToken := false, false, false

	for _, r := range line {
		switch {
		case escaped:
			if r == '0' {
				current.WriteRune(0)
			} else {
				current.WriteRune(r)
			}
			escaped = false
		case inQuotes && r == '\\':
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
			hasToken = true
		case r == ' ' && !inQuotes:
			if hasToken {
				tokens = append(tokens, current.String())
				current.Reset()
				hasToken = false
			}
		default:
			current.WriteRune(r)
			hasToken = true
		}
	}

	if inQuotes {
		return nil, io.ErrUnexpectedEOF
	}
	if hasToken {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}
