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
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/microsoft/dbgp-bridge/pkg/resiliency"
)

// How long to keep retrying when the listen port is still held by a previous session.
const listenRetryTimeout = 5 * time.Second

// Connector listens for engine connections, performs the init handshake
// and hands accepted connections to the accept callback.
type Connector struct {
	config      ConnectionConfig
	scriptRegex *regexp.Regexp
	accept      func(transport Transport, init InitPacket)
	log         logr.Logger

	lock     sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

func NewConnector(config ConnectionConfig, accept func(transport Transport, init InitPacket)) (*Connector, error) {
	config = config.withDefaults()
	if validationErr := config.Validate(); validationErr != nil {
		return nil, validationErr
	}

	var scriptRegex *regexp.Regexp
	if config.ScriptRegex != "" {
		scriptRegex = regexp.MustCompile(config.ScriptRegex)
	}

	return &Connector{
		config:      config,
		scriptRegex: scriptRegex,
		accept:      accept,
		log:         config.Logger.WithName("Connector"),
	}, nil
}

// Listen binds the listening socket and starts accepting engine connections in the background.
// Accepting stops when the context is cancelled or Close() is called.
func (c *Connector) Listen(ctx context.Context) error {
	address := net.JoinHostPort(c.config.Address, strconv.Itoa(c.config.Port))

	retryCtx, cancelRetry := context.WithTimeout(ctx, listenRetryTimeout)
	defer cancelRetry()
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(500*time.Millisecond),
	)
	listener, listenErr := resiliency.RetryGet(retryCtx, b, func() (net.Listener, error) {
		lc := net.ListenConfig{}
		return lc.Listen(ctx, "tcp", address)
	})
	if listenErr != nil {
		return fmt.Errorf("could not listen for debugger engine connections on %s: %w", address, listenErr)
	}

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		_ = listener.Close()
		return ErrMultiplexerDisposed
	}
	c.listener = listener
	c.lock.Unlock()

	c.log.Info("Listening for debugger engine connections", "Address", listener.Addr().String())

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.acceptLoop(ctx, listener)
	}()
	go func() {
		defer c.wg.Done()
		<-ctx.Done()
		_ = c.Close()
	}()

	return nil
}

// Addr returns the address the connector listens on, or nil if it is not listening.
func (c *Connector) Addr() net.Addr {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

func (c *Connector) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.listener != nil {
		return c.listener.Close()
	}
	return nil
}

func (c *Connector) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			if !errors.Is(acceptErr, net.ErrClosed) && ctx.Err() == nil {
				c.log.Error(acceptErr, "Failed to accept debugger engine connection")
			}
			return
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handshake(conn)
		}()
	}
}

func (c *Connector) handshake(conn net.Conn) {
	log := c.log.WithValues("RemoteAddr", conn.RemoteAddr().String())
	transport := NewNetTransport(conn)

	_ = conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	packet, readErr := transport.ReadPacket()
	_ = conn.SetReadDeadline(time.Time{})

	if readErr != nil {
		log.Error(readErr, "Failed to read init packet from debugger engine")
		_ = transport.Close()
		return
	}
	if packet.Init == nil {
		log.Info("Debugger engine did not start with an init packet, closing connection")
		_ = transport.Close()
		return
	}

	if accepted, reason := c.Accepts(*packet.Init); !accepted {
		log.Info("Rejecting debugger engine connection", "Reason", reason, "AppID", packet.Init.AppID, "IDEKey", packet.Init.IDEKey, "FileURI", packet.Init.FileURI)
		// Let the script run to completion without a debugger.
		_ = transport.WriteCommand(NewCommand("detach").Encode(1))
		_ = transport.Close()
		return
	}

	c.accept(transport, *packet.Init)
}

// Accepts applies the connection filters to an init packet.
// If the connection is rejected, the second value explains why.
func (c *Connector) Accepts(init InitPacket) (bool, string) {
	if c.config.IDEKey != "" && init.IDEKey != c.config.IDEKey {
		return false, fmt.Sprintf("IDE key '%s' does not match", init.IDEKey)
	}

	if c.config.PID != 0 && init.AppID != strconv.Itoa(c.config.PID) {
		return false, fmt.Sprintf("process %s is not the one being debugged", init.AppID)
	}

	if c.scriptRegex != nil {
		scriptPath := init.FileURI
		if parsed, parseErr := url.Parse(init.FileURI); parseErr == nil && parsed.Path != "" {
			scriptPath = parsed.Path
		}
		if !c.scriptRegex.MatchString(scriptPath) {
			return false, fmt.Sprintf("script '%s' does not match the script filter", scriptPath)
		}
	}

	return true, ""
}

// Wait blocks until the accept loop and all in-progress handshakes have finished.
func (c *Connector) Wait() {
	c.wg.Wait()
}
