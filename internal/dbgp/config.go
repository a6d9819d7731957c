/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dbgp

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-logr/logr"
)

const (
	DefaultPort             = 9000
	DefaultCommandTimeout   = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMaxDepth         = 1
	DefaultMaxChildren      = 100
)

// ConnectionConfig holds the parameters that decide which engine connections are accepted
// and how they are set up.
type ConnectionConfig struct {
	// Address to listen on for engine connections. Defaults to all interfaces.
	Address string

	// Port to listen on for engine connections. Zero picks a free port; a negative value disables listening.
	Port int

	// If not empty, only engines that announce this IDE key are accepted.
	IDEKey string

	// If not zero, only engines whose init packet names this process id (appid) are accepted.
	PID int

	// If not empty, only engines running a script whose path matches this regular expression are accepted.
	ScriptRegex string

	// If true, the debugging session ends when the last engine connection goes away.
	EndDebugWhenNoRequests bool

	// Deadline for a single command round-trip. Commands that resume execution are exempt.
	// Zero means DefaultCommandTimeout; a negative value disables the deadline.
	CommandTimeout time.Duration

	// How long an engine may take to send its init packet after connecting.
	HandshakeTimeout time.Duration

	// Values for the max_depth and max_children engine features.
	MaxDepth    int
	MaxChildren int

	// Logger for connection activity. Discarded if not set.
	Logger logr.Logger
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MaxChildren <= 0 {
		c.MaxChildren = DefaultMaxChildren
	}
	if c.Logger.GetSink() == nil {
		c.Logger = logr.Discard()
	}
	return c
}

// Validate reports configuration values that can never work.
func (c ConnectionConfig) Validate() error {
	if c.Port > 65535 {
		return fmt.Errorf("invalid DBGp port %d", c.Port)
	}
	if c.ScriptRegex != "" {
		if _, err := regexp.Compile(c.ScriptRegex); err != nil {
			return fmt.Errorf("invalid script regular expression '%s': %w", c.ScriptRegex, err)
		}
	}
	return nil
}
