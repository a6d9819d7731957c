/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package config holds the settings of the bridge process: where Chrome DevTools clients connect,
// which debugger engines are accepted, and how long operations may take.
// Settings come from defaults, an optional YAML file, and command line flags, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/microsoft/dbgp-bridge/internal/bridge"
	"github.com/microsoft/dbgp-bridge/internal/dbgp"
)

const DefaultListenAddress = "127.0.0.1:9222"

// Duration is a time.Duration that is written as a Go duration string ("30s", "1m30s") in configuration files.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, parseErr := time.ParseDuration(text)
	if parseErr != nil {
		return fmt.Errorf("line %d: %w", node.Line, parseErr)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type DBGpConfig struct {
	// Address to listen on for engine connections. Empty means all interfaces.
	Address string `yaml:"address"`

	// Port engines connect to. Zero picks a free port; a negative value disables listening.
	Port int `yaml:"port"`

	// Only engines announcing this IDE key are accepted.
	IDEKey string `yaml:"ideKey"`

	// Only engines of this process are accepted.
	PID int `yaml:"pid"`

	// Only engines running a script matching this regular expression are accepted.
	ScriptRegex string `yaml:"scriptRegex"`

	// End the debugging session when the last engine goes away.
	EndDebugWhenNoRequests bool `yaml:"endDebugWhenNoRequests"`

	// Deadline for a single engine round-trip.
	CommandTimeout Duration `yaml:"commandTimeout"`

	HandshakeTimeout Duration `yaml:"handshakeTimeout"`
	MaxDepth         int      `yaml:"maxDepth"`
	MaxChildren      int      `yaml:"maxChildren"`
}

type Config struct {
	// Address (host:port) of the HTTP server that Chrome DevTools clients connect to.
	Listen string `yaml:"listen"`

	// Upper bound for handling a single Chrome DevTools command.
	CommandTimeout Duration `yaml:"commandTimeout"`

	DBGp DBGpConfig `yaml:"dbgp"`
}

func Default() Config {
	return Config{
		Listen:         DefaultListenAddress,
		CommandTimeout: Duration(dbgp.DefaultCommandTimeout),
		DBGp: DBGpConfig{
			Port:             dbgp.DefaultPort,
			CommandTimeout:   Duration(dbgp.DefaultCommandTimeout),
			HandshakeTimeout: Duration(dbgp.DefaultHandshakeTimeout),
			MaxDepth:         dbgp.DefaultMaxDepth,
			MaxChildren:      dbgp.DefaultMaxChildren,
		},
	}
}

// Load reads the configuration file at the given path on top of the defaults.
// An empty path yields the defaults. Unknown keys are errors.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	contents, readErr := os.ReadFile(path)
	if readErr != nil {
		return Config{}, fmt.Errorf("could not read configuration file '%s': %w", path, readErr)
	}

	if decodeErr := decode(contents, &cfg); decodeErr != nil {
		return Config{}, fmt.Errorf("configuration file '%s' is invalid: %w", path, decodeErr)
	}
	return cfg, nil
}

func decode(contents []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	err := decoder.Decode(cfg)
	if errors.Is(err, io.EOF) {
		// Empty file
		return nil
	}
	return err
}

func (c Config) Validate() error {
	var errs []error

	host, port, splitErr := net.SplitHostPort(c.Listen)
	if splitErr != nil {
		errs = append(errs, fmt.Errorf("invalid listen address '%s': %w", c.Listen, splitErr))
	} else if portNum, portErr := strconv.Atoi(port); portErr != nil || portNum < 0 || portNum > 65535 {
		errs = append(errs, fmt.Errorf("invalid listen port '%s'", port))
	} else if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		errs = append(errs, fmt.Errorf("listen address must use an IP address or 'localhost', not '%s'", host))
	}

	if c.DBGp.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("maximum property depth cannot be negative"))
	}
	if c.DBGp.MaxChildren < 0 {
		errs = append(errs, fmt.Errorf("maximum property children count cannot be negative"))
	}
	if c.DBGp.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine handshake timeout cannot be negative"))
	}

	if connErr := c.connectionConfig(logr.Discard()).Validate(); connErr != nil {
		errs = append(errs, connErr)
	}

	return errors.Join(errs...)
}

func (c Config) connectionConfig(log logr.Logger) dbgp.ConnectionConfig {
	return dbgp.ConnectionConfig{
		Address:                c.DBGp.Address,
		Port:                   c.DBGp.Port,
		IDEKey:                 c.DBGp.IDEKey,
		PID:                    c.DBGp.PID,
		ScriptRegex:            c.DBGp.ScriptRegex,
		EndDebugWhenNoRequests: c.DBGp.EndDebugWhenNoRequests,
		CommandTimeout:         time.Duration(c.DBGp.CommandTimeout),
		HandshakeTimeout:       time.Duration(c.DBGp.HandshakeTimeout),
		MaxDepth:               c.DBGp.MaxDepth,
		MaxChildren:            c.DBGp.MaxChildren,
		Logger:                 log,
	}
}

// TranslatorConfig returns the settings for one debugging session that delivers its messages to the sink.
func (c Config) TranslatorConfig(sink bridge.Sink, log logr.Logger) bridge.TranslatorConfig {
	return bridge.TranslatorConfig{
		Connection:     c.connectionConfig(log),
		Sink:           sink,
		CommandTimeout: time.Duration(c.CommandTimeout),
		Logger:         log,
	}
}
