// Copyright (c) Microsoft Corporation. All rights reserved.

package testutil

import (
	"flag"
	"os"
	"testing"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"

	"github.com/microsoft/dbgp-bridge/pkg/logger"
)

// Overrides the console log level of tests, e.g. DBGP_BRIDGE_TEST_VERBOSITY=2 shows DBGp traffic.
const DBGP_BRIDGE_TEST_VERBOSITY = "DBGP_BRIDGE_TEST_VERBOSITY"

// NewLogForTesting returns a logger that only shows errors, unless the test run is verbose
// or DBGP_BRIDGE_TEST_VERBOSITY asks for more.
func NewLogForTesting(name string) logr.Logger {
	log := logger.New(name)

	level := zapcore.ErrorLevel
	if !flag.Parsed() {
		flag.Parse() // Needed to test if verbose flag was present.
	}
	if testing.Verbose() {
		level = zapcore.DebugLevel
	}
	if verbosity, found := os.LookupEnv(DBGP_BRIDGE_TEST_VERBOSITY); found {
		level, _ = logger.StringToLevel(verbosity, level)
	}
	log.SetLevel(level)

	return log.Logger.WithValues("test", name)
}
