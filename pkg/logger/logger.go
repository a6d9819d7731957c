/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DBGP_BRIDGE_LOG_FILE       = "DBGP_BRIDGE_LOG_FILE"       // Path of a file to receive machine-readable (JSON) diagnostics logs
	DBGP_BRIDGE_LOG_FILE_LEVEL = "DBGP_BRIDGE_LOG_FILE_LEVEL" // Level for the diagnostics log file (defaults to debug)

	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"
)

type Logger struct {
	logr.Logger
	name        string
	atomicLevel zap.AtomicLevel
	flush       func()
}

// New creates a logger that writes human-readable output to stderr
// and, if DBGP_BRIDGE_LOG_FILE is set, JSON output to the named file.
func New(name string) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if runtime.GOOS == "windows" {
		encoderConfig.LineEnding = "\r\n"
	}

	consoleAtomicLevel := zap.NewAtomicLevel()
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), consoleAtomicLevel),
	}

	fileCore, fileErr := getFileLogCore(encoderConfig)
	if fileCore != nil {
		cores = append(cores, fileCore)
	}

	zapLogger := zap.New(zapcore.NewTee(cores...)).Named(name)
	log := zapr.NewLogger(zapLogger)

	if fileErr != nil {
		log.Error(fileErr, "Failed to enable diagnostics log file")
	}

	return &Logger{
		Logger:      log,
		name:        name,
		atomicLevel: consoleAtomicLevel,
		flush: func() {
			_ = zapLogger.Sync()
		},
	}
}

func (l *Logger) WithName(name string) *Logger {
	l.Logger = l.Logger.WithName(name)
	return l
}

func (l *Logger) SetLevel(level zapcore.Level) {
	l.atomicLevel.SetLevel(level)
}

func (l *Logger) Flush() {
	l.flush()
}

// AddLevelFlag adds the -v/--verbosity flag that sets the console log level.
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	fs.VarP(&levelFlag{apply: l.SetLevel}, verbosityFlagName, verbosityFlagShortName,
		"Console logging verbosity: 'trace' (protocol traffic), 'debug', 'info', 'warn', 'error', or a positive verbosity number.")
}

// Returns nil core (and nil error) if the diagnostics log file is not enabled.
func getFileLogCore(encoderConfig zapcore.EncoderConfig) (zapcore.Core, error) {
	path, found := os.LookupEnv(DBGP_BRIDGE_LOG_FILE)
	if !found || path == "" {
		return nil, nil
	}

	level := zapcore.DebugLevel
	if levelStr, hasLevel := os.LookupEnv(DBGP_BRIDGE_LOG_FILE_LEVEL); hasLevel {
		var levelErr error
		if level, levelErr = StringToLevel(levelStr, zapcore.DebugLevel); levelErr != nil {
			return nil, levelErr
		}
	}

	if dirErr := os.MkdirAll(filepath.Dir(path), 0o700); dirErr != nil {
		return nil, fmt.Errorf("failed to create the folder for log file '%s': %w", path, dirErr)
	}
	logFile, openErr := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if openErr != nil {
		return nil, fmt.Errorf("failed to open log file '%s': %w", path, openErr)
	}

	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(logFile), zap.NewAtomicLevelAt(level)), nil
}
