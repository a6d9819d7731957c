/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// TraceLevel shows protocol traffic: every Chrome DevTools command and every DBGp command line (logr V(2)).
const TraceLevel = zapcore.Level(-2)

var namedLevels = map[string]zapcore.Level{
	"trace": TraceLevel,
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// StringToLevel converts a level name, or a positive logr verbosity, to a zap level.
// On failure it returns defaultLevel along with the error.
func StringToLevel(value string, defaultLevel zapcore.Level) (zapcore.Level, error) {
	value = strings.TrimSpace(value)
	if level, isNamed := namedLevels[strings.ToLower(value)]; isNamed {
		return level, nil
	}

	verbosity, convErr := strconv.Atoi(value)
	if convErr != nil || verbosity <= 0 || verbosity > 127 {
		return defaultLevel, fmt.Errorf("invalid log level '%s': use trace, debug, info, warn, error, or a positive verbosity", value)
	}
	return zapcore.Level(-verbosity), nil
}

// levelFlag applies the level as soon as the flag is parsed, so that logging during command setup honors it.
type levelFlag struct {
	apply func(zapcore.Level)
	raw   string
}

func (f *levelFlag) Set(value string) error {
	level, levelErr := StringToLevel(value, zapcore.InfoLevel)
	if levelErr != nil {
		return levelErr
	}
	f.apply(level)
	f.raw = value
	return nil
}

func (f *levelFlag) String() string {
	return f.raw
}

func (f *levelFlag) Type() string {
	return "level"
}

var _ pflag.Value = (*levelFlag)(nil)
