// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package dbgp

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Command is a DBGp command that has not been assigned a transaction id yet.
// Commands are immutable once built, so the same Command may be sent to several connections.
type Command struct {
	Name string
	args []commandArg
	data []byte
}

type commandArg struct {
	flag  string
	value string
}

func NewCommand(name string) *Command {
	return &Command{Name: name}
}

// WithArg returns a copy of the command with the "-flag value" argument appended.
func (c *Command) WithArg(flag string, value string) *Command {
	copied := c.clone()
	copied.args = append(copied.args, commandArg{flag: flag, value: value})
	return copied
}

func (c *Command) WithIntArg(flag string, value int) *Command {
	return c.WithArg(flag, strconv.Itoa(value))
}

// WithData returns a copy of the command carrying the data that follows "--" on the command line.
func (c *Command) WithData(data []byte) *Command {
	copied := c.clone()
	copied.data = data
	return copied
}

// Arg returns the value of the given argument, if present.
func (c *Command) Arg(flag string) (string, bool) {
	for _, a := range c.args {
		if a.flag == flag {
			return a.value, true
		}
	}
	return "", false
}

func (c *Command) Data() []byte {
	return c.data
}

// IsContinuation returns true for commands that resume engine execution.
// The engine answers them only when execution stops again, which may take arbitrarily long.
func (c *Command) IsContinuation() bool {
	switch c.Name {
	case "run", "step_into", "step_over", "step_out", "stop", "detach":
		return true
	default:
		return false
	}
}

// Encode renders the command line (without the NUL terminator) using the given transaction id.
func (c *Command) Encode(transactionID int) string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	sb.WriteString(" -i ")
	sb.WriteString(strconv.Itoa(transactionID))

	for _, a := range c.args {
		sb.WriteString(" -")
		sb.WriteString(a.flag)
		sb.WriteByte(' ')
		sb.WriteString(quoteArgValue(a.value))
	}

	if c.data != nil {
		sb.WriteString(" -- ")
		sb.WriteString(base64.StdEncoding.EncodeToString(c.data))
	}

	return sb.String()
}

func (c *Command) String() string {
	return c.Encode(0)
}

func (c *Command) clone() *Command {
	return &Command{
		Name: c.Name,
		args: append([]commandArg(nil), c.args...),
		data: c.data,
	}
}

// Argument values that contain spaces, quotes or are empty must be enclosed in double quotes,
// with embedded quotes and backslashes escaped.
func quoteArgValue(value string) string {
	if value != "" && !strings.ContainsAny(value, " \t\"\\\x00") {
		return value
	}

	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range value {
		switch r {
		case '"', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case 0:
			sb.WriteString("\\0")
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// Commands used by the bridge.

func featureSetCommand(name, value string) *Command {
	return NewCommand("feature_set").WithArg("n", name).WithArg("v", value)
}

func StackGetCommand() *Command {
	return NewCommand("stack_get")
}

func ContextNamesCommand(depth int) *Command {
	return NewCommand("context_names").WithIntArg("d", depth)
}

func ContextGetCommand(depth, contextID int) *Command {
	return NewCommand("context_get").WithIntArg("d", depth).WithIntArg("c", contextID)
}

func PropertyGetCommand(depth, contextID int, fullName string, page int) *Command {
	return NewCommand("property_get").
		WithIntArg("d", depth).
		WithIntArg("c", contextID).
		WithArg("n", fullName).
		WithIntArg("p", page)
}

func EvalCommand(expression string) *Command {
	return NewCommand("eval").WithData([]byte(expression))
}

// LineBreakpointCommand builds a breakpoint_set command for a (1-based) line in the given file URI.
// A non-empty condition makes it a conditional breakpoint.
func LineBreakpointCommand(fileURI string, line int, condition string) *Command {
	if condition == "" {
		return NewCommand("breakpoint_set").WithArg("t", "line").WithArg("f", fileURI).WithIntArg("n", line)
	}
	return NewCommand("breakpoint_set").WithArg("t", "conditional").WithArg("f", fileURI).WithIntArg("n", line).WithData([]byte(condition))
}

func ExceptionBreakpointCommand(exception string) *Command {
	return NewCommand("breakpoint_set").WithArg("t", "exception").WithArg("x", exception)
}

func BreakpointRemoveCommand(engineID string) *Command {
	return NewCommand("breakpoint_remove").WithArg("d", engineID)
}

func BreakpointUpdateStateCommand(engineID string, enabled bool) *Command {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return NewCommand("breakpoint_update").WithArg("d", engineID).WithArg("s", state)
}

func SourceCommand(fileURI string) *Command {
	return NewCommand("source").WithArg("f", fileURI)
}
