/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"encoding/json"
	"fmt"
)

// Chrome DevTools protocol types used by the handlers.
// Line and column numbers are zero-based, unlike DBGp line numbers.

type RemoteObject struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	ClassName   string          `json:"className,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
	ObjectID    string          `json:"objectId,omitempty"`
}

type PropertyDescriptor struct {
	Name         string       `json:"name"`
	Value        RemoteObject `json:"value"`
	Writable     bool         `json:"writable"`
	Configurable bool         `json:"configurable"`
	Enumerable   bool         `json:"enumerable"`
	IsOwn        bool         `json:"isOwn"`
}

type Location struct {
	ScriptID     string `json:"scriptId"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

type Scope struct {
	Type   string       `json:"type"`
	Object RemoteObject `json:"object"`
	Name   string       `json:"name,omitempty"`
}

type CallFrame struct {
	CallFrameID  string       `json:"callFrameId"`
	FunctionName string       `json:"functionName"`
	Location     Location     `json:"location"`
	ScopeChain   []Scope      `json:"scopeChain"`
	This         RemoteObject `json:"this"`
}

type Frame struct {
	ID             string `json:"id"`
	LoaderID       string `json:"loaderId"`
	URL            string `json:"url"`
	MimeType       string `json:"mimeType"`
	SecurityOrigin string `json:"securityOrigin"`
}

type ConsoleMessage struct {
	Level  string `json:"level"`
	Source string `json:"source"`
	Type   string `json:"type"`
	Text   string `json:"text"`
	URL    string `json:"url,omitempty"`
	Line   int    `json:"line,omitempty"`
}

type ExecutionContextDescription struct {
	ID            int    `json:"id"`
	Origin        string `json:"origin"`
	Name          string `json:"name"`
	FrameID       string `json:"frameId"`
	IsPageContext bool   `json:"isPageContext"`
}

// EvaluationResult is the result of Runtime.evaluate and Debugger.evaluateOnCallFrame.
type EvaluationResult struct {
	Result    RemoteObject `json:"result"`
	WasThrown bool         `json:"wasThrown"`
}

// Event parameters.

type pausedParams struct {
	CallFrames []CallFrame    `json:"callFrames"`
	Reason     string         `json:"reason"`
	Data       *RemoteObject  `json:"data,omitempty"`
}

type scriptParsedParams struct {
	ScriptID        string `json:"scriptId"`
	URL             string `json:"url"`
	StartLine       int    `json:"startLine"`
	StartColumn     int    `json:"startColumn"`
	EndLine         int    `json:"endLine"`
	EndColumn       int    `json:"endColumn"`
	IsContentScript bool   `json:"isContentScript"`
}

type breakpointResolvedParams struct {
	BreakpointID string   `json:"breakpointId"`
	Location     Location `json:"location"`
}

// emptyResult is the result of commands that succeed without returning anything.
var emptyResult = struct{}{}

// Decodes command parameters into the given struct.
func decodeParams(params json.RawMessage, target any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, target); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return nil
}
