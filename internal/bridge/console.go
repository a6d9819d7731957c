/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
)

// ConsoleHandler implements the Console domain: program output, engine error notifications
// and lost engine connections become console messages while the domain is enabled.
type ConsoleHandler struct {
	callback *Callback
	log      logr.Logger
	enabled  atomic.Bool
}

func newConsoleHandler(callback *Callback, log logr.Logger) *ConsoleHandler {
	return &ConsoleHandler{
		callback: callback,
		log:      log.WithName(ConsoleDomain),
	}
}

func (h *ConsoleHandler) Domain() string {
	return ConsoleDomain
}

func (h *ConsoleHandler) Dispatch(_ context.Context, _ int64, verb string, _ json.RawMessage) (any, error) {
	switch verb {
	case "enable":
		h.enabled.Store(true)
		return emptyResult, nil
	case "disable":
		h.enabled.Store(false)
		return emptyResult, nil
	case "clearMessages":
		h.callback.SendEvent("Console.messagesCleared", nil)
		return emptyResult, nil
	case "setMonitoringXHREnabled":
		return emptyResult, nil
	default:
		return nil, unknownMethod(ConsoleDomain, verb)
	}
}

func (h *ConsoleHandler) consumeEvents(_ context.Context, events <-chan dbgp.Event) {
	for e := range events {
		if !h.enabled.Load() {
			continue
		}

		switch e.Kind {
		case dbgp.StreamReceived:
			text, decodeErr := e.Stream.Text()
			if decodeErr != nil {
				h.log.V(1).Info("Could not decode program output", "Connection", int(e.Connection.ID), "Error", decodeErr.Error())
				continue
			}
			level := "log"
			if e.Stream.Type == "stderr" {
				level = "error"
			}
			h.sendMessage(level, text, e.Connection.Init.FileURI, 0)

		case dbgp.NotifyReceived:
			if e.Notify.Name != "error" {
				continue
			}
			text, decodeErr := e.Notify.Text()
			if decodeErr != nil {
				continue
			}
			url, line := e.Connection.Init.FileURI, 0
			if e.Notify.Message != nil {
				if text == "" {
					text = e.Notify.Message.Text
				}
				if e.Notify.Message.Filename != "" {
					url, line = e.Notify.Message.Filename, e.Notify.Message.LineNo
				}
			}
			h.sendMessage("error", text, url, line)

		case dbgp.ConnectionEnded:
			if e.Reason != dbgp.EndReasonError {
				continue
			}
			text := "Lost connection to the debugger engine"
			if e.Err != nil {
				text = fmt.Sprintf("%s: %s", text, e.Err.Error())
			}
			h.sendMessage("error", text, e.Connection.Init.FileURI, 0)
		}
	}
}

func (h *ConsoleHandler) sendMessage(level, text, url string, line int) {
	h.callback.SendEvent("Console.messageAdded", map[string]any{
		"message": ConsoleMessage{
			Level:  level,
			Source: "console-api",
			Type:   "log",
			Text:   text,
			URL:    url,
			Line:   line,
		},
	})
}

var _ Handler = (*ConsoleHandler)(nil)
var _ eventConsumer = (*ConsoleHandler)(nil)
