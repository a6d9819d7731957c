/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
)

const (
	mainFrameID  = "Frame.0"
	mainLoaderID = "Loader.0"
	// Shown as the page URL until the first engine connects.
	defaultFrameURL = "hhvm:///"
)

// PageHandler implements the Page domain. The debugging session is presented as a single page
// that navigates when the first engine connects and is detached when the session ends.
type PageHandler struct {
	callback *Callback
	log      logr.Logger

	lock      *sync.Mutex
	frameURL  string
	navigated bool
	loaded    bool
}

func newPageHandler(callback *Callback, log logr.Logger) *PageHandler {
	return &PageHandler{
		callback: callback,
		log:      log.WithName(PageDomain),
		lock:     &sync.Mutex{},
		frameURL: defaultFrameURL,
	}
}

func (h *PageHandler) Domain() string {
	return PageDomain
}

func (h *PageHandler) Dispatch(_ context.Context, _ int64, verb string, _ json.RawMessage) (any, error) {
	switch verb {
	case "enable", "disable":
		return emptyResult, nil
	case "canScreencast":
		return map[string]bool{"result": false}, nil
	case "getResourceTree":
		return map[string]any{
			"frameTree": map[string]any{
				"frame":     h.frame(),
				"resources": []any{},
			},
		}, nil
	default:
		return nil, unknownMethod(PageDomain, verb)
	}
}

func (h *PageHandler) frame() Frame {
	h.lock.Lock()
	defer h.lock.Unlock()

	return Frame{
		ID:       mainFrameID,
		LoaderID: mainLoaderID,
		URL:      h.frameURL,
		MimeType: "text/php",
	}
}

func (h *PageHandler) consumeEvents(_ context.Context, events <-chan dbgp.Event) {
	for e := range events {
		switch {
		case e.Kind == dbgp.ConnectionAttached:
			h.lock.Lock()
			firstAttach := !h.navigated
			if firstAttach {
				h.navigated = true
				h.frameURL = e.Connection.Init.FileURI
			}
			h.lock.Unlock()

			if firstAttach {
				h.callback.SendEvent("Page.frameNavigated", map[string]any{"frame": h.frame()})
			}

		case e.Kind == dbgp.StatusChanged && e.Status == dbgp.StatusRunning:
			h.lock.Lock()
			firstRun := h.navigated && !h.loaded
			h.loaded = h.loaded || firstRun
			h.lock.Unlock()

			if firstRun {
				h.callback.SendEvent("Page.loadEventFired", map[string]any{"timestamp": float64(time.Now().UnixMilli()) / 1000})
			}

		case e.Kind == dbgp.SessionEnded:
			h.lock.Lock()
			h.navigated = false
			h.loaded = false
			h.frameURL = defaultFrameURL
			h.lock.Unlock()

			h.callback.SendEvent("Page.frameDetached", map[string]any{"frameId": mainFrameID})
		}
	}
}

var _ Handler = (*PageHandler)(nil)
var _ eventConsumer = (*PageHandler)(nil)
