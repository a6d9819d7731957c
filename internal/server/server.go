/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package server exposes the bridge to Chrome DevTools clients: the HTTP discovery endpoints
// (/json, /json/list, /json/version) and the websocket that carries one debugging session.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/microsoft/dbgp-bridge/internal/bridge"
	"github.com/microsoft/dbgp-bridge/internal/config"
	"github.com/microsoft/dbgp-bridge/internal/telemetry"
	"github.com/microsoft/dbgp-bridge/internal/version"
)

const (
	writeTimeout      = 10 * time.Second
	closeTimeout      = 100 * time.Millisecond
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxMessageSize    = 16 * 1024 * 1024
)

var ErrSessionActive = errors.New("a debugging session is already active")

// Target is a debuggable target as listed by the discovery endpoints.
type Target struct {
	Description          string `json:"description"`
	DevtoolsFrontendURL  string `json:"devtoolsFrontendUrl"`
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type BrowserVersion struct {
	Browser         string `json:"Browser"`
	ProtocolVersion string `json:"Protocol-Version"`
}

// Server hands out at most one debugging session at a time.
// The session, and the engine listener that comes with it, live as long as the client websocket.
type Server struct {
	config   config.Config
	log      logr.Logger
	targetID string
	upgrader websocket.Upgrader
	router   chi.Router

	lock     *sync.Mutex
	active   *session
	sessions sync.WaitGroup

	sessionCounter metric.Int64Counter
}

func NewServer(cfg config.Config, log logr.Logger) *Server {
	ts := telemetry.GetTelemetrySystem()
	meter := ts.MeterProvider.Meter("server")

	s := &Server{
		config:   cfg,
		log:      log.WithName("Server"),
		targetID: uuid.NewString(),
		upgrader: websocket.Upgrader{
			// DevTools front ends are served from arbitrary origins (devtools://, chrome-extension://, localhost).
			CheckOrigin: func(*http.Request) bool { return true },
		},
		lock:           &sync.Mutex{},
		sessionCounter: telemetry.NewInt64Counter(meter, "debugging_sessions", "Debugging sessions served"),
	}

	r := chi.NewRouter()
	r.Get("/json", s.listTargets)
	r.Get("/json/list", s.listTargets)
	r.Get("/json/version", s.browserVersion)
	r.Get("/devtools/page/{id}", s.serveSession)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", ts.MetricsHandler())
	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) TargetID() string {
	return s.targetID
}

// EngineAddr returns the address engines of the active session should connect to,
// or "" if there is no active session.
func (s *Server) EngineAddr() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.active == nil || s.active.translator == nil {
		return ""
	}
	return s.active.translator.EngineAddr()
}

// Run serves clients on the configured address until the context is cancelled.
// The active session, if any, is ended before Run returns.
func (s *Server) Run(ctx context.Context) error {
	listener, listenErr := net.Listen("tcp", s.config.Listen)
	if listenErr != nil {
		return fmt.Errorf("could not listen on %s: %w", s.config.Listen, listenErr)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.log.Info("Waiting for Chrome DevTools clients", "Address", listener.Addr().String(),
		"URL", fmt.Sprintf("ws://%s/devtools/page/%s", listener.Addr().String(), s.targetID))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		s.endActiveSession()
		return err

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		s.sessions.Wait()
		if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Join(err, shutdownErr)
		}
		return shutdownErr
	}
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	wsAddr := fmt.Sprintf("%s/devtools/page/%s", r.Host, s.targetID)
	writeJSON(w, []Target{{
		Description:          "HHVM",
		DevtoolsFrontendURL:  "devtools://devtools/bundled/inspector.html?experiments=true&v8only=true&ws=" + wsAddr,
		ID:                   s.targetID,
		Title:                version.ProductName,
		Type:                 "node",
		URL:                  "file://",
		WebSocketDebuggerURL: "ws://" + wsAddr,
	}})
}

func (s *Server) browserVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, BrowserVersion{
		Browser:         version.Product(),
		ProtocolVersion: version.ProtocolVersion,
	})
}

func (s *Server) serveSession(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "id") != s.targetID {
		http.Error(w, "unknown debugging target", http.StatusNotFound)
		return
	}

	// Claim the session slot before upgrading, so that a second client gets a proper HTTP error.
	sess := &session{log: s.log.WithValues("Session", uuid.NewString()), writeLock: &sync.Mutex{}}
	if claimErr := s.claim(sess); claimErr != nil {
		http.Error(w, claimErr.Error(), http.StatusConflict)
		return
	}
	defer s.release(sess)

	conn, upgradeErr := s.upgrader.Upgrade(w, r, nil)
	if upgradeErr != nil {
		// The upgrader has already replied to the client.
		s.log.V(1).Info("Websocket upgrade failed", "Error", upgradeErr.Error())
		return
	}
	conn.SetReadLimit(maxMessageSize)
	s.lock.Lock()
	sess.conn = conn
	s.lock.Unlock()

	s.sessionCounter.Add(r.Context(), 1)
	s.runSession(r.Context(), sess)
}

func (s *Server) claim(sess *session) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.active != nil {
		return ErrSessionActive
	}
	s.active = sess
	s.sessions.Add(1)
	return nil
}

func (s *Server) release(sess *session) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.active == sess {
		s.active = nil
	}
	s.sessions.Done()
}

func (s *Server) endActiveSession() {
	s.lock.Lock()
	var sess *session
	if s.active != nil && s.active.conn != nil {
		sess = s.active
	}
	s.lock.Unlock()

	if sess != nil {
		sess.close(websocket.CloseGoingAway, "bridge is shutting down")
	}
}

func (s *Server) runSession(ctx context.Context, sess *session) {
	sess.log.Info("Chrome DevTools client connected", "RemoteAddr", sess.conn.RemoteAddr().String())

	translator := bridge.NewTranslator(s.config.TranslatorConfig(sess.send, sess.log))
	translator.OnSessionEnd(func(reason bridge.SessionEndReason) {
		code := websocket.CloseNormalClosure
		if reason == bridge.SessionEndBackendError {
			code = websocket.CloseInternalServerErr
		}
		sess.close(code, "debugging session ended: "+reason.String())
	})

	s.lock.Lock()
	sess.translator = translator
	s.lock.Unlock()

	// Hijacked websocket connections are not closed by http.Server.Shutdown().
	stopWatching := context.AfterFunc(ctx, func() {
		sess.close(websocket.CloseGoingAway, "bridge is shutting down")
	})
	defer stopWatching()

	defer func() {
		translator.Dispose()
		translator.Wait()
		if closeErr := sess.conn.Close(); closeErr != nil {
			sess.log.V(1).Info("Failed to close websocket", "Error", closeErr.Error())
		}
		sess.log.Info("Chrome DevTools client disconnected")
	}()

	if startErr := translator.Start(ctx); startErr != nil {
		sess.log.Error(startErr, "Could not start debugging session")
		sess.close(websocket.CloseInternalServerErr, "could not accept engine connections")
		return
	}
	if addr := translator.EngineAddr(); addr != "" {
		sess.log.Info("Waiting for debugger engines", "Address", addr)
	}

	for {
		msgType, msg, readErr := sess.conn.ReadMessage()

		var closeErr *websocket.CloseError
		if errors.As(readErr, &closeErr) {
			sess.log.V(1).Info("Client closed the websocket", "Code", closeErr.Code)
			return
		}
		if readErr != nil {
			sess.log.V(1).Info("Failed to read from websocket", "Error", readErr.Error())
			return
		}

		switch msgType {
		// Ping, pong and close messages are handled by the websocket library.

		case websocket.TextMessage:
			translator.HandleCommand(string(msg))

		default:
			sess.log.Info("Ignoring non-text websocket message", "Type", msgType)
		}
	}
}

type session struct {
	log        logr.Logger
	conn       *websocket.Conn
	translator *bridge.Translator

	// Websocket connections support one concurrent writer.
	writeLock *sync.Mutex
	closed    bool
}

func (sess *session) send(message string) {
	sess.writeLock.Lock()
	defer sess.writeLock.Unlock()
	if sess.closed {
		return
	}

	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if writeErr := sess.conn.WriteMessage(websocket.TextMessage, []byte(message)); writeErr != nil {
		sess.log.V(1).Info("Failed to deliver message to client", "Error", writeErr.Error())
	}
}

// Asks the client to close the websocket. The read loop ends when the client answers, or when the connection drops.
func (sess *session) close(code int, text string) {
	sess.writeLock.Lock()
	defer sess.writeLock.Unlock()
	if sess.closed {
		return
	}
	sess.closed = true

	closeMsgErr := sess.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(closeTimeout),
	)
	if closeMsgErr != nil {
		sess.log.V(1).Info("Failed to send close message to client", "Error", closeMsgErr.Error())
		// The client will not answer, so stop waiting for it.
		_ = sess.conn.Close()
	} else {
		_ = sess.conn.SetReadDeadline(time.Now().Add(closeTimeout * 10))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
