/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
	"github.com/microsoft/dbgp-bridge/internal/dbgp/dbgptest"
	"github.com/microsoft/dbgp-bridge/pkg/testutil"
)

const defaultBridgeTestTimeout = 20 * time.Second

// cdpMessage is any message delivered to the front end: a reply or an event.
type cdpMessage struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Raw    string          `json:"-"`
}

func (m cdpMessage) isReplyTo(id int64) bool {
	return m.ID != nil && *m.ID == id && m.Method == ""
}

// messageRecorder is a front-end sink that remembers everything it receives.
type messageRecorder struct {
	lock     *sync.Mutex
	messages []cdpMessage
	changed  chan struct{}
}

func newMessageRecorder() *messageRecorder {
	return &messageRecorder{
		lock:    &sync.Mutex{},
		changed: make(chan struct{}),
	}
}

func (r *messageRecorder) record(message string) {
	var msg cdpMessage
	if err := json.Unmarshal([]byte(message), &msg); err != nil {
		panic(fmt.Sprintf("sink received invalid JSON: %s", message))
	}
	msg.Raw = message

	r.lock.Lock()
	defer r.lock.Unlock()
	r.messages = append(r.messages, msg)
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *messageRecorder) all() []cdpMessage {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]cdpMessage(nil), r.messages...)
}

func (r *messageRecorder) count(match func(cdpMessage) bool) int {
	n := 0
	for _, msg := range r.all() {
		if match(msg) {
			n++
		}
	}
	return n
}

// Waits until n messages matching the predicate have been received and returns the n-th one.
func (r *messageRecorder) waitForNth(t *testing.T, ctx context.Context, n int, match func(cdpMessage) bool) cdpMessage {
	for {
		r.lock.Lock()
		seen := 0
		for _, msg := range r.messages {
			if match(msg) {
				seen++
				if seen == n {
					r.lock.Unlock()
					return msg
				}
			}
		}
		changed := r.changed
		r.lock.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			require.FailNow(t, "timed out waiting for a message", "received: %v", r.all())
		}
	}
}

func (r *messageRecorder) waitFor(t *testing.T, ctx context.Context, match func(cdpMessage) bool) cdpMessage {
	return r.waitForNth(t, ctx, 1, match)
}

func (r *messageRecorder) waitForReply(t *testing.T, ctx context.Context, id int64) cdpMessage {
	return r.waitFor(t, ctx, func(m cdpMessage) bool { return m.isReplyTo(id) })
}

func (r *messageRecorder) waitForEvent(t *testing.T, ctx context.Context, method string) cdpMessage {
	return r.waitForNth(t, ctx, 1, isEvent(method))
}

func isEvent(method string) func(cdpMessage) bool {
	return func(m cdpMessage) bool { return m.Method == method }
}

func decodeJSON[T any](t *testing.T, data json.RawMessage) T {
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

// testSession is a Translator wired to in-memory engines.
type testSession struct {
	*Translator
	recorder *messageRecorder
	nextID   int64
	idLock   *sync.Mutex
}

func newTestSession(t *testing.T, connConfig dbgp.ConnectionConfig) *testSession {
	recorder := newMessageRecorder()
	connConfig.Port = -1
	tr := NewTranslator(TranslatorConfig{
		Connection: connConfig,
		Sink:       recorder.record,
		Logger:     testutil.NewLogForTesting(t.Name()),
	})
	t.Cleanup(tr.Dispose)

	return &testSession{Translator: tr, recorder: recorder, nextID: 100, idLock: &sync.Mutex{}}
}

func (s *testSession) attach(t *testing.T, ctx context.Context, n int) (*dbgptest.Engine, dbgp.ConnectionID) {
	engine := dbgptest.NewEngine(dbgp.InitPacket{
		AppID:           "4242",
		IDEKey:          "test",
		Language:        "PHP",
		ProtocolVersion: "1.0",
		FileURI:         fmt.Sprintf("file:///app/script%d.php", n),
	})
	t.Cleanup(func() { _ = engine.Close() })

	id, attachErr := s.mux.Attach(ctx, engine.Transport(), engine.Init)
	require.NoError(t, attachErr)
	return engine, id
}

// Sends a command and waits for its reply.
func (s *testSession) call(t *testing.T, ctx context.Context, method string, params string) cdpMessage {
	s.idLock.Lock()
	s.nextID++
	id := s.nextID
	s.idLock.Unlock()

	if params == "" {
		params = "{}"
	}
	s.HandleCommand(fmt.Sprintf(`{"id":%d,"method":"%s","params":%s}`, id, method, params))
	return s.recorder.waitForReply(t, ctx, id)
}

func (s *testSession) mustCall(t *testing.T, ctx context.Context, method string, params string) json.RawMessage {
	reply := s.call(t, ctx, method, params)
	require.Nil(t, reply.Error, "%s failed: %s", method, reply.Raw)
	return reply.Result
}

// Lets engines run and waits until the given engine is running.
func (s *testSession) startEngine(t *testing.T, ctx context.Context, engine *dbgptest.Engine) {
	s.mustCall(t, ctx, "Runtime.runIfWaitingForDebugger", "")
	_, waitErr := engine.WaitFor(ctx, "run", 1)
	require.NoError(t, waitErr)
}

func countCommands(engine *dbgptest.Engine, name string) int {
	count := 0
	for _, n := range engine.ReceivedNames() {
		if n == name {
			count++
		}
	}
	return count
}

func newTestContext(t *testing.T) (context.Context, context.CancelFunc) {
	return testutil.GetTestContext(t, defaultBridgeTestTimeout)
}
