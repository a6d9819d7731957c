/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dbgp_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
	"github.com/microsoft/dbgp-bridge/internal/dbgp/dbgptest"
	"github.com/microsoft/dbgp-bridge/pkg/testutil"
)

const defaultMultiplexerTestTimeout = 20 * time.Second

func testInit(n int) dbgp.InitPacket {
	return dbgp.InitPacket{
		AppID:           "4242",
		IDEKey:          "test",
		Language:        "PHP",
		ProtocolVersion: "1.0",
		FileURI:         fmt.Sprintf("file:///app/script%d.php", n),
	}
}

func newTestMultiplexer(t *testing.T, ctx context.Context, config dbgp.ConnectionConfig) (*dbgp.Multiplexer, <-chan dbgp.Event) {
	config.Port = -1
	config.Logger = testutil.NewLogForTesting(t.Name())
	mux := dbgp.NewMultiplexer(config)
	t.Cleanup(mux.Dispose)
	return mux, mux.Subscribe(ctx)
}

func attachEngine(t *testing.T, ctx context.Context, mux *dbgp.Multiplexer, n int) (*dbgptest.Engine, dbgp.ConnectionID) {
	engine := dbgptest.NewEngine(testInit(n))
	t.Cleanup(func() { _ = engine.Close() })
	id, attachErr := mux.Attach(ctx, engine.Transport(), engine.Init)
	require.NoError(t, attachErr)
	return engine, id
}

func waitForEvent(t *testing.T, ctx context.Context, events <-chan dbgp.Event, matches func(dbgp.Event) bool) dbgp.Event {
	for {
		select {
		case e, ok := <-events:
			require.True(t, ok, "event channel closed")
			if matches(e) {
				return e
			}
		case <-ctx.Done():
			require.FailNow(t, "timed out waiting for event")
		}
	}
}

func isEvent(kind dbgp.EventKind, id dbgp.ConnectionID) func(dbgp.Event) bool {
	return func(e dbgp.Event) bool {
		return e.Kind == kind && e.Connection.ID == id
	}
}

func isStatus(status dbgp.Status, id dbgp.ConnectionID) func(dbgp.Event) bool {
	return func(e dbgp.Event) bool {
		return e.Kind == dbgp.StatusChanged && e.Connection.ID == id && e.Status == status
	}
}

// Puts an attached engine into the break state through a run command answered with status break.
func runAndPause(t *testing.T, ctx context.Context, mux *dbgp.Multiplexer, events <-chan dbgp.Event, engine *dbgptest.Engine, id dbgp.ConnectionID) {
	runs := countCommands(engine, "run")
	_, resumeErr := mux.Resume(id, dbgp.NewCommand("run"))
	require.NoError(t, resumeErr)
	_, waitErr := engine.WaitFor(ctx, "run", runs+1)
	require.NoError(t, waitErr)
	require.NoError(t, engine.Pause())
	waitForEvent(t, ctx, events, isStatus(dbgp.StatusBreak, id))
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

func TestAttachConfiguresEngineAndPublishesEvent(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, events := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{MaxDepth: 2, MaxChildren: 50})
	engine, id := attachEngine(t, ctx, mux, 1)

	e := waitForEvent(t, ctx, events, isEvent(dbgp.ConnectionAttached, id))
	require.Equal(t, "file:///app/script1.php", e.Connection.Init.FileURI)
	require.Equal(t, dbgp.StatusStarting, e.Connection.Status)

	received := engine.Received()
	var features []string
	for _, cmd := range received {
		if cmd.Name == "feature_set" {
			features = append(features, cmd.Args["n"]+"="+cmd.Args["v"])
		}
	}
	require.Contains(t, features, "max_depth=2")
	require.Contains(t, features, "max_children=50")
	require.Contains(t, engine.ReceivedNames(), "stdout")

	infos := mux.Connections()
	require.Len(t, infos, 1)
	require.Equal(t, id, infos[0].ID)
}

func TestCommandsAreSentOneAtATimeInSubmissionOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, _ := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{})
	engine, id := attachEngine(t, ctx, mux, 1)

	heldTx := make(chan int, 1)
	engine.Handle("eval", func(cmd dbgptest.ReceivedCommand) dbgptest.Reply {
		heldTx <- cmd.TransactionID
		return dbgptest.Reply{Hold: true}
	})
	engine.Handle("property_get", func(cmd dbgptest.ReceivedCommand) dbgptest.Reply {
		return dbgptest.Reply{Body: dbgptest.PropertyXML(cmd.Args["n"], cmd.Args["n"], "int", "1")}
	})

	firstDone := make(chan error, 1)
	go func() {
		_, sendErr := mux.Send(ctx, id, dbgp.EvalCommand("slow()"))
		firstDone <- sendErr
	}()
	txID := <-heldTx

	const numCommands = 10
	var wg sync.WaitGroup
	for i := 0; i < numCommands; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, sendErr := mux.Send(ctx, id, dbgp.PropertyGetCommand(0, 0, fmt.Sprintf("$v%d", i), 0))
			if sendErr == nil {
				// Each caller gets the response to its own command.
				require.Equal(t, fmt.Sprintf("$v%d", i), resp.Properties[0].FullName)
			}
		}(i)
		require.Eventually(t, func() bool { return mux.QueuedCommands(id) == i+1 }, 5*time.Second, time.Millisecond)
	}

	// Nothing else reaches the engine while the first command is outstanding.
	require.Equal(t, 0, countCommands(engine, "property_get"))

	require.NoError(t, engine.Respond(txID, dbgptest.Reply{Body: dbgptest.PropertyXML("", "", "int", "2")}))
	require.NoError(t, <-firstDone)
	wg.Wait()

	var order []string
	for _, cmd := range engine.Received() {
		if cmd.Name == "property_get" {
			order = append(order, cmd.Args["n"])
		}
	}
	require.Len(t, order, numCommands)
	for i, name := range order {
		require.Equal(t, fmt.Sprintf("$v%d", i), name)
	}
}

func TestEngineErrorsAreReturnedToCaller(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, _ := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{})
	_, id := attachEngine(t, ctx, mux, 1)

	_, sendErr := mux.Send(ctx, id, dbgp.EvalCommand("$undefined->x"))
	require.True(t, dbgp.IsEngineError(sendErr))
	require.False(t, dbgp.IsConnectionError(sendErr))

	// The connection is still usable.
	resp, sendErr := mux.Send(ctx, id, dbgp.StackGetCommand())
	require.NoError(t, sendErr)
	require.Len(t, resp.Stack, 1)
}

func TestUnansweredCommandTimesOutAndEndsConnection(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, events := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{CommandTimeout: 200 * time.Millisecond})
	engine, id := attachEngine(t, ctx, mux, 1)
	engine.Handle("eval", func(dbgptest.ReceivedCommand) dbgptest.Reply { return dbgptest.Reply{Hold: true} })

	_, sendErr := mux.Send(ctx, id, dbgp.EvalCommand("sleep(100)"))
	require.ErrorIs(t, sendErr, dbgp.ErrCommandTimeout)

	e := waitForEvent(t, ctx, events, isEvent(dbgp.ConnectionEnded, id))
	require.Equal(t, dbgp.EndReasonError, e.Reason)
	require.ErrorIs(t, e.Err, dbgp.ErrCommandTimeout)

	_, sendErr = mux.Send(ctx, id, dbgp.StackGetCommand())
	require.ErrorIs(t, sendErr, dbgp.ErrUnknownConnection)
	require.Empty(t, mux.Connections())
}

func TestResponseWithUnknownTransactionIsProtocolViolation(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, events := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{})
	engine, id := attachEngine(t, ctx, mux, 1)

	require.NoError(t, engine.SendRaw(`<response xmlns="urn:debugger_protocol_v1" command="status" transaction_id="999" status="starting" reason="ok"/>`))

	e := waitForEvent(t, ctx, events, isEvent(dbgp.ConnectionEnded, id))
	require.Equal(t, dbgp.EndReasonError, e.Reason)
	require.ErrorIs(t, e.Err, dbgp.ErrProtocolViolation)
}

func TestFocusFollowsMostRecentBreak(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, events := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{})
	engineA, idA := attachEngine(t, ctx, mux, 1)
	engineB, idB := attachEngine(t, ctx, mux, 2)

	_, focusErr := mux.Send(ctx, dbgp.Focused, dbgp.StackGetCommand())
	require.ErrorIs(t, focusErr, dbgp.ErrNoFocusedConnection)

	runAndPause(t, ctx, mux, events, engineA, idA)
	focused, hasFocus := mux.Focused()
	require.True(t, hasFocus)
	require.Equal(t, idA, focused)

	runAndPause(t, ctx, mux, events, engineB, idB)
	focused, _ = mux.Focused()
	require.Equal(t, idB, focused)

	_, sendErr := mux.Send(ctx, dbgp.Focused, dbgp.StackGetCommand())
	require.NoError(t, sendErr)
	require.Equal(t, 1, countCommands(engineB, "stack_get"))
	require.Equal(t, 0, countCommands(engineA, "stack_get"))

	// Resuming the focused connection hands focus to the other connection that is still stopped.
	resumed, resumeErr := mux.Resume(dbgp.Focused, dbgp.NewCommand("step_over"))
	require.NoError(t, resumeErr)
	require.Equal(t, idB, resumed)
	waitForEvent(t, ctx, events, isStatus(dbgp.StatusRunning, idB))
	waitForEvent(t, ctx, events, isEvent(dbgp.FocusChanged, idA))

	focused, _ = mux.Focused()
	require.Equal(t, idA, focused)
	_, waitErr := engineB.WaitFor(ctx, "step_over", 1)
	require.NoError(t, waitErr)
}

func TestFocusReturnsToMostRecentRemainingBreak(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, events := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{})
	engineA, idA := attachEngine(t, ctx, mux, 1)
	engineB, idB := attachEngine(t, ctx, mux, 2)
	engineC, idC := attachEngine(t, ctx, mux, 3)

	// Stopped in the order A, C, B.
	runAndPause(t, ctx, mux, events, engineA, idA)
	runAndPause(t, ctx, mux, events, engineC, idC)
	runAndPause(t, ctx, mux, events, engineB, idB)

	resumed, resumeErr := mux.Resume(dbgp.Focused, dbgp.NewCommand("run"))
	require.NoError(t, resumeErr)
	require.Equal(t, idB, resumed)
	waitForEvent(t, ctx, events, isEvent(dbgp.FocusChanged, idC))

	focused, _ := mux.Focused()
	require.Equal(t, idC, focused)

	resumed, resumeErr = mux.Resume(dbgp.Focused, dbgp.NewCommand("run"))
	require.NoError(t, resumeErr)
	require.Equal(t, idC, resumed)
	waitForEvent(t, ctx, events, isEvent(dbgp.FocusChanged, idA))
}

func TestBreakInterruptsRunningEngine(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, events := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{})
	engine, id := attachEngine(t, ctx, mux, 1)

	_, resumeErr := mux.Resume(id, dbgp.NewCommand("run"))
	require.NoError(t, resumeErr)
	_, waitErr := engine.WaitFor(ctx, "run", 1)
	require.NoError(t, waitErr)

	// The run command is still outstanding, so break must not wait behind it.
	require.NoError(t, mux.Break(ctx, id))
	waitForEvent(t, ctx, events, isStatus(dbgp.StatusBreak, id))

	focused, _ := mux.Focused()
	require.Equal(t, id, focused)
}

func TestBroadcastSkipsRunningConnections(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, events := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{})
	engineA, idA := attachEngine(t, ctx, mux, 1)
	engineB, idB := attachEngine(t, ctx, mux, 2)
	engineC, idC := attachEngine(t, ctx, mux, 3)

	_, resumeErr := mux.Resume(idB, dbgp.NewCommand("run"))
	require.NoError(t, resumeErr)
	waitForEvent(t, ctx, events, isStatus(dbgp.StatusRunning, idB))

	results := mux.Broadcast(ctx, func(info dbgp.ConnectionInfo) *dbgp.Command {
		return dbgp.LineBreakpointCommand(info.Init.FileURI, 3, "")
	})

	require.Len(t, results, 2)
	require.Equal(t, idA, results[0].ConnectionID)
	require.Equal(t, idC, results[1].ConnectionID)
	for _, r := range results {
		require.NoError(t, r.Err)
		require.Equal(t, "1", r.Response.ID)
	}

	require.Equal(t, 1, countCommands(engineA, "breakpoint_set"))
	require.Equal(t, 0, countCommands(engineB, "breakpoint_set"))
	require.Equal(t, 1, countCommands(engineC, "breakpoint_set"))
}

func TestScriptEndStopsEngineAndEndsSession(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, events := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{EndDebugWhenNoRequests: true})
	engine, id := attachEngine(t, ctx, mux, 1)

	_, resumeErr := mux.Resume(id, dbgp.NewCommand("run"))
	require.NoError(t, resumeErr)
	_, waitErr := engine.WaitFor(ctx, "run", 1)
	require.NoError(t, waitErr)
	require.NoError(t, engine.Finish())

	waitForEvent(t, ctx, events, isStatus(dbgp.StatusStopping, id))
	_, waitErr = engine.WaitFor(ctx, "stop", 1)
	require.NoError(t, waitErr)

	e := waitForEvent(t, ctx, events, isEvent(dbgp.ConnectionEnded, id))
	require.Equal(t, dbgp.EndReasonNormal, e.Reason)
	e = waitForEvent(t, ctx, events, func(e dbgp.Event) bool { return e.Kind == dbgp.SessionEnded })
	require.Equal(t, dbgp.EndReasonNormal, e.Reason)
}

func TestSessionContinuesWhenConfiguredToOutliveConnections(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, events := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{EndDebugWhenNoRequests: false})
	engine, id := attachEngine(t, ctx, mux, 1)

	require.NoError(t, engine.Close())
	e := waitForEvent(t, ctx, events, isEvent(dbgp.ConnectionEnded, id))
	require.Equal(t, dbgp.EndReasonNormal, e.Reason)

	// A new engine can still attach to the same session.
	_, id2 := attachEngine(t, ctx, mux, 2)
	waitForEvent(t, ctx, events, func(e dbgp.Event) bool {
		require.NotEqual(t, dbgp.SessionEnded, e.Kind)
		return e.Kind == dbgp.ConnectionAttached && e.Connection.ID == id2
	})
}

func TestGarbageFromEngineEndsConnectionWithError(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, events := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{EndDebugWhenNoRequests: true})
	engine, id := attachEngine(t, ctx, mux, 1)

	require.NoError(t, engine.SendRaw("this is not xml"))

	e := waitForEvent(t, ctx, events, isEvent(dbgp.ConnectionEnded, id))
	require.Equal(t, dbgp.EndReasonError, e.Reason)
	e = waitForEvent(t, ctx, events, func(e dbgp.Event) bool { return e.Kind == dbgp.SessionEnded })
	require.Equal(t, dbgp.EndReasonError, e.Reason)
}

func TestStreamsAndNotificationsArePublished(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, events := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{})
	engine, id := attachEngine(t, ctx, mux, 1)

	require.NoError(t, engine.SendStream("stdout", "hello\n"))
	e := waitForEvent(t, ctx, events, isEvent(dbgp.StreamReceived, id))
	text, textErr := e.Stream.Text()
	require.NoError(t, textErr)
	require.Equal(t, "hello\n", text)

	require.NoError(t, engine.SendNotify("breakpoint_resolved", `<breakpoint id="1" resolved="resolved" lineno="4"/>`))
	e = waitForEvent(t, ctx, events, isEvent(dbgp.NotifyReceived, id))
	require.Equal(t, "breakpoint_resolved", e.Notify.Name)
}

func TestDisposeDetachesIdleEnginesAndRejectsCommands(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux, events := newTestMultiplexer(t, ctx, dbgp.ConnectionConfig{})
	engine, id := attachEngine(t, ctx, mux, 1)

	mux.Dispose()
	mux.Dispose()

	_, waitErr := engine.WaitFor(ctx, "detach", 1)
	require.NoError(t, waitErr)

	e := waitForEvent(t, ctx, events, isEvent(dbgp.ConnectionEnded, id))
	require.Equal(t, dbgp.EndReasonDisposed, e.Reason)

	_, sendErr := mux.Send(ctx, id, dbgp.StackGetCommand())
	require.ErrorIs(t, sendErr, dbgp.ErrMultiplexerDisposed)

	late := dbgptest.NewEngine(testInit(2))
	defer late.Close()
	_, attachErr := mux.Attach(ctx, late.Transport(), late.Init)
	require.True(t, errors.Is(attachErr, dbgp.ErrMultiplexerDisposed))
}
