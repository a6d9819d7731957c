// Copyright (c) Microsoft Corporation. All rights reserved.

package dbgp_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
	"github.com/microsoft/dbgp-bridge/internal/dbgp/dbgptest"
	"github.com/microsoft/dbgp-bridge/pkg/testutil"
)

func TestConnectorFilters(t *testing.T) {
	t.Parallel()

	type testcase struct {
		description string
		config      dbgp.ConnectionConfig
		init        dbgp.InitPacket
		accepted    bool
	}

	init := dbgp.InitPacket{AppID: "4242", IDEKey: "nuclide", FileURI: "file:///var/www/api/index.php"}

	testcases := []testcase{
		{"no filters", dbgp.ConnectionConfig{}, init, true},
		{"matching IDE key", dbgp.ConnectionConfig{IDEKey: "nuclide"}, init, true},
		{"different IDE key", dbgp.ConnectionConfig{IDEKey: "vscode"}, init, false},
		{"matching process", dbgp.ConnectionConfig{PID: 4242}, init, true},
		{"different process", dbgp.ConnectionConfig{PID: 1}, init, false},
		{"matching script", dbgp.ConnectionConfig{ScriptRegex: `^/var/www/api/`}, init, true},
		{"script filter uses path, not URI", dbgp.ConnectionConfig{ScriptRegex: `^file:`}, init, false},
		{"different script", dbgp.ConnectionConfig{ScriptRegex: `admin\.php$`}, init, false},
		{"all filters match", dbgp.ConnectionConfig{IDEKey: "nuclide", PID: 4242, ScriptRegex: `index`}, init, true},
	}

	for _, tc := range testcases {
		connector, err := dbgp.NewConnector(tc.config, func(dbgp.Transport, dbgp.InitPacket) {})
		require.NoError(t, err, tc.description)
		accepted, reason := connector.Accepts(tc.init)
		require.Equal(t, tc.accepted, accepted, tc.description)
		if !accepted {
			require.NotEmpty(t, reason, tc.description)
		}
	}
}

func TestConnectorRejectsInvalidConfiguration(t *testing.T) {
	t.Parallel()

	_, err := dbgp.NewConnector(dbgp.ConnectionConfig{ScriptRegex: "(unclosed"}, nil)
	require.Error(t, err)

	_, err = dbgp.NewConnector(dbgp.ConnectionConfig{Port: 70000}, nil)
	require.Error(t, err)
}

func TestMultiplexerAcceptsEnginesOverTCP(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux := dbgp.NewMultiplexer(dbgp.ConnectionConfig{
		Address: "127.0.0.1",
		Port:    0,
		IDEKey:  "test",
		Logger:  testutil.NewLogForTesting(t.Name()),
	})
	defer mux.Dispose()
	events := mux.Subscribe(ctx)

	require.NoError(t, mux.Start(ctx))
	addr := mux.ListenAddr()
	require.NotNil(t, addr)

	engine, dialErr := dbgptest.DialEngine(ctx, addr.String(), testInit(1))
	require.NoError(t, dialErr)
	defer engine.Close()

	e := waitForEvent(t, ctx, events, func(e dbgp.Event) bool { return e.Kind == dbgp.ConnectionAttached })
	require.Equal(t, "file:///app/script1.php", e.Connection.Init.FileURI)

	_, sendErr := mux.Send(ctx, e.Connection.ID, dbgp.StackGetCommand())
	require.NoError(t, sendErr)
}

func TestMultiplexerDetachesRejectedEngines(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultMultiplexerTestTimeout)
	defer cancel()

	mux := dbgp.NewMultiplexer(dbgp.ConnectionConfig{
		Address: "127.0.0.1",
		Port:    0,
		IDEKey:  "someone-else",
		Logger:  testutil.NewLogForTesting(t.Name()),
	})
	defer mux.Dispose()

	require.NoError(t, mux.Start(ctx))

	engine, dialErr := dbgptest.DialEngine(ctx, mux.ListenAddr().String(), testInit(1))
	require.NoError(t, dialErr)
	defer engine.Close()

	_, waitErr := engine.WaitFor(ctx, "detach", 1)
	require.NoError(t, waitErr)

	select {
	case <-engine.Done():
	case <-ctx.Done():
		require.FailNow(t, "rejected engine connection was not closed")
	}
	require.Empty(t, mux.Connections())
}
