/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
)

func changeCommands(changes []breakpointChange) []string {
	var cmds []string
	for _, c := range changes {
		cmds = append(cmds, c.cmd.String())
	}
	return cmds
}

// Marks all pending changes as carried out, with engine ids equal to the front-end ids.
func applyChanges(s *breakpointStore, conn dbgp.ConnectionID, changes []breakpointChange) {
	for _, c := range changes {
		switch c.kind {
		case breakpointAdded:
			s.recordSet(conn, c.key, "e"+c.key, c.enabled)
		case breakpointRemoved:
			s.recordRemoved(conn, c.key)
		case breakpointUpdated:
			engineID, _ := s.engineID(conn, c.key)
			s.recordSet(conn, c.key, engineID, c.enabled)
		}
	}
}

func TestNewConnectionGetsAllBreakpointsInCreationOrder(t *testing.T) {
	t.Parallel()

	s := newBreakpointStore()
	for line := 1; line <= 11; line++ {
		s.add("file:///app/a.php", line, "")
	}
	s.add("file:///app/b.php", 5, "$i == 3")

	changes := s.changes(1)
	require.Len(t, changes, 12)
	for i, c := range changes[:11] {
		require.Equal(t, breakpointAdded, c.kind)
		require.True(t, c.enabled)
		require.Equal(t, dbgp.LineBreakpointCommand("file:///app/a.php", i+1, "").String(), c.cmd.String())
	}
	require.Equal(t, "12", changes[11].key)
	require.Equal(t, dbgp.LineBreakpointCommand("file:///app/b.php", 5, "$i == 3").String(), changes[11].cmd.String())

	applyChanges(s, 1, changes)
	require.Empty(t, s.changes(1))

	// Another connection is tracked separately.
	require.Len(t, s.changes(2), 12)
}

func TestRemovedBreakpointsAreRemovedFirst(t *testing.T) {
	t.Parallel()

	s := newBreakpointStore()
	first := s.add("file:///app/a.php", 1, "")
	applyChanges(s, 1, s.changes(1))

	require.True(t, s.remove(first.id))
	require.False(t, s.remove(first.id))
	s.add("file:///app/a.php", 2, "")

	changes := s.changes(1)
	require.Equal(t, []string{
		dbgp.BreakpointRemoveCommand("e1").String(),
		dbgp.LineBreakpointCommand("file:///app/a.php", 2, "").String(),
	}, changeCommands(changes))
	require.Equal(t, breakpointRemoved, changes[0].kind)
}

func TestInactiveBreakpointsAreDisabled(t *testing.T) {
	t.Parallel()

	s := newBreakpointStore()
	s.add("file:///app/a.php", 1, "")
	applyChanges(s, 1, s.changes(1))

	s.active = false
	s.add("file:///app/a.php", 2, "")
	changes := s.changes(1)
	require.Equal(t, []string{
		dbgp.BreakpointUpdateStateCommand("e1", false).String(),
		dbgp.LineBreakpointCommand("file:///app/a.php", 2, "").WithArg("s", "disabled").String(),
	}, changeCommands(changes))
	applyChanges(s, 1, changes)

	s.active = true
	require.Equal(t, []string{
		dbgp.BreakpointUpdateStateCommand("e1", true).String(),
		dbgp.BreakpointUpdateStateCommand("e2", true).String(),
	}, changeCommands(s.changes(1)))
}

func TestExceptionBreakpointFollowsPauseState(t *testing.T) {
	t.Parallel()

	s := newBreakpointStore()
	require.Empty(t, s.changes(1))

	s.pauseOnExceptions = pauseOnUncaughtExceptions
	changes := s.changes(1)
	require.Len(t, changes, 1)
	require.Equal(t, exceptionBreakpointKey, changes[0].key)
	require.Equal(t, dbgp.ExceptionBreakpointCommand("*").String(), changes[0].cmd.String())
	applyChanges(s, 1, changes)

	s.pauseOnExceptions = pauseOnAllExceptions
	require.Empty(t, s.changes(1))

	// Deactivating breakpoints also stops pausing on exceptions.
	s.active = false
	require.Equal(t, []string{dbgp.BreakpointRemoveCommand("eexception").String()}, changeCommands(s.changes(1)))
}

func TestEngineBreakpointIDMapping(t *testing.T) {
	t.Parallel()

	s := newBreakpointStore()
	bp := s.add("file:///app/a.php", 1, "")
	s.recordSet(1, bp.id, "17", true)
	s.recordSet(1, exceptionBreakpointKey, "18", true)

	id, found := s.frontEndID(1, "17")
	require.True(t, found)
	require.Equal(t, bp.id, id)

	_, found = s.frontEndID(1, "18")
	require.False(t, found, "the exception breakpoint has no front-end id")
	_, found = s.frontEndID(2, "17")
	require.False(t, found)

	s.forget(1)
	_, found = s.engineID(1, bp.id)
	require.False(t, found)
}
