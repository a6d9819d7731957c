/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"maps"
	"slices"
	"strconv"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
)

type pauseOnExceptionsState string

const (
	pauseOnNoExceptions       pauseOnExceptionsState = "none"
	pauseOnUncaughtExceptions pauseOnExceptionsState = "uncaught"
	pauseOnAllExceptions      pauseOnExceptionsState = "all"
)

// Key under which the exception breakpoint is tracked on each connection.
const exceptionBreakpointKey = "exception"

// breakpoint is a breakpoint as the front end sees it.
type breakpoint struct {
	id        string
	fileURI   string
	line      int // 1-based, as DBGp counts lines
	condition string
}

func (bp *breakpoint) command() *dbgp.Command {
	return dbgp.LineBreakpointCommand(bp.fileURI, bp.line, bp.condition)
}

type engineBreakpoint struct {
	engineID string
	enabled  bool
}

// breakpointStore keeps the breakpoints the front end asked for, and what each engine connection has been told.
// Engine connections run independently, so each one converges on the desired state separately:
// right after it attaches, whenever it stops, and right away for changes made while it is stopped.
//
// The store does no locking; the Debugger handler serializes access to it.
type breakpointStore struct {
	nextID            int
	breakpoints       map[string]*breakpoint
	active            bool
	pauseOnExceptions pauseOnExceptionsState

	// For each connection: front-end breakpoint id (or exceptionBreakpointKey) -> engine breakpoint.
	engine map[dbgp.ConnectionID]map[string]engineBreakpoint
}

func newBreakpointStore() *breakpointStore {
	return &breakpointStore{
		nextID:            1,
		breakpoints:       make(map[string]*breakpoint),
		active:            true,
		pauseOnExceptions: pauseOnNoExceptions,
		engine:            make(map[dbgp.ConnectionID]map[string]engineBreakpoint),
	}
}

func (s *breakpointStore) add(fileURI string, line int, condition string) *breakpoint {
	bp := &breakpoint{
		id:        strconv.Itoa(s.nextID),
		fileURI:   fileURI,
		line:      line,
		condition: condition,
	}
	s.nextID++
	s.breakpoints[bp.id] = bp
	return bp
}

func (s *breakpointStore) remove(id string) bool {
	if _, found := s.breakpoints[id]; !found {
		return false
	}
	delete(s.breakpoints, id)
	return true
}

func (s *breakpointStore) engineBreakpoints(conn dbgp.ConnectionID) map[string]engineBreakpoint {
	ebps, found := s.engine[conn]
	if !found {
		ebps = make(map[string]engineBreakpoint)
		s.engine[conn] = ebps
	}
	return ebps
}

// Records that the engine has a breakpoint for the given key.
func (s *breakpointStore) recordSet(conn dbgp.ConnectionID, key string, engineID string, enabled bool) {
	s.engineBreakpoints(conn)[key] = engineBreakpoint{engineID: engineID, enabled: enabled}
}

func (s *breakpointStore) recordRemoved(conn dbgp.ConnectionID, key string) {
	delete(s.engineBreakpoints(conn), key)
}

func (s *breakpointStore) engineID(conn dbgp.ConnectionID, key string) (string, bool) {
	ebp, found := s.engine[conn][key]
	return ebp.engineID, found
}

// Returns the front-end breakpoint id for a breakpoint id reported by an engine.
func (s *breakpointStore) frontEndID(conn dbgp.ConnectionID, engineID string) (string, bool) {
	for key, ebp := range s.engine[conn] {
		if ebp.engineID == engineID && key != exceptionBreakpointKey {
			return key, true
		}
	}
	return "", false
}

func (s *breakpointStore) forget(conn dbgp.ConnectionID) {
	delete(s.engine, conn)
}

func (s *breakpointStore) wantsExceptionBreakpoint() bool {
	return s.pauseOnExceptions != pauseOnNoExceptions && s.active
}

// breakpointChange is one command that moves an engine connection closer to the desired state.
type breakpointChange struct {
	key     string
	cmd     *dbgp.Command
	kind    breakpointChangeKind
	enabled bool
}

type breakpointChangeKind int

const (
	breakpointAdded breakpointChangeKind = iota
	breakpointRemoved
	breakpointUpdated
)

// Computes the commands that bring the breakpoints of an engine connection in line with the desired state.
// Removals come first, then additions and state updates in breakpoint creation order.
func (s *breakpointStore) changes(conn dbgp.ConnectionID) []breakpointChange {
	ebps := s.engine[conn]
	var changes []breakpointChange

	for _, key := range slices.Sorted(maps.Keys(ebps)) {
		wanted := false
		if key == exceptionBreakpointKey {
			wanted = s.wantsExceptionBreakpoint()
		} else {
			_, wanted = s.breakpoints[key]
		}
		if !wanted {
			changes = append(changes, breakpointChange{key: key, cmd: dbgp.BreakpointRemoveCommand(ebps[key].engineID), kind: breakpointRemoved})
		}
	}

	ids := slices.Collect(maps.Keys(s.breakpoints))
	slices.SortFunc(ids, func(a, b string) int {
		na, _ := strconv.Atoi(a)
		nb, _ := strconv.Atoi(b)
		return na - nb
	})
	for _, id := range ids {
		ebp, present := ebps[id]
		switch {
		case !present:
			cmd := s.breakpoints[id].command()
			if !s.active {
				cmd = cmd.WithArg("s", "disabled")
			}
			changes = append(changes, breakpointChange{key: id, cmd: cmd, kind: breakpointAdded, enabled: s.active})
		case ebp.enabled != s.active:
			changes = append(changes, breakpointChange{key: id, cmd: dbgp.BreakpointUpdateStateCommand(ebp.engineID, s.active), kind: breakpointUpdated, enabled: s.active})
		}
	}

	if _, present := ebps[exceptionBreakpointKey]; !present && s.wantsExceptionBreakpoint() {
		changes = append(changes, breakpointChange{key: exceptionBreakpointKey, cmd: dbgp.ExceptionBreakpointCommand("*"), kind: breakpointAdded, enabled: true})
	}

	return changes
}
