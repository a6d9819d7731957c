/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
)

type handleKind int

const (
	releasedHandle handleKind = iota
	// A stack frame of a paused engine.
	frameHandle
	// One of the variable contexts (locals, superglobals...) of a stack frame.
	scopeHandle
	// A compound variable that can be fetched again by its full name.
	propertyHandle
	// A compound value without a full name (e.g. an eval result). Its children came with it.
	valueHandle
)

// objectHandle is the backend side of a remote object: enough to fetch the object again from the engine.
type objectHandle struct {
	kind        handleKind
	connection  dbgp.ConnectionID
	depth       int
	contextID   int
	fullName    string
	numChildren int
	children    []dbgp.Property
	group       string
}

// ObjectTable is the arena of remote objects handed out by one handler.
//
// Object ids have the form <owner>.<generation>.<index>. Advancing the generation
// drops all handles at once; ids from earlier generations are rejected with ErrStaleObject.
type ObjectTable struct {
	owner      string
	lock       *sync.Mutex
	generation int
	handles    []objectHandle
}

func NewObjectTable(owner string) *ObjectTable {
	return &ObjectTable{
		owner:      owner,
		lock:       &sync.Mutex{},
		generation: 1,
	}
}

func (t *ObjectTable) Owner() string {
	return t.owner
}

// Stores a handle and returns the remote object id for it.
func (t *ObjectTable) add(h objectHandle) string {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.handles = append(t.handles, h)
	return fmt.Sprintf("%s.%d.%d", t.owner, t.generation, len(t.handles)-1)
}

func (t *ObjectTable) lookup(objectID string) (objectHandle, error) {
	owner, generation, index, parseErr := parseObjectID(objectID)
	if parseErr != nil || owner != t.owner {
		return objectHandle{}, fmt.Errorf("%w: '%s'", ErrUnknownObject, objectID)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if generation != t.generation {
		return objectHandle{}, fmt.Errorf("%w: '%s'", ErrStaleObject, objectID)
	}
	if index >= len(t.handles) || t.handles[index].kind == releasedHandle {
		return objectHandle{}, fmt.Errorf("%w: '%s'", ErrUnknownObject, objectID)
	}
	return t.handles[index], nil
}

// Advance invalidates all remote objects handed out so far.
func (t *ObjectTable) Advance() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.generation++
	t.handles = nil
}

// Generation returns the current generation number.
func (t *ObjectTable) Generation() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.generation
}

// Len returns the number of live handles.
func (t *ObjectTable) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	n := 0
	for _, h := range t.handles {
		if h.kind != releasedHandle {
			n++
		}
	}
	return n
}

// Reports whether any live handle belongs to the connection.
func (t *ObjectTable) references(conn dbgp.ConnectionID) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, h := range t.handles {
		if h.kind != releasedHandle && h.connection == conn {
			return true
		}
	}
	return false
}

func (t *ObjectTable) release(objectID string) {
	owner, generation, index, parseErr := parseObjectID(objectID)
	if parseErr != nil || owner != t.owner {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	if generation == t.generation && index < len(t.handles) {
		t.handles[index] = objectHandle{}
	}
}

func (t *ObjectTable) releaseGroup(group string) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for i := range t.handles {
		if t.handles[i].group == group {
			t.handles[i] = objectHandle{}
		}
	}
}

func parseObjectID(objectID string) (string, int, int, error) {
	parts := strings.Split(objectID, ".")
	if len(parts) != 3 || parts[0] == "" {
		return "", 0, 0, fmt.Errorf("malformed object id '%s'", objectID)
	}
	generation, genErr := strconv.Atoi(parts[1])
	if genErr != nil {
		return "", 0, 0, genErr
	}
	index, indexErr := strconv.Atoi(parts[2])
	if indexErr != nil || index < 0 {
		return "", 0, 0, fmt.Errorf("malformed object id '%s'", objectID)
	}
	return parts[0], generation, index, nil
}

// objectOwner returns the name of the table that handed out the object id.
func objectOwner(objectID string) string {
	owner, _, _ := strings.Cut(objectID, ".")
	return owner
}
