/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
)

type script struct {
	id  string
	url string
	// The connection the script was first seen on; used to fetch the source.
	connection dbgp.ConnectionID
}

// scriptRegistry assigns script ids to the files that show up in engine stacks.
// Files are reported to the front end when they are first seen, not up front.
type scriptRegistry struct {
	lock   *sync.Mutex
	nextID int
	byURL  map[string]*script
	byID   map[string]*script
}

func newScriptRegistry() *scriptRegistry {
	return &scriptRegistry{
		lock:   &sync.Mutex{},
		nextID: 1,
		byURL:  make(map[string]*script),
		byID:   make(map[string]*script),
	}
}

// Returns the script for the file URI, creating it if necessary. The second value is true for new scripts.
func (r *scriptRegistry) ensure(fileURI string, conn dbgp.ConnectionID) (script, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if s, found := r.byURL[fileURI]; found {
		return *s, false
	}

	s := &script{id: strconv.Itoa(r.nextID), url: fileURI, connection: conn}
	r.nextID++
	r.byURL[fileURI] = s
	r.byID[s.id] = s
	return *s, true
}

func (r *scriptRegistry) byScriptID(id string) (script, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	s, found := r.byID[id]
	if !found {
		return script{}, false
	}
	return *s, true
}

func (r *scriptRegistry) all() []script {
	r.lock.Lock()
	defer r.lock.Unlock()

	scripts := make([]script, 0, len(r.byID))
	for i := 1; i < r.nextID; i++ {
		if s, found := r.byID[strconv.Itoa(i)]; found {
			scripts = append(scripts, *s)
		}
	}
	return scripts
}

func (r *scriptRegistry) reset() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.byURL = make(map[string]*script)
	r.byID = make(map[string]*script)
}

// toFileURI accepts either a file URI or a plain path, and returns a file URI as DBGp engines expect.
func toFileURI(location string) string {
	if strings.Contains(location, "://") {
		return location
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(location)}
	return u.String()
}
