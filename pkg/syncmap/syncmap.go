/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package syncmap is a typed wrapper over standard library sync.Map
package syncmap

import "sync"

type Map[Key comparable, Value any] struct {
	m sync.Map
}

func (m *Map[Key, Value]) Store(key Key, value Value) {
	m.m.Store(key, value)
}

// Returns the value stored for the key, and whether it was found.
func (m *Map[Key, Value]) Load(key Key) (Value, bool) {
	v, found := m.m.Load(key)
	if !found {
		return *new(Value), false
	}
	return v.(Value), true
}

// Stores the value unless the key is already present.
// Returns the value in the map and true if that value was already there.
func (m *Map[Key, Value]) LoadOrStore(key Key, value Value) (Value, bool) {
	actual, loaded := m.m.LoadOrStore(key, value)
	return actual.(Value), loaded
}

// Removes the key and returns the value it had.
// Exactly one of any number of concurrent callers observes found == true for a given stored value.
func (m *Map[Key, Value]) LoadAndDelete(key Key) (Value, bool) {
	v, found := m.m.LoadAndDelete(key)
	if !found {
		return *new(Value), false
	}
	return v.(Value), true
}

func (m *Map[Key, Value]) Delete(key Key) {
	m.m.Delete(key)
}

// Calls f for each key-value pair; iteration stops when f returns false.
func (m *Map[Key, Value]) Range(f func(key Key, value Value) bool) {
	m.m.Range(func(key, value any) bool {
		return f(key.(Key), value.(Value))
	})
}

// Point-in-time count of the entries in the map.
func (m *Map[Key, Value]) Len() int {
	n := 0
	m.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
