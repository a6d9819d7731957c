/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package concurrency

import (
	"context"
	"sync"

	"github.com/microsoft/dbgp-bridge/pkg/container"
)

// FifoLock is a mutual exclusion lock that grants ownership to waiting goroutines
// in the order in which they called Lock().
// Unlike sync.Mutex, waiting for the lock can be abandoned by cancelling the context passed to Lock().
type FifoLock struct {
	lock    *sync.Mutex
	held    bool
	waiters *container.Queue[*fifoWaiter]
}

type fifoWaiter struct {
	ch      chan struct{}
	granted bool
}

func NewFifoLock() *FifoLock {
	return &FifoLock{
		lock:    &sync.Mutex{},
		waiters: container.NewQueue[*fifoWaiter](),
	}
}

// Lock blocks until the caller owns the lock, or until the context is done.
// In the latter case the context error is returned and the caller does not own the lock.
func (l *FifoLock) Lock(ctx context.Context) error {
	l.lock.Lock()
	if !l.held {
		l.held = true
		l.lock.Unlock()
		return nil
	}

	w := &fifoWaiter{ch: make(chan struct{})}
	l.waiters.Push(w)
	l.lock.Unlock()

	select {
	case <-w.ch:
		return nil

	case <-ctx.Done():
		l.lock.Lock()
		defer l.lock.Unlock()

		if w.granted {
			// Ownership was handed to us at the same time the context expired.
			// Pass it on to the next waiter so that the lock is not leaked.
			l.handOff()
		} else {
			_ = l.waiters.RemoveFunc(func(other *fifoWaiter) bool { return other == w })
		}
		return ctx.Err()
	}
}

// TryLock acquires the lock if it is free and nobody is waiting for it.
func (l *FifoLock) TryLock() bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.held {
		return false
	}
	l.held = true
	return true
}

func (l *FifoLock) Unlock() {
	l.lock.Lock()
	defer l.lock.Unlock()

	if !l.held {
		panic("unlock of unlocked FifoLock")
	}
	l.handOff()
}

// Returns the number of goroutines waiting to acquire the lock.
func (l *FifoLock) Waiting() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.waiters.Len()
}

// Assumes the lock is held.
func (l *FifoLock) handOff() {
	w, found := l.waiters.Pop()
	if !found {
		l.held = false
		return
	}
	w.granted = true
	close(w.ch)
}
