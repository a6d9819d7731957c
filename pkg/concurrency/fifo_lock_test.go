/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package concurrency_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/dbgp-bridge/pkg/concurrency"
	"github.com/microsoft/dbgp-bridge/pkg/testutil"
)

const defaultLockTestTimeout = 20 * time.Second

func waitForWaiters(t *testing.T, l *concurrency.FifoLock, n int) {
	require.Eventually(t, func() bool { return l.Waiting() == n }, 5*time.Second, time.Millisecond)
}

// Verifies that goroutines acquire the lock in the order in which they started waiting.
func TestFifoLockGrantsInArrivalOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultLockTestTimeout)
	defer cancel()

	l := concurrency.NewFifoLock()
	require.NoError(t, l.Lock(ctx))

	const numWaiters = 20
	var orderLock sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < numWaiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if lockErr := l.Lock(ctx); lockErr != nil {
				return
			}
			orderLock.Lock()
			order = append(order, i)
			orderLock.Unlock()
			l.Unlock()
		}(i)
		waitForWaiters(t, l, i+1)
	}

	l.Unlock()
	wg.Wait()

	require.Len(t, order, numWaiters)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

// Verifies that a waiter whose context expires is removed from the queue and does not own the lock.
func TestFifoLockCancelledWaiterIsSkipped(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultLockTestTimeout)
	defer cancel()

	l := concurrency.NewFifoLock()
	require.NoError(t, l.Lock(ctx))

	waiterCtx, waiterCancel := context.WithCancel(ctx)
	cancelledResult := make(chan error, 1)
	go func() {
		cancelledResult <- l.Lock(waiterCtx)
	}()
	waitForWaiters(t, l, 1)

	acquired := make(chan struct{})
	go func() {
		if lockErr := l.Lock(ctx); lockErr == nil {
			close(acquired)
		}
	}()
	waitForWaiters(t, l, 2)

	waiterCancel()
	require.ErrorIs(t, <-cancelledResult, context.Canceled)
	require.Equal(t, 1, l.Waiting())

	l.Unlock()
	select {
	case <-acquired:
	case <-ctx.Done():
		require.Fail(t, "second waiter did not acquire the lock")
	}
	require.False(t, l.TryLock())
}

func TestFifoLockTryLock(t *testing.T) {
	t.Parallel()

	l := concurrency.NewFifoLock()
	require.True(t, l.TryLock())
	require.False(t, l.TryLock())
	l.Unlock()
	require.True(t, l.TryLock())
	l.Unlock()

	require.Panics(t, func() { l.Unlock() })
}
