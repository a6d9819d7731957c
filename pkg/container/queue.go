/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package container

const (
	minQueueSize = 8 // Must be a power of 2
	growthFactor = 2
	shrinkFactor = 4
)

// Queue is a FIFO queue backed by a ring buffer that grows and shrinks as items are added and removed.
// It is not goroutine-safe.
type Queue[T any] struct {
	buf  []T
	len  int
	head int // read index
	tail int // write index
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		buf: make([]T, minQueueSize),
	}
}

// Appends an item to the end of the queue.
func (q *Queue[T]) Push(v T) {
	if q.len == len(q.buf) {
		q.resize()
	}

	q.buf[q.tail] = v
	q.tail = q.next(q.tail)
	q.len++
}

// Removes and returns the item at the front of the queue.
// The second value is false if the queue was empty.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.len == 0 {
		return zero, false
	}

	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = q.next(q.head)
	q.len--
	q.maybeShrink()
	return v, true
}

// Returns the item at the front of the queue without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if q.len == 0 {
		var zero T
		return zero, false
	}
	return q.buf[q.head], true
}

// Removes the first item for which match returns true, preserving the order of the remaining items.
// Returns false if no item matched.
func (q *Queue[T]) RemoveFunc(match func(T) bool) bool {
	for i := 0; i < q.len; i++ {
		idx := (q.head + i) & (len(q.buf) - 1)
		if !match(q.buf[idx]) {
			continue
		}

		// Shift the items behind the removed one forward by one slot.
		for j := i; j < q.len-1; j++ {
			cur := (q.head + j) & (len(q.buf) - 1)
			q.buf[cur] = q.buf[q.next(cur)]
		}
		var zero T
		q.tail = q.prev(q.tail)
		q.buf[q.tail] = zero
		q.len--
		q.maybeShrink()
		return true
	}

	return false
}

func (q *Queue[T]) Len() int {
	return q.len
}

func (q *Queue[T]) Empty() bool {
	return q.len == 0
}

func (q *Queue[T]) maybeShrink() {
	if q.len <= len(q.buf)/shrinkFactor && q.len*growthFactor >= minQueueSize {
		q.resize()
	}
}

func (q *Queue[T]) resize() {
	size := minQueueSize
	for size < q.len*growthFactor {
		size *= 2
	}
	newBuf := make([]T, size)
	if q.tail > q.head {
		copy(newBuf, q.buf[q.head:q.tail])
	} else if q.len > 0 {
		n := copy(newBuf, q.buf[q.head:])
		copy(newBuf[n:], q.buf[:q.tail])
	}

	q.head = 0
	q.tail = q.len & (len(newBuf) - 1)
	q.buf = newBuf
}

func (q *Queue[T]) next(i int) int {
	return (i + 1) & (len(q.buf) - 1)
}

func (q *Queue[T]) prev(i int) int {
	return (i - 1 + len(q.buf)) & (len(q.buf) - 1)
}
