// Package queue provides the notify-driven FIFO mailbox used between bot tasks.
package queue

import (
	"context"
	"sync"
)

// Queue is a FIFO mailbox with a blocking Pop.
//
// Push never blocks and never fails. Every Push wakes all waiting consumers;
// each of them re-checks the queue and exactly one claims the item.
// The zero value is ready to use.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{} // closed and replaced on every push
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{})}
}

// Push appends item to the tail and wakes every waiter.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.wakeLocked()
	q.mu.Unlock()
}

// PushAll appends items as one contiguous run, so concurrent producers
// cannot interleave with it.
func (q *Queue[T]) PushAll(items []T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.wakeLocked()
	q.mu.Unlock()
}

// PushFront puts item back at the head, ahead of everything queued. It is
// for a consumer that popped an item it could not deliver.
func (q *Queue[T]) PushFront(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	copy(q.items[1:], q.items[:len(q.items)-1])
	q.items[0] = item
	q.wakeLocked()
	q.mu.Unlock()
}

// Pop removes and returns the head item, waiting until one is available.
// A wakeup is only a hint: another consumer may win the race, in which case
// Pop goes back to waiting. It returns ctx.Err() only when ctx ends first.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return item, nil
		}
		wait := q.waitChLocked()
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len is a best-effort snapshot of the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	n := len(q.items)
	q.mu.Unlock()
	return n
}

func (q *Queue[T]) waitChLocked() chan struct{} {
	if q.notify == nil {
		q.notify = make(chan struct{})
	}
	return q.notify
}

func (q *Queue[T]) wakeLocked() {
	if q.notify != nil {
		close(q.notify)
	}
	q.notify = make(chan struct{})
}
