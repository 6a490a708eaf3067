// Package eventbus provides the in-memory fan-out channel that distributes
// incoming chat traffic to every interested task.
//
// Contract:
//   - Send never blocks. With no subscribers the message is dropped silently.
//   - A subscription starts at "now" and never sees earlier messages.
//   - Each subscriber advances independently. A subscriber that falls more than
//     capacity messages behind loses the oldest ones and gets a *LaggedError once,
//     then continues from the oldest retained message.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed is returned by Send after Close, and by Recv once the channel
	// is closed and drained or the subscription itself was closed.
	ErrClosed = errors.New("eventbus: closed")

	// ErrLagged matches any *LaggedError via errors.Is.
	ErrLagged = errors.New("eventbus: subscriber lagged")
)

// LaggedError reports how many messages a subscriber missed.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("eventbus: subscriber lagged, skipped %d messages", e.Skipped)
}

func (e *LaggedError) Is(target error) bool { return target == ErrLagged }

// Broadcast is a fixed-capacity ring shared by one logical sender and any
// number of subscribers.
type Broadcast[T any] struct {
	mu     sync.Mutex
	ring   []T
	next   uint64 // sequence number of the next message to be written
	subs   int
	closed bool
	notify chan struct{} // closed and replaced on every send/close
}

// New allocates a broadcast channel. capacity bounds how far a subscriber may
// fall behind before losing messages; values below 1 are raised to 1.
func New[T any](capacity int) *Broadcast[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Broadcast[T]{
		ring:   make([]T, capacity),
		notify: make(chan struct{}),
	}
}

// Capacity returns the ring size.
func (b *Broadcast[T]) Capacity() int { return len(b.ring) }

// Receivers returns the number of open subscriptions.
func (b *Broadcast[T]) Receivers() int {
	b.mu.Lock()
	n := b.subs
	b.mu.Unlock()
	return n
}

// Send publishes msg to every current subscriber.
// Having no subscribers is not an error: the message is discarded.
func (b *Broadcast[T]) Send(msg T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.subs == 0 {
		return nil
	}
	b.ring[b.next%uint64(len(b.ring))] = msg
	b.next++
	b.wakeLocked()
	return nil
}

// Subscribe returns a cursor positioned after the last sent message.
func (b *Broadcast[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription[T]{b: b, pos: b.next}
	if b.closed {
		s.closed = true
		return s
	}
	b.subs++
	return s
}

// Close stops the channel. Subscribers still receive what is buffered for
// them, then ErrClosed.
func (b *Broadcast[T]) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.wakeLocked()
	}
	b.mu.Unlock()
}

func (b *Broadcast[T]) wakeLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// Subscription is one independent receive cursor.
// It is meant to be used by a single goroutine.
type Subscription[T any] struct {
	b      *Broadcast[T]
	pos    uint64 // guarded by b.mu
	closed bool   // guarded by b.mu
}

// Recv waits for the next message.
//
// Errors:
//   - *LaggedError (errors.Is(err, ErrLagged)): messages were overwritten;
//     the cursor has moved to the oldest retained message. Keep receiving.
//   - ErrClosed: nothing more will arrive.
//   - ctx.Err(): ctx ended first.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	b := s.b
	for {
		b.mu.Lock()
		if s.closed {
			b.mu.Unlock()
			return zero, ErrClosed
		}
		if s.pos < b.next {
			capacity := uint64(len(b.ring))
			if b.next-s.pos > capacity {
				oldest := b.next - capacity
				skipped := oldest - s.pos
				s.pos = oldest
				b.mu.Unlock()
				return zero, &LaggedError{Skipped: skipped}
			}
			msg := b.ring[s.pos%capacity]
			s.pos++
			b.mu.Unlock()
			return msg, nil
		}
		if b.closed {
			b.mu.Unlock()
			return zero, ErrClosed
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Pending returns how many messages are waiting for this subscriber
// (capped at the ring capacity).
func (s *Subscription[T]) Pending() int {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed || s.pos >= b.next {
		return 0
	}
	n := b.next - s.pos
	if c := uint64(len(b.ring)); n > c {
		n = c
	}
	return int(n)
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	b := s.b
	b.mu.Lock()
	if !s.closed {
		s.closed = true
		if b.subs > 0 {
			b.subs--
		}
		b.wakeLocked()
	}
	b.mu.Unlock()
}
