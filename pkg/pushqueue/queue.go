// Package pushqueue is a bounded FIFO that makes room for new items by
// discarding the oldest pending one instead of rejecting the push.
package pushqueue

import (
	"context"
	"sync/atomic"
	"time"
)

// Queue is safe for concurrent producers and consumers.
type Queue[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// New returns a queue holding at most size items (minimum 1).
func New[T any](size int) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	return &Queue[T]{ch: make(chan T, size)}
}

// Push blocks while the queue is full.
//
// With timeout <= 0 it waits for a free slot until ctx is done. With a
// positive timeout, every time the wait expires the oldest item is discarded
// and the push is retried. It returns the number of items discarded.
func (q *Queue[T]) Push(ctx context.Context, item T, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		select {
		case q.ch <- item:
			return 0, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	discarded := 0
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	for {
		select {
		case q.ch <- item:
			return discarded, nil
		case <-ctx.Done():
			return discarded, ctx.Err()
		case <-tmr.C:
			if q.dropOldest() {
				discarded++
			}
			tmr.Reset(timeout)
		}
	}
}

// PushNowait never blocks: it discards oldest items until item fits.
func (q *Queue[T]) PushNowait(item T) int {
	discarded := 0
	for {
		select {
		case q.ch <- item:
			return discarded
		default:
		}
		if q.dropOldest() {
			discarded++
		}
	}
}

func (q *Queue[T]) dropOldest() bool {
	select {
	case <-q.ch:
		q.dropped.Add(1)
		return true
	default:
		return false
	}
}

// Pop waits for the next item or for ctx to be done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	select {
	case it := <-q.ch:
		return it, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryPop returns the next item if one is immediately available.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case it := <-q.ch:
		return it, true
	default:
		var zero T
		return zero, false
	}
}

// C exposes the receive side for use in select statements.
func (q *Queue[T]) C() <-chan T { return q.ch }

func (q *Queue[T]) Len() int { return len(q.ch) }
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Dropped is the total number of items discarded to make room.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }
