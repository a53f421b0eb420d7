// Package eventloop provides the single logical thread that owns a
// rendezvous controller. Adapters run their I/O on background goroutines and
// post completions back through a Dispatcher so controller state is only
// ever touched from one goroutine.
package eventloop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when work is posted to a loop that has stopped.
var ErrStopped = errors.New("eventloop: stopped")

// Dispatcher schedules fn to run on the owning goroutine.
// Post returns false if fn will never run.
type Dispatcher interface {
	Post(fn func()) bool
}

// Inline runs posted work immediately on the caller's goroutine.
// Useful in tests and in single-threaded hosts that already serialize calls.
type Inline struct{}

// Post runs fn synchronously.
func (Inline) Post(fn func()) bool {
	fn()
	return true
}

// Loop is an unbounded FIFO work queue drained by a single goroutine (Run).
// Posting never blocks, so completions may safely be posted from inside
// work that is already running on the loop.
type Loop struct {
	mu       sync.Mutex
	pending  []func()
	stopped  bool
	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a stopped-until-Run loop.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn. It returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run drains the queue until ctx is cancelled or Stop is called.
// Work still queued at shutdown is discarded.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// Stop stops the loop. Safe to call more than once and from any goroutine.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.pending = nil
		l.mu.Unlock()
		close(l.done)
	})
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Do runs fn on the loop and waits for it to finish.
// It must not be called from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
