// Package dispatch provides the presentation context: a single goroutine that
// runs posted closures one at a time, in the order they were posted.
//
// Posting never blocks the caller, so a background job can hand updates to the
// presentation side without waiting for a slow observer.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"jobctl/core/logger"
)

// Dispatcher is an unbounded FIFO of closures drained by one goroutine.
type Dispatcher struct {
	mu       sync.Mutex
	queue    []func()
	wake     chan struct{} // capacity 1; signals the loop that queue is non-empty
	started  bool
	stopping bool
	done     chan struct{}
}

// New returns a Dispatcher. Work may be posted before Start; it runs once Start is called.
func New() *Dispatcher {
	return &Dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start launches the dispatch goroutine. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	go d.loop()
}

// Post queues fn. It reports false if the dispatcher is stopping and fn was dropped.
func (d *Dispatcher) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until everything posted before the call has run.
func (d *Dispatcher) Flush(ctx context.Context) error {
	reached := make(chan struct{})
	if !d.Post(func() { close(reached) }) {
		return fmt.Errorf("dispatcher stopped")
	}
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects further posts, runs what is already queued and waits for the
// goroutine to exit or ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
	} else {
		d.stopping = true
		if !d.started {
			// Nothing will ever drain the queue.
			d.started = true
			d.queue = nil
			close(d.done)
		}
		d.mu.Unlock()
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 {
			if d.stopping {
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			<-d.wake
			d.mu.Lock()
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, fn := range batch {
			run(fn)
		}
	}
}

// run executes fn, keeping the loop alive if an observer panics.
func run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			ctx := logger.WithComponentName(context.Background(), "dispatch")
			logger.Error(ctx, "Panic recovered in presentation callback", zap.Any("panic", r))
		}
	}()
	fn()
}
