package foreground

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed indicates the dispatcher no longer accepts posts.
	ErrClosed = errors.New("foreground dispatcher is closed")
	// ErrRunRequired is returned when a post is missing a run function.
	ErrRunRequired = errors.New("foreground run func is required")
)

// Stats reports dispatcher counters.
type Stats struct {
	Posted     int64
	Coalesced  int64
	Completed  int64
	Rejected   int64
	QueueDepth int64
}

type item struct {
	key string
	run func()
}

// Dispatcher runs posted functions one at a time, in post order, on a single
// worker goroutine. Items with the same non-empty key replace a queued tail
// item with that key, so bursts of partial updates collapse to the latest.
type Dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []item
	closed bool
	done   chan struct{}

	posted    atomic.Int64
	coalesced atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
}

// New starts a dispatcher worker.
func New() *Dispatcher {
	d := &Dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.worker()
	return d
}

// Post enqueues fn. An empty key never coalesces.
func (d *Dispatcher) Post(key string, fn func()) error {
	if fn == nil {
		return fmt.Errorf("%w", ErrRunRequired)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.rejected.Add(1)
		return fmt.Errorf("%w", ErrClosed)
	}
	d.posted.Add(1)
	if key != "" && len(d.queue) > 0 && d.queue[len(d.queue)-1].key == key {
		d.queue[len(d.queue)-1].run = fn
		d.coalesced.Add(1)
		return nil
	}
	d.queue = append(d.queue, item{key: key, run: fn})
	d.cond.Signal()
	return nil
}

// Sync waits until every item posted before the call has run.
func (d *Dispatcher) Sync(ctx context.Context) error {
	reached := make(chan struct{})
	if err := d.Post("", func() { close(reached) }); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-reached:
		return nil
	}
}

// Close runs the remaining queue, then stops the worker.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.cond.Broadcast()
	}
	d.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return nil
	}
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	depth := int64(len(d.queue))
	d.mu.Unlock()
	return Stats{
		Posted:     d.posted.Load(),
		Coalesced:  d.coalesced.Load(),
		Completed:  d.completed.Load(),
		Rejected:   d.rejected.Load(),
		QueueDepth: depth,
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		next := d.queue[0]
		d.queue[0] = item{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		next.run()
		d.completed.Add(1)
	}
}
