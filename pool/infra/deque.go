package infra

import (
	"context"
	"sync"

	"resource-pool/pool/domain"
)

// BlockingDeque is a double-ended queue with blocking retrieval and direct
// hand-off to waiters. It implements domain.IdleRegistry.
//
// When fair, blocked waiters are served in strict arrival order; otherwise the
// most recent waiter wins, which keeps a small working set hot.
type BlockingDeque[E comparable] struct {
	mu      sync.Mutex
	items   []E
	waiters []*waiter[E]
	fair    bool
	stopped bool
}

type waiter[E comparable] struct {
	ch   chan E
	intr chan struct{}
}

func NewBlockingDeque[E comparable](fair bool) *BlockingDeque[E] {
	return &BlockingDeque[E]{fair: fair}
}

// PushFront inserts at the head, or hands the element straight to a waiter.
func (d *BlockingDeque[E]) PushFront(v E) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w := d.popWaiter(); w != nil {
		w.ch <- v
		return
	}
	d.items = append(d.items, v)
	copy(d.items[1:], d.items)
	d.items[0] = v
}

// PushBack inserts at the tail, or hands the element straight to a waiter.
func (d *BlockingDeque[E]) PushBack(v E) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w := d.popWaiter(); w != nil {
		w.ch <- v
		return
	}
	d.items = append(d.items, v)
}

// PollFirst pops the head without blocking.
func (d *BlockingDeque[E]) PollFirst() (E, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var zero E
	if len(d.items) == 0 {
		return zero, false
	}
	v := d.items[0]
	d.items[0] = zero
	d.items = d.items[1:]
	return v, true
}

// TakeFirst pops the head, blocking until an element arrives, ctx ends, or
// the waiters are interrupted.
func (d *BlockingDeque[E]) TakeFirst(ctx context.Context) (E, error) {
	var zero E
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return zero, domain.ErrInterrupted
	}
	if len(d.items) > 0 {
		v := d.items[0]
		d.items[0] = zero
		d.items = d.items[1:]
		d.mu.Unlock()
		return v, nil
	}
	w := &waiter[E]{ch: make(chan E, 1), intr: make(chan struct{})}
	d.waiters = append(d.waiters, w)
	d.mu.Unlock()

	select {
	case v := <-w.ch:
		return v, nil
	case <-w.intr:
		return zero, domain.ErrInterrupted
	case <-ctx.Done():
		d.mu.Lock()
		removed := d.removeWaiter(w)
		d.mu.Unlock()
		if !removed {
			// A hand-off or interrupt raced the deadline; one of the two
			// channels is guaranteed to fire.
			select {
			case v := <-w.ch:
				return v, nil
			case <-w.intr:
				return zero, domain.ErrInterrupted
			}
		}
		return zero, ctx.Err()
	}
}

// Remove deletes the first occurrence of v.
func (d *BlockingDeque[E]) Remove(v E) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, it := range d.items {
		if it == v {
			var zero E
			copy(d.items[i:], d.items[i+1:])
			d.items[len(d.items)-1] = zero
			d.items = d.items[:len(d.items)-1]
			return true
		}
	}
	return false
}

// Snapshot copies the current contents front-to-back.
func (d *BlockingDeque[E]) Snapshot() []E {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]E, len(d.items))
	copy(out, d.items)
	return out
}

func (d *BlockingDeque[E]) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *BlockingDeque[E]) NumWaiters() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}

func (d *BlockingDeque[E]) HasWaiters() bool {
	return d.NumWaiters() > 0
}

// InterruptWaiters wakes every blocked waiter empty-handed and makes future
// waits fail immediately with ErrInterrupted.
func (d *BlockingDeque[E]) InterruptWaiters() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for _, w := range d.waiters {
		close(w.intr)
	}
	d.waiters = nil
}

// popWaiter must be called with the lock held.
func (d *BlockingDeque[E]) popWaiter() *waiter[E] {
	n := len(d.waiters)
	if n == 0 {
		return nil
	}
	var w *waiter[E]
	if d.fair {
		w = d.waiters[0]
		copy(d.waiters, d.waiters[1:])
		d.waiters[n-1] = nil
		d.waiters = d.waiters[:n-1]
	} else {
		w = d.waiters[n-1]
		d.waiters[n-1] = nil
		d.waiters = d.waiters[:n-1]
	}
	return w
}

// removeWaiter must be called with the lock held. Returns false when the
// waiter already left the queue via hand-off or interrupt.
func (d *BlockingDeque[E]) removeWaiter(w *waiter[E]) bool {
	for i, cand := range d.waiters {
		if cand == w {
			copy(d.waiters[i:], d.waiters[i+1:])
			d.waiters[len(d.waiters)-1] = nil
			d.waiters = d.waiters[:len(d.waiters)-1]
			return true
		}
	}
	return false
}
