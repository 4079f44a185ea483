package domain

import "context"

// IdleRegistry is the ordered set of entries currently available for
// borrowing: a double-ended queue with blocking retrieval.
//
// The infra layer provides the implementation; keeping the contract here lets
// the application layer stay free of synchronization details.
type IdleRegistry[E any] interface {
	PushFront(v E)
	PushBack(v E)
	// PollFirst is the non-blocking pop.
	PollFirst() (E, bool)
	// TakeFirst blocks until an element arrives, the context ends, or the
	// waiters are interrupted (ErrInterrupted).
	TakeFirst(ctx context.Context) (E, error)
	// Remove deletes a specific element, if present.
	Remove(v E) bool
	// Snapshot copies the current contents front-to-back.
	Snapshot() []E
	Size() int
	NumWaiters() int
	HasWaiters() bool
	// InterruptWaiters wakes every blocked waiter without an element and
	// makes future waits fail immediately. Used on pool close.
	InterruptWaiters()
}
