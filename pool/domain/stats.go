package domain

import (
	"context"
	"time"
)

// Kind identifies a pool lifecycle event.
type Kind string

const (
	KindCreated               Kind = "created"
	KindBorrowed              Kind = "borrowed"
	KindReturned              Kind = "returned"
	KindDestroyed             Kind = "destroyed"
	KindDestroyedByEvictor    Kind = "destroyed_by_evictor"
	KindDestroyedByValidation Kind = "destroyed_by_validation"
	KindAbandoned             Kind = "abandoned"
)

// Event is one pool lifecycle observation. Only the fields relevant to the
// kind are set: Wait and Idle on borrows, Active on returns.
type Event struct {
	Kind   Kind
	At     time.Time
	Wait   time.Duration
	Idle   time.Duration
	Active time.Duration
}

// StatsSink is the persistence strategy for pool events.
//
// Implementations may store in memory, Redis, etc. The pool treats Record as
// best-effort: an error is swallowed, never propagated to callers.
type StatsSink interface {
	Record(ctx context.Context, ev Event) error
}
