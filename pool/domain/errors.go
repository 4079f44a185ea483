package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed pool, and by borrows
	// that were blocked when the pool closed underneath them.
	ErrClosed = errors.New("pool: closed")

	// ErrExhausted is returned when the pool has no capacity left and
	// blocking is disabled.
	ErrExhausted = errors.New("pool: exhausted")

	// ErrIllegalState is wrapped by errors about returning or invalidating an
	// instance the pool does not track, or one in the wrong state.
	ErrIllegalState = errors.New("pool: illegal state")

	// ErrValidation is returned when a freshly created instance fails its
	// borrow-time validation.
	ErrValidation = errors.New("pool: object failed validation")

	// ErrInterrupted is reported to waiters that were woken without an entry,
	// e.g. on pool close.
	ErrInterrupted = errors.New("pool: wait interrupted")
)

// ErrBorrowTimeout is returned by a timed borrow that did not obtain an entry
// within the wait budget. It also matches ErrExhausted.
var ErrBorrowTimeout = fmt.Errorf("%w: timed out waiting for an idle object", ErrExhausted)

// FactoryError wraps a failure from one of the factory hooks.
type FactoryError struct {
	Op  string // "make", "destroy", "activate", "passivate"
	Err error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("pool: factory %s: %v", e.Op, e.Err)
}

func (e *FactoryError) Unwrap() error { return e.Err }
