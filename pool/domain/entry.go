package domain

import (
	"runtime"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// State is the lifecycle state of a pooled entry. An entry is in exactly one
// state at any time; transitions happen only through the Entry methods, under
// the entry's own lock.
type State int32

const (
	// StateIdle: in the idle queue, available for borrowing.
	StateIdle State = iota
	// StateAllocated: held by a caller.
	StateAllocated
	// StateEviction: in the idle queue, being tested by the evictor.
	StateEviction
	// StateEvictionReturnToHead: pulled from the queue by a borrower while the
	// evictor was testing it; must go back to the head once the test ends.
	StateEvictionReturnToHead
	// StateValidation: in the idle queue, being revalidated.
	StateValidation
	// StateValidationPreallocated: pulled from the queue by a borrower while
	// being revalidated.
	StateValidationPreallocated
	// StateValidationReturnToHead: out of the queue during revalidation; must
	// go back to the head once the test ends.
	StateValidationReturnToHead
	// StateReturning: a return is in progress, guards against double-return
	// and against being swept as abandoned mid-return.
	StateReturning
	// StateAbandoned: allocated but presumed leaked, about to be reclaimed.
	StateAbandoned
	// StateInvalid: destroyed. Terminal.
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAllocated:
		return "ALLOCATED"
	case StateEviction:
		return "EVICTION"
	case StateEvictionReturnToHead:
		return "EVICTION_RETURN_TO_HEAD"
	case StateValidation:
		return "VALIDATION"
	case StateValidationPreallocated:
		return "VALIDATION_PREALLOCATED"
	case StateValidationReturnToHead:
		return "VALIDATION_RETURN_TO_HEAD"
	case StateReturning:
		return "RETURNING"
	case StateAbandoned:
		return "ABANDONED"
	case StateInvalid:
		return "INVALID"
	}
	return "UNKNOWN"
}

// EndTestAction tells the caller of EndEvictionTest what to do with the entry
// once its eviction/validation test completed.
type EndTestAction int

const (
	// EndTestNone: the entry never left the idle queue, nothing to do.
	EndTestNone EndTestAction = iota
	// EndTestReturnToHead: the entry was pulled out of the queue during the
	// test and must be re-inserted at the head.
	EndTestReturnToHead
)

// Entry wraps exactly one pooled instance together with its lifecycle state
// and timing metadata. All state reads-then-writes go through the entry's own
// lock so a concurrent return and eviction test can never race.
type Entry[T any] struct {
	mu    sync.Mutex
	state State

	id  uint64
	obj T
	clk clock.Clock

	created    time.Time
	lastBorrow time.Time
	lastReturn time.Time
	lastUse    time.Time

	logAbandoned bool
	borrowStack  string
}

// NewEntry wraps a freshly made instance. The entry starts out idle and
// immediately usable.
func NewEntry[T any](id uint64, obj T, clk clock.Clock) *Entry[T] {
	now := clk.Now()
	return &Entry[T]{
		id:         id,
		obj:        obj,
		clk:        clk,
		state:      StateIdle,
		created:    now,
		lastBorrow: now,
		lastReturn: now,
		lastUse:    now,
	}
}

// ID is the opaque token the pool registry keys on. It never depends on the
// wrapped instance's own equality semantics.
func (e *Entry[T]) ID() uint64 { return e.id }

// Object returns the wrapped instance.
func (e *Entry[T]) Object() T { return e.obj }

func (e *Entry[T]) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Entry[T]) CreatedAt() time.Time { return e.created }

func (e *Entry[T]) LastBorrowed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastBorrow
}

func (e *Entry[T]) LastReturned() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReturn
}

func (e *Entry[T]) LastUsed() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUse
}

// IdleDuration is the time since the entry was last returned.
func (e *Entry[T]) IdleDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clk.Now().Sub(e.lastReturn)
}

// ActiveDuration is how long the entry has been (or was last) held by a
// caller.
func (e *Entry[T]) ActiveDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateAllocated || e.state == StateReturning || e.state == StateAbandoned {
		return e.clk.Now().Sub(e.lastBorrow)
	}
	return e.lastReturn.Sub(e.lastBorrow)
}

// Use refreshes the last-used timestamp so long-running holders are not
// reclaimed as abandoned.
func (e *Entry[T]) Use() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUse = e.clk.Now()
}

// SetLogAbandoned enables capture of the borrower's stack for abandonment
// diagnostics.
func (e *Entry[T]) SetLogAbandoned(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logAbandoned = v
}

// BorrowStack returns the goroutine stack captured at the last borrow, if
// SetLogAbandoned was enabled.
func (e *Entry[T]) BorrowStack() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.borrowStack
}

// Allocate attempts the IDLE -> ALLOCATED transition of a successful borrow.
// If the entry is concurrently under an eviction or validation test it is
// flagged so the test knows a borrower pulled it from the queue, and false is
// returned.
func (e *Entry[T]) Allocate() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateIdle:
		e.state = StateAllocated
		now := e.clk.Now()
		e.lastBorrow = now
		e.lastUse = now
		if e.logAbandoned {
			e.borrowStack = captureStack()
		}
		return true
	case StateEviction:
		e.state = StateEvictionReturnToHead
		return false
	case StateValidation:
		e.state = StateValidationPreallocated
		return false
	default:
		return false
	}
}

// MarkReturning starts a return (ALLOCATED -> RETURNING). Returning false
// means the entry was already returned, reclaimed or invalidated.
func (e *Entry[T]) MarkReturning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateAllocated {
		return false
	}
	e.state = StateReturning
	return true
}

// Deallocate completes a return (RETURNING -> IDLE) and stamps the return
// time. MarkReturning must have succeeded first.
func (e *Entry[T]) Deallocate() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateReturning {
		return false
	}
	e.state = StateIdle
	e.lastReturn = e.clk.Now()
	return true
}

// StartEvictionTest begins an eviction test (IDLE -> EVICTION). Fails when the
// entry was concurrently borrowed.
func (e *Entry[T]) StartEvictionTest() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return false
	}
	e.state = StateEviction
	return true
}

// BeginRevalidation moves an entry under eviction test into its validation
// phase (EVICTION -> VALIDATION), carrying the pulled-from-queue flag across
// so a borrower racing either phase is handled the same way.
func (e *Entry[T]) BeginRevalidation() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateEviction:
		e.state = StateValidation
		return true
	case StateEvictionReturnToHead:
		e.state = StateValidationReturnToHead
		return true
	default:
		return false
	}
}

// EndEvictionTest completes an eviction or validation test, moving the entry
// back to IDLE. The returned action says whether the entry has to be
// re-inserted at the head of the idle queue because a borrower pulled it out
// mid-test.
func (e *Entry[T]) EndEvictionTest() EndTestAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateEviction, StateValidation:
		e.state = StateIdle
		return EndTestNone
	case StateEvictionReturnToHead, StateValidationReturnToHead, StateValidationPreallocated:
		e.state = StateIdle
		return EndTestReturnToHead
	default:
		return EndTestNone
	}
}

// MarkAbandonedIfStale marks the entry abandoned when it is allocated and has
// not been used since the cutoff. Only legal from ALLOCATED.
func (e *Entry[T]) MarkAbandonedIfStale(cutoff time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateAllocated || e.lastUse.After(cutoff) {
		return false
	}
	e.state = StateAbandoned
	return true
}

// Invalidate moves the entry to its terminal INVALID state. Legal from any
// state; used by destroy.
func (e *Entry[T]) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateInvalid
}

func captureStack() string {
	buf := make([]byte, 16<<10)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
