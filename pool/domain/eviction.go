package domain

import "time"

// EvictionContext is the configuration snapshot handed to the eviction policy
// for one decision.
type EvictionContext struct {
	// MinEvictableIdle evicts unconditionally once exceeded. <= 0 disables the
	// hard threshold.
	MinEvictableIdle time.Duration
	// SoftMinEvictableIdle evicts once exceeded, but only while the idle count
	// stays above MinIdle, preserving warm capacity.
	SoftMinEvictableIdle time.Duration
	// MinIdle is the floor the soft threshold must not dig below.
	MinIdle int
}

// EvictionPolicy decides whether an idle entry under test should be evicted.
//
// Implementations must be pure decision functions; the evictor treats a panic
// as "do not evict" so a broken policy cannot kill the maintenance goroutine.
type EvictionPolicy[T any] interface {
	Evict(ec EvictionContext, e *Entry[T], idleCount int) bool
}

// DefaultEvictionPolicy applies the hard threshold first, then the soft
// threshold guarded by MinIdle.
type DefaultEvictionPolicy[T any] struct{}

func (DefaultEvictionPolicy[T]) Evict(ec EvictionContext, e *Entry[T], idleCount int) bool {
	idle := e.IdleDuration()
	if ec.MinEvictableIdle > 0 && idle >= ec.MinEvictableIdle {
		return true
	}
	if ec.SoftMinEvictableIdle > 0 && idle >= ec.SoftMinEvictableIdle && idleCount > ec.MinIdle {
		return true
	}
	return false
}
