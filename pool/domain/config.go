package domain

import (
	"log/slog"
	"time"

	"github.com/facebookgo/clock"
)

// Config is the pool configuration surface. It is read as one coherent
// snapshot per operation; swapping the snapshot between operations is safe.
type Config struct {
	// MaxTotal caps entries in any state. Negative means unbounded.
	MaxTotal int
	// MaxIdle caps the idle queue; returns beyond it destroy the entry.
	// Negative means unbounded.
	MaxIdle int
	// MinIdle is the idle floor the evictor tops the pool up to.
	MinIdle int

	// MaxWait bounds a blocking borrow. Negative waits forever (until the
	// caller's context ends).
	MaxWait time.Duration
	// BlockWhenExhausted makes borrows wait for an idle entry instead of
	// failing with ErrExhausted.
	BlockWhenExhausted bool

	// LIFO hands out the most recently returned entry first. False cycles
	// entries evenly (FIFO).
	LIFO bool
	// Fair serves blocked borrowers in strict arrival order.
	Fair bool

	TestOnCreate  bool
	TestOnBorrow  bool
	TestOnReturn  bool
	TestWhileIdle bool

	// TimeBetweenEvictionRuns schedules the background maintenance task.
	// <= 0 disables it.
	TimeBetweenEvictionRuns time.Duration
	// NumTestsPerEvictionRun bounds one eviction pass: a non-negative value
	// tests at most that many idle entries, a negative value tests
	// ceil(idle / -value), i.e. a fraction of the idle queue per run.
	NumTestsPerEvictionRun   int
	MinEvictableIdleTime     time.Duration
	SoftMinEvictableIdleTime time.Duration

	// Abandon enables reclamation of entries that were borrowed and never
	// returned. Nil disables abandonment tracking.
	Abandon *AbandonConfig

	// Clock is the time source for all entry timestamps and eviction math.
	// Nil means the real clock; tests inject clock.NewMock().
	Clock clock.Clock
	// Logger receives swallowed-error and abandonment logs. Nil discards.
	Logger *slog.Logger
	// OnSwallowedError observes errors the pool absorbs to stay alive
	// (eviction-thread factory failures, destroy errors during close).
	OnSwallowedError func(error)
}

// AbandonConfig controls reclamation of leaked entries.
type AbandonConfig struct {
	// Timeout is how long an allocated entry may go unused before it is
	// presumed leaked.
	Timeout time.Duration
	// RemoveOnBorrow runs the sweep from the borrow path when the pool is
	// close to exhaustion (see IdleSlack / ActiveSlack).
	RemoveOnBorrow bool
	// RemoveOnMaintenance runs the sweep after every eviction pass.
	RemoveOnMaintenance bool
	// LogAbandoned captures the borrower's stack at borrow time and logs it
	// when the entry is reclaimed.
	LogAbandoned bool

	// IdleSlack and ActiveSlack define the near-exhaustion trigger for
	// RemoveOnBorrow: the sweep runs when idle < IdleSlack and
	// active > maxTotal - ActiveSlack.
	IdleSlack   int
	ActiveSlack int
}

// DefaultConfig mirrors the conventional defaults: eight entries total and
// idle, block forever on exhaustion, LIFO, no validation, evictor disabled.
func DefaultConfig() Config {
	return Config{
		MaxTotal:                 8,
		MaxIdle:                  8,
		MinIdle:                  0,
		MaxWait:                  -1,
		BlockWhenExhausted:       true,
		LIFO:                     true,
		TimeBetweenEvictionRuns:  -1,
		NumTestsPerEvictionRun:   3,
		MinEvictableIdleTime:     30 * time.Minute,
		SoftMinEvictableIdleTime: -1,
	}
}

// DefaultAbandonConfig reclaims after five minutes of disuse, from the
// maintenance path only.
func DefaultAbandonConfig() AbandonConfig {
	return AbandonConfig{
		Timeout:             5 * time.Minute,
		RemoveOnMaintenance: true,
		IdleSlack:           2,
		ActiveSlack:         3,
	}
}

// EffectiveMinIdle is MinIdle clamped by MaxIdle.
func (c Config) EffectiveMinIdle() int {
	if c.MaxIdle >= 0 && c.MinIdle > c.MaxIdle {
		return c.MaxIdle
	}
	return c.MinIdle
}
