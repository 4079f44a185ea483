package pool

import (
	"log/slog"
	"time"

	"github.com/facebookgo/clock"

	"resource-pool/pool/domain"
)

type settings[T any] struct {
	cfg    domain.Config
	policy domain.EvictionPolicy[T]
	sinks  []domain.StatsSink
}

// Option customizes a pool at construction time.
type Option[T any] func(*settings[T])

// WithConfig replaces the whole configuration. Apply it first when combining
// with the field options below.
func WithConfig[T any](cfg domain.Config) Option[T] {
	return func(s *settings[T]) { s.cfg = cfg }
}

// WithMaxTotal caps entries in any state; negative means unbounded.
func WithMaxTotal[T any](n int) Option[T] {
	return func(s *settings[T]) { s.cfg.MaxTotal = n }
}

// WithMaxIdle caps the idle queue; negative means unbounded.
func WithMaxIdle[T any](n int) Option[T] {
	return func(s *settings[T]) { s.cfg.MaxIdle = n }
}

// WithMinIdle sets the idle floor the evictor tops the pool up to.
func WithMinIdle[T any](n int) Option[T] {
	return func(s *settings[T]) { s.cfg.MinIdle = n }
}

// WithMaxWait bounds blocking borrows; negative waits forever.
func WithMaxWait[T any](d time.Duration) Option[T] {
	return func(s *settings[T]) { s.cfg.MaxWait = d }
}

// WithBlockWhenExhausted toggles blocking versus failing fast with
// ErrExhausted.
func WithBlockWhenExhausted[T any](block bool) Option[T] {
	return func(s *settings[T]) { s.cfg.BlockWhenExhausted = block }
}

// WithLIFO picks LIFO (true, the default) or FIFO reuse order.
func WithLIFO[T any](lifo bool) Option[T] {
	return func(s *settings[T]) { s.cfg.LIFO = lifo }
}

// WithFairness serves blocked borrowers in strict arrival order.
func WithFairness[T any](fair bool) Option[T] {
	return func(s *settings[T]) { s.cfg.Fair = fair }
}

// WithTestOnBorrow validates every instance before handing it out.
func WithTestOnBorrow[T any](v bool) Option[T] {
	return func(s *settings[T]) { s.cfg.TestOnBorrow = v }
}

// WithTestOnCreate validates freshly created instances before first use.
func WithTestOnCreate[T any](v bool) Option[T] {
	return func(s *settings[T]) { s.cfg.TestOnCreate = v }
}

// WithTestOnReturn validates instances as they come back.
func WithTestOnReturn[T any](v bool) Option[T] {
	return func(s *settings[T]) { s.cfg.TestOnReturn = v }
}

// WithTestWhileIdle revalidates idle survivors during eviction passes.
func WithTestWhileIdle[T any](v bool) Option[T] {
	return func(s *settings[T]) { s.cfg.TestWhileIdle = v }
}

// WithEviction configures the background eviction schedule and thresholds.
func WithEviction[T any](interval, minEvictable, softMinEvictable time.Duration, numTests int) Option[T] {
	return func(s *settings[T]) {
		s.cfg.TimeBetweenEvictionRuns = interval
		s.cfg.MinEvictableIdleTime = minEvictable
		s.cfg.SoftMinEvictableIdleTime = softMinEvictable
		s.cfg.NumTestsPerEvictionRun = numTests
	}
}

// WithAbandonConfig enables reclamation of leaked instances.
func WithAbandonConfig[T any](ac domain.AbandonConfig) Option[T] {
	return func(s *settings[T]) { s.cfg.Abandon = &ac }
}

// WithEvictionPolicy replaces the default hard/soft threshold policy.
func WithEvictionPolicy[T any](p domain.EvictionPolicy[T]) Option[T] {
	return func(s *settings[T]) { s.policy = p }
}

// WithStatsSink attaches an extra best-effort stats sink, e.g.
// infra.NewRedisStats.
func WithStatsSink[T any](sink domain.StatsSink) Option[T] {
	return func(s *settings[T]) { s.sinks = append(s.sinks, sink) }
}

// WithLogger directs swallowed-error and abandonment logs.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(s *settings[T]) { s.cfg.Logger = l }
}

// WithClock injects a time source; tests pass clock.NewMock().
func WithClock[T any](clk clock.Clock) Option[T] {
	return func(s *settings[T]) { s.cfg.Clock = clk }
}

// WithSwallowedErrorHook observes errors the pool absorbs to stay alive.
func WithSwallowedErrorHook[T any](fn func(error)) Option[T] {
	return func(s *settings[T]) { s.cfg.OnSwallowedError = fn }
}
