package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"resource-pool/pool/application"
	"resource-pool/pool/domain"
	"resource-pool/pool/infra"
)

// Pool hands out instances created by a domain.Factory. All methods are safe
// for concurrent use.
type Pool[T any] struct {
	core  *application.Core[T]
	stats *infra.MemoryStats

	taskMu sync.Mutex
	task   *infra.Task
}

// Pooled is the handle for one borrowed instance. The pool registry keys on
// the handle's internal token, so the instance's own equality semantics never
// matter.
type Pooled[T any] struct {
	e *domain.Entry[T]
}

// Value returns the borrowed instance.
func (p *Pooled[T]) Value() T { return p.e.Object() }

// Use tells the pool the instance is still in use, protecting long-running
// holders from the abandonment sweep.
func (p *Pooled[T]) Use() { p.e.Use() }

// New builds a pool around factory. With no options it blocks borrowers
// indefinitely once eight instances exist and never runs the evictor.
func New[T any](factory domain.Factory[T], opts ...Option[T]) (*Pool[T], error) {
	if factory == nil {
		return nil, errors.New("pool: factory may not be nil")
	}
	s := settings[T]{cfg: domain.DefaultConfig()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.cfg.Clock == nil {
		s.cfg.Clock = clock.New()
	}

	stats := infra.NewMemoryStats()
	sinks := append([]domain.StatsSink{stats}, s.sinks...)
	idle := infra.NewBlockingDeque[*domain.Entry[T]](s.cfg.Fair)

	p := &Pool[T]{
		core:  application.NewCore(factory, s.cfg, s.policy, idle, sinks...),
		stats: stats,
	}
	p.startEvictor(s.cfg.TimeBetweenEvictionRuns)
	return p, nil
}

// Borrow obtains an instance within the configured wait budget. The caller
// must hand the returned handle back through Return or Invalidate.
func (p *Pool[T]) Borrow(ctx context.Context) (*Pooled[T], error) {
	e, err := p.core.Borrow(ctx)
	if err != nil {
		return nil, err
	}
	return &Pooled[T]{e: e}, nil
}

// BorrowWithin is Borrow with an explicit wait budget. Negative waits until
// ctx ends.
func (p *Pool[T]) BorrowWithin(ctx context.Context, maxWait time.Duration) (*Pooled[T], error) {
	e, err := p.core.BorrowWithin(ctx, maxWait)
	if err != nil {
		return nil, err
	}
	return &Pooled[T]{e: e}, nil
}

// Return gives a borrowed instance back.
func (p *Pool[T]) Return(ctx context.Context, h *Pooled[T]) error {
	if h == nil || h.e == nil {
		return domain.ErrIllegalState
	}
	return p.core.Return(ctx, h.e)
}

// Invalidate destroys a borrowed instance instead of returning it, e.g. after
// the caller saw it misbehave.
func (p *Pool[T]) Invalidate(ctx context.Context, h *Pooled[T]) error {
	if h == nil || h.e == nil {
		return domain.ErrIllegalState
	}
	return p.core.Invalidate(ctx, h.e)
}

// AddIdle creates and queues one idle instance.
func (p *Pool[T]) AddIdle(ctx context.Context) error {
	return p.core.AddIdle(ctx)
}

// PrepareIdle pre-fills the pool up to MinIdle.
func (p *Pool[T]) PrepareIdle(ctx context.Context) error {
	return p.core.PrepareIdle(ctx)
}

// Evict runs one eviction pass now, independent of the background schedule.
func (p *Pool[T]) Evict(ctx context.Context) error {
	return p.core.Evict(ctx)
}

// Clear destroys all currently idle instances.
func (p *Pool[T]) Clear(ctx context.Context) {
	p.core.Clear(ctx)
}

// Close is idempotent: it stops the evictor, destroys the idle instances and
// wakes every blocked borrower with ErrClosed. Instances still held by
// callers are destroyed as they come back.
func (p *Pool[T]) Close() error {
	p.stopEvictor()
	p.core.Close(context.Background())
	return nil
}

func (p *Pool[T]) NumActive() int  { return p.core.NumActive() }
func (p *Pool[T]) NumIdle() int    { return p.core.NumIdle() }
func (p *Pool[T]) NumWaiters() int { return p.core.NumWaiters() }

// Stats is a point-in-time snapshot of the pool's counters and timing means.
func (p *Pool[T]) Stats() infra.Snapshot { return p.stats.Snapshot() }

// Config returns the current configuration snapshot.
func (p *Pool[T]) Config() domain.Config { return p.core.Config() }

// SetConfig swaps the configuration between calls and reschedules the
// evictor when its interval changed.
func (p *Pool[T]) SetConfig(cfg domain.Config) {
	old := p.core.Config()
	p.core.SetConfig(cfg)
	if old.TimeBetweenEvictionRuns != cfg.TimeBetweenEvictionRuns && !p.core.Closed() {
		p.startEvictor(cfg.TimeBetweenEvictionRuns)
	}
}

// SetAbandonConfig swaps only the abandonment settings; nil disables the
// sweep.
func (p *Pool[T]) SetAbandonConfig(ac *domain.AbandonConfig) {
	cfg := p.core.Config()
	cfg.Abandon = ac
	p.core.SetConfig(cfg)
}

func (p *Pool[T]) startEvictor(interval time.Duration) {
	p.taskMu.Lock()
	defer p.taskMu.Unlock()
	if p.task != nil {
		infra.Cancel(p.task)
		p.task = nil
	}
	if interval > 0 {
		core := p.core
		p.task = infra.Schedule(func() {
			core.RunMaintenance(context.Background())
		}, interval)
	}
}

func (p *Pool[T]) stopEvictor() {
	p.taskMu.Lock()
	defer p.taskMu.Unlock()
	if p.task != nil {
		infra.Cancel(p.task)
		p.task = nil
	}
}
