package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"

	"resource-pool/pool/domain"
)

// Core owns the registry of all live entries and enforces the total-capacity
// invariant: 0 <= idle <= all <= maxTotal (negative maxTotal is unbounded).
//
// Entry creation is reserved through a lock-free counter so unrelated
// borrowers never block each other; each entry's state is guarded by the
// entry's own lock; the idle registry has its own synchronization. No global
// pool mutex exists on the borrow/return path.
type Core[T any] struct {
	factory domain.Factory[T]
	policy  domain.EvictionPolicy[T]
	idle    domain.IdleRegistry[*domain.Entry[T]]
	sinks   []domain.StatsSink

	cfg atomic.Pointer[domain.Config]
	clk clock.Clock
	log *slog.Logger

	mu  sync.RWMutex
	all map[uint64]*domain.Entry[T]

	// createCount reserves capacity before the factory runs and is rolled
	// back when creation fails, so concurrent creators can never exceed
	// MaxTotal.
	createCount atomic.Int64
	nextID      atomic.Uint64

	closed  atomic.Bool
	closeMu sync.Mutex

	// evictMu serializes maintenance passes for this pool.
	evictMu sync.Mutex
}

// NewCore wires a core from its collaborators. cfg must already be
// normalized (non-nil clock).
func NewCore[T any](
	factory domain.Factory[T],
	cfg domain.Config,
	policy domain.EvictionPolicy[T],
	idle domain.IdleRegistry[*domain.Entry[T]],
	sinks ...domain.StatsSink,
) *Core[T] {
	c := &Core[T]{
		factory: factory,
		policy:  policy,
		idle:    idle,
		sinks:   sinks,
		clk:     cfg.Clock,
		log:     cfg.Logger,
		all:     make(map[uint64]*domain.Entry[T]),
	}
	if c.policy == nil {
		c.policy = domain.DefaultEvictionPolicy[T]{}
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}
	c.cfg.Store(&cfg)
	return c
}

func (c *Core[T]) Config() domain.Config { return *c.cfg.Load() }

// SetConfig swaps the configuration snapshot. The clock is fixed at
// construction and ignored here.
func (c *Core[T]) SetConfig(cfg domain.Config) {
	cfg.Clock = c.clk
	c.cfg.Store(&cfg)
}

func (c *Core[T]) Closed() bool { return c.closed.Load() }

// Borrow obtains an entry using the configured MaxWait.
func (c *Core[T]) Borrow(ctx context.Context) (*domain.Entry[T], error) {
	return c.borrow(ctx, c.Config().MaxWait)
}

// BorrowWithin obtains an entry, overriding the configured wait budget.
// A negative maxWait waits until the caller's context ends.
func (c *Core[T]) BorrowWithin(ctx context.Context, maxWait time.Duration) (*domain.Entry[T], error) {
	return c.borrow(ctx, maxWait)
}

func (c *Core[T]) borrow(ctx context.Context, maxWait time.Duration) (*domain.Entry[T], error) {
	if c.Closed() {
		return nil, domain.ErrClosed
	}
	cfg := c.Config()

	if ac := cfg.Abandon; ac != nil && ac.RemoveOnBorrow &&
		c.NumIdle() < ac.IdleSlack &&
		cfg.MaxTotal >= 0 && c.NumActive() > cfg.MaxTotal-ac.ActiveSlack {
		c.reclaimAbandoned(ctx, ac)
	}

	start := c.clk.Now()
	for {
		e, ok := c.idle.PollFirst()
		fresh := false
		if !ok {
			created, err := c.create(ctx, cfg)
			if err != nil {
				return nil, err
			}
			e = created
			fresh = e != nil
		}
		if e == nil {
			if !cfg.BlockWhenExhausted {
				return nil, domain.ErrExhausted
			}
			waitCtx := ctx
			cancel := func() {}
			if maxWait >= 0 {
				waitCtx, cancel = context.WithTimeout(ctx, maxWait)
			}
			taken, err := c.idle.TakeFirst(waitCtx)
			cancel()
			if err != nil {
				if errors.Is(err, domain.ErrInterrupted) || c.Closed() {
					return nil, domain.ErrClosed
				}
				if ctx.Err() != nil {
					return nil, fmt.Errorf("pool: borrow canceled: %w", ctx.Err())
				}
				return nil, domain.ErrBorrowTimeout
			}
			e = taken
		}

		if !e.Allocate() {
			// Entry was under an eviction test or otherwise unusable; it is
			// the evictor's to deal with now.
			continue
		}

		if err := c.factory.Activate(ctx, e.Object()); err != nil {
			c.destroy(ctx, e, domain.KindDestroyed)
			if fresh {
				return nil, &domain.FactoryError{Op: "activate", Err: err}
			}
			continue
		}

		if cfg.TestOnBorrow || (fresh && cfg.TestOnCreate) {
			if !c.safeValidate(ctx, e) {
				c.destroy(ctx, e, domain.KindDestroyedByValidation)
				if fresh {
					return nil, domain.ErrValidation
				}
				continue
			}
		}

		c.record(ctx, domain.Event{
			Kind: domain.KindBorrowed,
			At:   c.clk.Now(),
			Wait: c.clk.Now().Sub(start),
			Idle: e.LastBorrowed().Sub(e.LastReturned()),
		})
		return e, nil
	}
}

// Return gives an entry back to the pool. Unknown entries fail with
// ErrIllegalState unless abandonment tracking is on, in which case the
// instance is presumed already reclaimed and silently accepted.
func (c *Core[T]) Return(ctx context.Context, e *domain.Entry[T]) error {
	cfg := c.Config()
	if !c.knows(e) {
		if cfg.Abandon != nil {
			return nil
		}
		return fmt.Errorf("%w: returned object is not currently part of this pool", domain.ErrIllegalState)
	}

	if !e.MarkReturning() {
		return fmt.Errorf("%w: object has already been returned to this pool or is invalid", domain.ErrIllegalState)
	}

	active := e.ActiveDuration()

	if cfg.TestOnReturn && !c.safeValidate(ctx, e) {
		c.destroy(ctx, e, domain.KindDestroyedByValidation)
		c.backfillOne(ctx)
		c.recordReturn(ctx, active)
		return nil
	}

	if err := c.factory.Passivate(ctx, e.Object()); err != nil {
		c.swallow(&domain.FactoryError{Op: "passivate", Err: err})
		c.destroy(ctx, e, domain.KindDestroyed)
		c.backfillOne(ctx)
		c.recordReturn(ctx, active)
		return nil
	}

	if !e.Deallocate() {
		return fmt.Errorf("%w: object has already been returned to this pool or is invalid", domain.ErrIllegalState)
	}

	if c.Closed() || (cfg.MaxIdle >= 0 && cfg.MaxIdle <= c.idle.Size()) {
		c.destroy(ctx, e, domain.KindDestroyed)
	} else {
		if cfg.LIFO {
			c.idle.PushFront(e)
		} else {
			c.idle.PushBack(e)
		}
		if c.Closed() {
			// Pool closed while the entry went back in; don't leak it.
			c.Clear(ctx)
		}
	}
	c.recordReturn(ctx, active)
	return nil
}

// Invalidate force-destroys an entry regardless of state, then backfills one
// idle slot for any waiting borrower.
func (c *Core[T]) Invalidate(ctx context.Context, e *domain.Entry[T]) error {
	cfg := c.Config()
	if !c.knows(e) {
		if cfg.Abandon != nil {
			return nil
		}
		return fmt.Errorf("%w: invalidated object is not currently part of this pool", domain.ErrIllegalState)
	}
	if e.State() != domain.StateInvalid {
		c.destroy(ctx, e, domain.KindDestroyed)
	}
	c.backfillOne(ctx)
	return nil
}

// AddIdle creates, passivates and queues one idle entry. A pool already at
// capacity is a no-op.
func (c *Core[T]) AddIdle(ctx context.Context) error {
	if c.Closed() {
		return domain.ErrClosed
	}
	cfg := c.Config()
	e, err := c.create(ctx, cfg)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	if err := c.factory.Passivate(ctx, e.Object()); err != nil {
		c.destroy(ctx, e, domain.KindDestroyed)
		return &domain.FactoryError{Op: "passivate", Err: err}
	}
	if cfg.LIFO {
		c.idle.PushFront(e)
	} else {
		c.idle.PushBack(e)
	}
	return nil
}

// Clear destroys every currently idle entry. Destroy errors are swallowed.
func (c *Core[T]) Clear(ctx context.Context) {
	for {
		e, ok := c.idle.PollFirst()
		if !ok {
			return
		}
		c.destroy(ctx, e, domain.KindDestroyed)
	}
}

// Close is idempotent: mark closed, destroy the idle entries and wake every
// blocked borrower so it fails fast with ErrClosed instead of hanging.
// Entries still held by callers are destroyed as they come back.
func (c *Core[T]) Close(ctx context.Context) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed.Load() {
		return
	}
	c.closed.Store(true)
	c.Clear(ctx)
	c.idle.InterruptWaiters()
}

func (c *Core[T]) NumActive() int {
	c.mu.RLock()
	total := len(c.all)
	c.mu.RUnlock()
	// The two counts are read under independent locks; an AddIdle landing
	// between them can make the raw difference dip below zero.
	if n := total - c.idle.Size(); n > 0 {
		return n
	}
	return 0
}

func (c *Core[T]) NumIdle() int {
	return c.idle.Size()
}

func (c *Core[T]) NumWaiters() int {
	if !c.Config().BlockWhenExhausted {
		return 0
	}
	return c.idle.NumWaiters()
}

// create reserves capacity, runs the factory and registers the entry.
// Returns (nil, nil) when the pool is at capacity.
func (c *Core[T]) create(ctx context.Context, cfg domain.Config) (*domain.Entry[T], error) {
	n := c.createCount.Add(1)
	if cfg.MaxTotal >= 0 && n > int64(cfg.MaxTotal) {
		c.createCount.Add(-1)
		return nil, nil
	}

	obj, err := c.factory.Make(ctx)
	if err != nil {
		c.createCount.Add(-1)
		return nil, &domain.FactoryError{Op: "make", Err: err}
	}

	e := domain.NewEntry(c.nextID.Add(1), obj, c.clk)
	if ac := cfg.Abandon; ac != nil && ac.LogAbandoned {
		e.SetLogAbandoned(true)
	}
	c.mu.Lock()
	c.all[e.ID()] = e
	c.mu.Unlock()

	c.record(ctx, domain.Event{Kind: domain.KindCreated, At: c.clk.Now()})
	return e, nil
}

// destroy removes the entry from both registries and disposes of the
// instance. Idempotent: a second destroy of the same entry is a no-op. The
// deque removal comes first so NumActive never counts the entry as idle after
// it already left the all-entries registry.
func (c *Core[T]) destroy(ctx context.Context, e *domain.Entry[T], kind domain.Kind) {
	e.Invalidate()
	c.idle.Remove(e)

	c.mu.Lock()
	if _, ok := c.all[e.ID()]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.all, e.ID())
	c.mu.Unlock()

	if err := c.factory.Destroy(ctx, e.Object()); err != nil {
		c.swallow(&domain.FactoryError{Op: "destroy", Err: err})
	}
	c.createCount.Add(-1)
	c.record(ctx, domain.Event{Kind: kind, At: c.clk.Now()})
}

// ensureIdle tops the idle queue up to count entries. When always is false it
// only runs while borrowers are waiting.
func (c *Core[T]) ensureIdle(ctx context.Context, count int, always bool) error {
	if count < 1 || c.Closed() || (!always && !c.idle.HasWaiters()) {
		return nil
	}
	cfg := c.Config()
	for c.idle.Size() < count {
		e, err := c.create(ctx, cfg)
		if err != nil {
			return err
		}
		if e == nil {
			// No capacity; another call won't do better.
			break
		}
		if cfg.LIFO {
			c.idle.PushFront(e)
		} else {
			c.idle.PushBack(e)
		}
	}
	if c.Closed() {
		c.Clear(ctx)
	}
	return nil
}

// backfillOne replaces a destroyed entry for any waiting borrower.
func (c *Core[T]) backfillOne(ctx context.Context) {
	if err := c.ensureIdle(ctx, 1, false); err != nil {
		c.swallow(err)
	}
}

func (c *Core[T]) knows(e *domain.Entry[T]) bool {
	if e == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.all[e.ID()] == e
}

// safeValidate shields the pool from a panicking Validate.
func (c *Core[T]) safeValidate(ctx context.Context, e *domain.Entry[T]) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.swallow(fmt.Errorf("pool: factory validate panic: %v", r))
			ok = false
		}
	}()
	return c.factory.Validate(ctx, e.Object())
}

func (c *Core[T]) record(ctx context.Context, ev domain.Event) {
	for _, s := range c.sinks {
		if err := s.Record(ctx, ev); err != nil {
			c.swallow(err)
		}
	}
}

func (c *Core[T]) recordReturn(ctx context.Context, active time.Duration) {
	c.record(ctx, domain.Event{Kind: domain.KindReturned, At: c.clk.Now(), Active: active})
}

func (c *Core[T]) swallow(err error) {
	c.log.Warn("pool: swallowed error", "err", err)
	if fn := c.Config().OnSwallowedError; fn != nil {
		fn(err)
	}
}
