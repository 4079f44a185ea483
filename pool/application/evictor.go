package application

import (
	"context"
	"errors"
	"fmt"

	"resource-pool/pool/domain"
)

// RunMaintenance is one pass of the background task: evict stale idle
// entries, then top the idle queue back up to MinIdle. Errors are swallowed
// so the shared maintenance goroutine lives forever.
func (c *Core[T]) RunMaintenance(ctx context.Context) {
	if err := c.Evict(ctx); err != nil && !errors.Is(err, domain.ErrClosed) {
		c.swallow(err)
	}
	if err := c.EnsureMinIdle(ctx); err != nil {
		c.swallow(err)
	}
}

// Evict runs a single eviction pass: test up to the configured batch of idle
// entries against the eviction policy, destroying the ones it condemns and
// optionally revalidating the survivors. Passes for one pool never overlap.
func (c *Core[T]) Evict(ctx context.Context) error {
	if c.Closed() {
		return domain.ErrClosed
	}
	cfg := c.Config()

	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	if idleSize := c.idle.Size(); idleSize > 0 {
		ec := domain.EvictionContext{
			MinEvictableIdle:     cfg.MinEvictableIdleTime,
			SoftMinEvictableIdle: cfg.SoftMinEvictableIdleTime,
			MinIdle:              cfg.EffectiveMinIdle(),
		}

		// Oldest entries first: in LIFO mode they sit at the tail.
		candidates := c.idle.Snapshot()
		if cfg.LIFO {
			for i, j := 0, len(candidates)-1; i < j; i, j = i+1, j-1 {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}

		batch := evictionBatchSize(cfg.NumTestsPerEvictionRun, idleSize)
		tested := 0
		for _, e := range candidates {
			if tested >= batch {
				break
			}
			if !e.StartEvictionTest() {
				// Borrowed by another goroutine; doesn't count against the
				// batch.
				continue
			}
			tested++

			if c.safeEvictDecision(ec, e) {
				c.destroy(ctx, e, domain.KindDestroyedByEvictor)
				continue
			}

			if cfg.TestWhileIdle {
				e.BeginRevalidation()
				if !c.revalidateIdle(ctx, e) {
					c.destroy(ctx, e, domain.KindDestroyedByEvictor)
					continue
				}
			}

			if e.EndEvictionTest() == domain.EndTestReturnToHead {
				c.idle.PushFront(e)
			}
		}
	}

	if ac := cfg.Abandon; ac != nil && ac.RemoveOnMaintenance {
		c.reclaimAbandoned(ctx, ac)
	}
	return nil
}

// EnsureMinIdle tops the idle queue up to the configured minimum, bounded by
// MaxTotal. Gives up as soon as creation reports no capacity.
func (c *Core[T]) EnsureMinIdle(ctx context.Context) error {
	return c.ensureIdle(ctx, c.Config().EffectiveMinIdle(), true)
}

// PrepareIdle pre-fills the pool to MinIdle, e.g. at startup.
func (c *Core[T]) PrepareIdle(ctx context.Context) error {
	if c.Config().EffectiveMinIdle() < 1 {
		return nil
	}
	return c.EnsureMinIdle(ctx)
}

// safeEvictDecision shields the maintenance pass from a panicking policy;
// a panic counts as "do not evict".
func (c *Core[T]) safeEvictDecision(ec domain.EvictionContext, e *domain.Entry[T]) (evict bool) {
	defer func() {
		if r := recover(); r != nil {
			c.swallow(fmt.Errorf("pool: eviction policy panic: %v", r))
			evict = false
		}
	}()
	return c.policy.Evict(ec, e, c.idle.Size())
}

// revalidateIdle runs the activate/validate/passivate cycle on a surviving
// idle entry. False means the entry must be destroyed.
func (c *Core[T]) revalidateIdle(ctx context.Context, e *domain.Entry[T]) bool {
	if err := c.factory.Activate(ctx, e.Object()); err != nil {
		c.swallow(&domain.FactoryError{Op: "activate", Err: err})
		return false
	}
	if !c.safeValidate(ctx, e) {
		return false
	}
	if err := c.factory.Passivate(ctx, e.Object()); err != nil {
		c.swallow(&domain.FactoryError{Op: "passivate", Err: err})
		return false
	}
	return true
}

// reclaimAbandoned scans every tracked entry (not just the idle ones), marks
// the allocated ones unused for longer than the timeout as abandoned and
// destroys them, backfilling an idle slot for each.
func (c *Core[T]) reclaimAbandoned(ctx context.Context, ac *domain.AbandonConfig) {
	cutoff := c.clk.Now().Add(-ac.Timeout)

	var stale []*domain.Entry[T]
	c.mu.RLock()
	for _, e := range c.all {
		if e.MarkAbandonedIfStale(cutoff) {
			stale = append(stale, e)
		}
	}
	c.mu.RUnlock()

	for _, e := range stale {
		if ac.LogAbandoned {
			c.log.Warn("pool: reclaiming abandoned object",
				"id", e.ID(),
				"last_used", e.LastUsed(),
				"borrow_stack", e.BorrowStack())
		}
		c.record(ctx, domain.Event{Kind: domain.KindAbandoned, At: c.clk.Now()})
		c.destroy(ctx, e, domain.KindDestroyed)
		c.backfillOne(ctx)
	}
}

// evictionBatchSize implements the two batch modes: a non-negative setting
// tests at most that many entries, a negative one tests ceil(idle/-n).
func evictionBatchSize(numTests, idleSize int) int {
	if numTests >= 0 {
		if numTests < idleSize {
			return numTests
		}
		return idleSize
	}
	return (idleSize + (-numTests) - 1) / -numTests
}
