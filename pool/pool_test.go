package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"resource-pool/pool/domain"
)

type counter struct {
	inUse atomic.Int32
}

// countedFactory makes *counter objects so tests can assert exclusivity.
func countedFactory() domain.Factory[*counter] {
	return domain.FactoryFuncs[*counter]{
		MakeFunc: func(context.Context) (*counter, error) {
			return &counter{}, nil
		},
	}
}

func TestPool_NilFactory(t *testing.T) {
	if _, err := New[int](nil); err == nil {
		t.Fatalf("expected an error for a nil factory")
	}
}

func TestPool_BorrowReturn(t *testing.T) {
	p, err := New(countedFactory())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer p.Close()
	ctx := context.Background()

	h, err := p.Borrow(ctx)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if h.Value() == nil {
		t.Fatalf("handle must carry the instance")
	}
	if err := p.Return(ctx, h); err != nil {
		t.Fatalf("return: %v", err)
	}

	snap := p.Stats()
	if snap.Created != 1 || snap.Borrowed != 1 || snap.Returned != 1 {
		t.Fatalf("unexpected stats: %+v", snap)
	}
}

func TestPool_NilHandle(t *testing.T) {
	p, _ := New(countedFactory())
	defer p.Close()
	ctx := context.Background()

	if err := p.Return(ctx, nil); !errors.Is(err, domain.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState for a nil handle, got %v", err)
	}
	if err := p.Invalidate(ctx, nil); !errors.Is(err, domain.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState for a nil handle, got %v", err)
	}
}

func TestPool_OptionsApply(t *testing.T) {
	p, err := New(countedFactory(),
		WithMaxTotal[*counter](2),
		WithMaxIdle[*counter](1),
		WithMinIdle[*counter](1),
		WithMaxWait[*counter](time.Second),
		WithLIFO[*counter](false),
		WithBlockWhenExhausted[*counter](false),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer p.Close()

	cfg := p.Config()
	if cfg.MaxTotal != 2 || cfg.MaxIdle != 1 || cfg.MinIdle != 1 ||
		cfg.MaxWait != time.Second || cfg.LIFO || cfg.BlockWhenExhausted {
		t.Fatalf("options not applied: %+v", cfg)
	}
}

func TestPool_ExhaustionWithoutBlocking(t *testing.T) {
	p, _ := New(countedFactory(),
		WithMaxTotal[*counter](1),
		WithBlockWhenExhausted[*counter](false),
	)
	defer p.Close()
	ctx := context.Background()

	h, err := p.Borrow(ctx)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := p.Borrow(ctx); !errors.Is(err, domain.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	_ = p.Return(ctx, h)
}

func TestPool_BorrowWithinOverridesMaxWait(t *testing.T) {
	p, _ := New(countedFactory(), WithMaxTotal[*counter](1))
	defer p.Close()
	ctx := context.Background()

	h, err := p.Borrow(ctx)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	defer p.Return(ctx, h)

	start := time.Now()
	_, err = p.BorrowWithin(ctx, 30*time.Millisecond)
	if !errors.Is(err, domain.ErrBorrowTimeout) {
		t.Fatalf("expected ErrBorrowTimeout, got %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("returned before the wait budget")
	}
}

func TestPool_ExclusivityUnderContention(t *testing.T) {
	p, _ := New(countedFactory(), WithMaxTotal[*counter](4))
	defer p.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h, err := p.Borrow(ctx)
				if err != nil {
					t.Errorf("borrow: %v", err)
					return
				}
				// No other goroutine may hold this instance right now.
				if !h.Value().inUse.CompareAndSwap(0, 1) {
					t.Errorf("instance handed to two borrowers at once")
				}
				h.Use()
				if !h.Value().inUse.CompareAndSwap(1, 0) {
					t.Errorf("instance released twice")
				}
				if err := p.Return(ctx, h); err != nil {
					t.Errorf("return: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if p.NumActive() != 0 {
		t.Fatalf("expected 0 active after the storm, got %d", p.NumActive())
	}
	if p.Stats().Created > 4 {
		t.Fatalf("created %d instances, max is 4", p.Stats().Created)
	}
}

func TestPool_InvalidateFreesCapacity(t *testing.T) {
	p, _ := New(countedFactory(),
		WithMaxTotal[*counter](1),
		WithBlockWhenExhausted[*counter](false),
	)
	defer p.Close()
	ctx := context.Background()

	h, _ := p.Borrow(ctx)
	if err := p.Invalidate(ctx, h); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := p.Borrow(ctx); err != nil {
		t.Fatalf("capacity must be freed by invalidate: %v", err)
	}
	if p.Stats().Destroyed != 1 {
		t.Fatalf("expected 1 destroy, got %d", p.Stats().Destroyed)
	}
}

func TestPool_PrepareIdleAndClear(t *testing.T) {
	p, _ := New(countedFactory(), WithMinIdle[*counter](3))
	defer p.Close()
	ctx := context.Background()

	if err := p.PrepareIdle(ctx); err != nil {
		t.Fatalf("prepare idle: %v", err)
	}
	if p.NumIdle() != 3 {
		t.Fatalf("expected 3 idle, got %d", p.NumIdle())
	}

	p.Clear(ctx)
	if p.NumIdle() != 0 {
		t.Fatalf("expected 0 idle after clear, got %d", p.NumIdle())
	}
}

func TestPool_AddIdle(t *testing.T) {
	p, _ := New(countedFactory())
	defer p.Close()

	if err := p.AddIdle(context.Background()); err != nil {
		t.Fatalf("add idle: %v", err)
	}
	if p.NumIdle() != 1 {
		t.Fatalf("expected 1 idle, got %d", p.NumIdle())
	}
}

func TestPool_NumWaiters(t *testing.T) {
	p, _ := New(countedFactory(), WithMaxTotal[*counter](1))
	defer p.Close()
	ctx := context.Background()

	h, _ := p.Borrow(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h2, err := p.Borrow(ctx)
		if err != nil {
			return
		}
		_ = p.Return(ctx, h2)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.NumWaiters() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("waiter never registered")
		}
		time.Sleep(time.Millisecond)
	}
	_ = p.Return(ctx, h)
	<-done
}

func TestPool_BackgroundEviction(t *testing.T) {
	p, _ := New(countedFactory(),
		WithEviction[*counter](10*time.Millisecond, time.Nanosecond, -1, -1),
	)
	defer p.Close()
	ctx := context.Background()

	h, _ := p.Borrow(ctx)
	_ = p.Return(ctx, h)

	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().DestroyedByEvictor == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("background evictor never destroyed the stale instance")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if p.NumIdle() != 0 {
		t.Fatalf("expected 0 idle after eviction, got %d", p.NumIdle())
	}
}

func TestPool_SetConfigTakesEffect(t *testing.T) {
	p, _ := New(countedFactory())
	defer p.Close()
	ctx := context.Background()

	cfg := p.Config()
	cfg.MaxTotal = 1
	cfg.BlockWhenExhausted = false
	p.SetConfig(cfg)

	h, err := p.Borrow(ctx)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	defer p.Return(ctx, h)
	if _, err := p.Borrow(ctx); !errors.Is(err, domain.ErrExhausted) {
		t.Fatalf("new MaxTotal must apply to later borrows, got %v", err)
	}
}

func TestPool_CloseFailsLaterBorrows(t *testing.T) {
	p, _ := New(countedFactory())
	ctx := context.Background()

	h, _ := p.Borrow(ctx)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Borrow(ctx); !errors.Is(err, domain.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	// Outstanding instances are still accepted and destroyed.
	if err := p.Return(ctx, h); err != nil {
		t.Fatalf("return after close: %v", err)
	}
	if p.NumIdle() != 0 {
		t.Fatalf("closed pool must not hold idle instances")
	}
}
