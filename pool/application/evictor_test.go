package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"resource-pool/pool/domain"
)

// panicPolicy simulates a broken user-supplied eviction policy.
type panicPolicy struct{}

func (panicPolicy) Evict(domain.EvictionContext, *domain.Entry[string], int) bool {
	panic("broken policy")
}

// keepAllPolicy never condemns anything; useful for isolating revalidation.
type keepAllPolicy struct{}

func (keepAllPolicy) Evict(domain.EvictionContext, *domain.Entry[string], int) bool {
	return false
}

func fillIdle(t *testing.T, c *Core[string], n int) {
	t.Helper()
	ctx := context.Background()
	entries := make([]*domain.Entry[string], n)
	for i := range entries {
		e, err := c.Borrow(ctx)
		if err != nil {
			t.Fatalf("borrow: %v", err)
		}
		entries[i] = e
	}
	for _, e := range entries {
		if err := c.Return(ctx, e); err != nil {
			t.Fatalf("return: %v", err)
		}
	}
}

func TestEvict_HardThresholdDestroysStaleEntries(t *testing.T) {
	mock := clock.NewMock()
	cfg := domain.DefaultConfig()
	cfg.Clock = mock
	cfg.MinEvictableIdleTime = 10 * time.Minute
	cfg.NumTestsPerEvictionRun = -1 // test everything
	f := &fakeFactory{}
	c, stats := newTestCore(cfg, f)

	fillIdle(t, c, 3)
	mock.Add(11 * time.Minute)

	if err := c.Evict(context.Background()); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if c.NumIdle() != 0 {
		t.Fatalf("expected all stale entries evicted, %d left", c.NumIdle())
	}
	if got := stats.Snapshot().DestroyedByEvictor; got != 3 {
		t.Fatalf("expected 3 evictor destroys, got %d", got)
	}
	if f.destroyedCount() != 3 {
		t.Fatalf("expected the factory to see 3 destroys")
	}
}

func TestEvict_FreshEntriesSurvive(t *testing.T) {
	mock := clock.NewMock()
	cfg := domain.DefaultConfig()
	cfg.Clock = mock
	cfg.MinEvictableIdleTime = 10 * time.Minute
	cfg.NumTestsPerEvictionRun = -1
	c, _ := newTestCore(cfg, &fakeFactory{})

	fillIdle(t, c, 3)
	mock.Add(time.Minute)

	if err := c.Evict(context.Background()); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if c.NumIdle() != 3 {
		t.Fatalf("fresh entries must survive eviction, %d left", c.NumIdle())
	}
}

func TestEvict_SoftThresholdPreservesMinIdle(t *testing.T) {
	mock := clock.NewMock()
	cfg := domain.DefaultConfig()
	cfg.Clock = mock
	cfg.MinIdle = 2
	cfg.MinEvictableIdleTime = -1
	cfg.SoftMinEvictableIdleTime = time.Minute
	cfg.NumTestsPerEvictionRun = -1
	c, _ := newTestCore(cfg, &fakeFactory{})

	fillIdle(t, c, 4)
	mock.Add(5 * time.Minute)

	if err := c.Evict(context.Background()); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if c.NumIdle() != 2 {
		t.Fatalf("soft eviction must stop at minIdle, got %d idle", c.NumIdle())
	}
}

func TestEvict_TestWhileIdleDestroysInvalid(t *testing.T) {
	mock := clock.NewMock()
	cfg := domain.DefaultConfig()
	cfg.Clock = mock
	cfg.TestWhileIdle = true
	cfg.MinEvictableIdleTime = -1
	cfg.NumTestsPerEvictionRun = -1
	f := &fakeFactory{}
	c, stats := newTestCore(cfg, f)
	c.policy = keepAllPolicy{}

	fillIdle(t, c, 2)
	f.mu.Lock()
	f.validateFn = func(string) bool { return false }
	f.mu.Unlock()

	if err := c.Evict(context.Background()); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if c.NumIdle() != 0 {
		t.Fatalf("entries failing idle revalidation must be destroyed")
	}
	if got := stats.Snapshot().DestroyedByEvictor; got != 2 {
		t.Fatalf("expected 2 evictor destroys, got %d", got)
	}
}

// recordingPolicy keeps every entry it saw so a test can inspect entry state
// later in the pass.
type recordingPolicy struct {
	entries map[string]*domain.Entry[string]
}

func (p *recordingPolicy) Evict(_ domain.EvictionContext, e *domain.Entry[string], _ int) bool {
	p.entries[e.Object()] = e
	return false
}

func TestEvict_RevalidationRunsInValidationPhase(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.TestWhileIdle = true
	cfg.MinEvictableIdleTime = -1
	cfg.NumTestsPerEvictionRun = -1
	f := &fakeFactory{}
	c, _ := newTestCore(cfg, f)
	rp := &recordingPolicy{entries: make(map[string]*domain.Entry[string])}
	c.policy = rp

	fillIdle(t, c, 2)

	var seen []domain.State
	f.mu.Lock()
	f.validateFn = func(obj string) bool {
		seen = append(seen, rp.entries[obj].State())
		return true
	}
	f.mu.Unlock()

	if err := c.Evict(context.Background()); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 revalidations, got %d", len(seen))
	}
	for _, s := range seen {
		if s != domain.StateValidation {
			t.Fatalf("revalidation must run in the validation phase, saw %s", s)
		}
	}
	if c.NumIdle() != 2 {
		t.Fatalf("valid entries must stay idle, got %d", c.NumIdle())
	}
}

func TestEvict_PolicyPanicIsSwallowed(t *testing.T) {
	var swallowed []error
	cfg := domain.DefaultConfig()
	cfg.MinEvictableIdleTime = time.Nanosecond
	cfg.NumTestsPerEvictionRun = -1
	cfg.OnSwallowedError = func(err error) { swallowed = append(swallowed, err) }
	c, _ := newTestCore(cfg, &fakeFactory{})
	c.policy = panicPolicy{}

	fillIdle(t, c, 2)
	if err := c.Evict(context.Background()); err != nil {
		t.Fatalf("evict must survive a panicking policy: %v", err)
	}
	if c.NumIdle() != 2 {
		t.Fatalf("a panicking policy must condemn nothing")
	}
	if len(swallowed) != 2 {
		t.Fatalf("expected 2 swallowed panics, got %d", len(swallowed))
	}
}

func TestEvict_ClosedPool(t *testing.T) {
	c, _ := newTestCore(domain.DefaultConfig(), &fakeFactory{})
	ctx := context.Background()
	c.Close(ctx)
	if err := c.Evict(ctx); !errors.Is(err, domain.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestEnsureMinIdle_TopsUp(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.MinIdle = 3
	c, _ := newTestCore(cfg, &fakeFactory{})

	if err := c.EnsureMinIdle(context.Background()); err != nil {
		t.Fatalf("ensure min idle: %v", err)
	}
	if c.NumIdle() != 3 {
		t.Fatalf("expected 3 idle entries, got %d", c.NumIdle())
	}
}

func TestPrepareIdle_CappedByMaxIdle(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.MinIdle = 5
	cfg.MaxIdle = 2
	c, _ := newTestCore(cfg, &fakeFactory{})

	if err := c.PrepareIdle(context.Background()); err != nil {
		t.Fatalf("prepare idle: %v", err)
	}
	if c.NumIdle() != 2 {
		t.Fatalf("minIdle is capped by maxIdle, got %d idle", c.NumIdle())
	}
}

func TestReclaimAbandoned_OnMaintenance(t *testing.T) {
	mock := clock.NewMock()
	cfg := domain.DefaultConfig()
	cfg.Clock = mock
	ac := domain.DefaultAbandonConfig()
	ac.Timeout = time.Minute
	cfg.Abandon = &ac
	f := &fakeFactory{}
	c, stats := newTestCore(cfg, f)
	ctx := context.Background()

	leaked, err := c.Borrow(ctx)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	held, err := c.Borrow(ctx)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	mock.Add(2 * time.Minute)
	held.Use() // the well-behaved caller touches its object

	c.RunMaintenance(ctx)

	if got := stats.Snapshot().Abandoned; got != 1 {
		t.Fatalf("expected 1 abandoned entry, got %d", got)
	}
	if c.NumActive() != 1 {
		t.Fatalf("only the stale entry may be reclaimed, active=%d", c.NumActive())
	}

	// The late return of a reclaimed object is silently accepted.
	if err := c.Return(ctx, leaked); err != nil {
		t.Fatalf("late return of a reclaimed object must not error: %v", err)
	}
	if err := c.Return(ctx, held); err != nil {
		t.Fatalf("return: %v", err)
	}
}

func TestReclaimAbandoned_SkipsReturning(t *testing.T) {
	mock := clock.NewMock()
	cfg := domain.DefaultConfig()
	cfg.Clock = mock
	ac := domain.DefaultAbandonConfig()
	ac.Timeout = time.Minute
	cfg.Abandon = &ac
	c, stats := newTestCore(cfg, &fakeFactory{})
	ctx := context.Background()

	e, _ := c.Borrow(ctx)
	mock.Add(2 * time.Minute)
	_ = c.Return(ctx, e)

	c.RunMaintenance(ctx)
	if got := stats.Snapshot().Abandoned; got != 0 {
		t.Fatalf("an entry already returned must not be swept, got %d", got)
	}
}

func TestEvictionBatchSize(t *testing.T) {
	cases := []struct {
		numTests, idle, want int
	}{
		{3, 10, 3},
		{3, 2, 2},
		{0, 10, 0},
		{-1, 10, 10},
		{-2, 10, 5},
		{-3, 10, 4}, // ceil(10/3)
		{-4, 0, 0},
	}
	for _, tc := range cases {
		if got := evictionBatchSize(tc.numTests, tc.idle); got != tc.want {
			t.Errorf("evictionBatchSize(%d, %d) = %d, want %d",
				tc.numTests, tc.idle, got, tc.want)
		}
	}
}
