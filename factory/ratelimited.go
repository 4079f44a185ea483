package factory

import (
	"context"

	"golang.org/x/time/rate"

	"resource-pool/pool/domain"
)

// RateLimited wraps a factory and throttles Make through a token bucket, so
// the borrow loop and the evictor's min-idle top-up can't hammer a backend
// with creation storms. The other hooks delegate untouched.
type RateLimited[T any] struct {
	inner domain.Factory[T]
	lim   *rate.Limiter
}

// NewRateLimited allows at most createsPerSecond Make calls with the given
// burst. Make blocks for a token or fails with the context's error.
func NewRateLimited[T any](inner domain.Factory[T], createsPerSecond float64, burst int) *RateLimited[T] {
	return &RateLimited[T]{
		inner: inner,
		lim:   rate.NewLimiter(rate.Limit(createsPerSecond), burst),
	}
}

func (f *RateLimited[T]) Make(ctx context.Context) (T, error) {
	if err := f.lim.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return f.inner.Make(ctx)
}

func (f *RateLimited[T]) Destroy(ctx context.Context, obj T) error {
	return f.inner.Destroy(ctx, obj)
}

func (f *RateLimited[T]) Validate(ctx context.Context, obj T) bool {
	return f.inner.Validate(ctx, obj)
}

func (f *RateLimited[T]) Activate(ctx context.Context, obj T) error {
	return f.inner.Activate(ctx, obj)
}

func (f *RateLimited[T]) Passivate(ctx context.Context, obj T) error {
	return f.inner.Passivate(ctx, obj)
}
