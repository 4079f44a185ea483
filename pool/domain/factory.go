package domain

import "context"

// Factory is implemented by the resource owner. The pool calls these hooks
// synchronously and tolerates arbitrary errors from them; a misbehaving
// factory can never kill the maintenance goroutine.
type Factory[T any] interface {
	// Make creates a new instance. Called when the pool needs to grow.
	Make(ctx context.Context) (T, error)
	// Destroy disposes of an instance that left the pool for good.
	Destroy(ctx context.Context, obj T) error
	// Validate reports whether the instance is still safe to hand out.
	Validate(ctx context.Context, obj T) bool
	// Activate reinitializes an instance about to be borrowed.
	Activate(ctx context.Context, obj T) error
	// Passivate uninitializes an instance about to go back to the idle queue.
	Passivate(ctx context.Context, obj T) error
}

// FactoryFuncs adapts plain functions to Factory. Nil fields get permissive
// defaults: Validate reports true, the other hooks do nothing.
type FactoryFuncs[T any] struct {
	MakeFunc      func(ctx context.Context) (T, error)
	DestroyFunc   func(ctx context.Context, obj T) error
	ValidateFunc  func(ctx context.Context, obj T) bool
	ActivateFunc  func(ctx context.Context, obj T) error
	PassivateFunc func(ctx context.Context, obj T) error
}

func (f FactoryFuncs[T]) Make(ctx context.Context) (T, error) {
	if f.MakeFunc == nil {
		var zero T
		return zero, nil
	}
	return f.MakeFunc(ctx)
}

func (f FactoryFuncs[T]) Destroy(ctx context.Context, obj T) error {
	if f.DestroyFunc == nil {
		return nil
	}
	return f.DestroyFunc(ctx, obj)
}

func (f FactoryFuncs[T]) Validate(ctx context.Context, obj T) bool {
	if f.ValidateFunc == nil {
		return true
	}
	return f.ValidateFunc(ctx, obj)
}

func (f FactoryFuncs[T]) Activate(ctx context.Context, obj T) error {
	if f.ActivateFunc == nil {
		return nil
	}
	return f.ActivateFunc(ctx, obj)
}

func (f FactoryFuncs[T]) Passivate(ctx context.Context, obj T) error {
	if f.PassivateFunc == nil {
		return nil
	}
	return f.PassivateFunc(ctx, obj)
}
