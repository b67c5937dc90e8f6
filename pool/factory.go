package pool

import "context"

// Factory creates and destroys pooled resources.
//
// Create and Destroy are called without any pool lock held and may block.
type Factory[T any] interface {
	Create(ctx context.Context) (T, error)
	Destroy(resource T) error
}

// Validator is implemented by factories that can check a resource before it
// is lent out (TestOnBorrow) or taken back (TestOnReturn).
type Validator[T any] interface {
	Validate(ctx context.Context, resource T) bool
}

// Funcs adapts plain functions to Factory and Validator.
// DestroyFn and ValidateFn are optional.
type Funcs[T any] struct {
	CreateFn   func(ctx context.Context) (T, error)
	DestroyFn  func(resource T) error
	ValidateFn func(ctx context.Context, resource T) bool
}

func (f Funcs[T]) Create(ctx context.Context) (T, error) {
	return f.CreateFn(ctx)
}

func (f Funcs[T]) Destroy(resource T) error {
	if f.DestroyFn == nil {
		return nil
	}
	return f.DestroyFn(resource)
}

func (f Funcs[T]) Validate(ctx context.Context, resource T) bool {
	if f.ValidateFn == nil {
		return true
	}
	return f.ValidateFn(ctx, resource)
}
