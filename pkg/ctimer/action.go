package ctimer

import "context"

// Action is invoked once per cycle. The context is the one given to Start.
type Action func(ctx context.Context) error

// Func adapts a plain function that cannot fail.
func Func(fn func()) Action {
	return func(context.Context) error {
		fn()
		return nil
	}
}

// FuncErr adapts a function that ignores the context.
func FuncErr(fn func() error) Action {
	return func(context.Context) error { return fn() }
}

// Bind fixes the argument of fn at construction time.
func Bind[A any](fn func(ctx context.Context, a A) error, a A) Action {
	return func(ctx context.Context) error { return fn(ctx, a) }
}

// Bind2 is Bind for two arguments.
func Bind2[A, B any](fn func(ctx context.Context, a A, b B) error, a A, b B) Action {
	return func(ctx context.Context) error { return fn(ctx, a, b) }
}
