package eventbus

import (
	"context"
	"runtime/debug"
)

// Callback is a registered event handler.
// Callbacks are compared by pointer identity, so keep the *Callback returned
// by the constructor to unregister it later.
type Callback struct {
	fn    func(ctx context.Context, args []any) (any, error)
	async bool
}

// NewCallback creates a callback from a function returning a single value.
// A nil return value is treated as "no result".
func NewCallback(fn func(args ...any) any) *Callback {
	if fn == nil {
		return nil
	}
	return &Callback{
		fn: func(_ context.Context, args []any) (any, error) {
			return fn(args...), nil
		},
	}
}

// NewCallbackErr creates a callback that may fail.
func NewCallbackErr(fn func(args ...any) (any, error)) *Callback {
	if fn == nil {
		return nil
	}
	return &Callback{
		fn: func(_ context.Context, args []any) (any, error) {
			return fn(args...)
		},
	}
}

// NewAsyncCallback creates an asynchronous callback.
// Each invocation runs fn in its own goroutine and yields a *Future.
// Registrations made with an async callback are typed TypeAsync.
func NewAsyncCallback(fn func(ctx context.Context, args ...any) (any, error)) *Callback {
	if fn == nil {
		return nil
	}
	return &Callback{
		fn: func(ctx context.Context, args []any) (any, error) {
			return fn(ctx, args...)
		},
		async: true,
	}
}

// IsAsync reports whether the callback was created with NewAsyncCallback.
func (c *Callback) IsAsync() bool {
	return c.async
}

// call invokes the callback, recovering panics into a PanicError.
func (c *Callback) call(ctx context.Context, event string, args []any) (result any, err error) {
	if c.async {
		return Go(func() (any, error) {
			return c.invoke(ctx, event, args)
		}), nil
	}
	return c.invoke(ctx, event, args)
}

func (c *Callback) invoke(ctx context.Context, event string, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &PanicError{
				Event: event,
				Value: r,
				Stack: string(debug.Stack()),
			}
		}
	}()
	return c.fn(ctx, args)
}

// Awaitable is a result that resolves later.
// TriggerAsync awaits every callback result implementing it.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Future is the result of an asynchronous callback.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

// Go runs fn in a new goroutine and returns a Future for its result.
// Panics inside fn resolve the future with a PanicError.
func Go(fn func() (any, error)) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.value = nil
				f.err = &PanicError{Value: r, Stack: string(debug.Stack())}
			}
		}()
		f.value, f.err = fn()
	}()
	return f
}

// Resolved returns a Future that is already complete.
func Resolved(value any, err error) *Future {
	f := &Future{done: make(chan struct{}), value: value, err: err}
	close(f.done)
	return f
}

// Await blocks until the future completes or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}
