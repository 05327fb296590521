package eventbus

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Trigger invokes every callback registered for name in registration order,
// then every callback on the "all" channel with name prepended to args.
// Space separated names are triggered one after another. Results are
// discarded; the first callback error stops dispatch and is returned.
func (b *Eventbus) Trigger(name string, args ...any) error {
	names := splitNames(name)
	if len(names) == 0 {
		return ErrInvalidName
	}
	ctx := context.Background()
	for _, n := range names {
		regs, all := b.snapshot(n)
		b.triggered.Add(1)
		if _, err := b.dispatch(ctx, n, regs, args); err != nil {
			return err
		}
		if _, err := b.dispatch(ctx, n, all, prepend(n, args)); err != nil {
			return err
		}
	}
	return nil
}

// TriggerSync invokes callbacks like Trigger and aggregates their results.
// Zero non-nil results yield nil, one yields the bare value and more yield
// a []any in call order. For multiple names each name is collapsed first and
// the per-name results are merged with the same rule, concatenating []any
// sub-results.
func (b *Eventbus) TriggerSync(name string, args ...any) (any, error) {
	return b.gather(context.Background(), name, args)
}

// TriggerAsync invokes every callback eagerly in registration order, then
// awaits every Awaitable result in a single aggregate wait. Awaited results
// are flattened one level, nil values dropped and the rest collapsed with
// the TriggerSync rule.
func (b *Eventbus) TriggerAsync(ctx context.Context, name string, args ...any) (any, error) {
	gathered, err := b.gather(ctx, name, args)
	if err != nil {
		return nil, err
	}
	return Await(ctx, gathered)
}

// TriggerDefer queues name to be triggered later on the bus's deferred
// worker and returns immediately. Errors are logged.
func (b *Eventbus) TriggerDefer(name string, args ...any) {
	b.deferredCount.Add(1)
	b.deferred.push(name, args)
}

func (b *Eventbus) gather(ctx context.Context, name string, args []any) (any, error) {
	names := splitNames(name)
	if len(names) == 0 {
		return nil, ErrInvalidName
	}

	var results any
	for _, n := range names {
		regs, all := b.snapshot(n)
		b.triggered.Add(1)

		named, err := b.dispatch(ctx, n, regs, args)
		if err != nil {
			return nil, err
		}
		catchAll, err := b.dispatch(ctx, n, all, prepend(n, args))
		if err != nil {
			return nil, err
		}
		results = merge(results, merge(Collapse(named), Collapse(catchAll)))
	}
	return results, nil
}

// dispatch invokes regs in order and returns the non-nil results.
func (b *Eventbus) dispatch(ctx context.Context, name string, regs []*registration, args []any) ([]any, error) {
	var results []any
	for _, r := range regs {
		ok, last := r.take()
		if !ok {
			continue
		}
		if last {
			b.release(b.removeRegistrations([]*registration{r}))
		}

		b.callbacksInvoked.Add(1)
		result, err := r.callback.call(ctx, name, args)
		if err != nil {
			b.callbackErrors.Add(1)
			var pe *PanicError
			if errors.As(err, &pe) {
				b.callbackPanics.Add(1)
				return nil, err
			}
			return nil, &CallbackError{Event: name, Err: err}
		}
		if result != nil {
			results = append(results, result)
		}
	}
	return results, nil
}

// Collapse applies the zero/one/many rule: no results yield nil, one
// result is returned bare and more are returned as a []any.
func Collapse(results []any) any {
	switch len(results) {
	case 0:
		return nil
	case 1:
		return results[0]
	default:
		return results
	}
}

// merge folds a collapsed result into an accumulated one.
func merge(acc, result any) any {
	if result == nil {
		return acc
	}
	if acc == nil {
		return result
	}

	var merged []any
	if list, ok := acc.([]any); ok {
		merged = append(merged, list...)
	} else {
		merged = append(merged, acc)
	}
	if list, ok := result.([]any); ok {
		merged = append(merged, list...)
	} else {
		merged = append(merged, result)
	}
	return merged
}

// Await resolves gathered results. A single result is awaited and returned
// as is; a []any of results is awaited in one aggregate wait, then
// flattened one level, stripped of nils and collapsed.
func Await(ctx context.Context, gathered any) (any, error) {
	list, ok := gathered.([]any)
	if !ok {
		return resolve(ctx, gathered)
	}

	resolved := make([]any, len(list))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range list {
		g.Go(func() error {
			r, err := resolve(gctx, v)
			if err != nil {
				return err
			}
			resolved[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flat []any
	for _, r := range resolved {
		if inner, ok := r.([]any); ok {
			flat = append(flat, inner...)
		} else if r != nil {
			flat = append(flat, r)
		}
	}
	return Collapse(flat), nil
}

func resolve(ctx context.Context, v any) (any, error) {
	if a, ok := v.(Awaitable); ok {
		return a.Await(ctx)
	}
	return v, nil
}

func prepend(name string, args []any) []any {
	out := make([]any, 0, len(args)+1)
	out = append(out, name)
	return append(out, args...)
}
