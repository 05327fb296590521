package eventbus

import "sync/atomic"

// registrationSeq orders registrations across event names.
var registrationSeq atomic.Uint64

// registration is a single callback bound to a single event name.
type registration struct {
	seq       uint64
	name      string
	callback  *Callback
	context   any
	options   EventOptions
	listening *listening

	// limited registrations expire after remaining reaches zero.
	limited   bool
	remaining atomic.Int64

	// onRemove is called once the registration leaves the bus.
	onRemove func(*registration)
}

func newRegistration(name string, cb *Callback, cfg registerConfig, count int) *registration {
	typ := cfg.typ
	if cb.async {
		typ = TypeAsync
	}
	r := &registration{
		seq:      registrationSeq.Add(1),
		name:     name,
		callback: cb,
		context:  cfg.context,
		options:  EventOptions{Guard: cfg.guard, Type: typ},
	}
	if count > 0 {
		r.limited = true
		r.remaining.Store(int64(count))
	}
	return r
}

// take consumes one invocation.
// ok is false when the registration was already exhausted; last is true when
// this invocation was the final one.
func (r *registration) take() (ok, last bool) {
	if !r.limited {
		return true, false
	}
	for {
		n := r.remaining.Load()
		if n <= 0 {
			return false, false
		}
		if r.remaining.CompareAndSwap(n, n-1) {
			return true, n == 1
		}
	}
}

// matches reports whether r matches the non-zero arguments.
// Context values are compared with ==, so they must be comparable.
func (r *registration) matches(cb *Callback, context any) bool {
	if cb != nil && r.callback != cb {
		return false
	}
	if context != nil && r.context != context {
		return false
	}
	return true
}

func (r *registration) entry() Entry {
	e := Entry{
		Callback: r.callback,
		Context:  r.context,
		Options:  r.options,
	}
	if r.limited {
		e.Remaining = int(r.remaining.Load())
	}
	return e
}

// Entry describes a registration for introspection.
type Entry struct {
	Callback *Callback
	Context  any
	Options  EventOptions

	// Remaining is the number of invocations left for Once/Before
	// registrations, or zero when unlimited.
	Remaining int
}

func entriesOf(regs []*registration) []Entry {
	out := make([]Entry, len(regs))
	for i, r := range regs {
		out[i] = r.entry()
	}
	return out
}

func optionsOf(regs []*registration) EventOptions {
	var opts EventOptions
	for _, r := range regs {
		opts.Guard = opts.Guard || r.options.Guard
		opts.Type |= r.options.Type
	}
	return opts
}
