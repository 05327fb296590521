package eventbus

import (
	"cmp"
	"context"
	"iter"
	"regexp"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Proxy is a scoped view of an Eventbus. Registrations made through a proxy
// land on the backing bus, and the proxy tracks them so it only ever removes
// its own, even when names collide with other consumers.
//
// After Destroy every method returns ErrProxyDestroyed.
type Proxy struct {
	id string

	mu     sync.RWMutex
	bus    *Eventbus
	events map[string][]*registration
}

// NewProxy creates a proxy over bus.
func NewProxy(bus *Eventbus) *Proxy {
	return &Proxy{
		id:     uuid.NewString(),
		bus:    bus,
		events: make(map[string][]*registration),
	}
}

// ID returns the unique id of the proxy.
func (p *Proxy) ID() string {
	return p.id
}

// target returns the backing bus or ErrProxyDestroyed.
func (p *Proxy) target() (*Eventbus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.bus == nil {
		return nil, ErrProxyDestroyed
	}
	return p.bus, nil
}

// backing makes Proxy a Source.
func (p *Proxy) backing() (*Eventbus, error) {
	return p.target()
}

// IsDestroyed returns true once Destroy has been called.
func (p *Proxy) IsDestroyed() bool {
	_, err := p.target()
	return err != nil
}

// On registers cb on the backing bus. Unless another context is given,
// the proxy itself is the registration context.
func (p *Proxy) On(name string, cb *Callback, opts ...Option) error {
	return p.register(0, name, cb, opts)
}

// Once registers cb for a single invocation.
func (p *Proxy) Once(name string, cb *Callback, opts ...Option) error {
	return p.register(1, name, cb, opts)
}

// Before registers cb for count invocations.
func (p *Proxy) Before(count int, name string, cb *Callback, opts ...Option) error {
	if count < 0 {
		return ErrInvalidCount
	}
	return p.register(count, name, cb, opts)
}

// OnMap registers each callback of m under its event name.
func (p *Proxy) OnMap(m map[string]*Callback, opts ...Option) error {
	for _, name := range sortedKeys(m) {
		if err := p.On(name, m[name], opts...); err != nil {
			return err
		}
	}
	return nil
}

func (p *Proxy) register(count int, name string, cb *Callback, opts []Option) error {
	bus, err := p.target()
	if err != nil {
		return err
	}

	cfg := newRegisterConfig(opts)
	if cfg.context == nil {
		cfg.context = p
	}

	regs, err := bus.register(name, cb, cfg, count, nil, p.forget)
	if err != nil {
		return err
	}

	p.mu.Lock()
	for _, r := range regs {
		p.events[r.name] = append(p.events[r.name], r)
	}
	p.mu.Unlock()
	return nil
}

// forget drops a registration from the shadow map once it leaves the bus.
func (p *Proxy) forget(r *registration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	regs := p.events[r.name]
	i := slices.Index(regs, r)
	if i < 0 {
		return
	}
	regs = slices.Delete(slices.Clone(regs), i, i+1)
	if len(regs) == 0 {
		delete(p.events, r.name)
	} else {
		p.events[r.name] = regs
	}
}

// Off removes this proxy's registrations matching every supplied argument.
// Registrations made by other consumers are never touched.
func (p *Proxy) Off(name string, cb *Callback, context any) error {
	bus, err := p.target()
	if err != nil {
		return err
	}
	p.off(bus, splitNames(name), cb, context)
	return nil
}

func (p *Proxy) off(bus *Eventbus, names []string, cb *Callback, context any) {
	p.mu.RLock()
	if len(names) == 0 {
		names = sortedKeys(p.events)
	}
	var targets []*registration
	for _, n := range names {
		for _, r := range p.events[n] {
			if r.matches(cb, context) {
				targets = append(targets, r)
			}
		}
	}
	p.mu.RUnlock()

	bus.release(bus.removeRegistrations(targets))
}

// CreateProxy creates a sibling proxy over the same backing bus.
func (p *Proxy) CreateProxy() (*Proxy, error) {
	bus, err := p.target()
	if err != nil {
		return nil, err
	}
	return NewProxy(bus), nil
}

// Destroy removes every registration made through the proxy and detaches
// it from the backing bus permanently.
func (p *Proxy) Destroy() error {
	p.mu.Lock()
	bus := p.bus
	if bus == nil {
		p.mu.Unlock()
		return ErrProxyDestroyed
	}
	p.bus = nil
	var owned []*registration
	for _, regs := range p.events {
		owned = append(owned, regs...)
	}
	p.events = make(map[string][]*registration)
	p.mu.Unlock()

	bus.release(bus.removeRegistrations(owned))
	return nil
}

// Trigger triggers name on the backing bus.
func (p *Proxy) Trigger(name string, args ...any) error {
	bus, err := p.target()
	if err != nil {
		return err
	}
	return bus.Trigger(name, args...)
}

// TriggerSync triggers name on the backing bus and aggregates results.
func (p *Proxy) TriggerSync(name string, args ...any) (any, error) {
	bus, err := p.target()
	if err != nil {
		return nil, err
	}
	return bus.TriggerSync(name, args...)
}

// TriggerAsync triggers name on the backing bus and awaits results.
func (p *Proxy) TriggerAsync(ctx context.Context, name string, args ...any) (any, error) {
	bus, err := p.target()
	if err != nil {
		return nil, err
	}
	return bus.TriggerAsync(ctx, name, args...)
}

// TriggerDefer queues name on the backing bus.
func (p *Proxy) TriggerDefer(name string, args ...any) error {
	bus, err := p.target()
	if err != nil {
		return err
	}
	bus.TriggerDefer(name, args...)
	return nil
}

// Name returns the backing bus name.
func (p *Proxy) Name() (string, error) {
	bus, err := p.target()
	if err != nil {
		return "", err
	}
	return bus.Name(), nil
}

// GetOptions returns the aggregated options on the backing bus.
func (p *Proxy) GetOptions(name string) (EventOptions, error) {
	bus, err := p.target()
	if err != nil {
		return EventOptions{}, err
	}
	return bus.GetOptions(name), nil
}

// GetType returns the aggregated type on the backing bus.
func (p *Proxy) GetType(name string) (CallbackType, error) {
	bus, err := p.target()
	if err != nil {
		return TypeNone, err
	}
	return bus.GetType(name), nil
}

// IsGuarded reports whether name is guarded on the backing bus.
func (p *Proxy) IsGuarded(name string) (bool, error) {
	bus, err := p.target()
	if err != nil {
		return false, err
	}
	return bus.IsGuarded(name), nil
}

// EventCount returns the number of event names on the backing bus.
func (p *Proxy) EventCount() (int, error) {
	bus, err := p.target()
	if err != nil {
		return 0, err
	}
	return bus.EventCount(), nil
}

// CallbackCount returns the number of registrations on the backing bus.
func (p *Proxy) CallbackCount() (int, error) {
	bus, err := p.target()
	if err != nil {
		return 0, err
	}
	return bus.CallbackCount(), nil
}

// Entries delegates to the backing bus.
func (p *Proxy) Entries(filter *regexp.Regexp) (iter.Seq2[string, []Entry], error) {
	bus, err := p.target()
	if err != nil {
		return nil, err
	}
	return bus.Entries(filter), nil
}

// Keys delegates to the backing bus.
func (p *Proxy) Keys(filter *regexp.Regexp) (iter.Seq[string], error) {
	bus, err := p.target()
	if err != nil {
		return nil, err
	}
	return bus.Keys(filter), nil
}

// KeysWithOptions delegates to the backing bus.
func (p *Proxy) KeysWithOptions(filter *regexp.Regexp) (iter.Seq2[string, EventOptions], error) {
	bus, err := p.target()
	if err != nil {
		return nil, err
	}
	return bus.KeysWithOptions(filter), nil
}

// ProxyEntries returns only the registrations made through this proxy.
func (p *Proxy) ProxyEntries(filter *regexp.Regexp) (iter.Seq2[string, []Entry], error) {
	if _, err := p.target(); err != nil {
		return nil, err
	}
	return func(yield func(string, []Entry) bool) {
		for _, e := range p.collect(filter) {
			if !yield(e.name, entriesOf(e.regs)) {
				return
			}
		}
	}, nil
}

// ProxyKeys returns the event names this proxy registered.
func (p *Proxy) ProxyKeys(filter *regexp.Regexp) (iter.Seq[string], error) {
	if _, err := p.target(); err != nil {
		return nil, err
	}
	return func(yield func(string) bool) {
		for _, e := range p.collect(filter) {
			if !yield(e.name) {
				return
			}
		}
	}, nil
}

// ProxyKeysWithOptions returns this proxy's event names with their options.
func (p *Proxy) ProxyKeysWithOptions(filter *regexp.Regexp) (iter.Seq2[string, EventOptions], error) {
	if _, err := p.target(); err != nil {
		return nil, err
	}
	return func(yield func(string, EventOptions) bool) {
		for _, e := range p.collect(filter) {
			if !yield(e.name, optionsOf(e.regs)) {
				return
			}
		}
	}, nil
}

// ProxyEventCount returns the number of event names this proxy registered.
func (p *Proxy) ProxyEventCount() (int, error) {
	if _, err := p.target(); err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.events), nil
}

// ProxyCallbackCount returns the number of registrations this proxy made.
func (p *Proxy) ProxyCallbackCount() (int, error) {
	if _, err := p.target(); err != nil {
		return 0, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, regs := range p.events {
		count += len(regs)
	}
	return count, nil
}

// Snapshot returns this proxy's registrations in registration order.
// Replaying them with Replay restores the same set of callbacks, contexts and
// options, which is how a disabled plugin's handlers are held and restored.
func (p *Proxy) Snapshot() ([]Registered, error) {
	if _, err := p.target(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	var regs []*registration
	for _, list := range p.events {
		regs = append(regs, list...)
	}
	p.mu.RUnlock()

	slices.SortFunc(regs, func(a, b *registration) int {
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]Registered, len(regs))
	for i, r := range regs {
		out[i] = Registered{Name: r.name, Entry: r.entry()}
		// The proxy's own context is re-applied by whichever proxy replays.
		if r.context == p {
			out[i].Context = nil
		}
	}
	return out, nil
}

// Replay registers each snapshot entry through the proxy in order.
func (p *Proxy) Replay(entries []Registered) error {
	for _, e := range entries {
		opts := []Option{WithContext(e.Context), WithType(e.Options.Type)}
		if e.Options.Guard {
			opts = append(opts, WithGuard())
		}
		if err := p.Before(e.Remaining, e.Name, e.Callback, opts...); err != nil {
			return err
		}
	}
	return nil
}

// Registered is an Entry with its event name.
type Registered struct {
	Name string
	Entry
}

func (p *Proxy) collect(filter *regexp.Regexp) []namedRegistrations {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return collectEvents(p.events, filter)
}
