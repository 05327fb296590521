package eventbus

import (
	"iter"
	"regexp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// allEvent is the channel that receives every triggered event.
const allEvent = "all"

// Eventbus maps event names to ordered callback registrations.
// It is safe for concurrent use; callbacks run outside the lock and may
// re-enter the bus.
type Eventbus struct {
	id     string
	name   string
	logger *zap.Logger

	mu     sync.RWMutex
	events map[string][]*registration

	// listeningTo tracks targets this bus listens to, keyed by target.
	listeningTo map[any]*listening
	// listeners tracks buses listening to this bus, keyed by listener id.
	listeners map[string]*listening

	deferred *deferQueue

	// Stats
	triggered        atomic.Uint64
	callbacksInvoked atomic.Uint64
	callbackErrors   atomic.Uint64
	callbackPanics   atomic.Uint64
	guardRejections  atomic.Uint64
	deferredCount    atomic.Uint64
}

// New creates a new eventbus with the given options.
func New(opts ...BusOption) *Eventbus {
	config := busConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&config)
	}

	b := &Eventbus{
		id:          uuid.NewString(),
		name:        config.name,
		logger:      config.logger.Named("eventbus"),
		events:      make(map[string][]*registration),
		listeningTo: make(map[any]*listening),
		listeners:   make(map[string]*listening),
	}
	if b.name != "" {
		b.logger = b.logger.With(zap.String("bus", b.name))
	}
	b.deferred = newDeferQueue(b)
	return b
}

// ID returns the unique id of the bus.
func (b *Eventbus) ID() string {
	return b.id
}

// Name returns the bus name.
func (b *Eventbus) Name() string {
	return b.name
}

// On registers a callback for one or more space separated event names.
func (b *Eventbus) On(name string, cb *Callback, opts ...Option) error {
	_, err := b.register(name, cb, newRegisterConfig(opts), 0, nil, nil)
	return err
}

// Once registers a callback that is removed after its first invocation.
func (b *Eventbus) Once(name string, cb *Callback, opts ...Option) error {
	return b.Before(1, name, cb, opts...)
}

// Before registers a callback that is removed after count invocations.
// A count of zero registers a callback that never expires.
func (b *Eventbus) Before(count int, name string, cb *Callback, opts ...Option) error {
	if count < 0 {
		return ErrInvalidCount
	}
	_, err := b.register(name, cb, newRegisterConfig(opts), count, nil, nil)
	return err
}

// OnMap registers each callback of m under its event name.
// Names are registered in sorted order.
func (b *Eventbus) OnMap(m map[string]*Callback, opts ...Option) error {
	for _, name := range sortedKeys(m) {
		if err := b.On(name, m[name], opts...); err != nil {
			return err
		}
	}
	return nil
}

// register adds registrations for each name.
// If any name is guarded nothing is registered and a warning is logged.
func (b *Eventbus) register(name string, cb *Callback, cfg registerConfig, count int, l *listening, onRemove func(*registration)) ([]*registration, error) {
	names := splitNames(name)
	if len(names) == 0 {
		return nil, ErrInvalidName
	}
	if cb == nil {
		return nil, ErrNilCallback
	}

	b.mu.Lock()
	for _, n := range names {
		if optionsOf(b.events[n]).Guard {
			b.mu.Unlock()
			b.guardRejections.Add(1)
			b.logger.Warn("registration rejected, event is guarded", zap.String("event", n))
			return nil, nil
		}
	}

	regs := make([]*registration, 0, len(names))
	for _, n := range names {
		r := newRegistration(n, cb, cfg, count)
		r.listening = l
		r.onRemove = onRemove
		b.events[n] = append(b.events[n], r)
		regs = append(regs, r)
	}
	b.mu.Unlock()

	return regs, nil
}

// Off removes registrations matching every supplied argument.
// An empty name, nil callback or nil context matches anything, so
// Off("", nil, nil) removes every registration.
func (b *Eventbus) Off(name string, cb *Callback, context any) {
	b.release(b.removeMatching(splitNames(name), cb, context))
}

func (b *Eventbus) removeMatching(names []string, cb *Callback, context any) []*registration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(names) == 0 {
		names = make([]string, 0, len(b.events))
		for n := range b.events {
			names = append(names, n)
		}
	}

	var removed []*registration
	for _, n := range names {
		regs, ok := b.events[n]
		if !ok {
			continue
		}
		kept := make([]*registration, 0, len(regs))
		for _, r := range regs {
			if r.matches(cb, context) {
				removed = append(removed, r)
			} else {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(b.events, n)
		} else {
			b.events[n] = kept
		}
	}
	return removed
}

// removeRegistrations removes exactly the given registrations and returns
// those that were still present.
func (b *Eventbus) removeRegistrations(targets []*registration) []*registration {
	if len(targets) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var removed []*registration
	for _, t := range targets {
		regs := b.events[t.name]
		i := slices.Index(regs, t)
		if i < 0 {
			continue
		}
		regs = slices.Delete(slices.Clone(regs), i, i+1)
		if len(regs) == 0 {
			delete(b.events, t.name)
		} else {
			b.events[t.name] = regs
		}
		removed = append(removed, t)
	}
	return removed
}

// release runs removal hooks outside the bus lock.
func (b *Eventbus) release(removed []*registration) {
	for _, r := range removed {
		if r.listening != nil {
			r.listening.release()
		}
		if r.onRemove != nil {
			r.onRemove(r)
		}
	}
}

// snapshot returns the registrations for name and for the all channel.
func (b *Eventbus) snapshot(name string) (regs, all []*registration) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	regs = slices.Clone(b.events[name])
	if name != allEvent {
		all = slices.Clone(b.events[allEvent])
	}
	return regs, all
}

// GetOptions returns the aggregated options for one or more space separated names.
func (b *Eventbus) GetOptions(name string) EventOptions {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var opts EventOptions
	for _, n := range splitNames(name) {
		o := optionsOf(b.events[n])
		opts.Guard = opts.Guard || o.Guard
		opts.Type |= o.Type
	}
	return opts
}

// GetType returns the aggregated callback type for the given names.
func (b *Eventbus) GetType(name string) CallbackType {
	return b.GetOptions(name).Type
}

// IsGuarded returns true if any of the given names is guarded.
func (b *Eventbus) IsGuarded(name string) bool {
	return b.GetOptions(name).Guard
}

// EventCount returns the number of event names with registrations.
func (b *Eventbus) EventCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.events)
}

// CallbackCount returns the total number of registrations.
func (b *Eventbus) CallbackCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, regs := range b.events {
		count += len(regs)
	}
	return count
}

// Entries returns a sequence of event names and their registrations,
// optionally filtered by a regular expression over the name.
// Each iteration takes a fresh snapshot, so the sequence can be ranged
// over any number of times.
func (b *Eventbus) Entries(filter *regexp.Regexp) iter.Seq2[string, []Entry] {
	return func(yield func(string, []Entry) bool) {
		for _, e := range b.collect(filter) {
			if !yield(e.name, entriesOf(e.regs)) {
				return
			}
		}
	}
}

// Keys returns a sequence of event names, optionally filtered.
func (b *Eventbus) Keys(filter *regexp.Regexp) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, e := range b.collect(filter) {
			if !yield(e.name) {
				return
			}
		}
	}
}

// KeysWithOptions returns a sequence of event names and their aggregated options.
func (b *Eventbus) KeysWithOptions(filter *regexp.Regexp) iter.Seq2[string, EventOptions] {
	return func(yield func(string, EventOptions) bool) {
		for _, e := range b.collect(filter) {
			if !yield(e.name, optionsOf(e.regs)) {
				return
			}
		}
	}
}

type namedRegistrations struct {
	name string
	regs []*registration
}

func (b *Eventbus) collect(filter *regexp.Regexp) []namedRegistrations {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return collectEvents(b.events, filter)
}

// collectEvents copies events sorted by name. Callers hold the owning lock.
func collectEvents(events map[string][]*registration, filter *regexp.Regexp) []namedRegistrations {
	out := make([]namedRegistrations, 0, len(events))
	for _, name := range sortedKeys(events) {
		if filter != nil && !filter.MatchString(name) {
			continue
		}
		out = append(out, namedRegistrations{name: name, regs: slices.Clone(events[name])})
	}
	return out
}

// Stats contains eventbus statistics.
type Stats struct {
	Events           int
	Callbacks        int
	Triggered        uint64
	CallbacksInvoked uint64
	CallbackErrors   uint64
	CallbackPanics   uint64
	GuardRejections  uint64
	Deferred         uint64
	DeferredPending  int
}

// Stats returns current statistics.
func (b *Eventbus) Stats() Stats {
	return Stats{
		Events:           b.EventCount(),
		Callbacks:        b.CallbackCount(),
		Triggered:        b.triggered.Load(),
		CallbacksInvoked: b.callbacksInvoked.Load(),
		CallbackErrors:   b.callbackErrors.Load(),
		CallbackPanics:   b.callbackPanics.Load(),
		GuardRejections:  b.guardRejections.Load(),
		Deferred:         b.deferredCount.Load(),
		DeferredPending:  b.deferred.pending(),
	}
}

// Close stops deferred dispatch after running what is already queued.
// Registrations are left in place.
func (b *Eventbus) Close() {
	b.deferred.close()
}

// backing makes Eventbus a Source.
func (b *Eventbus) backing() (*Eventbus, error) {
	return b, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
