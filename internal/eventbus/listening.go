package eventbus

import (
	"slices"
	"sync"

	"go.uber.org/multierr"
)

// Listenable is a foreign target a bus can listen to.
// Proxy satisfies it; an *Eventbus target takes a cheaper path.
type Listenable interface {
	On(name string, cb *Callback, opts ...Option) error
	Before(count int, name string, cb *Callback, opts ...Option) error
	Off(name string, cb *Callback, context any) error
}

// mirrored is a registration made on a Listenable target.
type mirrored struct {
	name     string
	callback *Callback
}

// listening tracks one listener's subscriptions to one target.
// For *Eventbus targets it counts live registrations; for other targets it
// mirrors them. Once empty, both back-references are removed.
type listening struct {
	listener *Eventbus
	target   any

	mu      sync.Mutex
	count   int
	interop bool
	mirror  []mirrored
	cleaned bool
}

// release drops one registration from the count.
func (l *listening) release() {
	l.mu.Lock()
	l.count--
	empty := l.count <= 0 && len(l.mirror) == 0
	l.mu.Unlock()

	if empty {
		l.cleanup()
	}
}

// unmirror forgets mirrored registrations matching names and cb and reports
// whether the listening is now empty.
func (l *listening) unmirror(names []string, cb *Callback) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.mirror = slices.DeleteFunc(l.mirror, func(m mirrored) bool {
		if cb != nil && m.callback != cb {
			return false
		}
		return len(names) == 0 || slices.Contains(names, m.name)
	})
	return len(l.mirror) == 0 && l.count <= 0
}

func (l *listening) cleanup() {
	l.mu.Lock()
	if l.cleaned {
		l.mu.Unlock()
		return
	}
	l.cleaned = true
	l.mu.Unlock()

	l.listener.mu.Lock()
	if l.listener.listeningTo[l.target] == l {
		delete(l.listener.listeningTo, l.target)
	}
	l.listener.mu.Unlock()

	if t, ok := l.target.(*Eventbus); ok {
		t.mu.Lock()
		if t.listeners[l.listener.id] == l {
			delete(t.listeners, l.listener.id)
		}
		t.mu.Unlock()
	}
}

// ListenTo registers cb on obj with this bus as context, tracking the
// subscription so StopListening can remove it later.
// obj must be an *Eventbus or a Listenable.
func (b *Eventbus) ListenTo(obj any, name string, cb *Callback) error {
	return b.listenTo(obj, 0, name, cb)
}

// ListenToOnce is ListenTo for a single invocation.
func (b *Eventbus) ListenToOnce(obj any, name string, cb *Callback) error {
	return b.listenTo(obj, 1, name, cb)
}

// ListenToBefore is ListenTo for count invocations.
func (b *Eventbus) ListenToBefore(obj any, count int, name string, cb *Callback) error {
	if count < 0 {
		return ErrInvalidCount
	}
	return b.listenTo(obj, count, name, cb)
}

func (b *Eventbus) listenTo(obj any, count int, name string, cb *Callback) error {
	names := splitNames(name)
	if len(names) == 0 {
		return ErrInvalidName
	}
	if cb == nil {
		return ErrNilCallback
	}

	switch target := obj.(type) {
	case *Eventbus:
		if target == nil {
			return ErrNotListenable
		}
		l := b.listeningFor(target)
		// Count first so an immediate expiry can't clean up early.
		l.mu.Lock()
		l.count += len(names)
		l.mu.Unlock()

		regs, err := target.register(name, cb, registerConfig{context: b}, count, l, nil)
		if missing := len(names) - len(regs); missing > 0 {
			l.mu.Lock()
			l.count -= missing
			empty := l.count <= 0 && len(l.mirror) == 0
			l.mu.Unlock()
			if empty {
				l.cleanup()
			}
		}
		if err != nil {
			return err
		}
		if len(regs) > 0 {
			target.mu.Lock()
			target.listeners[b.id] = l
			target.mu.Unlock()
		}
		return nil

	case Listenable:
		var err error
		if count > 0 {
			err = target.Before(count, name, cb, WithContext(b))
		} else {
			err = target.On(name, cb, WithContext(b))
		}
		if err != nil {
			return err
		}

		l := b.listeningFor(target)
		l.mu.Lock()
		l.interop = true
		for _, n := range names {
			l.mirror = append(l.mirror, mirrored{name: n, callback: cb})
		}
		l.mu.Unlock()
		return nil

	default:
		return ErrNotListenable
	}
}

// listeningFor returns the live listening for target, creating it if needed.
func (b *Eventbus) listeningFor(target any) *listening {
	b.mu.Lock()
	defer b.mu.Unlock()

	if l, ok := b.listeningTo[target]; ok {
		l.mu.Lock()
		cleaned := l.cleaned
		l.mu.Unlock()
		if !cleaned {
			return l
		}
	}
	l := &listening{listener: b, target: target}
	b.listeningTo[target] = l
	return l
}

// StopListening removes callbacks this bus registered through ListenTo.
// A nil obj stops listening to every target; empty name and nil cb match
// anything.
func (b *Eventbus) StopListening(obj any, name string, cb *Callback) error {
	b.mu.RLock()
	var targets []*listening
	if obj != nil {
		if l, ok := b.listeningTo[obj]; ok {
			targets = append(targets, l)
		}
	} else {
		for _, l := range b.listeningTo {
			targets = append(targets, l)
		}
	}
	b.mu.RUnlock()

	names := splitNames(name)
	var errs error
	for _, l := range targets {
		switch target := l.target.(type) {
		case *Eventbus:
			target.Off(name, cb, b)
		case Listenable:
			errs = multierr.Append(errs, target.Off(name, cb, b))
			if l.unmirror(names, cb) {
				l.cleanup()
			}
		}
	}
	return errs
}

// ListeningCount returns the number of targets this bus listens to.
func (b *Eventbus) ListeningCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeningTo)
}

// ListenerCount returns the number of buses listening to this bus.
func (b *Eventbus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
