package eventbus

import (
	"context"
	"iter"
	"regexp"
	"sync"
)

// Source is a bus a Secure handle can wrap: an *Eventbus or a *Proxy.
type Source interface {
	backing() (*Eventbus, error)
}

// Secure is a trigger-only handle. Holders can trigger events and inspect
// names but can't register or remove callbacks. The owner can swap the
// backing bus or destroy the handle through the functions returned by
// InitializeSecure.
type Secure struct {
	mu        sync.RWMutex
	src       Source
	name      string
	pinned    bool
	destroyed bool
}

// InitializeSecure wraps src in a Secure handle.
// It returns the handle, a destroy function and a function that swaps the
// backing bus while the handle keeps its identity. When name is empty the
// handle takes the name of whichever bus backs it.
func InitializeSecure(src Source, name string) (*Secure, func(), func(Source, string) error, error) {
	if src == nil {
		return nil, nil, nil, ErrNilSource
	}
	bus, err := src.backing()
	if err != nil {
		return nil, nil, nil, err
	}

	s := &Secure{src: src, name: name, pinned: name != ""}
	if !s.pinned {
		s.name = bus.Name()
	}
	return s, s.destroy, s.setEventbus, nil
}

func (s *Secure) destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.src = nil
	s.destroyed = true
}

func (s *Secure) setEventbus(src Source, name string) error {
	if src == nil {
		return ErrNilSource
	}
	bus, err := src.backing()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSecureDestroyed
	}
	s.src = src
	switch {
	case name != "":
		s.name = name
		s.pinned = true
	case !s.pinned:
		s.name = bus.Name()
	}
	return nil
}

func (s *Secure) bus() (*Eventbus, error) {
	s.mu.RLock()
	src := s.src
	s.mu.RUnlock()

	if src == nil {
		return nil, ErrSecureDestroyed
	}
	return src.backing()
}

// IsDestroyed returns true once the handle has been destroyed.
func (s *Secure) IsDestroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}

// Name returns the handle name.
func (s *Secure) Name() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return "", ErrSecureDestroyed
	}
	return s.name, nil
}

// Trigger triggers name on the backing bus.
func (s *Secure) Trigger(name string, args ...any) error {
	bus, err := s.bus()
	if err != nil {
		return err
	}
	return bus.Trigger(name, args...)
}

// TriggerSync triggers name and aggregates results.
func (s *Secure) TriggerSync(name string, args ...any) (any, error) {
	bus, err := s.bus()
	if err != nil {
		return nil, err
	}
	return bus.TriggerSync(name, args...)
}

// TriggerAsync triggers name and awaits results.
func (s *Secure) TriggerAsync(ctx context.Context, name string, args ...any) (any, error) {
	bus, err := s.bus()
	if err != nil {
		return nil, err
	}
	return bus.TriggerAsync(ctx, name, args...)
}

// TriggerDefer queues name on the backing bus.
func (s *Secure) TriggerDefer(name string, args ...any) error {
	bus, err := s.bus()
	if err != nil {
		return err
	}
	bus.TriggerDefer(name, args...)
	return nil
}

// GetOptions returns the aggregated options for name.
func (s *Secure) GetOptions(name string) (EventOptions, error) {
	bus, err := s.bus()
	if err != nil {
		return EventOptions{}, err
	}
	return bus.GetOptions(name), nil
}

// GetType returns the aggregated callback type for name.
func (s *Secure) GetType(name string) (CallbackType, error) {
	bus, err := s.bus()
	if err != nil {
		return TypeNone, err
	}
	return bus.GetType(name), nil
}

// Keys returns the event names on the backing bus.
func (s *Secure) Keys(filter *regexp.Regexp) (iter.Seq[string], error) {
	bus, err := s.bus()
	if err != nil {
		return nil, err
	}
	return bus.Keys(filter), nil
}
