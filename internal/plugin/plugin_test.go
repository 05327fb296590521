package plugin

import (
	"context"
	"errors"
	"sync"

	"github.com/dshills/plugbus/internal/eventbus"
)

// fakePlugin records its lifecycle and runs optional hooks.
type fakePlugin struct {
	mu      sync.Mutex
	loads   int
	unloads int
	states  []any

	onLoad   func(ev *LifecycleEvent) error
	onUnload func(ev *LifecycleEvent) error
	methods  map[string]Method
}

func (p *fakePlugin) OnPluginLoad(_ context.Context, ev *LifecycleEvent) error {
	p.mu.Lock()
	p.loads++
	p.states = append(p.states, ev.State)
	p.mu.Unlock()

	if p.onLoad != nil {
		return p.onLoad(ev)
	}
	return nil
}

func (p *fakePlugin) OnPluginUnload(_ context.Context, ev *LifecycleEvent) error {
	p.mu.Lock()
	p.unloads++
	p.mu.Unlock()

	if p.onUnload != nil {
		return p.onUnload(ev)
	}
	return nil
}

func (p *fakePlugin) PluginMethods() map[string]Method {
	return p.methods
}

func (p *fakePlugin) counts() (loads, unloads int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads, p.unloads
}

// responder registers event handlers returning fixed values on load.
func responder(events map[string]any) *fakePlugin {
	return &fakePlugin{
		onLoad: func(ev *LifecycleEvent) error {
			for name, v := range events {
				if err := ev.Eventbus.On(name, eventbus.NewCallback(func(...any) any { return v })); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func returning(v any) Method {
	return func(context.Context, ...any) (any, error) {
		return v, nil
	}
}

var errBoom = errors.New("boom")
