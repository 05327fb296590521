package plugin

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/dshills/plugbus/internal/eventbus"
)

// Lifecycle hook and method names.
const (
	HookLoad   = "onPluginLoad"
	HookUnload = "onPluginUnload"
)

// LifecycleEvent is passed to OnPluginLoad and OnPluginUnload.
type LifecycleEvent struct {
	// Eventbus is the plugin's private proxy.
	Eventbus *eventbus.Proxy

	PluginName    string
	PluginOptions map[string]any
	Data          *PluginData

	// State carries a value from OnPluginUnload to the following
	// OnPluginLoad during a reload. Unload hooks set it; load hooks read it.
	State any

	// Logger is named after the plugin.
	Logger *zap.Logger
}

// LoadHook is implemented by plugins that set up on load.
type LoadHook interface {
	OnPluginLoad(ctx context.Context, ev *LifecycleEvent) error
}

// UnloadHook is implemented by plugins that clean up on unload.
type UnloadHook interface {
	OnPluginUnload(ctx context.Context, ev *LifecycleEvent) error
}

// Method is a plugin method callable through InvokeSupport.
type Method func(ctx context.Context, args ...any) (any, error)

// MethodProvider is implemented by plugins exposing methods by name.
type MethodProvider interface {
	PluginMethods() map[string]Method
}

// lookupMethod returns the named method of instance, if declared.
func lookupMethod(instance any, name string) (Method, bool) {
	p, ok := instance.(MethodProvider)
	if !ok {
		return nil, false
	}
	m, ok := p.PluginMethods()[name]
	return m, ok && m != nil
}

// methodNames returns the method names instance declares.
func methodNames(instance any) []string {
	p, ok := instance.(MethodProvider)
	if !ok {
		return nil
	}
	names := make([]string, 0)
	for name, m := range p.PluginMethods() {
		if m != nil {
			names = append(names, name)
		}
	}
	return names
}

// hookFor returns the lifecycle hook of instance. Interface hooks win over
// declared methods of the same name.
func hookFor(instance any, hook string) (func(context.Context, *LifecycleEvent) error, bool) {
	switch hook {
	case HookLoad:
		if h, ok := instance.(LoadHook); ok {
			return h.OnPluginLoad, true
		}
	case HookUnload:
		if h, ok := instance.(UnloadHook); ok {
			return h.OnPluginUnload, true
		}
	}
	if m, ok := lookupMethod(instance, hook); ok {
		return func(ctx context.Context, ev *LifecycleEvent) error {
			_, err := m(ctx, ev)
			return err
		}, true
	}
	return nil, false
}

// safely runs fn, converting a panic into a PluginError.
func safely(plugin, op string, fn func() (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &PluginError{
				Plugin: plugin,
				Op:     op,
				Err: &eventbus.PanicError{
					Event: op,
					Value: r,
					Stack: string(debug.Stack()),
				},
			}
		}
	}()

	result, err = fn()
	if err != nil {
		err = &PluginError{Plugin: plugin, Op: op, Err: err}
	}
	return result, err
}
