package lua

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/plugbus/internal/eventbus"
	"github.com/dshills/plugbus/internal/plugin"
)

// Plugin runs a Lua script as a plugin instance.
//
// The script returns a table. Its onPluginLoad and onPluginUnload fields are
// the lifecycle hooks; every other function field is a plugin method. Hooks
// receive an event table:
//
//	ev.eventbus      the plugin's bus (on, once, off, trigger, trigger_sync, keys)
//	ev.plugin_name   the plugin name
//	ev.plugin_options
//	ev.data          the plugin data as nested tables
//	ev.state         hand-off value from onPluginUnload to onPluginLoad
//
// A fresh Lua state is created on load and closed after unload, so globals
// don't survive a reload; use ev.state.
type Plugin struct {
	manifest   *Manifest
	stateOpts  []StateOption
	baseLogger *zap.Logger

	mu        sync.Mutex
	state     *State
	bridge    *Bridge
	module    *lua.LTable
	callbacks map[string][]*eventbus.Callback
}

// PluginOption configures a Plugin.
type PluginOption func(*Plugin)

// WithStateOptions sets the options of the plugin's Lua states.
func WithStateOptions(opts ...StateOption) PluginOption {
	return func(p *Plugin) {
		p.stateOpts = append(p.stateOpts, opts...)
	}
}

// WithLogger sets the logger used when the lifecycle event carries none.
func WithLogger(logger *zap.Logger) PluginOption {
	return func(p *Plugin) {
		if logger != nil {
			p.baseLogger = logger
		}
	}
}

// NewPlugin creates a plugin for the script described by m.
func NewPlugin(m *Manifest, opts ...PluginOption) *Plugin {
	p := &Plugin{
		manifest:   m,
		baseLogger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Manifest returns the plugin manifest.
func (p *Plugin) Manifest() *Manifest {
	return p.manifest
}

// IsLoaded reports whether the script is running.
func (p *Plugin) IsLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != nil
}

// OnPluginLoad runs the script and then its onPluginLoad hook.
func (p *Plugin) OnPluginLoad(ctx context.Context, ev *plugin.LifecycleEvent) error {
	logger := ev.Logger
	if logger == nil {
		logger = p.baseLogger
	}

	p.mu.Lock()
	if p.state != nil {
		p.mu.Unlock()
		return fmt.Errorf("lua plugin %q: already loaded", p.manifest.Name)
	}
	state := NewState(p.stateOpts...)
	bridge := NewBridge(state.L)
	state.Sandbox().Preload(ModulePrefix, hostModule(p.manifest.Name, logger))
	p.state, p.bridge = state, bridge
	p.callbacks = make(map[string][]*eventbus.Callback)
	p.mu.Unlock()

	results, err := state.DoFile(ctx, p.manifest.MainPath())
	if err == nil {
		var module *lua.LTable
		if len(results) > 0 {
			module, _ = results[0].(*lua.LTable)
		}
		if module == nil {
			err = fmt.Errorf("%w: %s", ErrBadModule, p.manifest.MainPath())
		} else {
			p.mu.Lock()
			p.module = module
			p.mu.Unlock()
		}
	}
	if err != nil {
		p.shutdown()
		return err
	}

	logger.Debug("lua plugin loaded", zap.String("main", p.manifest.Main))
	return p.runHook(ctx, plugin.HookLoad, ev)
}

// OnPluginUnload runs the onPluginUnload hook and closes the Lua state.
func (p *Plugin) OnPluginUnload(ctx context.Context, ev *plugin.LifecycleEvent) error {
	if !p.IsLoaded() {
		return nil
	}
	err := p.runHook(ctx, plugin.HookUnload, ev)
	p.shutdown()
	return err
}

// shutdown closes the state and forgets the Lua callbacks. The manager
// removes the registrations themselves through the proxy.
func (p *Plugin) shutdown() {
	p.mu.Lock()
	state := p.state
	p.state, p.bridge, p.module = nil, nil, nil
	p.callbacks = nil
	p.mu.Unlock()

	if state != nil {
		state.Close()
	}
}

func (p *Plugin) loaded() (*State, *Bridge, *lua.LTable, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == nil || p.module == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrNotLoaded, p.manifest.Name)
	}
	return p.state, p.bridge, p.module, nil
}

// runHook calls the named hook with an event table and copies ev.state back.
func (p *Plugin) runHook(ctx context.Context, hook string, ev *plugin.LifecycleEvent) error {
	state, bridge, module, err := p.loaded()
	if err != nil {
		return err
	}

	return state.With(ctx, func(L *lua.LState) error {
		fn, ok := module.RawGetString(hook).(*lua.LFunction)
		if !ok {
			return nil
		}

		evt := L.NewTable()
		evt.RawSetString("eventbus", p.busTable(L, state, bridge, ev.Eventbus))
		evt.RawSetString("plugin_name", lua.LString(ev.PluginName))
		evt.RawSetString("plugin_options", bridge.ToLuaValue(ev.PluginOptions))
		if ev.Data != nil {
			evt.RawSetString("data", bridge.ToLuaValue(ev.Data.Map()))
		}
		evt.RawSetString("state", bridge.ToLuaValue(ev.State))

		if _, err := state.pcall(fn, []lua.LValue{evt}); err != nil {
			return err
		}
		ev.State = bridge.ToGoValue(evt.RawGetString("state"))
		return nil
	})
}

// PluginMethods implements plugin.MethodProvider. Every function field of
// the script table other than the hooks is a method.
func (p *Plugin) PluginMethods() map[string]plugin.Method {
	state, _, module, err := p.loaded()
	if err != nil {
		return nil
	}

	var names []string
	err = state.With(context.Background(), func(_ *lua.LState) error {
		module.ForEach(func(k, v lua.LValue) {
			name, ok := k.(lua.LString)
			if !ok {
				return
			}
			if _, isFn := v.(*lua.LFunction); !isFn {
				return
			}
			if string(name) == plugin.HookLoad || string(name) == plugin.HookUnload {
				return
			}
			names = append(names, string(name))
		})
		return nil
	})
	if err != nil {
		return nil
	}
	sort.Strings(names)

	methods := make(map[string]plugin.Method, len(names))
	for _, name := range names {
		methods[name] = p.method(name)
	}
	return methods
}

// method calls a script function by name. A *plugin.PluginEvent argument is
// passed as a table and its data copied back afterwards.
func (p *Plugin) method(name string) plugin.Method {
	return func(ctx context.Context, args ...any) (any, error) {
		state, bridge, module, err := p.loaded()
		if err != nil {
			return nil, err
		}

		var result any
		err = state.With(ctx, func(L *lua.LState) error {
			fn, ok := module.RawGetString(name).(*lua.LFunction)
			if !ok {
				return fmt.Errorf("%w: %s", ErrNotFunction, name)
			}

			values := make([]lua.LValue, len(args))
			events := make(map[int]*lua.LTable)
			for i, a := range args {
				if pe, isEvent := a.(*plugin.PluginEvent); isEvent && pe != nil {
					t := p.pluginEventTable(L, state, bridge, pe)
					events[i] = t
					values[i] = t
					continue
				}
				values[i] = bridge.ToLuaValue(a)
			}

			rets, err := state.pcall(fn, values)
			if err != nil {
				return err
			}
			for i, t := range events {
				pe := args[i].(*plugin.PluginEvent)
				if data, ok := bridge.ToGoValue(t.RawGetString("data")).(map[string]any); ok {
					pe.Data = data
				} else {
					pe.Data = map[string]any{}
				}
			}
			result = bridge.Result(rets)
			return nil
		})
		return result, err
	}
}

func (p *Plugin) pluginEventTable(L *lua.LState, state *State, bridge *Bridge, pe *plugin.PluginEvent) *lua.LTable {
	t := L.NewTable()
	data := pe.Data
	if data == nil {
		data = map[string]any{}
	}
	t.RawSetString("data", bridge.ToLuaValue(data))
	t.RawSetString("eventbus", p.busTable(L, state, bridge, pe.Eventbus))
	t.RawSetString("plugin_name", lua.LString(pe.PluginName))
	t.RawSetString("plugin_options", bridge.ToLuaValue(pe.PluginOptions))
	return t
}

// busTable exposes proxy to Lua. Functions take the table as self so
// scripts use method syntax: ev.eventbus:on("name", fn).
func (p *Plugin) busTable(L *lua.LState, state *State, bridge *Bridge, proxy *eventbus.Proxy) *lua.LTable {
	t := L.NewTable()
	if proxy == nil {
		return t
	}

	register := func(count int) lua.LGFunction {
		return func(L *lua.LState) int {
			name := L.CheckString(2)
			fn := L.CheckFunction(3)
			cb := eventbus.NewCallbackErr(func(args ...any) (any, error) {
				return p.callLua(state, bridge, fn, args)
			})

			var err error
			if count == 0 {
				err = proxy.On(name, cb)
			} else {
				err = proxy.Before(count, name, cb)
			}
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			p.remember(name, cb)
			return 0
		}
	}

	funcs := map[string]lua.LGFunction{
		"on":   register(0),
		"once": register(1),
		"before": func(L *lua.LState) int {
			count := L.CheckInt(2)
			name := L.CheckString(3)
			fn := L.CheckFunction(4)
			cb := eventbus.NewCallbackErr(func(args ...any) (any, error) {
				return p.callLua(state, bridge, fn, args)
			})
			if err := proxy.Before(count, name, cb); err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			p.remember(name, cb)
			return 0
		},
		"off": func(L *lua.LState) int {
			names := strings.Fields(L.OptString(2, ""))
			if len(names) == 0 {
				for _, cb := range p.forget("") {
					_ = proxy.Off("", cb, nil)
				}
				return 0
			}
			for _, name := range names {
				for _, cb := range p.forget(name) {
					_ = proxy.Off(name, cb, nil)
				}
			}
			return 0
		},
		"trigger": func(L *lua.LState) int {
			name := L.CheckString(2)
			args := bridge.Args(L, 3)
			var err error
			state.nested(func() { err = proxy.Trigger(name, args...) })
			if err != nil {
				L.RaiseError("%s", err.Error())
			}
			return 0
		},
		"trigger_sync": func(L *lua.LState) int {
			name := L.CheckString(2)
			args := bridge.Args(L, 3)
			var (
				result any
				err    error
			)
			state.nested(func() { result, err = proxy.TriggerSync(name, args...) })
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(bridge.ToLuaValue(result))
			return 1
		},
		"keys": func(L *lua.LState) int {
			keys, err := proxy.ProxyKeys(nil)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			list := L.NewTable()
			for k := range keys {
				list.Append(lua.LString(k))
			}
			L.Push(list)
			return 1
		},
	}
	for name, fn := range funcs {
		t.RawSetString(name, L.NewFunction(fn))
	}
	return t
}

// callLua runs a Lua callback for an event.
func (p *Plugin) callLua(state *State, bridge *Bridge, fn *lua.LFunction, args []any) (any, error) {
	var result any
	err := state.With(context.Background(), func(_ *lua.LState) error {
		rets, err := state.pcall(fn, bridge.Values(args))
		if err != nil {
			return err
		}
		result = bridge.Result(rets)
		return nil
	})
	return result, err
}

func (p *Plugin) remember(name string, cb *eventbus.Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.callbacks == nil {
		return
	}
	for _, n := range strings.Fields(name) {
		p.callbacks[n] = append(p.callbacks[n], cb)
	}
}

// forget returns and drops the callbacks registered for name, or all of
// them when name is empty.
func (p *Plugin) forget(name string) []*eventbus.Callback {
	p.mu.Lock()
	defer p.mu.Unlock()

	if name != "" {
		cbs := p.callbacks[name]
		delete(p.callbacks, name)
		return cbs
	}
	var all []*eventbus.Callback
	for _, cbs := range p.callbacks {
		all = append(all, cbs...)
	}
	clear(p.callbacks)
	return all
}

// hostModule is the "plugbus" module: the plugin name and a logger.
func hostModule(name string, logger *zap.Logger) lua.LGFunction {
	return func(L *lua.LState) int {
		logFn := func(write func(string, ...zap.Field)) lua.LGFunction {
			return func(L *lua.LState) int {
				write(L.CheckString(1), zap.String("plugin", name))
				return 0
			}
		}
		log := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"debug": logFn(logger.Debug),
			"info":  logFn(logger.Info),
			"warn":  logFn(logger.Warn),
			"error": logFn(logger.Error),
		})

		mod := L.NewTable()
		mod.RawSetString("name", lua.LString(name))
		mod.RawSetString("log", log)
		L.Push(mod)
		return 1
	}
}
