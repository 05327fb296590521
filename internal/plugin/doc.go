// Package plugin manages plugins bound to an eventbus.
//
// A plugin is any Go value. The Manager gives each plugin a private
// eventbus.Proxy, so everything a plugin registers can be removed at once
// when it is disabled, reloaded or removed. Plugins take part in their
// lifecycle by implementing LoadHook and UnloadHook, and expose methods by
// name through MethodProvider:
//
//	type greeter struct{}
//
//	func (greeter) OnPluginLoad(ctx context.Context, ev *plugin.LifecycleEvent) error {
//	    return ev.Eventbus.On("hello", eventbus.NewCallback(func(args ...any) any {
//	        return "hello " + args[0].(string)
//	    }))
//	}
//
//	mgr, err := plugin.NewManager()
//	if err != nil {
//	    return err
//	}
//	defer mgr.Destroy(ctx)
//
//	if _, err := mgr.Add(ctx, plugin.Config{Name: "greeter", Instance: greeter{}}, nil); err != nil {
//	    return err
//	}
//
// # Instances and loaders
//
// Config.Instance may hold the plugin value or a Factory. Without one the
// manager asks its ModuleLoader to resolve Config.Target; Registry maps
// module paths to factories and ChainLoader tries several loaders in turn.
// The lua subpackage loads Lua scripts from disk.
//
// # Commands
//
// The manager listens on "<prepend>:<command>" names of its bus, so code
// holding only the bus can drive it:
//
//	bus.TriggerAsync(ctx, "plugins:async:add", plugin.Config{Name: "greeter"})
//	bus.TriggerSync("plugins:get:plugin:names")
//
// Mutating commands can be switched off through Options. The manager's own
// notifications are "<prepend>:plugin:added", "plugin:removed",
// "plugin:reloaded", "plugin:enabled" and "eventbus:changed".
//
// # Invocation
//
// InvokeSupport calls declared methods on every enabled plugin and
// aggregates results like Eventbus.TriggerSync and TriggerAsync.
package plugin
