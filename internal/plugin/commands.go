package plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/plugbus/internal/eventbus"
)

// Command suffixes, registered on the bus as "<prepend>:<suffix>".
const (
	CmdAdd              = "async:add"
	CmdAddAll           = "async:add:all"
	CmdDestroyManager   = "async:destroy:manager"
	CmdReload           = "async:reload"
	CmdRemove           = "async:remove"
	CmdRemoveAll        = "async:remove:all"
	CmdCreateProxy      = "create:eventbus:proxy"
	CmdGetEnabled       = "get:enabled"
	CmdGetOptions       = "get:options"
	CmdGetPluginByEvent = "get:plugin:by:event"
	CmdGetPluginData    = "get:plugin:data"
	CmdGetPluginEvents  = "get:plugin:events"
	CmdGetPluginNames   = "get:plugin:names"
	CmdHasPlugin        = "has:plugin"
	CmdIsValidConfig    = "is:valid:config"
	CmdSetEnabled       = "set:enabled"
	CmdSetOptions       = "set:options"
)

var managerCommands = []string{
	CmdAdd, CmdAddAll, CmdDestroyManager, CmdReload, CmdRemove, CmdRemoveAll,
	CmdCreateProxy, CmdGetEnabled, CmdGetOptions, CmdGetPluginByEvent,
	CmdGetPluginData, CmdGetPluginEvents, CmdGetPluginNames, CmdHasPlugin,
	CmdIsValidConfig, CmdSetEnabled, CmdSetOptions,
}

// commandsGuarded reports whether any manager command name under prepend is
// already guarded on bus.
func (m *Manager) commandsGuarded(bus *eventbus.Eventbus, prepend string) bool {
	for _, c := range managerCommands {
		if bus.IsGuarded(prepend + ":" + c) {
			return true
		}
	}
	return false
}

// registerCommands binds the manager's operations on bus under prepend.
// Commands are guarded so a second manager can't shadow them.
func (m *Manager) registerCommands(bus *eventbus.Eventbus, prepend string) (*eventbus.Proxy, error) {
	if m.commandsGuarded(bus, prepend) {
		return nil, fmt.Errorf("%w: %q", ErrPrependInUse, prepend)
	}

	handlers := map[string]*eventbus.Callback{
		CmdAdd:              eventbus.NewAsyncCallback(m.cmdAdd),
		CmdAddAll:           eventbus.NewAsyncCallback(m.cmdAddAll),
		CmdDestroyManager:   eventbus.NewAsyncCallback(m.cmdDestroy),
		CmdReload:           eventbus.NewAsyncCallback(m.cmdReload),
		CmdRemove:           eventbus.NewAsyncCallback(m.cmdRemove),
		CmdRemoveAll:        eventbus.NewAsyncCallback(m.cmdRemoveAll),
		CmdCreateProxy:      eventbus.NewCallbackErr(m.cmdCreateProxy),
		CmdGetEnabled:       eventbus.NewCallbackErr(m.cmdGetEnabled),
		CmdGetOptions:       eventbus.NewCallbackErr(m.cmdGetOptions),
		CmdGetPluginByEvent: eventbus.NewCallbackErr(m.cmdGetPluginByEvent),
		CmdGetPluginData:    eventbus.NewCallbackErr(m.cmdGetPluginData),
		CmdGetPluginEvents:  eventbus.NewCallbackErr(m.cmdGetPluginEvents),
		CmdGetPluginNames:   eventbus.NewCallbackErr(m.cmdGetPluginNames),
		CmdHasPlugin:        eventbus.NewCallbackErr(m.cmdHasPlugin),
		CmdIsValidConfig:    eventbus.NewCallbackErr(m.cmdIsValidConfig),
		CmdSetEnabled:       eventbus.NewCallbackErr(m.cmdSetEnabled),
		CmdSetOptions:       eventbus.NewCallbackErr(m.cmdSetOptions),
	}

	named := make(map[string]*eventbus.Callback, len(handlers))
	for suffix, cb := range handlers {
		named[prepend+":"+suffix] = cb
	}

	p := eventbus.NewProxy(bus)
	if err := p.OnMap(named, eventbus.WithContext(m), eventbus.WithGuard()); err != nil {
		_ = p.Destroy()
		return nil, err
	}
	return p, nil
}

// gate returns ErrCommandDisabled when the option selected by off is set.
func (m *Manager) gate(cmd string, off func(Options) bool) error {
	opts, err := m.GetOptions()
	if err != nil {
		return err
	}
	if off(opts) {
		return fmt.Errorf("%s: %w", cmd, ErrCommandDisabled)
	}
	return nil
}

func (m *Manager) cmdAdd(ctx context.Context, args ...any) (any, error) {
	if err := m.gate(CmdAdd, func(o Options) bool { return o.NoEventAdd }); err != nil {
		return nil, err
	}
	moduleData, err := mapArg(args, 1)
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		if cfgs, ok := args[0].([]Config); ok {
			return m.AddAll(ctx, cfgs, moduleData)
		}
	}
	cfg, err := configArg(args, 0)
	if err != nil {
		return nil, err
	}
	return m.Add(ctx, cfg, moduleData)
}

func (m *Manager) cmdAddAll(ctx context.Context, args ...any) (any, error) {
	if err := m.gate(CmdAddAll, func(o Options) bool { return o.NoEventAdd }); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: %w: missing configs", CmdAddAll, ErrInvalidArgument)
	}
	cfgs, ok := args[0].([]Config)
	if !ok {
		return nil, fmt.Errorf("%s: %w: want []Config, got %T", CmdAddAll, ErrInvalidArgument, args[0])
	}
	moduleData, err := mapArg(args, 1)
	if err != nil {
		return nil, err
	}
	return m.AddAll(ctx, cfgs, moduleData)
}

func (m *Manager) cmdDestroy(ctx context.Context, _ ...any) (any, error) {
	if err := m.gate(CmdDestroyManager, func(o Options) bool { return o.NoEventDestroy }); err != nil {
		return nil, err
	}
	return nil, m.Destroy(ctx)
}

func (m *Manager) cmdReload(ctx context.Context, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: %w: missing plugin", CmdReload, ErrInvalidArgument)
	}
	var opts ReloadOptions
	switch v := args[0].(type) {
	case ReloadOptions:
		opts = v
	case *ReloadOptions:
		opts = *v
	case string:
		opts = ReloadOptions{Plugin: v}
	default:
		return nil, fmt.Errorf("%s: %w: got %T", CmdReload, ErrInvalidArgument, args[0])
	}
	return m.Reload(ctx, opts)
}

func (m *Manager) cmdRemove(ctx context.Context, args ...any) (any, error) {
	if err := m.gate(CmdRemove, func(o Options) bool { return o.NoEventRemoval }); err != nil {
		return nil, err
	}
	names, err := namesArg(args)
	if err != nil {
		return nil, err
	}
	return m.Remove(ctx, names...)
}

func (m *Manager) cmdRemoveAll(ctx context.Context, _ ...any) (any, error) {
	if err := m.gate(CmdRemoveAll, func(o Options) bool { return o.NoEventRemoval }); err != nil {
		return nil, err
	}
	return m.RemoveAll(ctx)
}

func (m *Manager) cmdCreateProxy(_ ...any) (any, error) {
	return m.CreateEventbusProxy()
}

func (m *Manager) cmdGetEnabled(args ...any) (any, error) {
	names, err := namesArg(args)
	if err != nil {
		return nil, err
	}
	return m.GetEnabled(names...)
}

func (m *Manager) cmdGetOptions(_ ...any) (any, error) {
	return m.GetOptions()
}

func (m *Manager) cmdGetPluginByEvent(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: %w: missing event", CmdGetPluginByEvent, ErrInvalidArgument)
	}
	event, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("%s: %w: got %T", CmdGetPluginByEvent, ErrInvalidArgument, args[0])
	}
	return m.GetPluginByEvent(event)
}

func (m *Manager) cmdGetPluginData(args ...any) (any, error) {
	names, err := namesArg(args)
	if err != nil {
		return nil, err
	}
	if len(names) == 1 {
		return m.GetPluginData(names[0])
	}
	if len(names) == 0 {
		return m.AllPluginData()
	}
	out := make([]*PluginData, 0, len(names))
	for _, name := range names {
		data, err := m.GetPluginData(name)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func (m *Manager) cmdGetPluginEvents(args ...any) (any, error) {
	names, err := namesArg(args)
	if err != nil {
		return nil, err
	}
	return m.GetPluginEvents(names...)
}

func (m *Manager) cmdGetPluginNames(_ ...any) (any, error) {
	return m.GetPluginNames()
}

func (m *Manager) cmdHasPlugin(args ...any) (any, error) {
	names, err := namesArg(args)
	if err != nil {
		return nil, err
	}
	if len(names) != 1 {
		return nil, fmt.Errorf("%s: %w: want one plugin name", CmdHasPlugin, ErrInvalidArgument)
	}
	return m.HasPlugin(names[0]), nil
}

func (m *Manager) cmdIsValidConfig(args ...any) (any, error) {
	cfg, err := configArg(args, 0)
	if err != nil {
		return false, nil
	}
	return m.IsValidConfig(cfg), nil
}

func (m *Manager) cmdSetEnabled(args ...any) (any, error) {
	if err := m.gate(CmdSetEnabled, func(o Options) bool { return o.NoEventSetEnabled }); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: %w: missing options", CmdSetEnabled, ErrInvalidArgument)
	}
	var opts EnableOptions
	switch v := args[0].(type) {
	case EnableOptions:
		opts = v
	case *EnableOptions:
		opts = *v
	case bool:
		names, err := namesArg(args[1:])
		if err != nil {
			return nil, err
		}
		opts = EnableOptions{Enabled: v, Plugins: names}
	default:
		return nil, fmt.Errorf("%s: %w: got %T", CmdSetEnabled, ErrInvalidArgument, args[0])
	}
	return m.SetEnabled(context.Background(), opts)
}

func (m *Manager) cmdSetOptions(args ...any) (any, error) {
	if err := m.gate(CmdSetOptions, func(o Options) bool { return o.NoEventOptions }); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: %w: missing options", CmdSetOptions, ErrInvalidArgument)
	}
	switch v := args[0].(type) {
	case Options:
		return nil, m.SetOptions(v)
	case *Options:
		return nil, m.SetOptions(*v)
	default:
		return nil, fmt.Errorf("%s: %w: got %T", CmdSetOptions, ErrInvalidArgument, args[0])
	}
}

// namesArg accepts plugin names as strings, space separated strings or
// string slices.
func namesArg(args []any) ([]string, error) {
	var names []string
	for _, a := range args {
		switch v := a.(type) {
		case nil:
		case string:
			names = append(names, strings.Fields(v)...)
		case []string:
			names = append(names, v...)
		default:
			return nil, fmt.Errorf("%w: want plugin names, got %T", ErrInvalidArgument, a)
		}
	}
	return names, nil
}

func configArg(args []any, i int) (Config, error) {
	if len(args) <= i {
		return Config{}, fmt.Errorf("%w: missing config", ErrInvalidArgument)
	}
	switch v := args[i].(type) {
	case Config:
		return v, nil
	case *Config:
		if v != nil {
			return *v, nil
		}
	}
	return Config{}, fmt.Errorf("%w: want Config, got %T", ErrInvalidArgument, args[i])
}

func mapArg(args []any, i int) (map[string]any, error) {
	if len(args) <= i || args[i] == nil {
		return nil, nil
	}
	m, ok := args[i].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: want map[string]any, got %T", ErrInvalidArgument, args[i])
	}
	return m, nil
}
