package plugin

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dshills/plugbus/internal/eventbus"
)

// DefaultEventPrepend prefixes the manager's command and notification names.
const DefaultEventPrepend = "plugins"

// Notification event suffixes, emitted as "<prepend>:<suffix>".
const (
	EventPluginAdded     = "plugin:added"
	EventPluginRemoved   = "plugin:removed"
	EventPluginReloaded  = "plugin:reloaded"
	EventPluginEnabled   = "plugin:enabled"
	EventEventbusChanged = "eventbus:changed"
)

// Manager manages the lifecycle of plugins. Each plugin gets a private
// eventbus.Proxy; the manager exposes its own operations as commands on the
// same bus.
type Manager struct {
	mu sync.RWMutex

	bus     *eventbus.Eventbus
	ownsBus bool
	prepend string
	options Options
	loader  ModuleLoader
	logger  *zap.Logger

	// Loaded plugins by name, in add order.
	plugins map[string]*Entry
	order   []string

	// Names currently mid-add.
	adding map[string]struct{}

	commands *eventbus.Proxy
	proxies  []*eventbus.Proxy
	secures  []*secureHandle
	supports []Support

	destroyed bool
}

type secureHandle struct {
	secure      *eventbus.Secure
	destroy     func()
	setEventbus func(eventbus.Source, string) error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithEventbus makes the manager use bus instead of creating its own.
func WithEventbus(bus *eventbus.Eventbus) ManagerOption {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithEventPrepend sets the command and notification name prefix.
func WithEventPrepend(prepend string) ManagerOption {
	return func(m *Manager) {
		m.prepend = prepend
	}
}

// WithOptions sets the manager options.
func WithOptions(opts Options) ManagerOption {
	return func(m *Manager) {
		m.options = opts
	}
}

// WithLoader sets the loader used for configs without an instance.
func WithLoader(loader ModuleLoader) ManagerOption {
	return func(m *Manager) {
		m.loader = loader
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a plugin manager and registers its commands.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		prepend: DefaultEventPrepend,
		logger:  zap.NewNop(),
		plugins: make(map[string]*Entry),
		adding:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("plugins")

	if err := validatePrepend(m.prepend); err != nil {
		return nil, err
	}
	if m.bus == nil {
		m.bus = eventbus.New(eventbus.WithName(m.prepend), eventbus.WithLogger(m.logger))
		m.ownsBus = true
	}

	commands, err := m.registerCommands(m.bus, m.prepend)
	if err != nil {
		if m.ownsBus {
			m.bus.Close()
		}
		return nil, err
	}
	m.commands = commands
	return m, nil
}

func validatePrepend(prepend string) error {
	if strings.TrimSpace(prepend) == "" || strings.ContainsAny(prepend, " \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidPrepend, prepend)
	}
	return nil
}

// state returns the bus and prepend, or ErrManagerDestroyed.
func (m *Manager) state() (*eventbus.Eventbus, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return nil, "", ErrManagerDestroyed
	}
	return m.bus, m.prepend, nil
}

// entry returns the named entry.
func (m *Manager) entry(name string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return nil, ErrManagerDestroyed
	}
	e, ok := m.plugins[name]
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	return e, nil
}

// entries returns the entries for names in the given order, or every entry
// in add order when names is empty. Missing names are reported separately.
func (m *Manager) entries(names []string) ([]*Entry, []string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return nil, nil, ErrManagerDestroyed
	}
	if len(names) == 0 {
		names = m.order
	}
	var (
		found   []*Entry
		missing []string
	)
	for _, name := range names {
		if e, ok := m.plugins[name]; ok {
			found = append(found, e)
		} else {
			missing = append(missing, name)
		}
	}
	return found, missing, nil
}

// Add loads a plugin. The instance comes from cfg.Instance or, when that is
// nil, from the manager's ModuleLoader. moduleData is copied into the
// plugin's PluginData.
//
// The load hook runs after the plugin is stored. Its error is logged and
// ignored unless Options.StrictLifecycle is set, in which case the plugin is
// removed again and the error returned.
func (m *Manager) Add(ctx context.Context, cfg Config, moduleData map[string]any) (*PluginData, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil, ErrManagerDestroyed
	}
	if _, exists := m.plugins[cfg.Name]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("plugin %q: %w", cfg.Name, ErrPluginExists)
	}
	if _, loading := m.adding[cfg.Name]; loading {
		m.mu.Unlock()
		return nil, fmt.Errorf("plugin %q: %w", cfg.Name, ErrPluginLoading)
	}
	m.adding[cfg.Name] = struct{}{}
	loader := m.loader
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.adding, cfg.Name)
		m.mu.Unlock()
	}()

	instance, moduleType, module, err := m.resolve(ctx, cfg, loader, moduleData)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil, ErrManagerDestroyed
	}
	data, err := newPluginData(m.prepend, cfg, moduleType, module)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	e := newEntry(data, instance, eventbus.NewProxy(m.bus))
	m.plugins[cfg.Name] = e
	m.order = append(m.order, cfg.Name)
	options := m.options
	m.mu.Unlock()

	m.logger.Debug("plugin added", zap.String("plugin", cfg.Name), zap.String("type", moduleType))

	if _, err := m.runHook(ctx, e, HookLoad, nil); err != nil {
		if options.StrictLifecycle {
			res := m.removeOne(ctx, cfg.Name)
			return nil, multierr.Combine(append([]error{err}, res.Errors...)...)
		}
		m.logger.Warn("plugin load hook failed", zap.String("plugin", cfg.Name), zap.Error(err))
	}

	return data, m.notify(ctx, EventPluginAdded, data)
}

// AddAll adds each config in order. It stops at the first failure and
// returns the data of the plugins added so far.
func (m *Manager) AddAll(ctx context.Context, cfgs []Config, moduleData map[string]any) ([]*PluginData, error) {
	added := make([]*PluginData, 0, len(cfgs))
	for _, cfg := range cfgs {
		data, err := m.Add(ctx, cfg, moduleData)
		if data != nil {
			added = append(added, data)
		}
		if err != nil {
			return added, err
		}
	}
	return added, nil
}

// resolve produces the plugin instance and its module data.
func (m *Manager) resolve(ctx context.Context, cfg Config, loader ModuleLoader, moduleData map[string]any) (any, string, map[string]any, error) {
	if cfg.Instance != nil {
		inst, err := resolveInstance(cfg.Name, cfg.Instance)
		return inst, "instance", moduleData, err
	}
	if loader == nil {
		return nil, "", nil, fmt.Errorf("plugin %q: %w", cfg.Name, ErrNoInstance)
	}

	mod, err := loader.Load(ctx, LoadRequest{ModulePath: cfg.target()})
	if err != nil {
		return nil, "", nil, fmt.Errorf("plugin %q: %w", cfg.Name, err)
	}
	if mod == nil || mod.Instance == nil {
		return nil, "", nil, fmt.Errorf("plugin %q: %w", cfg.Name, ErrNoInstance)
	}
	inst, err := resolveInstance(cfg.Name, mod.Instance)
	if err != nil {
		return nil, "", nil, err
	}

	module := make(map[string]any, len(mod.Data)+len(moduleData)+1)
	for k, v := range mod.Data {
		module[k] = v
	}
	for k, v := range moduleData {
		module[k] = v
	}
	if mod.LoadPath != "" {
		module["loadPath"] = mod.LoadPath
	}
	return inst, mod.Type, module, nil
}

// runHook calls a lifecycle hook on the entry's instance and returns the
// event state after the hook ran.
func (m *Manager) runHook(ctx context.Context, e *Entry, hook string, state any) (any, error) {
	h, ok := hookFor(e.Instance(), hook)
	if !ok {
		return state, nil
	}

	data := e.Data()
	ev := &LifecycleEvent{
		Eventbus:      e.Eventbus(),
		PluginName:    e.Name(),
		PluginOptions: data.Options(),
		Data:          data,
		State:         state,
		Logger:        m.logger.Named(e.Name()),
	}
	_, err := safely(e.Name(), hook, func() (any, error) {
		return nil, h(ctx, ev)
	})
	return ev.State, err
}

// notify triggers "<prepend>:<suffix>" on the manager's bus.
func (m *Manager) notify(ctx context.Context, suffix string, args ...any) error {
	bus, prepend, err := m.state()
	if err != nil {
		return err
	}
	_, err = bus.TriggerAsync(ctx, prepend+":"+suffix, args...)
	return err
}

// SetEnabled enables or disables plugins. Disabling holds the plugin's
// registrations off the bus; enabling restores them in order. Each change
// emits the enabled notification. Unknown names produce ErrPluginNotFound
// after every known plugin has been processed.
func (m *Manager) SetEnabled(ctx context.Context, opts EnableOptions) ([]EnabledResult, error) {
	found, missing, err := m.entries(opts.Plugins)
	if err != nil {
		return nil, err
	}

	var errs error
	results := make([]EnabledResult, 0, len(found))
	for _, e := range found {
		changed, err := e.setEnabled(opts.Enabled)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("plugin %q: %w", e.Name(), err))
		}
		results = append(results, EnabledResult{Plugin: e.Name(), Enabled: e.Enabled(), Loaded: true})
		if !changed {
			continue
		}
		m.logger.Debug("plugin enabled changed", zap.String("plugin", e.Name()), zap.Bool("enabled", opts.Enabled))
		errs = multierr.Append(errs, m.notify(ctx, EventPluginEnabled, EnabledEvent{Data: e.Data(), Enabled: opts.Enabled}))
	}
	for _, name := range missing {
		errs = multierr.Append(errs, fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound))
	}
	return results, errs
}

// Reload runs the unload hook, clears the plugin's registrations, swaps in
// opts.Instance when given, emits the reloaded notification and runs the
// load hook with the state the unload hook left. A disabled plugin stays disabled: whatever its load hook
// registers is held until it is enabled.
//
// Every step runs even when an earlier one fails; the first error is
// returned afterwards.
func (m *Manager) Reload(ctx context.Context, opts ReloadOptions) (bool, error) {
	e, err := m.entry(opts.Plugin)
	if err != nil {
		return false, err
	}

	var errs error
	state, err := m.runHook(ctx, e, HookUnload, nil)
	errs = multierr.Append(errs, err)

	e.reset()

	if opts.Instance != nil {
		inst, err := resolveInstance(e.Name(), opts.Instance)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			e.setInstance(inst)
		}
	}

	if !opts.Silent {
		errs = multierr.Append(errs, m.notify(ctx, EventPluginReloaded, e.Data()))
	}

	_, err = m.runHook(ctx, e, HookLoad, state)
	errs = multierr.Append(errs, err)
	errs = multierr.Append(errs, e.hold())

	m.logger.Debug("plugin reloaded", zap.String("plugin", e.Name()))

	if all := multierr.Errors(errs); len(all) > 0 {
		return false, all[0]
	}
	return true, nil
}

// Remove unloads the named plugins in order. Each plugin is handled on its
// own; a failure never stops the others. Unknown names produce a failed
// result carrying ErrPluginNotFound.
func (m *Manager) Remove(ctx context.Context, names ...string) ([]RemoveResult, error) {
	if _, _, err := m.state(); err != nil {
		return nil, err
	}

	results := make([]RemoveResult, 0, len(names))
	for _, name := range names {
		results = append(results, m.removeOne(ctx, name))
	}
	return results, nil
}

// RemoveAll removes every plugin in add order.
func (m *Manager) RemoveAll(ctx context.Context) ([]RemoveResult, error) {
	m.mu.RLock()
	if m.destroyed {
		m.mu.RUnlock()
		return nil, ErrManagerDestroyed
	}
	names := slices.Clone(m.order)
	m.mu.RUnlock()

	return m.Remove(ctx, names...)
}

func (m *Manager) removeOne(ctx context.Context, name string) RemoveResult {
	res := RemoveResult{Plugin: name}

	m.mu.Lock()
	e, ok := m.plugins[name]
	if ok {
		delete(m.plugins, name)
		m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
	}
	m.mu.Unlock()

	if !ok {
		res.Errors = append(res.Errors, fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound))
		return res
	}

	if _, err := m.runHook(ctx, e, HookUnload, nil); err != nil {
		res.Errors = append(res.Errors, err)
	}

	data := e.Data()
	e.reset()
	e.destroy()

	if err := m.notify(ctx, EventPluginRemoved, data); err != nil {
		res.Errors = append(res.Errors, err)
	}

	res.Success = len(res.Errors) == 0
	if res.Success {
		m.logger.Debug("plugin removed", zap.String("plugin", name))
	} else {
		m.logger.Warn("plugin removed with errors",
			zap.String("plugin", name),
			zap.Error(multierr.Combine(res.Errors...)))
	}
	return res
}

// SetEventbus moves the manager to bus. Enabled plugins are unloaded on the
// old bus and loaded again on the new one; disabled plugins keep their held
// registrations for when they are enabled. Commands, secure handles and
// supports follow; proxies created with CreateEventbusProxy are destroyed.
// An empty prepend keeps the current one.
func (m *Manager) SetEventbus(ctx context.Context, bus *eventbus.Eventbus, prepend string) error {
	if bus == nil {
		return ErrNilEventbus
	}

	m.mu.RLock()
	if m.destroyed {
		m.mu.RUnlock()
		return ErrManagerDestroyed
	}
	oldBus, oldPrepend := m.bus, m.prepend
	m.mu.RUnlock()

	if prepend == "" {
		prepend = oldPrepend
	}
	if err := validatePrepend(prepend); err != nil {
		return err
	}
	if bus == oldBus && prepend == oldPrepend {
		return nil
	}
	if m.commandsGuarded(bus, prepend) {
		return fmt.Errorf("%w: %q", ErrPrependInUse, prepend)
	}

	found, _, err := m.entries(nil)
	if err != nil {
		return err
	}

	var errs error
	states := make(map[*Entry]any)
	var active []*Entry
	for _, e := range found {
		if !e.Enabled() {
			continue
		}
		active = append(active, e)
		state, err := m.runHook(ctx, e, HookUnload, nil)
		errs = multierr.Append(errs, err)
		states[e] = state
		e.reset()
	}

	m.mu.Lock()
	if m.commands != nil {
		_ = m.commands.Destroy()
	}
	for _, e := range found {
		e.rebind(eventbus.NewProxy(bus), e.Data().rescoped(prepend))
	}
	for _, p := range m.proxies {
		_ = p.Destroy()
	}
	m.proxies = nil
	for _, s := range m.secures {
		errs = multierr.Append(errs, s.setEventbus(bus, ""))
	}
	ownedOld := m.ownsBus && oldBus != bus
	m.bus = bus
	m.prepend = prepend
	if oldBus != bus {
		m.ownsBus = false
	}
	supports := slices.Clone(m.supports)
	m.mu.Unlock()

	commands, err := m.registerCommands(bus, prepend)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	m.mu.Lock()
	m.commands = commands
	m.mu.Unlock()

	change := SupportChange{
		Old:        oldBus,
		New:        bus,
		OldPrepend: oldPrepend,
		NewPrepend: prepend,
		Commands:   commands,
	}
	for _, s := range supports {
		errs = multierr.Append(errs, s.SetEventbus(ctx, change))
	}

	for _, e := range active {
		_, err := m.runHook(ctx, e, HookLoad, states[e])
		errs = multierr.Append(errs, err)
	}

	m.logger.Info("eventbus changed",
		zap.String("from", oldBus.Name()),
		zap.String("to", bus.Name()),
		zap.String("prepend", prepend))

	errs = multierr.Append(errs, m.notify(ctx, EventEventbusChanged, bus))
	if ownedOld {
		oldBus.Close()
	}
	return errs
}

// Destroy removes every plugin and releases all handles the manager owns.
// Every later call returns ErrManagerDestroyed.
func (m *Manager) Destroy(ctx context.Context) error {
	results, err := m.RemoveAll(ctx)
	if err != nil {
		return err
	}

	var errs error
	for _, r := range results {
		errs = multierr.Append(errs, multierr.Combine(r.Errors...))
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrManagerDestroyed
	}
	m.destroyed = true
	supports := m.supports
	m.supports = nil
	if m.commands != nil {
		_ = m.commands.Destroy()
	}
	for _, p := range m.proxies {
		_ = p.Destroy()
	}
	m.proxies = nil
	for _, s := range m.secures {
		s.destroy()
	}
	m.secures = nil
	bus, owns := m.bus, m.ownsBus
	m.mu.Unlock()

	for _, s := range supports {
		errs = multierr.Append(errs, s.Destroy(ctx))
	}
	if owns {
		bus.Close()
	}
	m.logger.Debug("manager destroyed")
	return errs
}

// IsDestroyed returns true once Destroy has been called.
func (m *Manager) IsDestroyed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.destroyed
}

// GetEventbus returns the manager's bus.
func (m *Manager) GetEventbus() (*eventbus.Eventbus, error) {
	bus, _, err := m.state()
	return bus, err
}

// GetEventPrepend returns the command and notification prefix.
func (m *Manager) GetEventPrepend() (string, error) {
	_, prepend, err := m.state()
	return prepend, err
}

// CreateEventbusProxy creates a proxy over the manager's bus. The manager
// destroys it on Destroy and SetEventbus.
func (m *Manager) CreateEventbusProxy() (*eventbus.Proxy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return nil, ErrManagerDestroyed
	}
	p := eventbus.NewProxy(m.bus)
	m.proxies = append(m.proxies, p)
	return p, nil
}

// CreateEventbusSecure creates a trigger-only handle on the manager's bus.
// The handle follows SetEventbus and is destroyed with the manager.
func (m *Manager) CreateEventbusSecure(name string) (*eventbus.Secure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return nil, ErrManagerDestroyed
	}
	secure, destroy, setEventbus, err := eventbus.InitializeSecure(m.bus, name)
	if err != nil {
		return nil, err
	}
	m.secures = append(m.secures, &secureHandle{secure: secure, destroy: destroy, setEventbus: setEventbus})
	return secure, nil
}

// GetOptions returns the manager options.
func (m *Manager) GetOptions() (Options, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return Options{}, ErrManagerDestroyed
	}
	return m.options, nil
}

// SetOptions replaces the manager options. Command gating takes effect on
// the next command call.
func (m *Manager) SetOptions(opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return ErrManagerDestroyed
	}
	m.options = opts
	return nil
}

// GetEnabled reports the state of the named plugins, or all plugins when no
// names are given. Unknown names report Loaded false.
func (m *Manager) GetEnabled(names ...string) ([]EnabledResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return nil, ErrManagerDestroyed
	}
	if len(names) == 0 {
		names = m.order
	}
	results := make([]EnabledResult, 0, len(names))
	for _, name := range names {
		e, ok := m.plugins[name]
		results = append(results, EnabledResult{
			Plugin:  name,
			Enabled: ok && e.Enabled(),
			Loaded:  ok,
		})
	}
	return results, nil
}

// GetEnabledPluginNames returns the names of plugins whose enabled state
// equals enabled, in add order.
func (m *Manager) GetEnabledPluginNames(enabled bool) ([]string, error) {
	found, _, err := m.entries(nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(found))
	for _, e := range found {
		if e.Enabled() == enabled {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// GetPluginNames returns every plugin name in add order.
func (m *Manager) GetPluginNames() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.destroyed {
		return nil, ErrManagerDestroyed
	}
	return slices.Clone(m.order), nil
}

// HasPlugin reports whether name is loaded.
func (m *Manager) HasPlugin(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.plugins[name]
	return ok && !m.destroyed
}

// IsValidConfig reports whether cfg could be added.
func (m *Manager) IsValidConfig(cfg Config) bool {
	return cfg.Validate() == nil
}

// GetPluginData returns the data of the named plugin.
func (m *Manager) GetPluginData(name string) (*PluginData, error) {
	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	return e.Data(), nil
}

// AllPluginData returns the data of every plugin in add order.
func (m *Manager) AllPluginData() ([]*PluginData, error) {
	found, _, err := m.entries(nil)
	if err != nil {
		return nil, err
	}
	out := make([]*PluginData, len(found))
	for i, e := range found {
		out[i] = e.Data()
	}
	return out, nil
}

// GetPluginEvents lists the event names each named plugin registered,
// including registrations held while disabled.
func (m *Manager) GetPluginEvents(names ...string) ([]EventsResult, error) {
	found, _, err := m.entries(names)
	if err != nil {
		return nil, err
	}
	results := make([]EventsResult, len(found))
	for i, e := range found {
		results[i] = EventsResult{Plugin: e.Name(), Events: e.events()}
	}
	return results, nil
}

// GetPluginByEvent returns the names of plugins that registered event.
func (m *Manager) GetPluginByEvent(event string) ([]string, error) {
	found, _, err := m.entries(nil)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range found {
		if slices.Contains(e.events(), event) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// AddSupport attaches an extension that follows the manager's bus and is
// destroyed with it. A support whose first SetEventbus fails is not kept.
func (m *Manager) AddSupport(ctx context.Context, s Support) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrManagerDestroyed
	}
	change := SupportChange{
		New:        m.bus,
		NewPrepend: m.prepend,
		Commands:   m.commands,
	}
	m.mu.Unlock()

	if err := s.SetEventbus(ctx, change); err != nil {
		return err
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return multierr.Append(ErrManagerDestroyed, s.Destroy(ctx))
	}
	m.supports = append(m.supports, s)
	m.mu.Unlock()
	return nil
}

// Support extends a manager with more commands.
type Support interface {
	// SetEventbus is called when the support is added and whenever the
	// manager changes bus. Commands is the manager's command proxy on the
	// new bus.
	SetEventbus(ctx context.Context, change SupportChange) error

	// Destroy is called when the manager is destroyed.
	Destroy(ctx context.Context) error
}

// SupportChange describes a bus change. Old is nil when the support is first
// added.
type SupportChange struct {
	Old        *eventbus.Eventbus
	New        *eventbus.Eventbus
	OldPrepend string
	NewPrepend string
	Commands   *eventbus.Proxy
}
