package plugin

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/dshills/plugbus/internal/eventbus"
)

// Invoke command suffixes, registered next to the manager's commands.
const (
	CmdInvoke           = "invoke"
	CmdSyncInvoke       = "sync:invoke"
	CmdAsyncInvoke      = "async:invoke"
	CmdSyncInvokeEvent  = "sync:invoke:event"
	CmdAsyncInvokeEvent = "async:invoke:event"
	CmdGetMethodNames   = "get:method:names"
	CmdHasMethod        = "has:method"
)

// PluginEvent is shared by every plugin an event invocation reaches.
// Plugins accumulate results in Data.
type PluginEvent struct {
	Data map[string]any

	// Eventbus, PluginName and PluginOptions describe the plugin currently
	// being invoked.
	Eventbus      *eventbus.Proxy
	PluginName    string
	PluginOptions map[string]any
}

// InvokeEventOptions selects an event invocation.
type InvokeEventOptions struct {
	Method string

	// Plugins names the target plugins; empty means all enabled plugins.
	Plugins []string

	// Copy is deep copied into the event data.
	Copy map[string]any

	// Pass is added to the event data as is, after Copy.
	Pass map[string]any
}

// InvokeEventResult is the event data after every plugin ran.
type InvokeEventResult struct {
	Data        map[string]any
	InvokeCount int
	InvokeNames []string
}

// InvokeSupport calls declared plugin methods by name on enabled plugins.
// Results aggregate like Eventbus.TriggerSync and Eventbus.TriggerAsync.
type InvokeSupport struct {
	manager *Manager

	mu        sync.Mutex
	commands  *eventbus.Proxy
	callbacks []*eventbus.Callback
	destroyed bool
}

// NewInvokeSupport creates an InvokeSupport and attaches it to m.
func NewInvokeSupport(ctx context.Context, m *Manager) (*InvokeSupport, error) {
	s := &InvokeSupport{manager: m}
	if err := m.AddSupport(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// SetEventbus implements Support. It registers the invoke commands on the
// manager's command proxy.
func (s *InvokeSupport) SetEventbus(_ context.Context, change SupportChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrManagerDestroyed
	}
	if change.Commands == nil || change.New == nil {
		return ErrNilEventbus
	}

	handlers := map[string]*eventbus.Callback{
		CmdInvoke:           eventbus.NewCallbackErr(s.cmdInvoke),
		CmdSyncInvoke:       eventbus.NewCallbackErr(s.cmdInvokeSync),
		CmdAsyncInvoke:      eventbus.NewAsyncCallback(s.cmdInvokeAsync),
		CmdSyncInvokeEvent:  eventbus.NewCallbackErr(s.cmdInvokeSyncEvent),
		CmdAsyncInvokeEvent: eventbus.NewAsyncCallback(s.cmdInvokeAsyncEvent),
		CmdGetMethodNames:   eventbus.NewCallbackErr(s.cmdGetMethodNames),
		CmdHasMethod:        eventbus.NewCallbackErr(s.cmdHasMethod),
	}
	named := make(map[string]*eventbus.Callback, len(handlers))
	for suffix, cb := range handlers {
		name := change.NewPrepend + ":" + suffix
		if change.New.IsGuarded(name) {
			return fmt.Errorf("%w: %q", ErrPrependInUse, name)
		}
		named[name] = cb
	}

	if err := change.Commands.OnMap(named, eventbus.WithContext(s), eventbus.WithGuard()); err != nil {
		return err
	}
	s.commands = change.Commands
	s.callbacks = s.callbacks[:0]
	for _, cb := range handlers {
		s.callbacks = append(s.callbacks, cb)
	}
	return nil
}

// Destroy implements Support.
func (s *InvokeSupport) Destroy(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil
	}
	s.destroyed = true
	if s.commands != nil {
		for _, cb := range s.callbacks {
			_ = s.commands.Off("", cb, nil)
		}
	}
	s.commands = nil
	s.callbacks = nil
	return nil
}

// targets returns the enabled entries among plugins, or all enabled
// entries when plugins is empty.
func (s *InvokeSupport) targets(plugins []string) ([]*Entry, Options, error) {
	found, _, err := s.manager.entries(plugins)
	if err != nil {
		return nil, Options{}, err
	}
	opts, err := s.manager.GetOptions()
	if err != nil {
		return nil, Options{}, err
	}

	enabled := found[:0:0]
	for _, e := range found {
		if e.Enabled() {
			enabled = append(enabled, e)
		}
	}
	if len(enabled) == 0 && opts.ThrowNoPlugin {
		return nil, opts, fmt.Errorf("%w: %v", ErrNoPlugin, plugins)
	}
	return enabled, opts, nil
}

// call invokes method on each target in order and returns the non-nil
// results. It stops at the first error.
func (s *InvokeSupport) call(ctx context.Context, method string, plugins []string, args []any) ([]any, error) {
	if method == "" {
		return nil, ErrInvalidMethod
	}
	targets, opts, err := s.targets(plugins)
	if err != nil {
		return nil, err
	}

	var (
		results []any
		invoked int
	)
	for _, e := range targets {
		fn, ok := lookupMethod(e.Instance(), method)
		if !ok {
			continue
		}
		invoked++
		result, err := safely(e.Name(), method, func() (any, error) {
			return fn(ctx, args...)
		})
		if err != nil {
			return nil, err
		}
		if result != nil {
			results = append(results, result)
		}
	}
	if invoked == 0 && opts.ThrowNoMethod {
		return nil, fmt.Errorf("%w: %q", ErrNoMethod, method)
	}
	return results, nil
}

// Invoke calls method on the targeted plugins and discards the results.
func (s *InvokeSupport) Invoke(ctx context.Context, method string, plugins []string, args ...any) error {
	_, err := s.call(ctx, method, plugins, args)
	return err
}

// InvokeSync calls method on the targeted plugins and collapses the
// non-nil results: none yield nil, one is returned bare, more as a []any.
func (s *InvokeSupport) InvokeSync(ctx context.Context, method string, plugins []string, args ...any) (any, error) {
	results, err := s.call(ctx, method, plugins, args)
	if err != nil {
		return nil, err
	}
	return eventbus.Collapse(results), nil
}

// InvokeAsync calls method on every targeted plugin, then awaits every
// Awaitable result in one aggregate wait.
func (s *InvokeSupport) InvokeAsync(ctx context.Context, method string, plugins []string, args ...any) (any, error) {
	results, err := s.call(ctx, method, plugins, args)
	if err != nil {
		return nil, err
	}
	return eventbus.Await(ctx, eventbus.Collapse(results))
}

// InvokeSyncEvent passes one shared PluginEvent to each targeted plugin in
// turn.
func (s *InvokeSupport) InvokeSyncEvent(ctx context.Context, opts InvokeEventOptions) (*InvokeEventResult, error) {
	return s.invokeEvent(ctx, opts, false)
}

// InvokeAsyncEvent is InvokeSyncEvent, awaiting any Awaitable a plugin
// returns before moving to the next one.
func (s *InvokeSupport) InvokeAsyncEvent(ctx context.Context, opts InvokeEventOptions) (*InvokeEventResult, error) {
	return s.invokeEvent(ctx, opts, true)
}

func (s *InvokeSupport) invokeEvent(ctx context.Context, opts InvokeEventOptions, await bool) (*InvokeEventResult, error) {
	if opts.Method == "" {
		return nil, ErrInvalidMethod
	}
	data, err := cloneMap(opts.Copy)
	if err != nil {
		return nil, fmt.Errorf("%w: copy: %w", ErrInvalidArgument, err)
	}
	maps.Copy(data, opts.Pass)

	targets, mopts, err := s.targets(opts.Plugins)
	if err != nil {
		return nil, err
	}

	ev := &PluginEvent{Data: data}
	res := &InvokeEventResult{}
	for _, e := range targets {
		fn, ok := lookupMethod(e.Instance(), opts.Method)
		if !ok {
			continue
		}
		ev.Eventbus = e.Eventbus()
		ev.PluginName = e.Name()
		ev.PluginOptions = e.Data().Options()

		result, err := safely(e.Name(), opts.Method, func() (any, error) {
			return fn(ctx, ev)
		})
		if err == nil && await {
			if a, isAwaitable := result.(eventbus.Awaitable); isAwaitable {
				_, err = a.Await(ctx)
			}
		}
		if err != nil {
			return nil, err
		}
		res.InvokeCount++
		res.InvokeNames = append(res.InvokeNames, e.Name())
	}
	if res.InvokeCount == 0 && mopts.ThrowNoMethod {
		return nil, fmt.Errorf("%w: %q", ErrNoMethod, opts.Method)
	}
	res.Data = ev.Data
	return res, nil
}

// GetMethodNames returns the sorted method names the plugin declares.
func (s *InvokeSupport) GetMethodNames(plugin string) ([]string, error) {
	e, err := s.manager.entry(plugin)
	if err != nil {
		return nil, err
	}
	names := methodNames(e.Instance())
	sort.Strings(names)
	return names, nil
}

// HasMethod reports whether any targeted enabled plugin declares method.
func (s *InvokeSupport) HasMethod(method string, plugins ...string) (bool, error) {
	found, _, err := s.manager.entries(plugins)
	if err != nil {
		return false, err
	}
	for _, e := range found {
		if !e.Enabled() {
			continue
		}
		if _, ok := lookupMethod(e.Instance(), method); ok {
			return true, nil
		}
	}
	return false, nil
}

// invokeArgs splits command arguments into method, plugins and the rest.
func invokeArgs(cmd string, args []any) (string, []string, []any, error) {
	if len(args) == 0 {
		return "", nil, nil, fmt.Errorf("%s: %w: missing method", cmd, ErrInvalidArgument)
	}
	method, ok := args[0].(string)
	if !ok {
		return "", nil, nil, fmt.Errorf("%s: %w: method must be a string, got %T", cmd, ErrInvalidArgument, args[0])
	}
	var plugins []string
	if len(args) > 1 {
		names, err := namesArg(args[1:2])
		if err != nil {
			return "", nil, nil, err
		}
		plugins = names
	}
	var rest []any
	if len(args) > 2 {
		rest = args[2:]
	}
	return method, plugins, rest, nil
}

func eventArg(cmd string, args []any) (InvokeEventOptions, error) {
	if len(args) > 0 {
		switch v := args[0].(type) {
		case InvokeEventOptions:
			return v, nil
		case *InvokeEventOptions:
			if v != nil {
				return *v, nil
			}
		}
	}
	return InvokeEventOptions{}, fmt.Errorf("%s: %w: want InvokeEventOptions", cmd, ErrInvalidArgument)
}

func (s *InvokeSupport) cmdInvoke(args ...any) (any, error) {
	method, plugins, rest, err := invokeArgs(CmdInvoke, args)
	if err != nil {
		return nil, err
	}
	return nil, s.Invoke(context.Background(), method, plugins, rest...)
}

func (s *InvokeSupport) cmdInvokeSync(args ...any) (any, error) {
	method, plugins, rest, err := invokeArgs(CmdSyncInvoke, args)
	if err != nil {
		return nil, err
	}
	return s.InvokeSync(context.Background(), method, plugins, rest...)
}

func (s *InvokeSupport) cmdInvokeAsync(ctx context.Context, args ...any) (any, error) {
	method, plugins, rest, err := invokeArgs(CmdAsyncInvoke, args)
	if err != nil {
		return nil, err
	}
	return s.InvokeAsync(ctx, method, plugins, rest...)
}

func (s *InvokeSupport) cmdInvokeSyncEvent(args ...any) (any, error) {
	opts, err := eventArg(CmdSyncInvokeEvent, args)
	if err != nil {
		return nil, err
	}
	return s.InvokeSyncEvent(context.Background(), opts)
}

func (s *InvokeSupport) cmdInvokeAsyncEvent(ctx context.Context, args ...any) (any, error) {
	opts, err := eventArg(CmdAsyncInvokeEvent, args)
	if err != nil {
		return nil, err
	}
	return s.InvokeAsyncEvent(ctx, opts)
}

func (s *InvokeSupport) cmdGetMethodNames(args ...any) (any, error) {
	names, err := namesArg(args)
	if err != nil {
		return nil, err
	}
	if len(names) != 1 {
		return nil, fmt.Errorf("%s: %w: want one plugin name", CmdGetMethodNames, ErrInvalidArgument)
	}
	return s.GetMethodNames(names[0])
}

func (s *InvokeSupport) cmdHasMethod(args ...any) (any, error) {
	method, plugins, _, err := invokeArgs(CmdHasMethod, args)
	if err != nil {
		return nil, err
	}
	return s.HasMethod(method, plugins...)
}
