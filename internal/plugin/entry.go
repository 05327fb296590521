package plugin

import (
	"sync"

	"github.com/dshills/plugbus/internal/eventbus"
)

// Entry is the manager's record of one loaded plugin.
type Entry struct {
	name string

	mu       sync.RWMutex
	data     *PluginData
	instance any
	proxy    *eventbus.Proxy
	enabled  bool

	// held are the proxy registrations captured while disabled.
	held []eventbus.Registered
}

func newEntry(data *PluginData, instance any, proxy *eventbus.Proxy) *Entry {
	return &Entry{
		name:     data.Name(),
		data:     data,
		instance: instance,
		proxy:    proxy,
		enabled:  true,
	}
}

// Name returns the plugin name.
func (e *Entry) Name() string {
	return e.name
}

// Data returns the plugin data.
func (e *Entry) Data() *PluginData {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data
}

// Instance returns the plugin instance.
func (e *Entry) Instance() any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.instance
}

// Eventbus returns the plugin's proxy.
func (e *Entry) Eventbus() *eventbus.Proxy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.proxy
}

// Enabled reports whether the plugin is enabled.
func (e *Entry) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// setEnabled toggles the plugin. Disabling captures and clears the proxy's
// registrations; enabling replays them in their original order.
// It reports whether the state changed.
func (e *Entry) setEnabled(enabled bool) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.enabled == enabled {
		return false, nil
	}
	e.enabled = enabled

	if !enabled {
		return true, e.holdLocked()
	}

	held := e.held
	e.held = nil
	if e.proxy == nil || len(held) == 0 {
		return true, nil
	}
	return true, e.proxy.Replay(held)
}

func (e *Entry) holdLocked() error {
	if e.proxy == nil {
		return nil
	}
	snap, err := e.proxy.Snapshot()
	if err != nil {
		return err
	}
	e.held = append(e.held, snap...)
	return e.proxy.Off("", nil, nil)
}

// hold captures registrations made while disabled, such as those from a
// reload, so they stay inactive until the plugin is enabled.
func (e *Entry) hold() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.enabled {
		return nil
	}
	return e.holdLocked()
}

// reset removes every registration the plugin made.
func (e *Entry) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.held = nil
	if e.proxy != nil {
		_ = e.proxy.Off("", nil, nil)
	}
}

// setInstance swaps the plugin instance.
func (e *Entry) setInstance(instance any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instance = instance
}

// rebind moves the entry to a new proxy and data, destroying the old proxy.
// Held registrations survive and replay on the new proxy when enabled.
func (e *Entry) rebind(proxy *eventbus.Proxy, data *PluginData) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proxy != nil {
		_ = e.proxy.Destroy()
	}
	e.proxy = proxy
	e.data = data
}

// destroy destroys the proxy and drops the instance.
func (e *Entry) destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proxy != nil {
		_ = e.proxy.Destroy()
	}
	e.proxy = nil
	e.held = nil
	e.instance = nil
}

// events returns the event names the plugin registered, including those
// held while disabled.
func (e *Entry) events() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string
	if e.proxy != nil {
		if keys, err := e.proxy.ProxyKeys(nil); err == nil {
			for k := range keys {
				if !seen[k] {
					seen[k] = true
					names = append(names, k)
				}
			}
		}
	}
	for _, h := range e.held {
		if !seen[h.Name] {
			seen[h.Name] = true
			names = append(names, h.Name)
		}
	}
	return names
}
