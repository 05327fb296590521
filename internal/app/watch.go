package app

import (
	"errors"

	"go.uber.org/zap"

	"github.com/dshills/plugbus/internal/eventbus"
	"github.com/dshills/plugbus/internal/plugin"
	"github.com/dshills/plugbus/internal/plugin/lua"
	"github.com/dshills/plugbus/internal/watcher"
)

// watchTracker follows the manager's added and removed notifications and
// keeps the watcher in step with the loaded Lua plugins.
type watchTracker struct {
	watcher *watcher.Watcher
	logger  *zap.Logger
}

func (t *watchTracker) subscribe(bus *eventbus.Eventbus, prepend string) error {
	return bus.OnMap(map[string]*eventbus.Callback{
		prepend + ":" + plugin.EventPluginAdded:   eventbus.NewCallback(t.added),
		prepend + ":" + plugin.EventPluginRemoved: eventbus.NewCallback(t.removed),
	})
}

func (t *watchTracker) added(args ...any) any {
	data := pluginData(args)
	if data == nil || data.Plugin().Type != lua.ModuleType {
		return nil
	}
	path, _ := data.Module()["loadPath"].(string)
	if path == "" {
		return nil
	}
	if err := t.watcher.Watch(data.Name(), path); err != nil && !errors.Is(err, watcher.ErrAlreadyWatching) {
		t.logger.Warn("cannot watch plugin", zap.String("plugin", data.Name()), zap.Error(err))
	}
	return nil
}

func (t *watchTracker) removed(args ...any) any {
	if data := pluginData(args); data != nil {
		_ = t.watcher.Unwatch(data.Name())
	}
	return nil
}

func pluginData(args []any) *plugin.PluginData {
	if len(args) == 0 {
		return nil
	}
	data, _ := args[0].(*plugin.PluginData)
	return data
}
