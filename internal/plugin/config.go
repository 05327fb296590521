package plugin

import (
	"fmt"
	"strings"
)

// Factory creates a plugin instance.
type Factory func() (any, error)

// Config describes a plugin to add.
type Config struct {
	// Name uniquely identifies the plugin. Required.
	Name string

	// Target is the module path handed to the ModuleLoader.
	// Defaults to Name.
	Target string

	// Instance is the plugin value or a Factory producing it.
	// When nil the instance is resolved through the ModuleLoader.
	Instance any

	// Options are plugin options; plain data only.
	Options map[string]any
}

func (c Config) target() string {
	if c.Target != "" {
		return c.Target
	}
	return c.Name
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if strings.ContainsAny(c.Name, " \t\n") {
		return fmt.Errorf("%w: name %q contains whitespace", ErrInvalidConfig, c.Name)
	}
	if _, err := cloneMap(c.Options); err != nil {
		return fmt.Errorf("%w: options: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Options are the manager options.
type Options struct {
	// NoEventAdd disables the add commands on the bus.
	NoEventAdd bool

	// NoEventDestroy disables the destroy command on the bus.
	NoEventDestroy bool

	// NoEventOptions disables the set options command on the bus.
	NoEventOptions bool

	// NoEventRemoval disables the remove commands on the bus.
	NoEventRemoval bool

	// NoEventSetEnabled disables the set enabled command on the bus.
	NoEventSetEnabled bool

	// ThrowNoMethod makes invocations that find no method fail.
	ThrowNoMethod bool

	// ThrowNoPlugin makes invocations that match no plugin fail.
	ThrowNoPlugin bool

	// StrictLifecycle makes Add fail, and remove the plugin again, when
	// OnPluginLoad returns an error. Otherwise the error is logged.
	StrictLifecycle bool
}

// EnableOptions selects plugins to enable or disable.
type EnableOptions struct {
	Enabled bool

	// Plugins names the plugins to change; empty means all.
	Plugins []string
}

// ReloadOptions selects a plugin to reload.
type ReloadOptions struct {
	Plugin string

	// Instance replaces the plugin instance when set. It may be a Factory.
	Instance any

	// Silent suppresses the reloaded notification.
	Silent bool
}

// EnabledResult reports the enabled state of a plugin.
type EnabledResult struct {
	Plugin  string
	Enabled bool
	Loaded  bool
}

// RemoveResult reports the removal of a plugin.
type RemoveResult struct {
	Plugin  string
	Success bool
	Errors  []error
}

// EventsResult lists the event names a plugin registered.
type EventsResult struct {
	Plugin string
	Events []string
}

// EnabledEvent is the payload of the enabled notification.
type EnabledEvent struct {
	Data    *PluginData
	Enabled bool
}
