// Package config loads the plugbus host configuration.
//
// A host file is YAML or TOML, chosen by extension:
//
//	eventbus:
//	  name: main
//	manager:
//	  event_prepend: plugins
//	  strict_lifecycle: true
//	logging:
//	  level: debug
//	lua:
//	  paths: [./plugins]
//	plugins:
//	  - name: greeter
//	    options: {greeting: hi}
//
// Environment variables prefixed with PLUGBUS_ override file values:
// PLUGBUS_LOGGING_LEVEL=warn sets logging.level.
package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/plugbus/internal/plugin"
)

// Config is the host configuration.
type Config struct {
	Eventbus EventbusConfig `yaml:"eventbus"`
	Manager  ManagerConfig  `yaml:"manager"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Watch    WatchConfig    `yaml:"watch"`
	Lua      LuaConfig      `yaml:"lua"`
	Plugins  []PluginConfig `yaml:"plugins"`
}

// EventbusConfig configures the shared bus.
type EventbusConfig struct {
	Name string `yaml:"name"`
}

// ManagerConfig mirrors plugin.Options plus the event prepend.
type ManagerConfig struct {
	EventPrepend      string `yaml:"event_prepend"`
	NoEventAdd        bool   `yaml:"no_event_add"`
	NoEventDestroy    bool   `yaml:"no_event_destroy"`
	NoEventOptions    bool   `yaml:"no_event_options"`
	NoEventRemoval    bool   `yaml:"no_event_removal"`
	NoEventSetEnabled bool   `yaml:"no_event_set_enabled"`
	ThrowNoMethod     bool   `yaml:"throw_no_method"`
	ThrowNoPlugin     bool   `yaml:"throw_no_plugin"`
	StrictLifecycle   bool   `yaml:"strict_lifecycle"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is console or json.
	Format string `yaml:"format"`

	// File receives logs in addition to stderr when set.
	File string `yaml:"file"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// WatchConfig configures reloading plugins when their files change.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// LuaConfig configures the Lua plugin loader.
type LuaConfig struct {
	Paths   []string      `yaml:"paths"`
	Timeout time.Duration `yaml:"timeout"`
}

// PluginConfig is a plugin to add at startup.
type PluginConfig struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`

	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`

	Options map[string]any `yaml:"options"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Eventbus: EventbusConfig{Name: "plugbus"},
		Manager:  ManagerConfig{EventPrepend: plugin.DefaultEventPrepend},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
		Metrics:  MetricsConfig{Addr: ":9090", Namespace: "plugbus"},
		Watch:    WatchConfig{Debounce: 200 * time.Millisecond},
		Lua:      LuaConfig{Timeout: 5 * time.Second},
	}
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs error
	invalid := func(field, format string, args ...any) {
		errs = multierr.Append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if p := c.Manager.EventPrepend; strings.TrimSpace(p) == "" || strings.ContainsAny(p, " \t\n") {
		invalid("manager.event_prepend", "must be a non-empty name without whitespace, got %q", p)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		invalid("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		invalid("logging.format", "must be console or json, got %q", c.Logging.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		invalid("metrics.addr", "required when metrics are enabled")
	}
	if c.Watch.Debounce < 0 {
		invalid("watch.debounce", "must not be negative")
	}
	if c.Lua.Timeout < 0 {
		invalid("lua.timeout", "must not be negative")
	}

	seen := make(map[string]bool, len(c.Plugins))
	for i, p := range c.Plugins {
		field := fmt.Sprintf("plugins[%d]", i)
		if err := p.Plugin().Validate(); err != nil {
			invalid(field, "%v", err)
			continue
		}
		if seen[p.Name] {
			invalid(field, "duplicate plugin %q", p.Name)
		}
		seen[p.Name] = true
	}
	return errs
}

// Options returns the manager options.
func (c ManagerConfig) Options() plugin.Options {
	return plugin.Options{
		NoEventAdd:        c.NoEventAdd,
		NoEventDestroy:    c.NoEventDestroy,
		NoEventOptions:    c.NoEventOptions,
		NoEventRemoval:    c.NoEventRemoval,
		NoEventSetEnabled: c.NoEventSetEnabled,
		ThrowNoMethod:     c.ThrowNoMethod,
		ThrowNoPlugin:     c.ThrowNoPlugin,
		StrictLifecycle:   c.StrictLifecycle,
	}
}

// Plugin returns the manager config for p. The instance is left to the
// manager's loader.
func (p PluginConfig) Plugin() plugin.Config {
	return plugin.Config{
		Name:    p.Name,
		Target:  p.Target,
		Options: p.Options,
	}
}

// IsEnabled reports whether the plugin starts enabled.
func (p PluginConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}
