// Package app assembles the plugbus host: logger, eventbus, plugin manager,
// Lua loader, file watcher and metrics, wired with fx.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dshills/plugbus/internal/config"
	"github.com/dshills/plugbus/internal/eventbus"
	"github.com/dshills/plugbus/internal/plugin"
	"github.com/dshills/plugbus/internal/plugin/lua"
	"github.com/dshills/plugbus/internal/watcher"
)

// Module provides the host components for cfg.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("plugbus",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideEventbus,
			plugin.NewRegistry,
			provideLuaLoader,
			provideManager,
			provideInvokeSupport,
			provideWatcher,
			provideMetrics,
		),
		fx.Invoke(registerLifecycle),
	)
}

// New creates the fx application. Extra options can supply Go plugins
// through the *plugin.Registry or replace components.
func New(cfg *config.Config, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		Module(cfg),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
	}
	return fx.New(append(opts, extra...)...)
}

func provideLogger(cfg *config.Config, lc fx.Lifecycle) (*zap.Logger, error) {
	logger, closeFile, err := NewLogger(LoggerConfigFrom(cfg.Logging))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = logger.Sync()
			closeFile()
			return nil
		},
	})
	return logger, nil
}

func provideEventbus(cfg *config.Config, logger *zap.Logger, lc fx.Lifecycle) *eventbus.Eventbus {
	bus := eventbus.New(
		eventbus.WithName(cfg.Eventbus.Name),
		eventbus.WithLogger(logger.Named("eventbus")),
	)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			bus.Close()
			return nil
		},
	})
	return bus
}

func provideLuaLoader(cfg *config.Config, logger *zap.Logger) *lua.Loader {
	opts := []lua.LoaderOption{
		lua.WithPluginOptions(
			lua.WithLogger(logger.Named("lua")),
			lua.WithStateOptions(lua.WithExecutionTimeout(cfg.Lua.Timeout)),
		),
	}
	if len(cfg.Lua.Paths) > 0 {
		opts = append(opts, lua.WithPaths(cfg.Lua.Paths...))
	}
	return lua.NewLoader(opts...)
}

func provideManager(cfg *config.Config, bus *eventbus.Eventbus, reg *plugin.Registry, loader *lua.Loader, logger *zap.Logger) (*plugin.Manager, error) {
	return plugin.NewManager(
		plugin.WithEventbus(bus),
		plugin.WithEventPrepend(cfg.Manager.EventPrepend),
		plugin.WithOptions(cfg.Manager.Options()),
		plugin.WithLoader(plugin.ChainLoader{reg, loader}),
		plugin.WithLogger(logger.Named("plugins")),
	)
}

func provideInvokeSupport(m *plugin.Manager) (*plugin.InvokeSupport, error) {
	return plugin.NewInvokeSupport(context.Background(), m)
}

// provideWatcher returns nil when watching is disabled.
func provideWatcher(cfg *config.Config, m *plugin.Manager, logger *zap.Logger) (*watcher.Watcher, error) {
	if !cfg.Watch.Enabled {
		return nil, nil
	}
	return watcher.New(m,
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithLogger(logger.Named("watcher")),
	)
}

// provideMetrics returns nil when metrics are disabled.
func provideMetrics(cfg *config.Config, bus *eventbus.Eventbus, m *plugin.Manager, w *watcher.Watcher, logger *zap.Logger) (*MetricsServer, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(cfg.Metrics.Namespace, bus, m, w)); err != nil {
		return nil, err
	}
	return NewMetricsServer(cfg.Metrics.Addr, reg, logger.Named("metrics")), nil
}

type lifecycleParams struct {
	fx.In

	Config  *config.Config
	Logger  *zap.Logger
	Bus     *eventbus.Eventbus
	Manager *plugin.Manager
	Invoke  *plugin.InvokeSupport
	Watcher *watcher.Watcher
	Metrics *MetricsServer
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	var tracker *watchTracker

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if p.Watcher != nil {
				tracker = &watchTracker{watcher: p.Watcher, logger: p.Logger}
				if err := tracker.subscribe(p.Bus, p.Config.Manager.EventPrepend); err != nil {
					return err
				}
			}
			if err := StartPlugins(ctx, p.Manager, p.Config.Plugins); err != nil {
				return err
			}
			if p.Metrics != nil {
				if err := p.Metrics.Start(); err != nil {
					return fmt.Errorf("start metrics: %w", err)
				}
			}
			names, _ := p.Manager.GetPluginNames()
			p.Logger.Info("plugbus started", zap.String("bus", p.Bus.Name()), zap.Strings("plugins", names))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			var errs error
			if p.Metrics != nil {
				errs = multierr.Append(errs, p.Metrics.Stop(ctx))
			}
			if p.Watcher != nil {
				errs = multierr.Append(errs, p.Watcher.Close())
			}
			errs = multierr.Append(errs, p.Manager.Destroy(ctx))
			p.Logger.Info("plugbus stopped")
			return errs
		},
	})
}

// StartPlugins adds the configured plugins and disables those configured
// off.
func StartPlugins(ctx context.Context, m *plugin.Manager, plugins []config.PluginConfig) error {
	if len(plugins) == 0 {
		return nil
	}
	cfgs := make([]plugin.Config, 0, len(plugins))
	var disabled []string
	for _, pc := range plugins {
		cfgs = append(cfgs, pc.Plugin())
		if !pc.IsEnabled() {
			disabled = append(disabled, pc.Name)
		}
	}
	if _, err := m.AddAll(ctx, cfgs, nil); err != nil {
		return fmt.Errorf("add plugins: %w", err)
	}
	if len(disabled) > 0 {
		if _, err := m.SetEnabled(ctx, plugin.EnableOptions{Enabled: false, Plugins: disabled}); err != nil {
			return fmt.Errorf("disable plugins: %w", err)
		}
	}
	return nil
}
