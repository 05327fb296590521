package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dshills/plugbus/internal/eventbus"
	"github.com/dshills/plugbus/internal/plugin"
	"github.com/dshills/plugbus/internal/watcher"
)

// Collector exports bus, manager and watcher statistics to Prometheus.
// Values are read at scrape time.
type Collector struct {
	bus     *eventbus.Eventbus
	manager *plugin.Manager
	watcher *watcher.Watcher

	events           *prometheus.Desc
	callbacks        *prometheus.Desc
	triggered        *prometheus.Desc
	callbacksInvoked *prometheus.Desc
	callbackErrors   *prometheus.Desc
	callbackPanics   *prometheus.Desc
	guardRejections  *prometheus.Desc
	deferred         *prometheus.Desc
	deferredPending  *prometheus.Desc
	plugins          *prometheus.Desc
	reloads          *prometheus.Desc
	reloadErrors     *prometheus.Desc
}

// NewCollector creates a collector. w may be nil.
func NewCollector(namespace string, bus *eventbus.Eventbus, m *plugin.Manager, w *watcher.Watcher) *Collector {
	labels := prometheus.Labels{"bus": bus.Name()}
	desc := func(subsystem, name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, variable, labels)
	}
	return &Collector{
		bus:     bus,
		manager: m,
		watcher: w,

		events:           desc("eventbus", "events", "Events with at least one callback."),
		callbacks:        desc("eventbus", "callbacks", "Registered callbacks."),
		triggered:        desc("eventbus", "triggered_total", "Events triggered."),
		callbacksInvoked: desc("eventbus", "callbacks_invoked_total", "Callbacks invoked."),
		callbackErrors:   desc("eventbus", "callback_errors_total", "Callbacks that returned an error."),
		callbackPanics:   desc("eventbus", "callback_panics_total", "Callbacks that panicked."),
		guardRejections:  desc("eventbus", "guard_rejections_total", "Registrations rejected by a guarded event."),
		deferred:         desc("eventbus", "deferred_total", "Triggers queued for deferred dispatch."),
		deferredPending:  desc("eventbus", "deferred_pending", "Deferred triggers queued."),
		plugins:          desc("manager", "plugins", "Plugins by state.", "state"),
		reloads:          desc("watcher", "reloads_total", "Plugins reloaded after a file change."),
		reloadErrors:     desc("watcher", "errors_total", "Watcher and reload errors."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.events, c.callbacks, c.triggered, c.callbacksInvoked, c.callbackErrors,
		c.callbackPanics, c.guardRejections, c.deferred, c.deferredPending, c.plugins,
	} {
		ch <- d
	}
	if c.watcher != nil {
		ch <- c.reloads
		ch <- c.reloadErrors
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.bus.Stats()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	gauge(c.events, float64(s.Events))
	gauge(c.callbacks, float64(s.Callbacks))
	counter(c.triggered, s.Triggered)
	counter(c.callbacksInvoked, s.CallbacksInvoked)
	counter(c.callbackErrors, s.CallbackErrors)
	counter(c.callbackPanics, s.CallbackPanics)
	counter(c.guardRejections, s.GuardRejections)
	counter(c.deferred, s.Deferred)
	gauge(c.deferredPending, float64(s.DeferredPending))

	if enabled, err := c.manager.GetEnabledPluginNames(true); err == nil {
		disabled, _ := c.manager.GetEnabledPluginNames(false)
		gauge(c.plugins, float64(len(enabled)), "enabled")
		gauge(c.plugins, float64(len(disabled)), "disabled")
	}

	if c.watcher != nil {
		ws := c.watcher.Stats()
		counter(c.reloads, ws.Reloads)
		counter(c.reloadErrors, ws.Errors)
	}
}

// MetricsServer serves /metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
	ln     net.Listener
}

// NewMetricsServer creates a server exposing the collectors of reg.
func NewMetricsServer(addr string, reg *prometheus.Registry, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start listens and serves in the background.
func (s *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	s.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the listening address once started.
func (s *MetricsServer) Addr() string {
	if s.ln == nil {
		return s.server.Addr
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
