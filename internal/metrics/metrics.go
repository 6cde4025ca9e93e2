package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harun/peas/pkg/plugin"
)

// Metrics holds all Prometheus metrics for the application. It implements
// plugin.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	// Plugin metrics
	PluginsKnownGauge      prometheus.Gauge
	PluginsLoadedGauge     prometheus.Gauge
	PluginLoadsTotal       *prometheus.CounterVec
	PluginUnloadsTotal     *prometheus.CounterVec
	LoaderResolutionsTotal *prometheus.CounterVec

	// Extension metrics
	ExtensionsCreatedTotal *prometheus.CounterVec
	ExtensionCallsTotal    *prometheus.CounterVec
}

var _ plugin.Recorder = (*Metrics)(nil)

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Plugin metrics
		PluginsKnownGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugins_known",
				Help: "Number of plugin descriptors registered with the engine",
			},
		),
		PluginsLoadedGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugins_loaded",
				Help: "Number of currently loaded plugins",
			},
		),
		PluginLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_loads_total",
				Help: "Total number of plugin load attempts",
			},
			[]string{"module", "status"},
		),
		PluginUnloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_unloads_total",
				Help: "Total number of plugin unloads",
			},
			[]string{"module"},
		),
		LoaderResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loader_resolutions_total",
				Help: "Total number of plugin loader resolutions",
			},
			[]string{"loader", "status"},
		),

		// Extension metrics
		ExtensionsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extensions_created_total",
				Help: "Total number of extension instantiation attempts",
			},
			[]string{"capability", "status"},
		),
		ExtensionCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extension_calls_total",
				Help: "Total number of extension method calls",
			},
			[]string{"method", "status"},
		),
	}

	// Register all metrics
	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.PluginsKnownGauge)
	m.registry.MustRegister(m.PluginsLoadedGauge)
	m.registry.MustRegister(m.PluginLoadsTotal)
	m.registry.MustRegister(m.PluginUnloadsTotal)
	m.registry.MustRegister(m.LoaderResolutionsTotal)

	m.registry.MustRegister(m.ExtensionsCreatedTotal)
	m.registry.MustRegister(m.ExtensionCallsTotal)
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, plugin.ErrDoesNotProvide):
		return "not_provided"
	case plugin.IsMethodNotFound(err):
		return "method_not_found"
	default:
		return "error"
	}
}

func (m *Metrics) PluginLoaded(module string, err error) {
	m.PluginLoadsTotal.WithLabelValues(module, status(err)).Inc()
}

func (m *Metrics) PluginUnloaded(module string) {
	m.PluginUnloadsTotal.WithLabelValues(module).Inc()
}

func (m *Metrics) PluginsKnown(n int)  { m.PluginsKnownGauge.Set(float64(n)) }
func (m *Metrics) PluginsActive(n int) { m.PluginsLoadedGauge.Set(float64(n)) }

func (m *Metrics) LoaderResolved(loaderID string, err error) {
	m.LoaderResolutionsTotal.WithLabelValues(loaderID, status(err)).Inc()
}

func (m *Metrics) ExtensionCreated(capability string, err error) {
	m.ExtensionsCreatedTotal.WithLabelValues(capability, status(err)).Inc()
}

func (m *Metrics) ExtensionCalled(method string, err error) {
	m.ExtensionCallsTotal.WithLabelValues(method, status(err)).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
