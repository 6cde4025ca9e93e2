package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/harun/peas/pkg/plugin"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	if m.registry == nil {
		t.Error("Registry is nil")
	}

	if m.PluginsKnownGauge == nil || m.PluginsLoadedGauge == nil {
		t.Error("plugin gauges are nil")
	}
	if m.PluginLoadsTotal == nil || m.PluginUnloadsTotal == nil || m.LoaderResolutionsTotal == nil {
		t.Error("plugin counters are nil")
	}
	if m.ExtensionsCreatedTotal == nil || m.ExtensionCallsTotal == nil {
		t.Error("extension counters are nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	// Record some sample metrics so they appear in output
	m.PluginsKnown(3)
	m.PluginsActive(1)
	m.PluginLoaded("alpha", nil)
	m.PluginUnloaded("alpha")
	m.LoaderResolved("lua", nil)
	m.ExtensionCreated("Activatable", nil)
	m.ExtensionCalled("activate", nil)

	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler returned nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	expectedMetrics := []string{
		"plugins_known",
		"plugins_loaded",
		"plugin_loads_total",
		"plugin_unloads_total",
		"loader_resolutions_total",
		"extensions_created_total",
		"extension_calls_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Metrics output missing: %s", metric)
		}
	}
}

func TestStatusLabels(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{plugin.ErrDoesNotProvide, "not_provided"},
		{fmt.Errorf("%w: %q", plugin.ErrMethodNotFound, "x"), "method_not_found"},
		{&plugin.CallError{Method: "x", Err: errors.New("boom")}, "error"},
	}

	for _, tt := range tests {
		if got := status(tt.err); got != tt.want {
			t.Errorf("status(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestRecorderCounts(t *testing.T) {
	m := NewMetrics()

	m.PluginLoaded("alpha", nil)
	m.PluginLoaded("alpha", nil)
	m.PluginLoaded("beta", errors.New("broken"))
	m.ExtensionCreated("Greeter", plugin.ErrDoesNotProvide)

	if got := testutil.ToFloat64(m.PluginLoadsTotal.WithLabelValues("alpha", "success")); got != 2 {
		t.Errorf("alpha loads = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PluginLoadsTotal.WithLabelValues("beta", "error")); got != 1 {
		t.Errorf("beta failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ExtensionsCreatedTotal.WithLabelValues("Greeter", "not_provided")); got != 1 {
		t.Errorf("not provided = %v, want 1", got)
	}
}

type stubLoader struct{}

func (stubLoader) ID() string                { return plugin.NativeLoaderID }
func (stubLoader) AddSearchDirectory(string) {}
func (stubLoader) Unload(plugin.Handle)      {}
func (stubLoader) GarbageCollect()           {}

func (stubLoader) Load(info *plugin.PluginInfo) (plugin.Handle, error) { return info, nil }

func (stubLoader) ProvidesExtension(plugin.Handle, plugin.Capability) bool { return false }

func (stubLoader) CreateExtension(plugin.Handle, plugin.Capability, ...any) (plugin.Extension, error) {
	return nil, plugin.ErrDoesNotProvide
}

func TestEngineReportsToMetrics(t *testing.T) {
	dir := t.TempDir()
	for _, module := range []string{"alpha", "beta"} {
		desc := "[Plugin]\nIAge=2\nModule=" + module + "\nName=" + module + "\n"
		if err := os.WriteFile(filepath.Join(dir, module+".plugin"), []byte(desc), 0644); err != nil {
			t.Fatal(err)
		}
	}

	m := NewMetrics()
	engine := plugin.NewEngine(plugin.EngineConfig{
		SearchPaths: []plugin.SearchPath{{ModuleDir: dir, DataDir: dir}},
		Logger:      zerolog.Nop(),
	},
		plugin.WithRecorder(m),
		plugin.WithLoaderFactory(plugin.NativeLoaderID, func(zerolog.Logger) (plugin.Loader, error) {
			return stubLoader{}, nil
		}),
	)
	defer engine.Close()

	if got := testutil.ToFloat64(m.PluginsKnownGauge); got != 2 {
		t.Errorf("plugins_known = %v, want 2", got)
	}

	if !engine.LoadPlugin("alpha") {
		t.Fatal("alpha failed to load")
	}
	if got := testutil.ToFloat64(m.PluginsLoadedGauge); got != 1 {
		t.Errorf("plugins_loaded = %v, want 1", got)
	}

	engine.UnloadPlugin("alpha")
	if got := testutil.ToFloat64(m.PluginUnloadsTotal.WithLabelValues("alpha")); got != 1 {
		t.Errorf("alpha unloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PluginsLoadedGauge); got != 0 {
		t.Errorf("plugins_loaded = %v, want 0", got)
	}
}
