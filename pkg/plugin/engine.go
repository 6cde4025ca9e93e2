package plugin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// EngineConfig holds the parameters an Engine is built from.
type EngineConfig struct {
	// AppName selects the descriptor suffix (.<app>-plugin) and section
	// header ([<App> Plugin]).
	AppName string
	// SearchPaths are scanned in order; earlier paths shadow later ones.
	SearchPaths []SearchPath
	// LoadersDir holds loader modules named lib<id>loader.<ext>.
	LoadersDir string
	Logger     zerolog.Logger
}

// EngineOption configures optional Engine behaviour.
type EngineOption func(*Engine)

// WithLoaderFactory registers an in-process loader for this engine.
func WithLoaderFactory(id string, factory LoaderFactory) EngineOption {
	return func(e *Engine) {
		e.loaders.RegisterFactory(id, factory)
	}
}

// WithRecorder reports engine activity to r.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
			e.loaders.recorder = r
		}
	}
}

// WithLocales overrides the locales used for localized descriptor keys.
func WithLocales(locales ...string) EngineOption {
	return func(e *Engine) {
		var out []string
		for _, l := range locales {
			out = append(out, LocaleCandidates(l)...)
		}
		e.locales = dedupe(out)
	}
}

// Engine discovers plugin descriptors, loads and unloads plugins through
// their loaders and tells subscribers about it.
//
// Mutating operations are meant to be called from a single goroutine, the
// way a host drives them from its main loop. Events are delivered
// synchronously on that goroutine.
type Engine struct {
	appName     string
	searchPaths []SearchPath
	locales     []string
	registry    *Registry
	loaders     *LoaderRegistry
	events      subscribers
	recorder    Recorder
	logger      zerolog.Logger
	closed      bool
}

// NewEngine creates an engine and scans its search paths.
func NewEngine(cfg EngineConfig, opts ...EngineOption) *Engine {
	logger := cfg.Logger.With().Str("component", "plugin-engine").Logger()

	e := &Engine{
		appName:  cfg.AppName,
		locales:  SystemLocales(),
		registry: NewRegistry(),
		loaders:  NewLoaderRegistry(cfg.LoadersDir, cfg.Logger),
		recorder: nopRecorder{},
		logger:   logger,
	}
	e.loaders.RegisterFactory(NativeLoaderID, newNativeLoaderFactory)

	for _, opt := range opts {
		opt(e)
	}

	e.Scan(cfg.SearchPaths...)
	return e
}

// AppName returns the application name descriptors are matched against.
func (e *Engine) AppName() string { return e.appName }

// Loaders exposes the engine's loader registry.
func (e *Engine) Loaders() *LoaderRegistry { return e.loaders }

// SearchPaths returns the configured search paths in scan order.
func (e *Engine) SearchPaths() []SearchPath {
	return append([]SearchPath(nil), e.searchPaths...)
}

// Scan appends search paths and registers the descriptors they contain.
func (e *Engine) Scan(paths ...SearchPath) {
	for _, sp := range paths {
		if !e.hasSearchPath(sp) {
			e.searchPaths = append(e.searchPaths, sp)
		}
		e.scan(sp)
	}
	e.recorder.PluginsKnown(e.registry.Len())
}

// PrependSearchPath adds a search path ahead of the others. Descriptors it
// holds only win over ones not registered yet.
func (e *Engine) PrependSearchPath(sp SearchPath) {
	if !e.hasSearchPath(sp) {
		e.searchPaths = append([]SearchPath{sp}, e.searchPaths...)
	}
	e.scan(sp)
	e.recorder.PluginsKnown(e.registry.Len())
}

// Rescan scans every search path again. Registered descriptors are kept,
// even when their file is gone, and load state is untouched.
func (e *Engine) Rescan() int {
	before := e.registry.Len()
	for _, sp := range e.searchPaths {
		e.scan(sp)
	}
	added := e.registry.Len() - before
	e.recorder.PluginsKnown(e.registry.Len())
	e.logger.Info().Int("added", added).Int("total", e.registry.Len()).Msg("Plugin rescan completed")
	return added
}

func (e *Engine) hasSearchPath(sp SearchPath) bool {
	for _, existing := range e.searchPaths {
		if existing == sp {
			return true
		}
	}
	return false
}

func (e *Engine) scan(sp SearchPath) {
	n, err := e.scanSearchPath(sp)
	if err != nil {
		e.logger.Warn().Err(err).Str("dir", sp.ModuleDir).Msg("Failed to scan search path")
		return
	}
	e.logger.Debug().Str("dir", sp.ModuleDir).Int("count", n).Msg("Plugin discovery completed")
}

// Plugins returns every known descriptor in registration order.
func (e *Engine) Plugins() []*PluginInfo {
	return e.registry.All()
}

// Plugin returns the descriptor for a module name.
func (e *Engine) Plugin(moduleName string) (*PluginInfo, bool) {
	return e.registry.Get(moduleName)
}

// ActivePlugins returns the module names of loaded plugins.
func (e *Engine) ActivePlugins() []string {
	var names []string
	for _, info := range e.registry.All() {
		if info.IsLoaded() {
			names = append(names, info.ModuleName())
		}
	}
	return names
}

// Subscribe registers handler for engine events and returns a function
// that removes it.
func (e *Engine) Subscribe(handler EventHandler) func() {
	return e.events.subscribe(handler)
}

// LoadPlugin loads the named plugin and its dependencies. It reports
// whether the plugin is loaded afterwards.
func (e *Engine) LoadPlugin(moduleName string) bool {
	info, ok := e.registry.Get(moduleName)
	if !ok {
		e.logger.Warn().Str("module", moduleName).Msg("Cannot load unknown plugin")
		return false
	}
	return e.LoadPluginInfo(info) == nil
}

// LoadPluginInfo loads a descriptor and returns why it failed, if it did.
func (e *Engine) LoadPluginInfo(info *PluginInfo) error {
	if e.closed {
		return errors.New("engine is closed")
	}
	return e.load(info)
}

func (e *Engine) load(info *PluginInfo) error {
	if info.IsLoaded() || info.isLoading() {
		return nil
	}
	if ok, err := info.IsAvailable(); !ok {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return ErrUnavailable
	}

	info.setLoading(true)
	err := e.loadReal(info)
	info.setLoading(false)

	e.recorder.PluginLoaded(info.ModuleName(), err)
	if err != nil {
		info.markUnavailable(err)
		e.logger.Error().Err(err).Str("module", info.ModuleName()).Msg("Error loading plugin")
		return err
	}

	e.recorder.PluginsActive(len(e.ActivePlugins()))
	e.logger.Info().
		Str("module", info.ModuleName()).
		Str("loader", info.LoaderID()).
		Msg("Plugin loaded successfully")

	e.events.emit(Event{Type: EventPluginLoaded, Plugin: info})
	return nil
}

func (e *Engine) loadReal(info *PluginInfo) error {
	for _, dep := range info.dependencies {
		depInfo, ok := e.registry.Get(dep.Name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrDependencyNotFound, dep.Name)
		}
		if !dep.Check(depInfo.Version()) {
			return fmt.Errorf("%w: %q has version %q, want %s", ErrDependencyVersion, dep.Name, depInfo.Version(), dep)
		}
		if err := e.load(depInfo); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrDependencyFailed, dep.Name, err)
		}
	}

	loader, err := e.loaders.Get(info.LoaderID())
	if err != nil {
		return err
	}

	loader.AddSearchDirectory(info.ModuleDir())

	handle, err := loader.Load(info)
	if err != nil {
		return &LoadError{Module: info.ModuleName(), Err: err}
	}
	if handle == nil {
		return &LoadError{Module: info.ModuleName(), Err: errors.New("loader returned no handle")}
	}

	info.setLoaded(loader, handle)
	return nil
}

// UnloadPlugin unloads the named plugin after unloading every loaded plugin
// that depends on it. It reports whether the plugin is unloaded afterwards.
func (e *Engine) UnloadPlugin(moduleName string) bool {
	info, ok := e.registry.Get(moduleName)
	if !ok {
		e.logger.Warn().Str("module", moduleName).Msg("Cannot unload unknown plugin")
		return false
	}
	e.unload(info)
	return !info.IsLoaded()
}

// UnloadPluginInfo unloads a descriptor.
func (e *Engine) UnloadPluginInfo(info *PluginInfo) {
	e.unload(info)
}

func (e *Engine) unload(info *PluginInfo) {
	if !info.IsLoaded() || info.isUnloading() {
		return
	}
	info.setUnloading(true)
	defer info.setUnloading(false)

	all := e.registry.All()
	for i := len(all) - 1; i >= 0; i-- {
		other := all[i]
		if other != info && other.IsLoaded() && other.HasDependency(info.ModuleName()) {
			e.unload(other)
		}
	}

	e.events.emit(Event{Type: EventPluginUnloaded, Plugin: info})

	loader, handle := info.loadedWith()
	loader.Unload(handle)
	loader.GarbageCollect()
	info.clearLoaded()

	e.recorder.PluginUnloaded(info.ModuleName())
	e.recorder.PluginsActive(len(e.ActivePlugins()))
	e.logger.Info().Str("module", info.ModuleName()).Msg("Plugin unloaded")
}

// SetActivePlugins loads every available plugin named and unloads every
// loaded plugin not named, in dependency order. Builtin plugins are always
// loaded.
func (e *Engine) SetActivePlugins(names []string) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.ToLower(n)] = true
	}

	for _, info := range SortByDependencies(e.registry.All()) {
		if ok, _ := info.IsAvailable(); !ok {
			continue
		}

		toLoad := wanted[strings.ToLower(info.ModuleName())] || info.IsBuiltin()
		switch loaded := info.IsLoaded(); {
		case toLoad && !loaded:
			_ = e.load(info)
		case !toLoad && loaded:
			e.unload(info)
		}
	}
}

// ProvidesExtension reports whether a loaded plugin implements capability.
func (e *Engine) ProvidesExtension(info *PluginInfo, capability Capability) bool {
	loader, handle := info.loadedWith()
	if handle == nil {
		return false
	}
	return loader.ProvidesExtension(handle, capability)
}

// CreateExtension instantiates capability from a loaded plugin.
func (e *Engine) CreateExtension(info *PluginInfo, capability Capability, args ...any) (Extension, error) {
	loader, handle := info.loadedWith()
	if handle == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, info.ModuleName())
	}

	ext, err := loader.CreateExtension(handle, capability, args...)
	if err != nil && !errors.Is(err, ErrDoesNotProvide) {
		var ce *ConstructionError
		if !errors.As(err, &ce) {
			err = &ConstructionError{Module: info.ModuleName(), Capability: capability.Name(), Err: err}
		}
	}
	if !errors.Is(err, ErrDoesNotProvide) {
		e.recorder.ExtensionCreated(capability.Name(), err)
	}
	return ext, err
}

// IsConfigurable reports whether the named plugin is loaded and provides
// the Configurable capability.
func (e *Engine) IsConfigurable(moduleName string) bool {
	info, ok := e.registry.Get(moduleName)
	if !ok {
		return false
	}
	return e.ProvidesExtension(info, ConfigurableCapability)
}

// GarbageCollect asks every loader to collect garbage.
func (e *Engine) GarbageCollect() {
	e.loaders.GarbageCollect()
}

// Close unloads every plugin, closes the loaders and forgets all
// descriptors. It is safe to call more than once.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}

	sorted := SortByDependencies(e.registry.All())
	for i := len(sorted) - 1; i >= 0; i-- {
		e.unload(sorted[i])
	}

	err := e.loaders.Close()
	e.registry.Clear()
	e.closed = true
	e.recorder.PluginsKnown(0)

	e.logger.Debug().Msg("Plugin engine closed")
	return err
}
