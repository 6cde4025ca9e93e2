package plugin

import (
	"sort"
	"strings"
	"sync"
)

// SupportedIAge is the only descriptor interface age the engine accepts.
const SupportedIAge = 2

// DefaultLoaderID is used when a descriptor does not name a loader.
const DefaultLoaderID = "C"

// Handle is the opaque value a Loader returns from Load. The engine stores it
// on the descriptor and hands it back to the same Loader.
type Handle any

// PluginInfo is the parsed descriptor of one discoverable plugin together
// with its load state. Descriptors are owned by the Engine that scanned them;
// presentation fields never change after parsing.
type PluginInfo struct {
	file      string
	moduleDir string
	dataDir   string

	moduleName   string
	loaderID     string
	name         string
	description  string
	iconName     string
	authors      []string
	copyright    string
	website      string
	version      string
	dependencies []Dependency
	builtin      bool
	iage         int
	extra        map[string]any
	warnings     []error

	mu        sync.RWMutex
	available bool
	loading   bool
	unloading bool
	loader    Loader
	handle    Handle
	err       error
}

func (i *PluginInfo) File() string        { return i.file }
func (i *PluginInfo) ModuleDir() string   { return i.moduleDir }
func (i *PluginInfo) DataDir() string     { return i.dataDir }
func (i *PluginInfo) ModuleName() string  { return i.moduleName }
func (i *PluginInfo) LoaderID() string    { return i.loaderID }
func (i *PluginInfo) Name() string        { return i.name }
func (i *PluginInfo) Description() string { return i.description }
func (i *PluginInfo) IconName() string    { return i.iconName }
func (i *PluginInfo) Copyright() string   { return i.copyright }
func (i *PluginInfo) Website() string     { return i.website }
func (i *PluginInfo) Version() string     { return i.version }
func (i *PluginInfo) IAge() int           { return i.iage }

// IsBuiltin reports whether the host should keep the plugin loaded at all times.
func (i *PluginInfo) IsBuiltin() bool { return i.builtin }

// IsHidden reports whether the plugin asked to be left out of plugin listings.
func (i *PluginInfo) IsHidden() bool {
	hidden, _ := i.extra["Hidden"].(bool)
	return hidden
}

// Authors returns a copy of the ordered author list.
func (i *PluginInfo) Authors() []string {
	return append([]string(nil), i.authors...)
}

// Warnings returns the problems found while parsing the descriptor that did
// not prevent its registration, such as malformed dependency versions.
func (i *PluginInfo) Warnings() []error {
	return i.warnings
}

// Dependencies returns a copy of the declared dependencies.
func (i *PluginInfo) Dependencies() []Dependency {
	return append([]Dependency(nil), i.dependencies...)
}

// HasDependency reports whether the plugin depends on the named module.
func (i *PluginInfo) HasDependency(moduleName string) bool {
	for _, dep := range i.dependencies {
		if strings.EqualFold(dep.Name, moduleName) {
			return true
		}
	}
	return false
}

// ExternalData returns the value of a key the descriptor carried but the
// engine does not interpret. Values are either bool or string.
func (i *PluginInfo) ExternalData(key string) (any, bool) {
	v, ok := i.extra[key]
	return v, ok
}

// ExternalDataKeys lists every uninterpreted key in sorted order.
func (i *PluginInfo) ExternalDataKeys() []string {
	keys := make([]string, 0, len(i.extra))
	for k := range i.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (i *PluginInfo) externalString(key string) string {
	s, _ := i.extra[key].(string)
	return s
}

// IsLoaded reports whether the plugin currently holds a loader handle.
func (i *PluginInfo) IsLoaded() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.handle != nil
}

// IsAvailable reports whether the plugin may still be loaded. Once a load
// attempt fails the plugin stays unavailable and the error explains why.
func (i *PluginInfo) IsAvailable() (bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.available, i.err
}

// Handle returns the loader handle while the plugin is loaded.
func (i *PluginInfo) Handle() Handle {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.handle
}

func (i *PluginInfo) loadedWith() (Loader, Handle) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loader, i.handle
}

func (i *PluginInfo) setLoaded(loader Loader, handle Handle) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.loader = loader
	i.handle = handle
}

func (i *PluginInfo) clearLoaded() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.loader = nil
	i.handle = nil
}

func (i *PluginInfo) markUnavailable(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.available = false
	i.err = err
	i.loader = nil
	i.handle = nil
}

func (i *PluginInfo) isLoading() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loading
}

func (i *PluginInfo) setLoading(v bool) {
	i.mu.Lock()
	i.loading = v
	i.mu.Unlock()
}

func (i *PluginInfo) isUnloading() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.unloading
}

func (i *PluginInfo) setUnloading(v bool) {
	i.mu.Lock()
	i.unloading = v
	i.mu.Unlock()
}
