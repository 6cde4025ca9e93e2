package plugin

import (
	"strings"
	"sync"
)

// Registry holds the known plugin descriptors in registration order, keyed
// case-insensitively by module name.
type Registry struct {
	mu      sync.RWMutex
	plugins []*PluginInfo
	byName  map[string]*PluginInfo
}

// NewRegistry creates an empty descriptor registry
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*PluginInfo),
	}
}

func registryKey(moduleName string) string {
	return strings.ToLower(moduleName)
}

// Register adds a descriptor unless one with the same module name is
// already present. The first registration wins.
func (r *Registry) Register(info *PluginInfo) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(info.ModuleName())
	if _, exists := r.byName[key]; exists {
		return false
	}
	r.byName[key] = info
	r.plugins = append(r.plugins, info)
	return true
}

// Get retrieves a descriptor by module name
func (r *Registry) Get(moduleName string) (*PluginInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byName[registryKey(moduleName)]
	return info, ok
}

// All returns every descriptor in registration order
func (r *Registry) All() []*PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*PluginInfo(nil), r.plugins...)
}

// Len returns the number of registered descriptors
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Clear drops every descriptor
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = nil
	r.byName = make(map[string]*PluginInfo)
}
