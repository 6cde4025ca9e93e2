package plugin

import (
	"github.com/rs/zerolog"
)

// Loader loads plugins written in one language and creates extension
// instances from them. One Loader serves every descriptor naming its id.
// Loaders that hold a language runtime implement io.Closer; the registry
// closes them exactly once.
type Loader interface {
	// ID matches descriptor Loader values, case-insensitively.
	ID() string
	// AddSearchDirectory extends the language's module search path.
	AddSearchDirectory(dir string)
	// Load loads the plugin's code. Loading an already loaded descriptor
	// returns the existing handle.
	Load(info *PluginInfo) (Handle, error)
	// Unload releases runtime references tied to the handle. The code
	// itself may stay resident.
	Unload(handle Handle)
	// ProvidesExtension reports whether the plugin implements capability.
	ProvidesExtension(handle Handle, capability Capability) bool
	// CreateExtension instantiates capability. It returns ErrDoesNotProvide
	// or a *ConstructionError.
	CreateExtension(handle Handle, capability Capability, args ...any) (Extension, error)
	// GarbageCollect runs the language runtime's collector, if any.
	GarbageCollect()
}

// LoaderFactory builds a Loader. The logger is already scoped to the engine.
type LoaderFactory func(logger zerolog.Logger) (Loader, error)
