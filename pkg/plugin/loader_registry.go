package plugin

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LoaderSymbol is the entry point a loader module must export.
const LoaderSymbol = "NewLoader"

var (
	factoriesMu     sync.RWMutex
	globalFactories = make(map[string]LoaderFactory)
)

// RegisterLoaderFactory makes a loader available to every engine in the
// process. Loader packages call it from init.
func RegisterLoaderFactory(id string, factory LoaderFactory) {
	if factory == nil {
		return
	}
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	globalFactories[strings.ToLower(id)] = factory
}

func globalFactory(key string) (LoaderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := globalFactories[key]
	return f, ok
}

// symbolTable is the part of an opened shared module the registry uses.
type symbolTable interface {
	Lookup(name string) (any, error)
}

type loaderEntry struct {
	loader Loader
	err    error
}

// LoaderRegistry resolves loader ids to Loaders and caches the outcome,
// including failures, for the lifetime of the engine.
type LoaderRegistry struct {
	mu        sync.Mutex
	dir       string
	factories map[string]LoaderFactory
	entries   map[string]*loaderEntry
	order     []string
	disabled  map[string]bool
	open      func(path string) (symbolTable, error)
	logger    zerolog.Logger
	recorder  Recorder
}

// NewLoaderRegistry creates a registry that looks for loader modules in dir.
func NewLoaderRegistry(dir string, logger zerolog.Logger) *LoaderRegistry {
	return &LoaderRegistry{
		dir:       dir,
		factories: make(map[string]LoaderFactory),
		entries:   make(map[string]*loaderEntry),
		disabled:  make(map[string]bool),
		open:      openSharedModule,
		logger:    logger.With().Str("component", "loader-registry").Logger(),
		recorder:  nopRecorder{},
	}
}

// RegisterFactory adds an in-process loader for this registry only.
func (r *LoaderRegistry) RegisterFactory(id string, factory LoaderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(id)] = factory
}

// Disable makes id resolve to a failure. Loaders already created are kept.
func (r *LoaderRegistry) Disable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[strings.ToLower(id)] = true
}

// ModulePath returns where the registry looks for the module of id.
func (r *LoaderRegistry) ModulePath(id string) string {
	return filepath.Join(r.dir, "lib"+strings.ToLower(id)+"loader"+sharedLibExt())
}

// Get returns the loader for id, creating it on first use.
func (r *LoaderRegistry) Get(id string) (Loader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(id)
	if entry, ok := r.entries[key]; ok {
		return entry.loader, entry.err
	}

	loader, err := r.resolve(id, key)
	if err != nil {
		err = &LoaderResolutionError{LoaderID: id, Err: err}
		r.logger.Warn().Err(err).Str("loader", id).Msg("Failed to resolve plugin loader")
	} else {
		r.logger.Debug().Str("loader", loader.ID()).Msg("Plugin loader created")
	}
	r.recorder.LoaderResolved(key, err)

	r.entries[key] = &loaderEntry{loader: loader, err: err}
	r.order = append(r.order, key)
	return loader, err
}

func (r *LoaderRegistry) resolve(id, key string) (Loader, error) {
	if r.disabled[key] {
		return nil, errors.New("loader is disabled")
	}

	factory, ok := r.factories[key]
	if !ok {
		factory, ok = globalFactory(key)
	}
	if !ok {
		sym, err := r.lookupModule(id)
		if err != nil {
			return nil, err
		}
		factory = sym
	}

	loader, err := factory(r.logger)
	if err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, errors.New("loader factory returned nil")
	}
	if !strings.EqualFold(loader.ID(), id) {
		return nil, fmt.Errorf("module provides loader %q", loader.ID())
	}
	return loader, nil
}

func (r *LoaderRegistry) lookupModule(id string) (LoaderFactory, error) {
	if r.dir == "" {
		return nil, errors.New("no loaders directory configured")
	}

	path := r.ModulePath(id)
	mod, err := r.open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	sym, err := mod.Lookup(LoaderSymbol)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s in %s: %w", LoaderSymbol, path, err)
	}

	switch fn := sym.(type) {
	case func(zerolog.Logger) (Loader, error):
		if fn == nil {
			return nil, fmt.Errorf("%s in %s is nil", LoaderSymbol, path)
		}
		return fn, nil
	case func() Loader:
		if fn == nil {
			return nil, fmt.Errorf("%s in %s is nil", LoaderSymbol, path)
		}
		return func(zerolog.Logger) (Loader, error) { return fn(), nil }, nil
	case *LoaderFactory:
		if fn == nil || *fn == nil {
			return nil, fmt.Errorf("%s in %s is nil", LoaderSymbol, path)
		}
		return *fn, nil
	default:
		return nil, fmt.Errorf("%s in %s has unexpected type %T", LoaderSymbol, path, sym)
	}
}

// Loaders returns every successfully created loader in creation order.
func (r *LoaderRegistry) Loaders() []Loader {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Loader
	for _, key := range r.order {
		if e := r.entries[key]; e.loader != nil {
			out = append(out, e.loader)
		}
	}
	return out
}

// GarbageCollect forwards to every cached loader.
func (r *LoaderRegistry) GarbageCollect() {
	for _, l := range r.Loaders() {
		l.GarbageCollect()
	}
}

// Close tears down every loader that holds resources and empties the cache.
func (r *LoaderRegistry) Close() error {
	loaders := r.Loaders()

	r.mu.Lock()
	r.entries = make(map[string]*loaderEntry)
	r.order = nil
	r.mu.Unlock()

	var errs []error
	for _, l := range loaders {
		if c, ok := l.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close loader %s: %w", l.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func sharedLibExt() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}
