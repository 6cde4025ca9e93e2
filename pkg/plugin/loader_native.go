package plugin

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// NativeLoaderID is the loader id of plugins written in Go.
const NativeLoaderID = "C"

type nativeHandle struct {
	info   *PluginInfo
	module *ObjectModule
}

// NativeLoader loads Go plugins, either shared modules named lib<module>.so
// in the plugin's module dir or modules compiled into the host and
// registered with RegisterEmbedded. Modules stay resident once opened.
type NativeLoader struct {
	mu      sync.Mutex
	modules map[string]*ObjectModule
	handles map[*PluginInfo]*nativeHandle
	open    func(path string) (symbolTable, error)
	logger  zerolog.Logger
}

// NewNativeLoader creates the loader for id "C".
func NewNativeLoader(logger zerolog.Logger) *NativeLoader {
	return &NativeLoader{
		modules: make(map[string]*ObjectModule),
		handles: make(map[*PluginInfo]*nativeHandle),
		open:    openSharedModule,
		logger:  logger.With().Str("component", "native-loader").Logger(),
	}
}

func newNativeLoaderFactory(logger zerolog.Logger) (Loader, error) {
	return NewNativeLoader(logger), nil
}

func (l *NativeLoader) ID() string { return NativeLoaderID }

// AddSearchDirectory is a no-op; native modules are found by path.
func (l *NativeLoader) AddSearchDirectory(string) {}

func (l *NativeLoader) Load(info *PluginInfo) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.handles[info]; ok {
		return h, nil
	}

	key := strings.ToLower(info.ModuleName())
	module, ok := l.modules[key]
	if !ok {
		path := filepath.Join(info.ModuleDir(), "lib"+info.ModuleName()+sharedLibExt())
		module = newObjectModule(info.ModuleName(), path, info.externalString("Embedded"), l.open)
	}

	if err := module.Use(); err != nil {
		return nil, err
	}
	l.modules[key] = module

	h := &nativeHandle{info: info, module: module}
	l.handles[info] = h

	l.logger.Debug().
		Str("module", info.ModuleName()).
		Str("path", module.Path()).
		Int("use_count", module.UseCount()).
		Msg("Native module in use")

	return h, nil
}

func (l *NativeLoader) Unload(handle Handle) {
	h, ok := handle.(*nativeHandle)
	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handles[h.info] != h {
		return
	}
	delete(l.handles, h.info)
	h.module.Unuse()
}

func (l *NativeLoader) ProvidesExtension(handle Handle, capability Capability) bool {
	h, ok := handle.(*nativeHandle)
	if !ok {
		return false
	}
	_, ok = h.module.lookup(capability)
	return ok
}

func (l *NativeLoader) CreateExtension(handle Handle, capability Capability, args ...any) (Extension, error) {
	h, ok := handle.(*nativeHandle)
	if !ok {
		return nil, fmt.Errorf("foreign handle %T", handle)
	}

	reg, ok := h.module.lookup(capability)
	if !ok {
		return nil, ErrDoesNotProvide
	}

	instance, err := construct(reg.factory, args)
	if err == nil && !capability.Accepts(instance) {
		err = fmt.Errorf("%T does not implement %s", instance, capability)
	}
	if err != nil {
		return nil, &ConstructionError{Module: h.info.ModuleName(), Capability: capability.Name(), Err: err}
	}

	return NewExtension(capability, instance), nil
}

func construct(factory ExtensionFactory, args []any) (instance any, err error) {
	defer func() {
		if r := recover(); r != nil {
			instance = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return factory(args...)
}

// GarbageCollect is a no-op; the Go runtime collects on its own.
func (l *NativeLoader) GarbageCollect() {}

// Modules returns the number of resident modules.
func (l *NativeLoader) Modules() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.modules)
}
