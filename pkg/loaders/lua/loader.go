// Package lua loads plugins written in Lua. Every Lua loader in the process
// shares one interpreter.
//
// A plugin's entry chunk is <module>.lua or <module>/init.lua in its module
// dir and returns a table mapping capability names to classes:
//
//	local Lamp = {}
//	function Lamp:activate() self.object.on = true end
//	return { Activatable = Lamp }
package lua

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/harun/peas/pkg/plugin"
)

// LoaderID is the descriptor Loader value selecting this loader.
const LoaderID = "lua"

func init() {
	plugin.RegisterLoaderFactory(LoaderID, Factory)
}

// Factory builds a Loader for an engine.
func Factory(logger zerolog.Logger) (plugin.Loader, error) {
	return NewLoader(logger), nil
}

type handle struct {
	info    *plugin.PluginInfo
	classes *lua.LTable
}

// Loader implements plugin.Loader on the shared interpreter.
type Loader struct {
	rt     *runtime
	logger zerolog.Logger

	mu      sync.Mutex
	handles map[*plugin.PluginInfo]*handle
	dirs    map[string]bool
	once    sync.Once
}

// NewLoader acquires the shared interpreter; Close releases it.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		rt:      acquireRuntime(),
		logger:  logger.With().Str("component", "lua-loader").Logger(),
		handles: make(map[*plugin.PluginInfo]*handle),
		dirs:    make(map[string]bool),
	}
}

func (l *Loader) ID() string { return LoaderID }

// AddSearchDirectory prepends dir to package.path so plugins can require
// their own helper modules.
func (l *Loader) AddSearchDirectory(dir string) {
	l.mu.Lock()
	if l.dirs[dir] {
		l.mu.Unlock()
		return
	}
	l.dirs[dir] = true
	l.mu.Unlock()

	err := l.rt.protect(func(L *lua.LState) error {
		pkg, ok := L.GetGlobal("package").(*lua.LTable)
		if !ok {
			return errors.New("package library not loaded")
		}
		entry := filepath.Join(dir, "?.lua") + ";" + filepath.Join(dir, "?", "init.lua")
		current := lua.LVAsString(L.GetField(pkg, "path"))
		if strings.Contains(current, entry) {
			return nil
		}
		if current != "" {
			entry += ";" + current
		}
		L.SetField(pkg, "path", lua.LString(entry))
		return nil
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to extend package.path")
	}
}

func (l *Loader) Load(info *plugin.PluginInfo) (plugin.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.handles[info]; ok {
		return h, nil
	}

	path, err := entryChunk(info)
	if err != nil {
		return nil, err
	}

	var classes *lua.LTable
	err = l.rt.protect(func(L *lua.LState) error {
		fn, err := L.LoadFile(path)
		if err != nil {
			return err
		}
		results, err := call(L, fn)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return fmt.Errorf("%s returned nothing, expected a table of extension classes", path)
		}
		t, ok := results[0].(*lua.LTable)
		if !ok {
			return fmt.Errorf("%s returned %s, expected a table of extension classes", path, results[0].Type())
		}
		classes = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	h := &handle{info: info, classes: classes}
	l.handles[info] = h

	l.logger.Debug().
		Str("module", info.ModuleName()).
		Str("path", path).
		Msg("Lua plugin loaded")

	return h, nil
}

func entryChunk(info *plugin.PluginInfo) (string, error) {
	candidates := []string{
		filepath.Join(info.ModuleDir(), info.ModuleName()+".lua"),
		filepath.Join(info.ModuleDir(), info.ModuleName(), "init.lua"),
	}
	for _, path := range candidates {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no %s.lua or %s/init.lua in %s", info.ModuleName(), info.ModuleName(), info.ModuleDir())
}

func (l *Loader) Unload(h plugin.Handle) {
	lh, ok := h.(*handle)
	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handles[lh.info] != lh {
		return
	}
	delete(l.handles, lh.info)
	lh.classes = nil
}

func (l *Loader) class(h plugin.Handle, capability plugin.Capability) (*handle, *lua.LTable) {
	lh, ok := h.(*handle)
	if !ok {
		return nil, nil
	}

	l.mu.Lock()
	classes := lh.classes
	l.mu.Unlock()
	if classes == nil {
		return lh, nil
	}

	var class *lua.LTable
	_ = l.rt.protect(func(*lua.LState) error {
		class, _ = classes.RawGetString(capability.Name()).(*lua.LTable)
		return nil
	})
	return lh, class
}

func (l *Loader) ProvidesExtension(h plugin.Handle, capability plugin.Capability) bool {
	_, class := l.class(h, capability)
	return class != nil
}

// CreateExtension calls class:new(...) when the class defines new, and
// otherwise creates setmetatable({object = args[1]}, {__index = class}).
// Either way the instance receives a plugin_info table.
func (l *Loader) CreateExtension(h plugin.Handle, capability plugin.Capability, args ...any) (plugin.Extension, error) {
	lh, class := l.class(h, capability)
	if lh == nil {
		return nil, fmt.Errorf("foreign handle %T", h)
	}
	if class == nil {
		return nil, plugin.ErrDoesNotProvide
	}

	var instance *lua.LTable
	err := l.rt.protect(func(L *lua.LState) error {
		if ctor, ok := class.RawGetString("new").(*lua.LFunction); ok {
			luaArgs := make([]lua.LValue, 0, len(args)+1)
			luaArgs = append(luaArgs, class)
			for _, a := range args {
				luaArgs = append(luaArgs, toLua(L, a))
			}
			results, err := call(L, ctor, luaArgs...)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				return errors.New("new returned nothing")
			}
			t, ok := results[0].(*lua.LTable)
			if !ok {
				return fmt.Errorf("new returned %s, expected a table", results[0].Type())
			}
			instance = t
		} else {
			instance = L.NewTable()
			mt := L.NewTable()
			mt.RawSetString("__index", class)
			L.SetMetatable(instance, mt)
			if len(args) > 0 {
				instance.RawSetString("object", toLua(L, args[0]))
			}
		}
		instance.RawSetString("plugin_info", infoTable(L, lh.info))
		return nil
	})
	if err != nil {
		return nil, &plugin.ConstructionError{Module: lh.info.ModuleName(), Capability: capability.Name(), Err: err}
	}

	return &extension{rt: l.rt, capability: capability, instance: instance}, nil
}

func infoTable(L *lua.LState, info *plugin.PluginInfo) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("module_name", lua.LString(info.ModuleName()))
	t.RawSetString("name", lua.LString(info.Name()))
	t.RawSetString("module_dir", lua.LString(info.ModuleDir()))
	t.RawSetString("data_dir", lua.LString(info.DataDir()))
	t.RawSetString("version", lua.LString(info.Version()))
	return t
}

// GarbageCollect runs collectgarbage() in the shared interpreter.
func (l *Loader) GarbageCollect() {
	err := l.rt.protect(func(L *lua.LState) error {
		_, err := call(L, L.GetGlobal("collectgarbage"))
		return err
	})
	if err != nil {
		l.logger.Warn().Err(err).Msg("Lua garbage collection failed")
	}
}

// Close drops every handle and releases the shared interpreter.
func (l *Loader) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		for info, h := range l.handles {
			h.classes = nil
			delete(l.handles, info)
		}
		l.mu.Unlock()
		releaseRuntime()
	})
	return nil
}
