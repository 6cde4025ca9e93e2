package plugin

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// ExtensionHandler observes extensions entering or leaving a set.
type ExtensionHandler func(info *PluginInfo, ext Extension)

// ExtensionSetOption configures an ExtensionSet.
type ExtensionSetOption func(*ExtensionSet)

// WithConstructArgs passes extra arguments after the target to every
// extension the set creates.
func WithConstructArgs(args ...any) ExtensionSetOption {
	return func(s *ExtensionSet) {
		s.args = append(s.args, args...)
	}
}

// WithExtensionAdded registers a handler that also sees the extensions
// created while the set is populated.
func WithExtensionAdded(fn ExtensionHandler) ExtensionSetOption {
	return func(s *ExtensionSet) {
		s.added = append(s.added, fn)
	}
}

// WithExtensionRemoved registers a handler called before an extension is
// removed, while it is still usable.
func WithExtensionRemoved(fn ExtensionHandler) ExtensionSetOption {
	return func(s *ExtensionSet) {
		s.removed = append(s.removed, fn)
	}
}

type setEntry struct {
	info *PluginInfo
	ext  Extension
}

// ExtensionSet keeps one extension of a capability for every loaded plugin
// that provides it, bound to one target. It follows engine events until
// closed.
type ExtensionSet struct {
	engine      *Engine
	capability  Capability
	target      any
	args        []any
	order       []string
	entries     map[string]setEntry
	added       []ExtensionHandler
	removed     []ExtensionHandler
	unsubscribe func()
	logger      zerolog.Logger
}

// NewExtensionSet creates a set and fills it from the plugins already loaded.
// A nil target is not passed to constructors.
func NewExtensionSet(engine *Engine, capability Capability, target any, opts ...ExtensionSetOption) *ExtensionSet {
	s := &ExtensionSet{
		engine:     engine,
		capability: capability,
		target:     target,
		entries:    make(map[string]setEntry),
		logger: engine.logger.With().
			Str("component", "extension-set").
			Str("capability", capability.Name()).
			Logger(),
	}
	if target != nil {
		s.args = []any{target}
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, info := range engine.Plugins() {
		if info.IsLoaded() {
			s.add(info)
		}
	}

	s.unsubscribe = engine.Subscribe(s.handleEvent)
	return s
}

// Capability returns the capability the set instantiates.
func (s *ExtensionSet) Capability() Capability { return s.capability }

// Target returns the object the set's extensions are bound to.
func (s *ExtensionSet) Target() any { return s.target }

// OnExtensionAdded registers a handler for extensions added from now on.
func (s *ExtensionSet) OnExtensionAdded(fn ExtensionHandler) {
	s.added = append(s.added, fn)
}

// OnExtensionRemoved registers a handler for extensions removed from now on.
func (s *ExtensionSet) OnExtensionRemoved(fn ExtensionHandler) {
	s.removed = append(s.removed, fn)
}

func (s *ExtensionSet) handleEvent(ev Event) {
	switch ev.Type {
	case EventPluginLoaded:
		s.add(ev.Plugin)
	case EventPluginUnloaded:
		s.remove(ev.Plugin)
	}
}

func (s *ExtensionSet) add(info *PluginInfo) {
	key := strings.ToLower(info.ModuleName())
	if _, exists := s.entries[key]; exists {
		return
	}
	if !s.engine.ProvidesExtension(info, s.capability) {
		return
	}

	ext, err := s.engine.CreateExtension(info, s.capability, s.args...)
	if err != nil {
		if !errors.Is(err, ErrDoesNotProvide) {
			s.logger.Warn().Err(err).Str("module", info.ModuleName()).Msg("Failed to create extension")
		}
		return
	}

	s.entries[key] = setEntry{info: info, ext: ext}
	s.order = append(s.order, key)

	for _, fn := range s.added {
		fn(info, ext)
	}
}

func (s *ExtensionSet) remove(info *PluginInfo) {
	key := strings.ToLower(info.ModuleName())
	entry, exists := s.entries[key]
	if !exists {
		return
	}

	for _, fn := range s.removed {
		fn(info, entry.ext)
	}

	s.drop(key)
}

func (s *ExtensionSet) drop(key string) {
	entry := s.entries[key]
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	release(entry.ext, s.logger)
}

func release(ext Extension, logger zerolog.Logger) {
	if c, ok := ext.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release extension")
		}
	}
}

// Get returns the extension created from the named plugin.
func (s *ExtensionSet) Get(moduleName string) (Extension, bool) {
	entry, ok := s.entries[strings.ToLower(moduleName)]
	return entry.ext, ok
}

// Len returns the number of live extensions.
func (s *ExtensionSet) Len() int { return len(s.entries) }

// ModuleNames lists the plugins with a live extension, in insertion order.
func (s *ExtensionSet) ModuleNames() []string {
	names := make([]string, 0, len(s.order))
	for _, key := range s.order {
		names = append(names, s.entries[key].info.ModuleName())
	}
	return names
}

// Foreach calls fn for every live extension in insertion order.
func (s *ExtensionSet) Foreach(fn ExtensionHandler) {
	for _, key := range append([]string(nil), s.order...) {
		if entry, ok := s.entries[key]; ok {
			fn(entry.info, entry.ext)
		}
	}
}

// Call invokes method on every extension. A failing extension does not
// stop the others; all failures are returned joined.
func (s *ExtensionSet) Call(method string, args ...any) error {
	var errs []error
	s.Foreach(func(info *PluginInfo, ext Extension) {
		_, err := ext.Call(method, args...)
		s.engine.recorder.ExtensionCalled(method, err)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("module", info.ModuleName()).
				Str("method", method).
				Msg("Extension call failed")
			errs = append(errs, fmt.Errorf("%s: %w", info.ModuleName(), err))
		}
	})
	return errors.Join(errs...)
}

// CallFor invokes method on the extension of one plugin.
func (s *ExtensionSet) CallFor(moduleName, method string, args ...any) ([]any, error) {
	ext, ok := s.Get(moduleName)
	if !ok {
		return nil, fmt.Errorf("%w: no %s extension for %s", ErrPluginNotFound, s.capability.Name(), moduleName)
	}
	out, err := ext.Call(method, args...)
	s.engine.recorder.ExtensionCalled(method, err)
	return out, err
}

// Close stops following the engine and releases every extension without
// notifying removal handlers.
func (s *ExtensionSet) Close() {
	if s.unsubscribe == nil {
		return
	}
	s.unsubscribe()
	s.unsubscribe = nil

	for _, key := range append([]string(nil), s.order...) {
		s.drop(key)
	}
}
