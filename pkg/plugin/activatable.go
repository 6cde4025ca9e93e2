package plugin

import "github.com/rs/zerolog"

// ActivatableSet activates every Activatable extension for a target as its
// plugin loads and deactivates it before the plugin unloads.
type ActivatableSet struct {
	*ExtensionSet
	logger zerolog.Logger
}

// NewActivatableSet creates the set and activates the extensions of plugins
// that are already loaded.
func NewActivatableSet(engine *Engine, target any, opts ...ExtensionSetOption) *ActivatableSet {
	s := &ActivatableSet{
		logger: engine.logger.With().Str("component", "activatable-set").Logger(),
	}
	opts = append([]ExtensionSetOption{
		WithExtensionAdded(s.activate),
		WithExtensionRemoved(s.deactivate),
	}, opts...)
	s.ExtensionSet = NewExtensionSet(engine, ActivatableCapability, target, opts...)
	return s
}

func (s *ActivatableSet) activate(info *PluginInfo, ext Extension) {
	if _, err := ext.Call("activate"); err != nil {
		s.logger.Warn().Err(err).Str("module", info.ModuleName()).Msg("Failed to activate extension")
	}
}

func (s *ActivatableSet) deactivate(info *PluginInfo, ext Extension) {
	if _, err := ext.Call("deactivate"); err != nil {
		s.logger.Warn().Err(err).Str("module", info.ModuleName()).Msg("Failed to deactivate extension")
	}
}

// UpdateState asks every extension to refresh its state from the target.
func (s *ActivatableSet) UpdateState() error {
	return s.Call("update_state")
}

// Close deactivates every extension, then closes the set.
func (s *ActivatableSet) Close() {
	s.Foreach(s.deactivate)
	s.ExtensionSet.Close()
}
