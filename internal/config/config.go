package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harun/peas/pkg/hooks"
	"github.com/harun/peas/pkg/plugin"
)

// Config represents the main peas configuration
type Config struct {
	// AppName selects which descriptors are ours: <module>.<app>-plugin
	// files with an "[<App> Plugin]" section. Empty means plain .plugin.
	AppName string `json:"app_name" mapstructure:"app_name"`

	// Plugin search paths, scanned in order
	SearchPaths []plugin.SearchPath `json:"search_paths" mapstructure:"search_paths"`

	// Directory holding shared loader modules
	LoadersDir string `json:"loaders_dir" mapstructure:"loaders_dir"`

	// Loaders that must never be used
	DisabledLoaders []string `json:"disabled_loaders" mapstructure:"disabled_loaders"`

	// Locales for localized descriptor keys; empty uses the environment
	Locales []string `json:"locales" mapstructure:"locales"`

	// Plugins to load when no store is available
	ActivePlugins []string `json:"active_plugins" mapstructure:"active_plugins"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// SQLite database remembering the active plugin set
	StorePath string `json:"store_path" mapstructure:"store_path"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Events  EventsConfig  `json:"events" mapstructure:"events"`
	Hooks   HooksConfig   `json:"hooks" mapstructure:"hooks"`
	Watch   WatchConfig   `json:"watch" mapstructure:"watch"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`
	File     string `json:"file" mapstructure:"file"`
	Pretty   bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize  int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge   int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
	Path    string `json:"path" mapstructure:"path"`
}

// EventsConfig holds the websocket plugin event stream. It is served on
// the metrics listener.
type EventsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// HooksConfig holds lifecycle hook configuration
type HooksConfig struct {
	Enabled bool         `json:"enabled" mapstructure:"enabled"`
	Entries []hooks.Hook `json:"entries" mapstructure:"entries"`
}

// WatchConfig controls rescanning search paths when descriptors appear
type WatchConfig struct {
	Enabled    bool `json:"enabled" mapstructure:"enabled"`
	DebounceMs int  `json:"debounce_ms" mapstructure:"debounce_ms"`
	// Cron expression for periodic rescans, for file systems that do not
	// report changes. Empty disables them.
	Rescan string `json:"rescan" mapstructure:"rescan"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		AppName: "",
		Logging: LoggingConfig{
			Level:    "info",
			Pretty:   true,
			MaxSize:  50,
			MaxAge:   7,
			Compress: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
			Path:    "/metrics",
		},
		Events: EventsConfig{
			Enabled: false,
			Path:    "/events",
		},
		Hooks: HooksConfig{
			Enabled: false,
			Entries: []hooks.Hook{},
		},
		Watch: WatchConfig{
			Enabled:    true,
			DebounceMs: 200,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.SearchPaths) == 0 {
		return fmt.Errorf("at least one plugin search path must be configured")
	}
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
