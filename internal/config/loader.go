package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/harun/peas/pkg/plugin"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file. A missing file yields the
// defaults. PEAS_* environment variables override file values, e.g.
// PEAS_LOGGING_LEVEL.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.path()
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("json")

		v.SetEnvPrefix("PEAS")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := ValidateDocument(data); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills paths derived from the data directory.
func applyDefaults(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".peas")
	}

	if len(cfg.SearchPaths) == 0 {
		dir := filepath.Join(cfg.DataDir, "plugins")
		cfg.SearchPaths = []plugin.SearchPath{{ModuleDir: dir, DataDir: dir}}
	}
	for i := range cfg.SearchPaths {
		if cfg.SearchPaths[i].DataDir == "" {
			cfg.SearchPaths[i].DataDir = cfg.SearchPaths[i].ModuleDir
		}
	}

	if cfg.LoadersDir == "" {
		cfg.LoadersDir = filepath.Join(cfg.DataDir, "loaders")
	}

	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(cfg.DataDir, "peas.db")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "peas.log")
	}

	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.path()
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("app_name", cfg.AppName)
	v.Set("search_paths", cfg.SearchPaths)
	v.Set("loaders_dir", cfg.LoadersDir)
	v.Set("disabled_loaders", cfg.DisabledLoaders)
	v.Set("locales", cfg.Locales)
	v.Set("active_plugins", cfg.ActivePlugins)
	v.Set("data_dir", cfg.DataDir)
	v.Set("store_path", cfg.StorePath)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)
	v.Set("events", cfg.Events)
	v.Set("hooks", cfg.Hooks)
	v.Set("watch", cfg.Watch)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

func (l *Loader) path() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".peas", "peas.json"), nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	path, _ := l.path()
	return path
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
