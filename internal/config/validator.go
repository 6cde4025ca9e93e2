package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/harun/peas/pkg/watcher"
)

var appNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAppName checks the application name can appear in descriptor file
// names and section headers.
func (v *Validator) ValidateAppName(name string) error {
	if !appNamePattern.MatchString(name) {
		return fmt.Errorf("invalid app name %q (letters, digits, '-' and '_' only)", name)
	}
	return nil
}

// ValidateSearchPaths validates plugin search paths
func (v *Validator) ValidateSearchPaths(cfg *Config) []error {
	var errs []error
	seen := make(map[string]bool)
	for i, sp := range cfg.SearchPaths {
		if strings.TrimSpace(sp.ModuleDir) == "" {
			errs = append(errs, fmt.Errorf("search path %d: module_dir is required", i))
			continue
		}
		if seen[sp.ModuleDir] {
			errs = append(errs, fmt.Errorf("search path %d: duplicate module_dir %s", i, sp.ModuleDir))
		}
		seen[sp.ModuleDir] = true
	}
	return errs
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateMetricsAddr validates a host:port listen address
func (v *Validator) ValidateMetricsAddr(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid metrics address %q: %w", addr, err)
	}
	return nil
}

// ValidateModuleName validates a plugin module name
func (v *Validator) ValidateModuleName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("module name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid module name %q", name)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateAppName(cfg.AppName); err != nil {
		errors = append(errors, err)
	}

	errors = append(errors, v.ValidateSearchPaths(cfg)...)

	for _, name := range cfg.ActivePlugins {
		if err := v.ValidateModuleName(name); err != nil {
			errors = append(errors, fmt.Errorf("active_plugins: %w", err))
		}
	}

	if cfg.Metrics.Enabled || cfg.Events.Enabled {
		if err := v.ValidateMetricsAddr(cfg.Metrics.Addr); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errors = append(errors, fmt.Errorf("metrics path must start with '/', got %q", cfg.Metrics.Path))
	}
	if cfg.Events.Enabled {
		if !strings.HasPrefix(cfg.Events.Path, "/") {
			errors = append(errors, fmt.Errorf("events path must start with '/', got %q", cfg.Events.Path))
		} else if cfg.Metrics.Enabled && cfg.Events.Path == cfg.Metrics.Path {
			errors = append(errors, fmt.Errorf("events and metrics cannot share path %q", cfg.Events.Path))
		}
	}

	if cfg.Hooks.Enabled {
		for i, hook := range cfg.Hooks.Entries {
			if !hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.Event) == "" {
				errors = append(errors, fmt.Errorf("hook %d: event is required", i))
			}
			if strings.TrimSpace(hook.Script) == "" {
				errors = append(errors, fmt.Errorf("hook %d: script is required", i))
			}
			if hook.Timeout < 0 {
				errors = append(errors, fmt.Errorf("hook %d: timeout must be >= 0", i))
			}
		}
	}

	if cfg.Watch.DebounceMs < 0 {
		errors = append(errors, fmt.Errorf("watch.debounce_ms must be >= 0"))
	}
	if cfg.Watch.Rescan != "" {
		if _, err := watcher.ParseSchedule(cfg.Watch.Rescan); err != nil {
			errors = append(errors, fmt.Errorf("watch.rescan: %w", err))
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
