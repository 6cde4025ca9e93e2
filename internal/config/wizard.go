package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/peas/pkg/plugin"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard reading from stdin
func NewWizard() *Wizard {
	return NewWizardWithIO(os.Stdin, os.Stdout)
}

// NewWizardWithIO creates a wizard over arbitrary streams
func NewWizardWithIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard, starting from base.
func (w *Wizard) Run(base *Config) (*Config, error) {
	fmt.Fprintln(w.out, "=== peas Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := base
	if cfg == nil {
		cfg = DefaultConfig()
	}
	validator := NewValidator()

	for {
		fmt.Fprintf(w.out, "Application name (empty for plain .plugin files) [%s]: ", cfg.AppName)
		name, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if name == "" {
			break
		}
		if err := validator.ValidateAppName(name); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.AppName = name
		break
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Plugin search paths (one per line, empty line to finish):")
	var paths []plugin.SearchPath
	for {
		fmt.Fprint(w.out, "Module dir: ")
		dir, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if dir == "" {
			break
		}
		dir = filepath.Clean(dir)
		paths = append(paths, plugin.SearchPath{ModuleDir: dir, DataDir: dir})
	}
	if len(paths) > 0 {
		cfg.SearchPaths = paths
	}

	fmt.Fprintln(w.out)
	fmt.Fprint(w.out, "Expose Prometheus metrics? (y/n) [n]: ")
	enable, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if strings.ToLower(enable) == "y" {
		cfg.Metrics.Enabled = true
		for {
			fmt.Fprintf(w.out, "Metrics address [%s]: ", cfg.Metrics.Addr)
			addr, err := w.readLine()
			if err != nil {
				return nil, err
			}
			if addr == "" {
				break
			}
			if err := validator.ValidateMetricsAddr(addr); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			cfg.Metrics.Addr = addr
			break
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Logging:")
	fmt.Fprintf(w.out, "Log level (debug/info/warn/error) [%s]: ", cfg.Logging.Level)
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.Logging.Level)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
