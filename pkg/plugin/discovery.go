package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SearchPath pairs a directory holding plugin descriptors and code with the
// directory holding their data files.
type SearchPath struct {
	ModuleDir string `json:"module_dir" mapstructure:"module_dir"`
	DataDir   string `json:"data_dir" mapstructure:"data_dir"`
}

// scanSearchPath registers every descriptor found in the module dir and in
// its immediate subdirectories, except hidden ones such as .git. It returns how many new descriptors were
// registered.
func (e *Engine) scanSearchPath(sp SearchPath) (int, error) {
	return e.scanDirectory(sp.ModuleDir, sp.DataDir, true)
}

func (e *Engine) scanDirectory(dir, dataDir string, recurse bool) (int, error) {
	st, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			e.logger.Debug().Str("dir", dir).Msg("Directory does not exist, skipping")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to stat directory %s: %w", dir, err)
	}
	if !st.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	suffix := DescriptorSuffix(e.appName)
	added := 0
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if !recurse || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			n, err := e.scanDirectory(path, dataDir, false)
			if err != nil {
				e.logger.Warn().Err(err).Str("dir", path).Msg("Failed to scan plugin subdirectory")
			}
			added += n
			continue
		}

		if !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}

		info, err := ParseDescriptor(path, e.appName, dir, dataDir, e.locales)
		if err != nil {
			e.logger.Warn().Err(err).Str("file", path).Msg("Skipping plugin descriptor")
			continue
		}

		for _, w := range info.Warnings() {
			e.logger.Warn().Err(w).Str("module", info.ModuleName()).Str("file", path).Msg("Ignoring malformed dependency version")
		}

		if !e.registry.Register(info) {
			e.logger.Debug().
				Str("module", info.ModuleName()).
				Str("file", path).
				Msg("Plugin already registered, ignoring duplicate")
			continue
		}

		added++
		e.logger.Debug().
			Str("module", info.ModuleName()).
			Str("loader", info.LoaderID()).
			Str("file", path).
			Msg("Discovered plugin")
	}

	return added, nil
}
