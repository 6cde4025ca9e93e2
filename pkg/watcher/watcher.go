// Package watcher notices plugin descriptors appearing in search paths so a
// host can rescan without restarting.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Config holds configuration for the watcher
type Config struct {
	// Dirs are the module dirs of the search paths. Each dir and its
	// immediate subdirectories are watched, matching how deep the engine
	// scans. A dir that does not exist yet is watched from its parent, so
	// it must be at most one level below an existing directory.
	Dirs []string
	// Suffix selects descriptor files, e.g. ".plugin".
	Suffix             string
	StabilityThreshold time.Duration
	// OnChange runs on a timer goroutine once changes settle.
	OnChange func()
	Logger   zerolog.Logger
}

// Watcher watches search paths for descriptor changes.
type Watcher struct {
	watcher            *fsnotify.Watcher
	roots              map[string]bool
	parents            map[string]bool
	suffix             string
	stabilityThreshold time.Duration
	onChange           func()
	logger             zerolog.Logger
	done               chan struct{}
	debounceMu         sync.Mutex
	debounceTimer      *time.Timer
	stopOnce           sync.Once
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if cfg.StabilityThreshold == 0 {
		cfg.StabilityThreshold = 200 * time.Millisecond
	}

	roots := make(map[string]bool, len(cfg.Dirs))
	for _, dir := range cfg.Dirs {
		if dir != "" {
			roots[filepath.Clean(dir)] = true
		}
	}

	return &Watcher{
		watcher:            fw,
		roots:              roots,
		parents:            make(map[string]bool),
		suffix:             cfg.Suffix,
		stabilityThreshold: cfg.StabilityThreshold,
		onChange:           cfg.OnChange,
		logger:             cfg.Logger.With().Str("component", "plugin-watcher").Logger(),
		done:               make(chan struct{}),
	}, nil
}

// Start watches every existing root and its subdirectories. A missing root
// is picked up once it is created, provided its parent directory exists.
func (w *Watcher) Start() error {
	watched := 0
	for root := range w.roots {
		st, err := os.Stat(root)
		if err != nil || !st.IsDir() {
			w.watchParent(root)
			continue
		}
		if err := w.watchRoot(root); err != nil {
			return err
		}
		watched++
	}

	go w.eventLoop()

	w.logger.Info().Int("dirs", watched).Int("pending", len(w.parents)).Msg("Plugin watcher started")
	return nil
}

func (w *Watcher) watchRoot(root string) error {
	if err := w.watchDir(root); err != nil {
		return err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", root, err)
	}
	for _, entry := range entries {
		if entry.IsDir() && !hidden(entry.Name()) {
			_ = w.watchDir(filepath.Join(root, entry.Name()))
		}
	}
	return nil
}

// watchParent waits for a missing root to be created.
func (w *Watcher) watchParent(root string) {
	parent := filepath.Dir(root)
	if w.roots[parent] || w.parents[parent] {
		return
	}
	if st, err := os.Stat(parent); err != nil || !st.IsDir() {
		w.logger.Debug().Str("dir", root).Msg("Search path and its parent missing, not watching")
		return
	}
	if err := w.watcher.Add(parent); err != nil {
		w.logger.Warn().Err(err).Str("path", parent).Msg("Failed to watch parent of missing search path")
		return
	}
	w.parents[parent] = true
	w.logger.Debug().Str("dir", root).Msg("Search path missing, waiting for it to appear")
}

func (w *Watcher) watchDir(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch path")
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return nil
}

// Stop stops the watcher. Pending notifications are dropped.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.logger.Info().Msg("Plugin watcher stopped")
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if hidden(name) {
		return
	}

	dir := filepath.Dir(event.Name)
	if event.Op&fsnotify.Create == fsnotify.Create {
		if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
			switch {
			case w.roots[event.Name]:
				_ = w.watchRoot(event.Name)
				w.debounce()
				return
			case w.roots[dir]:
				_ = w.watchDir(event.Name)
				w.debounce()
				return
			}
		}
	}
	if w.parents[dir] && !w.roots[dir] {
		return
	}

	if !strings.HasSuffix(name, w.suffix) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("Descriptor changed")
	w.debounce()
}

// debounce coalesces bursts of events into one OnChange call.
func (w *Watcher) debounce() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.stabilityThreshold, func() {
		w.debounceMu.Lock()
		w.debounceTimer = nil
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		if w.onChange != nil {
			w.onChange()
		}
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
