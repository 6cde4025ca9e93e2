package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/peas/pkg/events"
	"github.com/harun/peas/pkg/hooks"
	"github.com/harun/peas/pkg/plugin"
	"github.com/harun/peas/pkg/watcher"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the plugin host",
	Long: `Run the plugin host in the foreground. The host loads the active plugin
set, activates every Activatable extension and keeps the set in sync as
descriptors appear on the search paths or on the watch.rescan schedule.
Metrics and a websocket plugin event stream are served when enabled. SIGHUP reloads the active set from
the store; SIGINT or SIGTERM shuts the host down.`,
	Args: cobra.NoArgs,
	RunE: withHost(true, runHost),
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runHost(cmd *cobra.Command, h *host, args []string) error {
	pidFile := pidFilePath(h.cfg)
	if isRunning(pidFile) {
		return fmt.Errorf("host is already running (PID file: %s)", pidFile)
	}
	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hookManager, err := hooks.NewManager(hooks.Config{
		Enabled: h.cfg.Hooks.Enabled,
		Hooks:   h.cfg.Hooks.Entries,
		Logger:  h.log.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("invalid hooks: %w", err)
	}
	detach := hookManager.Attach(h.engine)
	defer detach()

	set := plugin.NewActivatableSet(h.engine, h.target())
	if err := hookManager.Trigger(ctx, hooks.EventStartup, h.hookData()); err != nil {
		h.log.Warn().Err(err).Msg("Startup hooks failed")
	}
	h.apply(ctx, set)

	if h.cfg.Metrics.Enabled || h.cfg.Events.Enabled {
		var stream *events.Stream
		if h.cfg.Events.Enabled {
			stream = events.NewStream(h.log.GetZerolog())
			defer stream.Close()
			detachStream := stream.Attach(h.engine)
			defer detachStream()
		}
		shutdown := h.serveHTTP(stream)
		defer shutdown()
	}

	changes := make(chan struct{}, 1)
	notify := func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}

	if h.cfg.Watch.Enabled {
		w, err := h.watch(notify)
		if err != nil {
			h.log.Warn().Err(err).Msg("Search paths are not watched")
		} else {
			defer w.Stop()
		}
	}

	if h.cfg.Watch.Rescan != "" {
		r, err := watcher.NewRescanner(h.cfg.Watch.Rescan, notify, h.log.GetZerolog())
		if err != nil {
			return err
		}
		r.Start()
		defer r.Stop()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				notify()
			}
		}
	}()

	h.log.Info().Int("pid", os.Getpid()).Int("active", len(h.engine.ActivePlugins())).Msg("Plugin host running")
	h.serve(ctx, set, changes)

	// The signal context is done by now; hooks get a fresh one.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := hookManager.Trigger(shutdownCtx, hooks.EventShutdown, h.hookData()); err != nil {
		h.log.Warn().Err(err).Msg("Shutdown hooks failed")
	}
	set.Close()

	h.log.Info().Msg("Plugin host stopped")
	return nil
}

// serve rescans and reapplies the active set on every change until ctx is
// done. All engine mutation happens on the calling goroutine.
func (h *host) serve(ctx context.Context, set *plugin.ActivatableSet, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if n := h.engine.Rescan(); n > 0 {
				h.log.Info().Int("new", n).Msg("Discovered new plugins")
			}
			h.apply(ctx, set)
		}
	}
}

// apply loads the active set and refreshes the activated extensions.
func (h *host) apply(ctx context.Context, set *plugin.ActivatableSet) {
	names, err := h.activePlugins(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read active plugins")
		return
	}
	h.engine.SetActivePlugins(names)
	if err := set.UpdateState(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to update extension state")
	}
}

// target is what Activatable extensions are constructed around. Plugins
// in other processes only see values that cross the wire, so it is the
// application name.
func (h *host) target() string {
	return valueOr(h.cfg.AppName, "peas")
}

func (h *host) hookData() hooks.Env {
	return hooks.Env{
		"APP":      h.target(),
		"DATA_DIR": h.cfg.DataDir,
		"PID":      strconv.Itoa(os.Getpid()),
	}
}

func (h *host) watch(onChange func()) (*watcher.Watcher, error) {
	dirs := make([]string, 0, len(h.cfg.SearchPaths))
	for _, sp := range h.cfg.SearchPaths {
		dirs = append(dirs, sp.ModuleDir)
	}

	w, err := watcher.New(watcher.Config{
		Dirs:               dirs,
		Suffix:             plugin.DescriptorSuffix(h.cfg.AppName),
		StabilityThreshold: time.Duration(h.cfg.Watch.DebounceMs) * time.Millisecond,
		OnChange:           onChange,
		Logger:             h.log.GetZerolog(),
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}

// serveHTTP exposes the Prometheus registry and the event stream on the
// metrics listener and returns a function that shuts the server down.
func (h *host) serveHTTP(stream *events.Stream) func() {
	srv := &http.Server{
		Addr:              h.cfg.Metrics.Addr,
		Handler:           h.httpHandler(stream),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		h.log.Info().Str("addr", srv.Addr).Bool("metrics", h.cfg.Metrics.Enabled).Bool("events", stream != nil).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			h.log.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
	}
}

func (h *host) httpHandler(stream *events.Stream) http.Handler {
	mux := http.NewServeMux()
	if h.cfg.Metrics.Enabled {
		mux.Handle(h.cfg.Metrics.Path, h.metrics.Handler())
	}
	if stream != nil {
		mux.Handle(h.cfg.Events.Path, stream)
	}
	return mux
}

func writePIDFile(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	return process.Signal(syscall.Signal(0)) == nil
}
