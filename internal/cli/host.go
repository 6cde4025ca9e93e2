package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harun/peas/internal/config"
	"github.com/harun/peas/internal/logger"
	"github.com/harun/peas/internal/metrics"
	"github.com/harun/peas/internal/store"
	"github.com/harun/peas/pkg/plugin"

	// Script and out-of-process loaders register themselves.
	_ "github.com/harun/peas/pkg/loaders/lua"
	_ "github.com/harun/peas/pkg/loaders/rpc"
)

// host bundles everything a command needs to drive the plugin engine.
type host struct {
	cfg     *config.Config
	log     *logger.Logger
	engine  *plugin.Engine
	store   *store.Store
	metrics *metrics.Metrics
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openHost loads the configuration and builds the engine. Console logging
// is only wanted by long running commands; the others log to file.
func openHost(console bool) (*host, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.Logging.Level,
		File:     cfg.Logging.File,
		Console:  console,
		Pretty:   cfg.Logging.Pretty,
		MaxSize:  cfg.Logging.MaxSize,
		MaxAge:   cfg.Logging.MaxAge,
		Compress: cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	st, err := store.Open(store.Config{Path: cfg.StorePath, Logger: log.GetZerolog()})
	if err != nil {
		log.Close()
		return nil, err
	}

	m := metrics.NewMetrics()

	opts := []plugin.EngineOption{plugin.WithRecorder(m)}
	if len(cfg.Locales) > 0 {
		opts = append(opts, plugin.WithLocales(cfg.Locales...))
	}

	engine := plugin.NewEngine(plugin.EngineConfig{
		AppName:     cfg.AppName,
		SearchPaths: cfg.SearchPaths,
		LoadersDir:  cfg.LoadersDir,
		Logger:      log.GetZerolog(),
	}, opts...)
	for _, id := range cfg.DisabledLoaders {
		engine.Loaders().Disable(id)
	}

	return &host{
		cfg:     cfg,
		log:     log,
		engine:  engine,
		store:   st,
		metrics: m,
	}, nil
}

// activePlugins returns the stored active set, falling back to the
// configured one until the store has been written.
func (h *host) activePlugins(ctx context.Context) ([]string, error) {
	ok, err := h.store.HasActivePlugins(ctx, h.cfg.AppName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return h.cfg.ActivePlugins, nil
	}
	return h.store.ActivePlugins(ctx, h.cfg.AppName)
}

// seedStore copies the configured active set into the store the first time
// it is modified, so enabling one plugin does not drop the others.
func (h *host) seedStore(ctx context.Context) error {
	ok, err := h.store.HasActivePlugins(ctx, h.cfg.AppName)
	if err != nil || ok {
		return err
	}
	return h.store.SetActivePlugins(ctx, h.cfg.AppName, h.cfg.ActivePlugins)
}

// lookup resolves module names against the discovered plugins.
func (h *host) lookup(names []string) ([]*plugin.PluginInfo, error) {
	infos := make([]*plugin.PluginInfo, 0, len(names))
	for _, name := range names {
		info, ok := h.engine.Plugin(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", plugin.ErrPluginNotFound, name)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (h *host) Close() error {
	return errors.Join(h.engine.Close(), h.store.Close(), h.log.Close())
}

func pidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "peas.pid")
}

// withHost opens a host for the duration of a command.
func withHost(console bool, fn func(cmd *cobra.Command, h *host, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		h, err := openHost(console)
		if err != nil {
			return err
		}
		defer h.Close()
		return fn(cmd, h, args)
	}
}
