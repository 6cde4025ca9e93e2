// Package rpc loads plugins that run as separate processes and talk to the
// host over hashicorp/go-plugin's net/rpc transport.
//
// A plugin executable calls Serve with a Provider. The host starts the
// executable when the plugin loads and kills it when the plugin unloads.
package rpc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"

	"github.com/harun/peas/pkg/plugin"
)

// LoaderID is the descriptor Loader value selecting this loader.
const LoaderID = "rpc"

func init() {
	plugin.RegisterLoaderFactory(LoaderID, Factory)
}

// Factory builds a Loader for an engine.
func Factory(logger zerolog.Logger) (plugin.Loader, error) {
	return NewLoader(logger), nil
}

// connection is a running plugin process.
type connection struct {
	remote Remote
	kill   func()
}

type handle struct {
	info *plugin.PluginInfo
	conn *connection
}

// Loader implements plugin.Loader for out-of-process plugins.
type Loader struct {
	mu      sync.Mutex
	handles map[*plugin.PluginInfo]*handle
	connect func(path string) (*connection, error)
	logger  zerolog.Logger
}

func NewLoader(logger zerolog.Logger) *Loader {
	l := &Loader{
		handles: make(map[*plugin.PluginInfo]*handle),
		logger:  logger.With().Str("component", "rpc-loader").Logger(),
	}
	l.connect = l.startProcess
	return l
}

func (l *Loader) ID() string { return LoaderID }

// AddSearchDirectory is a no-op; executables are found by path.
func (l *Loader) AddSearchDirectory(string) {}

// Executable returns the path of a plugin's executable: the Executable key
// of its descriptor, relative to the module dir, or the module name.
func Executable(info *plugin.PluginInfo) string {
	name := info.ModuleName()
	if v, ok := info.ExternalData("Executable"); ok {
		if s, ok := v.(string); ok && s != "" {
			name = s
		}
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(info.ModuleDir(), name)
}

func (l *Loader) Load(info *plugin.PluginInfo) (plugin.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.handles[info]; ok {
		return h, nil
	}

	path := Executable(info)
	conn, err := l.connect(path)
	if err != nil {
		return nil, err
	}

	h := &handle{info: info, conn: conn}
	l.handles[info] = h

	l.logger.Info().
		Str("module", info.ModuleName()).
		Str("path", path).
		Msg("Plugin process started")

	return h, nil
}

func (l *Loader) startProcess(path string) (*connection, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("plugin executable not found: %s", path)
	}
	if !st.Mode().IsRegular() || st.Mode()&0111 == 0 {
		return nil, fmt.Errorf("plugin is not executable: %s", path)
	}

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.Command(path),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
		Logger:           newHCLogger(l.logger),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(pluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}

	remote, ok := raw.(Remote)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("unexpected plugin type %T", raw)
	}

	return &connection{remote: remote, kill: client.Kill}, nil
}

// Unload kills the plugin process.
func (l *Loader) Unload(h plugin.Handle) {
	rh, ok := h.(*handle)
	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handles[rh.info] != rh {
		return
	}
	delete(l.handles, rh.info)
	rh.conn.kill()

	l.logger.Info().Str("module", rh.info.ModuleName()).Msg("Plugin process stopped")
}

func (l *Loader) ProvidesExtension(h plugin.Handle, capability plugin.Capability) bool {
	rh, ok := h.(*handle)
	if !ok {
		return false
	}
	provides, err := rh.conn.remote.Provides(capability.Name())
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("module", rh.info.ModuleName()).
			Str("capability", capability.Name()).
			Msg("Provides call failed")
		return false
	}
	return provides
}

func (l *Loader) CreateExtension(h plugin.Handle, capability plugin.Capability, args ...any) (plugin.Extension, error) {
	rh, ok := h.(*handle)
	if !ok {
		return nil, fmt.Errorf("foreign handle %T", h)
	}

	id, err := rh.conn.remote.Create(capability.Name(), args)
	if errors.Is(err, plugin.ErrDoesNotProvide) {
		return nil, err
	}
	if err != nil {
		return nil, &plugin.ConstructionError{Module: rh.info.ModuleName(), Capability: capability.Name(), Err: err}
	}

	return &extension{capability: capability, id: id, remote: rh.conn.remote}, nil
}

// GarbageCollect is a no-op; plugin processes manage their own memory.
func (l *Loader) GarbageCollect() {}

// Close kills every plugin process still running.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for info, h := range l.handles {
		h.conn.kill()
		delete(l.handles, info)
	}
	return nil
}

// hclogWriter forwards go-plugin's log lines to zerolog.
type hclogWriter struct {
	logger zerolog.Logger
}

func (w hclogWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.logger.Debug().Msg(msg)
	}
	return len(p), nil
}

func newHCLogger(logger zerolog.Logger) hclog.Logger {
	level := hclog.Info
	if logger.GetLevel() <= zerolog.DebugLevel {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "peas-plugin",
		Level:  level,
		Output: hclogWriter{logger: logger},
	})
}
