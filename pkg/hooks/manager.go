// Package hooks runs shell scripts when plugins are loaded or unloaded and
// when the host starts or stops.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/peas/pkg/plugin"
)

// Host lifecycle events. Plugin events use the plugin.EventType names.
const (
	EventStartup  = "peas:startup"
	EventShutdown = "peas:shutdown"
)

// envPrefix starts every variable a hook script receives.
const envPrefix = "PEAS_HOOK_"

// Hook defines a lifecycle event hook. Module restricts a plugin event hook
// to one plugin; empty matches every plugin.
type Hook struct {
	ID      string        `json:"id" mapstructure:"id"`
	Event   string        `json:"event" mapstructure:"event"`
	Module  string        `json:"module,omitempty" mapstructure:"module"`
	Script  string        `json:"script" mapstructure:"script"`
	Timeout time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
}

func (h Hook) name() string {
	if id := strings.TrimSpace(h.ID); id != "" {
		return id
	}
	return h.Event
}

func (h Hook) matches(module string) bool {
	return h.Module == "" || strings.EqualFold(h.Module, module)
}

// Env holds the variables a script sees, keyed without the PEAS_HOOK_
// prefix. MODULE selects which module-restricted hooks run.
type Env map[string]string

// PluginEnv describes a plugin to its hooks.
func PluginEnv(info *plugin.PluginInfo) Env {
	return Env{
		"MODULE":     info.ModuleName(),
		"NAME":       info.Name(),
		"VERSION":    info.Version(),
		"LOADER":     info.LoaderID(),
		"MODULE_DIR": info.ModuleDir(),
		"DATA_DIR":   info.DataDir(),
	}
}

// environ renders the process environment for one run of a script.
func (e Env) environ(event string) []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := append(os.Environ(), envPrefix+"EVENT="+event)
	for _, k := range keys {
		env = append(env, envPrefix+envKey(k)+"="+e[k])
	}
	return env
}

// envKey maps a key onto the characters allowed in variable names.
func envKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, strings.ToUpper(key))
}

// Failure is the error of one hook run, carrying the script's output.
type Failure struct {
	Hook   string
	Event  string
	Output string
	Err    error
}

func (f *Failure) Error() string {
	if f.Output == "" {
		return fmt.Sprintf("hook %s failed: %v", f.Hook, f.Err)
	}
	return fmt.Sprintf("hook %s failed: %v: %s", f.Hook, f.Err, f.Output)
}

func (f *Failure) Unwrap() error { return f.Err }

// Config configures a Hook manager.
type Config struct {
	Enabled bool
	Hooks   []Hook
	Logger  zerolog.Logger
}

// Manager executes configured hooks for lifecycle events. Its hook table
// is fixed at construction.
type Manager struct {
	logger  zerolog.Logger
	byEvent map[string][]Hook
}

// NewManager validates the enabled hooks and indexes them by event. A
// disabled configuration yields a manager that runs nothing.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		logger:  cfg.Logger.With().Str("component", "hooks").Logger(),
		byEvent: make(map[string][]Hook),
	}
	if !cfg.Enabled {
		return m, nil
	}

	for _, hook := range cfg.Hooks {
		if !hook.Enabled {
			continue
		}
		hook.Event = strings.TrimSpace(hook.Event)
		if hook.Event == "" {
			return nil, errors.New("hook event is required")
		}
		if strings.TrimSpace(hook.Script) == "" {
			return nil, fmt.Errorf("hook script is required for event %q", hook.Event)
		}
		m.byEvent[hook.Event] = append(m.byEvent[hook.Event], hook)
	}
	return m, nil
}

// Attach runs plugin event hooks for everything the engine loads or
// unloads. Hook failures are logged, never propagated to the engine. The
// returned function detaches the manager.
func (m *Manager) Attach(engine *plugin.Engine) func() {
	if m == nil || len(m.byEvent) == 0 {
		return func() {}
	}
	return engine.Subscribe(func(ev plugin.Event) {
		err := m.Trigger(context.Background(), string(ev.Type), PluginEnv(ev.Plugin))
		for _, f := range failures(err) {
			m.logger.Warn().
				Err(f.Err).
				Str("hook_id", f.Hook).
				Str("event", f.Event).
				Str("module", ev.Plugin.ModuleName()).
				Str("output", f.Output).
				Msg("Hook failed")
		}
	})
}

// Trigger runs, in configuration order, every hook of event whose module
// filter accepts env["MODULE"]. All hooks run; the failures are joined.
func (m *Manager) Trigger(ctx context.Context, event string, env Env) error {
	if m == nil {
		return nil
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event is required")
	}

	var errs []error
	for _, hook := range m.byEvent[event] {
		if !hook.matches(env["MODULE"]) {
			continue
		}
		if err := m.run(ctx, hook, event, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) run(ctx context.Context, hook Hook, event string, env Env) error {
	if hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hook.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", hook.Script)
	cmd.Env = env.environ(event)

	start := time.Now()
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return &Failure{Hook: hook.name(), Event: event, Output: output, Err: err}
	}

	m.logger.Debug().
		Str("event", event).
		Str("hook_id", hook.name()).
		Dur("took", time.Since(start)).
		Str("output", output).
		Msg("Hook executed")
	return nil
}

// failures unpacks the joined error of Trigger.
func failures(err error) []*Failure {
	if err == nil {
		return nil
	}
	var list []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		list = joined.Unwrap()
	} else {
		list = []error{err}
	}

	out := make([]*Failure, 0, len(list))
	for _, e := range list {
		var f *Failure
		if errors.As(e, &f) {
			out = append(out, f)
		}
	}
	return out
}
