package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// greeter is the capability most tests instantiate.
type greeter interface {
	Greet(name string) string
}

var greeterCapability = CapabilityOf[greeter]()

type helloGreeter struct {
	module string
	target any
	closed bool
}

func (g *helloGreeter) Greet(name string) string {
	return fmt.Sprintf("%s greets %s", g.module, name)
}

func (g *helloGreeter) Fail() error {
	return errors.New("boom")
}

func (g *helloGreeter) Close() error {
	g.closed = true
	return nil
}

type fakeHandle struct {
	info *PluginInfo
}

// fakeLoader records every call into a shared journal so tests can assert
// on ordering across the engine, its loaders and extension sets.
type fakeLoader struct {
	id        string
	journal   *[]string
	loadErr   map[string]error
	provides  map[string]bool
	createErr map[string]error
	handles   map[*PluginInfo]*fakeHandle
	instances map[string]*helloGreeter
	loads     map[string]int
	unloads   map[string]int
	dirs      []string
	gc        int
	closed    int
}

func newFakeLoader(id string, journal *[]string) *fakeLoader {
	return &fakeLoader{
		id:        id,
		journal:   journal,
		loadErr:   make(map[string]error),
		provides:  make(map[string]bool),
		createErr: make(map[string]error),
		handles:   make(map[*PluginInfo]*fakeHandle),
		instances: make(map[string]*helloGreeter),
		loads:     make(map[string]int),
		unloads:   make(map[string]int),
	}
}

func (l *fakeLoader) record(format string, args ...any) {
	if l.journal != nil {
		*l.journal = append(*l.journal, fmt.Sprintf(format, args...))
	}
}

func (l *fakeLoader) factory() LoaderFactory {
	return func(zerolog.Logger) (Loader, error) { return l, nil }
}

func (l *fakeLoader) ID() string { return l.id }

func (l *fakeLoader) AddSearchDirectory(dir string) { l.dirs = append(l.dirs, dir) }

func (l *fakeLoader) Load(info *PluginInfo) (Handle, error) {
	if h, ok := l.handles[info]; ok {
		return h, nil
	}
	l.loads[info.ModuleName()]++
	l.record("load %s", info.ModuleName())
	if err := l.loadErr[info.ModuleName()]; err != nil {
		return nil, err
	}
	h := &fakeHandle{info: info}
	l.handles[info] = h
	return h, nil
}

func (l *fakeLoader) Unload(handle Handle) {
	h := handle.(*fakeHandle)
	delete(l.handles, h.info)
	l.unloads[h.info.ModuleName()]++
	l.record("unload %s", h.info.ModuleName())
}

func (l *fakeLoader) ProvidesExtension(handle Handle, capability Capability) bool {
	h := handle.(*fakeHandle)
	return capability == greeterCapability && l.provides[h.info.ModuleName()]
}

func (l *fakeLoader) CreateExtension(handle Handle, capability Capability, args ...any) (Extension, error) {
	h := handle.(*fakeHandle)
	if !l.ProvidesExtension(handle, capability) {
		return nil, ErrDoesNotProvide
	}
	if err := l.createErr[h.info.ModuleName()]; err != nil {
		return nil, &ConstructionError{Module: h.info.ModuleName(), Capability: capability.Name(), Err: err}
	}
	g := &helloGreeter{module: h.info.ModuleName()}
	if len(args) > 0 {
		g.target = args[0]
	}
	l.instances[h.info.ModuleName()] = g
	l.record("create %s", h.info.ModuleName())
	return NewExtension(capability, g), nil
}

func (l *fakeLoader) GarbageCollect() {
	l.gc++
	l.record("gc")
}

func (l *fakeLoader) Close() error {
	l.closed++
	return nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// descriptor renders a minimal descriptor for the empty app name.
func descriptor(module, name string, extra ...string) string {
	lines := []string{"[Plugin]", "IAge=2", "Module=" + module, "Name=" + name}
	lines = append(lines, extra...)
	return strings.Join(lines, "\n") + "\n"
}

func writeDescriptor(t *testing.T, dir, module, name string, extra ...string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, module+".plugin"), descriptor(module, name, extra...))
}

// newTestEngine builds an engine over dir whose "C" loader is a fakeLoader.
func newTestEngine(t *testing.T, dir string, journal *[]string, opts ...EngineOption) (*Engine, *fakeLoader) {
	t.Helper()
	loader := newFakeLoader("C", journal)
	opts = append([]EngineOption{WithLoaderFactory("C", loader.factory())}, opts...)
	engine := NewEngine(EngineConfig{
		SearchPaths: []SearchPath{{ModuleDir: dir, DataDir: filepath.Join(dir, "data")}},
		Logger:      zerolog.Nop(),
	}, opts...)
	t.Cleanup(func() { engine.Close() })
	return engine, loader
}

type eventLog struct {
	events []string
}

func (l *eventLog) handler(journal *[]string) EventHandler {
	return func(ev Event) {
		entry := fmt.Sprintf("%s %s", ev.Type, ev.Plugin.ModuleName())
		l.events = append(l.events, entry)
		if journal != nil {
			*journal = append(*journal, entry)
		}
	}
}

func removeFile(path string) error {
	return os.Remove(path)
}
