package plugin

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "hello", "Hello")

	engine, loader := newTestEngine(t, dir, nil)
	log := &eventLog{}
	engine.Subscribe(log.handler(nil))

	plugins := engine.Plugins()
	require.Len(t, plugins, 1)
	info := plugins[0]
	assert.Equal(t, "hello", info.ModuleName())
	assert.Equal(t, "Hello", info.Name())
	assert.Equal(t, filepath.Join(dir, "data", "hello"), info.DataDir())
	available, _ := info.IsAvailable()
	assert.True(t, available)
	assert.False(t, info.IsLoaded())

	require.True(t, engine.LoadPlugin("hello"))
	assert.True(t, info.IsLoaded())
	assert.Equal(t, []string{"plugin-loaded hello"}, log.events)
	assert.Equal(t, []string{dir}, loader.dirs)

	require.True(t, engine.UnloadPlugin("hello"))
	assert.False(t, info.IsLoaded())
	assert.Nil(t, info.Handle())
	assert.Equal(t, []string{"plugin-loaded hello", "plugin-unloaded hello"}, log.events)
	assert.Equal(t, 1, loader.unloads["hello"])
}

func TestEngineIdempotence(t *testing.T) {
	t.Run("load twice emits one event", func(t *testing.T) {
		dir := t.TempDir()
		writeDescriptor(t, dir, "x", "X")
		engine, loader := newTestEngine(t, dir, nil)
		log := &eventLog{}
		engine.Subscribe(log.handler(nil))

		assert.True(t, engine.LoadPlugin("x"))
		assert.True(t, engine.LoadPlugin("x"))

		assert.Equal(t, []string{"plugin-loaded x"}, log.events)
		assert.Equal(t, 1, loader.loads["x"])
	})

	t.Run("unloading an unloaded plugin is a silent success", func(t *testing.T) {
		dir := t.TempDir()
		writeDescriptor(t, dir, "x", "X")
		engine, loader := newTestEngine(t, dir, nil)
		log := &eventLog{}
		engine.Subscribe(log.handler(nil))

		assert.True(t, engine.UnloadPlugin("x"))
		assert.Empty(t, log.events)
		assert.Zero(t, loader.unloads["x"])
	})

	t.Run("unknown plugins fail", func(t *testing.T) {
		engine, _ := newTestEngine(t, t.TempDir(), nil)
		assert.False(t, engine.LoadPlugin("ghost"))
		assert.False(t, engine.UnloadPlugin("ghost"))
	})

	t.Run("loading from a load observer is a no-op", func(t *testing.T) {
		dir := t.TempDir()
		writeDescriptor(t, dir, "x", "X")
		engine, loader := newTestEngine(t, dir, nil)

		var nested []bool
		engine.Subscribe(func(ev Event) {
			nested = append(nested, engine.LoadPlugin(ev.Plugin.ModuleName()))
		})

		require.True(t, engine.LoadPlugin("x"))
		assert.Equal(t, []bool{true}, nested)
		assert.Equal(t, 1, loader.loads["x"])
	})
}

func TestEngineOverrideRule(t *testing.T) {
	userDir := t.TempDir()
	sysDir := t.TempDir()
	writeDescriptor(t, userDir, "foo", "User Foo")
	writeDescriptor(t, sysDir, "foo", "System Foo")
	writeFile(t, filepath.Join(sysDir, "FOO-upper.plugin"), descriptor("FOO", "Upper Foo"))

	engine := NewEngine(EngineConfig{
		SearchPaths: []SearchPath{{ModuleDir: userDir}, {ModuleDir: sysDir}},
		Logger:      zerolog.Nop(),
	})
	defer engine.Close()

	require.Len(t, engine.Plugins(), 1)
	info, ok := engine.Plugin("foo")
	require.True(t, ok)
	assert.Equal(t, "User Foo", info.Name())
	assert.Equal(t, userDir, info.ModuleDir())
}

func TestEngineScan(t *testing.T) {
	t.Run("skips bad files and foreign suffixes", func(t *testing.T) {
		dir := t.TempDir()
		writeDescriptor(t, dir, "good", "Good")
		writeFile(t, filepath.Join(dir, "bad.plugin"), "[Plugin]\nIAge=1\nModule=bad\nName=Bad\n")
		writeFile(t, filepath.Join(dir, "other.gedit-plugin"), descriptor("other", "Other"))
		writeFile(t, filepath.Join(dir, "readme.txt"), "not a plugin")

		engine, _ := newTestEngine(t, dir, nil)

		require.Len(t, engine.Plugins(), 1)
		assert.Equal(t, "good", engine.Plugins()[0].ModuleName())
	})

	t.Run("scans one level of subdirectories", func(t *testing.T) {
		dir := t.TempDir()
		sub := filepath.Join(dir, "nested")
		writeDescriptor(t, sub, "nested", "Nested")
		writeDescriptor(t, filepath.Join(sub, "deeper"), "deep", "Deep")

		engine, _ := newTestEngine(t, dir, nil)

		info, ok := engine.Plugin("nested")
		require.True(t, ok)
		assert.Equal(t, sub, info.ModuleDir())
		_, ok = engine.Plugin("deep")
		assert.False(t, ok)
	})

	t.Run("skips hidden subdirectories", func(t *testing.T) {
		dir := t.TempDir()
		writeDescriptor(t, filepath.Join(dir, ".git"), "vcs", "VCS")
		writeDescriptor(t, filepath.Join(dir, "visible"), "shown", "Shown")

		engine, _ := newTestEngine(t, dir, nil)

		_, ok := engine.Plugin("vcs")
		assert.False(t, ok)
		_, ok = engine.Plugin("shown")
		assert.True(t, ok)
	})

	t.Run("uses app name for suffix and section", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "x.gedit-plugin"), "[Gedit Plugin]\nIAge=2\nModule=x\nName=X\n")

		engine := NewEngine(EngineConfig{AppName: "Gedit", SearchPaths: []SearchPath{{ModuleDir: dir}}, Logger: zerolog.Nop()})
		defer engine.Close()

		_, ok := engine.Plugin("x")
		assert.True(t, ok)
	})

	t.Run("missing directory is not an error", func(t *testing.T) {
		engine, _ := newTestEngine(t, filepath.Join(t.TempDir(), "nope"), nil)
		assert.Empty(t, engine.Plugins())
	})

	t.Run("rescan is accretive", func(t *testing.T) {
		dir := t.TempDir()
		writeDescriptor(t, dir, "first", "First")
		engine, _ := newTestEngine(t, dir, nil)
		require.True(t, engine.LoadPlugin("first"))

		writeDescriptor(t, dir, "second", "Second")
		require.NoError(t, removeFile(filepath.Join(dir, "first.plugin")))

		assert.Equal(t, 1, engine.Rescan())
		assert.Len(t, engine.Plugins(), 2)
		info, ok := engine.Plugin("first")
		require.True(t, ok)
		assert.True(t, info.IsLoaded())
	})

	t.Run("prepended path only adds new modules", func(t *testing.T) {
		dir := t.TempDir()
		extra := t.TempDir()
		writeDescriptor(t, dir, "a", "A")
		writeDescriptor(t, extra, "a", "Other A")
		writeDescriptor(t, extra, "b", "B")
		engine, _ := newTestEngine(t, dir, nil)

		engine.PrependSearchPath(SearchPath{ModuleDir: extra})

		assert.Equal(t, extra, engine.SearchPaths()[0].ModuleDir)
		a, _ := engine.Plugin("a")
		assert.Equal(t, "A", a.Name())
		_, ok := engine.Plugin("b")
		assert.True(t, ok)
	})
}

func TestEngineUnavailableSticks(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "q", "Q")
	engine, loader := newTestEngine(t, dir, nil)
	loader.loadErr["q"] = errors.New("import failed")
	log := &eventLog{}
	engine.Subscribe(log.handler(nil))

	assert.False(t, engine.LoadPlugin("q"))
	info, _ := engine.Plugin("q")
	available, err := info.IsAvailable()
	assert.False(t, available)
	var loadErr *LoadError
	assert.True(t, errors.As(err, &loadErr))
	assert.False(t, info.IsLoaded())

	assert.False(t, engine.LoadPlugin("q"))
	assert.Equal(t, 1, loader.loads["q"])
	assert.Empty(t, log.events)

	err = engine.LoadPluginInfo(info)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEngineLoaderResolution(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "py1", "Py1", "Loader=Python")
	writeDescriptor(t, dir, "py2", "Py2", "Loader=python")

	engine := NewEngine(EngineConfig{
		SearchPaths: []SearchPath{{ModuleDir: dir}},
		LoadersDir:  t.TempDir(),
		Logger:      zerolog.Nop(),
	})
	defer engine.Close()

	opens := 0
	engine.Loaders().open = func(path string) (symbolTable, error) {
		opens++
		return nil, errors.New("no such file")
	}

	assert.False(t, engine.LoadPlugin("py1"))
	assert.False(t, engine.LoadPlugin("py2"))
	assert.Equal(t, 1, opens)

	for _, name := range []string{"py1", "py2"} {
		info, _ := engine.Plugin(name)
		available, err := info.IsAvailable()
		assert.False(t, available)
		var lre *LoaderResolutionError
		assert.True(t, errors.As(err, &lre), name)
	}
}

func TestEngineDependencies(t *testing.T) {
	t.Run("loads dependencies first", func(t *testing.T) {
		dir := t.TempDir()
		writeDescriptor(t, dir, "app", "App", "Depends=core")
		writeDescriptor(t, dir, "core", "Core")
		var journal []string
		engine, _ := newTestEngine(t, dir, &journal)
		log := &eventLog{}
		engine.Subscribe(log.handler(&journal))

		require.True(t, engine.LoadPlugin("app"))
		assert.Equal(t, []string{
			"load core",
			"plugin-loaded core",
			"load app",
			"plugin-loaded app",
		}, journal)
	})

	t.Run("unloads dependents first", func(t *testing.T) {
		dir := t.TempDir()
		writeDescriptor(t, dir, "core", "Core")
		writeDescriptor(t, dir, "app", "App", "Depends=core")
		var journal []string
		engine, _ := newTestEngine(t, dir, &journal)
		require.True(t, engine.LoadPlugin("app"))
		log := &eventLog{}
		engine.Subscribe(log.handler(&journal))
		journal = nil

		require.True(t, engine.UnloadPlugin("core"))
		assert.Equal(t, []string{
			"plugin-unloaded app",
			"unload app",
			"gc",
			"plugin-unloaded core",
			"unload core",
			"gc",
		}, journal)
		app, _ := engine.Plugin("app")
		assert.False(t, app.IsLoaded())
	})

	t.Run("missing dependency marks plugin unavailable", func(t *testing.T) {
		dir := t.TempDir()
		writeDescriptor(t, dir, "app", "App", "Depends=ghost")
		engine, loader := newTestEngine(t, dir, nil)

		assert.False(t, engine.LoadPlugin("app"))
		info, _ := engine.Plugin("app")
		_, err := info.IsAvailable()
		assert.ErrorIs(t, err, ErrDependencyNotFound)
		assert.Zero(t, loader.loads["app"])
	})

	t.Run("failing dependency fails the dependent", func(t *testing.T) {
		dir := t.TempDir()
		writeDescriptor(t, dir, "app", "App", "Depends=core")
		writeDescriptor(t, dir, "core", "Core")
		engine, loader := newTestEngine(t, dir, nil)
		loader.loadErr["core"] = errors.New("broken")

		assert.False(t, engine.LoadPlugin("app"))
		info, _ := engine.Plugin("app")
		_, err := info.IsAvailable()
		assert.ErrorIs(t, err, ErrDependencyFailed)
		core, _ := engine.Plugin("core")
		ok, _ := core.IsAvailable()
		assert.False(t, ok)
	})

	t.Run("version constraints are enforced", func(t *testing.T) {
		dir := t.TempDir()
		writeDescriptor(t, dir, "app", "App", "Depends=core >= 2.0")
		writeDescriptor(t, dir, "core", "Core", "Version=1.5")
		engine, loader := newTestEngine(t, dir, nil)

		assert.False(t, engine.LoadPlugin("app"))
		info, _ := engine.Plugin("app")
		_, err := info.IsAvailable()
		assert.ErrorIs(t, err, ErrDependencyVersion)
		assert.Zero(t, loader.loads["core"])
	})

	t.Run("cycles do not recurse forever", func(t *testing.T) {
		dir := t.TempDir()
		writeDescriptor(t, dir, "a", "A", "Depends=b")
		writeDescriptor(t, dir, "b", "B", "Depends=a")
		engine, _ := newTestEngine(t, dir, nil)

		assert.True(t, engine.LoadPlugin("a"))
		b, _ := engine.Plugin("b")
		assert.True(t, b.IsLoaded())

		assert.True(t, engine.UnloadPlugin("a"))
		assert.False(t, b.IsLoaded())
	})

	t.Run("unusual dependency strings keep the plugin", func(t *testing.T) {
		for _, depends := range []string{"org.gnome.base", "base >= 1.*", "base>=1.0", "base ~ 1.0"} {
			t.Run(depends, func(t *testing.T) {
				dir := t.TempDir()
				writeDescriptor(t, dir, "org.gnome.base", "GNOME Base")
				writeDescriptor(t, dir, "base", "Base", "Version=1.2.0")
				writeDescriptor(t, dir, "user", "User", "Depends="+depends)
				engine, _ := newTestEngine(t, dir, nil)

				assert.Len(t, engine.Plugins(), 3)
				require.True(t, engine.LoadPlugin("user"))
				user, _ := engine.Plugin("user")
				dep, _ := engine.Plugin(user.Dependencies()[0].Name)
				assert.True(t, dep.IsLoaded())
			})
		}
	})
}

func TestEngineSetActivePlugins(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "a", "A")
	writeDescriptor(t, dir, "b", "B", "Depends=c")
	writeDescriptor(t, dir, "c", "C")
	writeDescriptor(t, dir, "core", "Core", "Builtin=true")
	writeDescriptor(t, dir, "broken", "Broken")
	var journal []string
	engine, loader := newTestEngine(t, dir, &journal)
	loader.loadErr["broken"] = errors.New("nope")
	engine.LoadPlugin("broken")
	journal = nil

	engine.SetActivePlugins([]string{"b", "C", "broken"})
	assert.ElementsMatch(t, []string{"b", "c", "core"}, engine.ActivePlugins())
	assert.Equal(t, []string{"load c", "load b", "load core"}, journal)

	engine.SetActivePlugins([]string{"a"})
	assert.ElementsMatch(t, []string{"a", "core"}, engine.ActivePlugins())

	engine.SetActivePlugins(nil)
	assert.Equal(t, []string{"core"}, engine.ActivePlugins())
	assert.Equal(t, 1, loader.loads["broken"])
}

func TestEngineExtensions(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "a", "A")
	writeDescriptor(t, dir, "b", "B")
	engine, loader := newTestEngine(t, dir, nil)
	loader.provides["a"] = true
	a, _ := engine.Plugin("a")
	b, _ := engine.Plugin("b")

	t.Run("not loaded", func(t *testing.T) {
		assert.False(t, engine.ProvidesExtension(a, greeterCapability))
		_, err := engine.CreateExtension(a, greeterCapability)
		assert.ErrorIs(t, err, ErrNotLoaded)
	})

	require.True(t, engine.LoadPlugin("a"))
	require.True(t, engine.LoadPlugin("b"))

	t.Run("provides and creates", func(t *testing.T) {
		assert.True(t, engine.ProvidesExtension(a, greeterCapability))
		ext, err := engine.CreateExtension(a, greeterCapability, "window")
		require.NoError(t, err)
		out, err := ext.Call("Greet", "you")
		require.NoError(t, err)
		assert.Equal(t, []any{"a greets you"}, out)
		assert.Equal(t, "window", loader.instances["a"].target)
	})

	t.Run("does not provide", func(t *testing.T) {
		assert.False(t, engine.ProvidesExtension(b, greeterCapability))
		_, err := engine.CreateExtension(b, greeterCapability)
		assert.ErrorIs(t, err, ErrDoesNotProvide)
	})

	t.Run("is configurable", func(t *testing.T) {
		assert.False(t, engine.IsConfigurable("a"))
		assert.False(t, engine.IsConfigurable("ghost"))
	})
}

func TestEngineClose(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "core", "Core")
	writeDescriptor(t, dir, "app", "App", "Depends=core")
	var journal []string
	engine, loader := newTestEngine(t, dir, &journal)
	require.True(t, engine.LoadPlugin("app"))
	log := &eventLog{}
	engine.Subscribe(log.handler(nil))

	require.NoError(t, engine.Close())

	assert.Equal(t, []string{"plugin-unloaded app", "plugin-unloaded core"}, log.events)
	assert.Equal(t, 1, loader.closed)
	assert.Empty(t, engine.Plugins())
	assert.False(t, engine.LoadPlugin("app"))

	require.NoError(t, engine.Close())
	assert.Equal(t, 1, loader.closed)
}

func TestEngineGarbageCollect(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "x", "X")
	engine, loader := newTestEngine(t, dir, nil)

	engine.GarbageCollect()
	assert.Zero(t, loader.gc)

	require.True(t, engine.LoadPlugin("x"))
	engine.GarbageCollect()
	assert.Equal(t, 1, loader.gc)
}
