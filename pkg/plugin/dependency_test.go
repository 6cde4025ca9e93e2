package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDependency(t *testing.T) {
	t.Run("name only accepts any version", func(t *testing.T) {
		dep, err := ParseDependency("base")
		require.NoError(t, err)
		assert.Equal(t, "base", dep.Name)
		assert.False(t, dep.Constrained())
		assert.True(t, dep.Check(""))
		assert.True(t, dep.Check("0.1"))
		assert.Equal(t, "base", dep.String())
	})

	checks := []struct {
		dep     string
		version string
		want    bool
	}{
		{"a == 1.0", "1.0.0", true},
		{"a == 1.0", "1.0.1", false},
		{"a != 1.0", "1.0.1", true},
		{"a != 1.0", "1.0", false},
		{"a > 1.2", "1.3", true},
		{"a > 1.2", "1.2", false},
		{"a >= 1.2", "1.2", true},
		{"a < 2", "1.9.9", true},
		{"a < 2", "2.0.0", false},
		{"a <= 2", "2", true},
		{"a 1.0-2.0", "1.0", true},
		{"a 1.0-2.0", "1.5.3", true},
		{"a 1.0-2.0", "2.0", true},
		{"a 1.0-2.0", "2.0.1", false},
		{"a 1.0-2.0", "0.9", false},
		{"a >= 1.0", "", false},
		{"a >= 1.0", "not-a-version", false},
		{"a>=1.0", "1.0", true},
		{"a<2", "2.0", false},
		{"a >= 1.*", "1.0", true},
		{"a >= 1.*", "0.9", false},
		{"a == 1.2.*", "1.2.7", true},
		{"a == 1.2.*", "1.3.0", false},
		{"a 1.0-2.*", "2.9", true},
		{"a 1.0-2.*", "3.0", false},
	}
	for _, tc := range checks {
		t.Run(tc.dep+" with "+tc.version, func(t *testing.T) {
			dep, err := ParseDependency(tc.dep)
			require.NoError(t, err)
			assert.Equal(t, "a", dep.Name)
			assert.Equal(t, tc.want, dep.Check(tc.version))
		})
	}

	t.Run("name takes every character up to an operator", func(t *testing.T) {
		dep, err := ParseDependency("org.gnome.base >= 1.0")
		require.NoError(t, err)
		assert.Equal(t, "org.gnome.base", dep.Name)
		assert.True(t, dep.Constrained())

		dep, err = ParseDependency("py3.utils")
		require.NoError(t, err)
		assert.Equal(t, "py3.utils", dep.Name)
	})

	invalid := []struct {
		dep  string
		name string
	}{
		{"", ""},
		{">= 1.0", ""},
		{"bad!name", "bad"},
		{"a = 1.0", "a"},
		{"a ~ 1.0", "a"},
		{"a >= x.y", "a"},
		{"a >= *", "a"},
		{"a >= 1.*.2", "a"},
		{"a 2.0-1.0", "a"},
		{"a 1.0-1.0", "a"},
		{"a 1.0", "a"},
	}
	for _, tc := range invalid {
		t.Run("rejects "+tc.dep, func(t *testing.T) {
			dep, err := ParseDependency(tc.dep)
			assert.Error(t, err)
			assert.Equal(t, tc.name, dep.Name)
			assert.False(t, dep.Constrained())
			assert.True(t, dep.Check("1.0"))
		})
	}
}

func TestSortByDependencies(t *testing.T) {
	mk := func(name string, deps ...string) *PluginInfo {
		info := &PluginInfo{moduleName: name}
		for _, d := range deps {
			info.dependencies = append(info.dependencies, Dependency{Name: d})
		}
		return info
	}
	names := func(infos []*PluginInfo) []string {
		out := make([]string, len(infos))
		for i, info := range infos {
			out[i] = info.ModuleName()
		}
		return out
	}

	t.Run("dependencies come first", func(t *testing.T) {
		c := mk("c", "b")
		b := mk("b", "a")
		a := mk("a")
		d := mk("d")

		assert.Equal(t, []string{"a", "b", "c", "d"}, names(SortByDependencies([]*PluginInfo{c, b, a, d})))
	})

	t.Run("keeps input order without dependencies", func(t *testing.T) {
		x, y, z := mk("x"), mk("y"), mk("z")
		assert.Equal(t, []string{"x", "y", "z"}, names(SortByDependencies([]*PluginInfo{x, y, z})))
	})

	t.Run("ignores unknown and self dependencies", func(t *testing.T) {
		a := mk("a", "missing", "a")
		b := mk("b")
		assert.Equal(t, []string{"a", "b"}, names(SortByDependencies([]*PluginInfo{a, b})))
	})

	t.Run("terminates on cycles", func(t *testing.T) {
		a := mk("a", "b")
		b := mk("b", "a")
		sorted := SortByDependencies([]*PluginInfo{a, b})
		assert.ElementsMatch(t, []string{"a", "b"}, names(sorted))
	})

	t.Run("matches names case-insensitively", func(t *testing.T) {
		app := mk("app", "Core")
		core := mk("core")
		assert.Equal(t, []string{"core", "app"}, names(SortByDependencies([]*PluginInfo{app, core})))
	})
}
