package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("first registration wins", func(t *testing.T) {
		r := NewRegistry()
		user := &PluginInfo{moduleName: "foo", name: "User Foo"}
		system := &PluginInfo{moduleName: "FOO", name: "System Foo"}

		assert.True(t, r.Register(user))
		assert.False(t, r.Register(system))
		assert.Equal(t, 1, r.Len())

		got, ok := r.Get("Foo")
		require.True(t, ok)
		assert.Same(t, user, got)
	})

	t.Run("keeps registration order", func(t *testing.T) {
		r := NewRegistry()
		for _, name := range []string{"c", "a", "b"} {
			r.Register(&PluginInfo{moduleName: name})
		}

		var names []string
		for _, info := range r.All() {
			names = append(names, info.ModuleName())
		}
		assert.Equal(t, []string{"c", "a", "b"}, names)
	})

	t.Run("clear drops everything", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&PluginInfo{moduleName: "a"})
		r.Clear()

		_, ok := r.Get("a")
		assert.False(t, ok)
		assert.Zero(t, r.Len())
	})
}
