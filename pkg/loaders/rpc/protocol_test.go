package rpc

import (
	"errors"
	"fmt"
	"testing"

	goplugin "github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/peas/pkg/plugin"
)

type greeter struct {
	prefix string
	closed *bool
}

func (g *greeter) Greet(name string) string { return g.prefix + " " + name }

func (g *greeter) Add(a, b int) int { return a + b }

func (g *greeter) Fail() error { return errors.New("boom") }

func (g *greeter) Close() error {
	if g.closed != nil {
		*g.closed = true
	}
	return nil
}

func testProvider(closed *bool) Factories {
	return Factories{
		"Greeter": func(args ...any) (any, error) {
			prefix := "hello"
			if len(args) > 0 {
				prefix = fmt.Sprint(args[0])
			}
			return &greeter{prefix: prefix, closed: closed}, nil
		},
		"Broken": func(args ...any) (any, error) {
			return nil, errors.New("cannot build")
		},
		"Panicky": func(args ...any) (any, error) {
			panic("oops")
		},
	}
}

// dialTest connects a Client to an in-memory Server.
func dialTest(t *testing.T, impl Provider) Remote {
	t.Helper()
	client, _ := goplugin.TestPluginRPCConn(t, map[string]goplugin.Plugin{
		pluginName: &ExtensionPlugin{Impl: impl},
	}, nil)
	t.Cleanup(func() { client.Close() })

	raw, err := client.Dispense(pluginName)
	require.NoError(t, err)
	remote, ok := raw.(Remote)
	require.True(t, ok)
	return remote
}

func TestProtocol_RoundTrip(t *testing.T) {
	var closed bool
	remote := dialTest(t, testProvider(&closed))

	ok, err := remote.Provides("Greeter")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = remote.Provides("Nope")
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := remote.Create("Greeter", []any{"hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	out, err := remote.Call(id, "greet", []any{"bob"})
	require.NoError(t, err)
	assert.Equal(t, []any{"hi bob"}, out)

	out, err = remote.Call(id, "Add", []any{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []any{5}, out)

	require.NoError(t, remote.Destroy(id))
	assert.True(t, closed)

	_, err = remote.Call(id, "greet", []any{"bob"})
	var callErr *plugin.CallError
	assert.ErrorAs(t, err, &callErr)
}

func TestProtocol_Errors(t *testing.T) {
	remote := dialTest(t, testProvider(nil))

	_, err := remote.Create("Nope", nil)
	assert.ErrorIs(t, err, plugin.ErrDoesNotProvide)

	_, err = remote.Create("Broken", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot build")

	_, err = remote.Create("Panicky", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")

	id, err := remote.Create("Greeter", nil)
	require.NoError(t, err)

	_, err = remote.Call(id, "missing", nil)
	assert.True(t, plugin.IsMethodNotFound(err))

	_, err = remote.Call(id, "fail", nil)
	var callErr *plugin.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "fail", callErr.Method)
	assert.Contains(t, err.Error(), "boom")
}

func TestFactories(t *testing.T) {
	f := testProvider(nil)
	assert.True(t, f.Provides("Greeter"))
	assert.False(t, f.Provides("greeter"))

	_, err := f.Create("missing", nil)
	assert.ErrorIs(t, err, plugin.ErrDoesNotProvide)
}
