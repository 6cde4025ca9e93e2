package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want []string
	}{
		{args: []string{"--version"}, want: []string{"peas version", GetVersion()}},
		{args: []string{"--help"}, want: []string{"peas", "plugin", "--log-level"}},
		{args: []string{"call", "--help"}, want: []string{"--module", "<capability> <method>"}},
	} {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			out, err := execute(t, tc.args...)
			require.NoError(t, err)
			for _, w := range tc.want {
				assert.Contains(t, out, w)
			}
		})
	}

	t.Run("persistent flags", func(t *testing.T) {
		flags := GetRootCmd().PersistentFlags()
		require.NotNil(t, flags.Lookup("config"))
		assert.Empty(t, flags.Lookup("config").DefValue)
		require.NotNil(t, flags.Lookup("log-level"))
		assert.Equal(t, "info", flags.Lookup("log-level").DefValue)
	})

	t.Run("invalid log level is rejected before running", func(t *testing.T) {
		_, err := execute(t, "--log-level", "loud", "status")
		assert.Error(t, err)
	})

	t.Run("subcommands", func(t *testing.T) {
		names := make(map[string]bool)
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"list", "info", "enable", "disable", "call", "run", "status", "stop", "reload", "configure"} {
			assert.True(t, names[want], "%s command should exist", want)
		}
	})
}

func TestGetVersion(t *testing.T) {
	assert.True(t, strings.HasPrefix(GetVersion(), "0."))
}
