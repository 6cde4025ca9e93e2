package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupWorkspace writes a config file rooted in a temp dir and the given
// plugin files below its plugin search path.
func setupWorkspace(t *testing.T, files map[string]string) (configPath, dataDir string) {
	t.Helper()

	dataDir = t.TempDir()
	pluginDir := filepath.Join(dataDir, "plugins")
	require.NoError(t, os.MkdirAll(pluginDir, 0755))
	for name, content := range files {
		path := filepath.Join(pluginDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	cfg := map[string]any{
		"data_dir":     dataDir,
		"search_paths": []map[string]string{{"module_dir": pluginDir}},
		"logging":      map[string]any{"level": "debug", "pretty": false},
		"watch":        map[string]any{"enabled": false},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	configPath = filepath.Join(dataDir, "peas.json")
	require.NoError(t, os.WriteFile(configPath, data, 0644))
	return configPath, dataDir
}

// execute runs the root command and returns everything it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		cfgFile = ""
		listAll = false
		callModule = ""
		logLevel = "info"
		if f := rootCmd.PersistentFlags().Lookup("log-level"); f != nil {
			f.Changed = false
		}
	})

	cmd := GetRootCmd()
	// Flag values outlive a single Execute; earlier --help runs would stick.
	for _, c := range append(cmd.Commands(), cmd) {
		for _, name := range []string{"help", "version"} {
			if f := c.Flags().Lookup(name); f != nil {
				require.NoError(t, f.Value.Set("false"))
			}
		}
	}

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return output.String(), err
}

const greeterDescriptor = `[Plugin]
IAge=2
Loader=lua
Module=greeter
Name=Greeter
Description=Says hello
Authors=Ada;Grace
Version=1.2.0
Website=https://example.org/greeter
`

const greeterSource = `
local Greeter = {}

function Greeter:greet(name)
  return "hello, " .. name
end

function Greeter:add(a, b)
  return a + b
end

local Lamp = {}

function Lamp:activate() end
function Lamp:deactivate() end
function Lamp:update_state() end

return { Greeter = Greeter, Activatable = Lamp }
`

const echoDescriptor = `[Plugin]
IAge=2
Loader=lua
Module=echo
Name=Echo
Depends=greeter >= 1.0
`

const echoSource = `
local Greeter = {}

function Greeter:greet(name)
  return name
end

return { Greeter = Greeter }
`

const secretDescriptor = `[Plugin]
IAge=2
Loader=lua
Module=secret
Name=Secret
Hidden=true
Builtin=true
`

const secretSource = `return {}`

func pluginFiles() map[string]string {
	return map[string]string{
		"greeter/greeter.plugin": greeterDescriptor,
		"greeter/greeter.lua":    greeterSource,
		"echo/echo.plugin":       echoDescriptor,
		"echo/echo.lua":          echoSource,
		"secret/secret.plugin":   secretDescriptor,
		"secret/secret.lua":      secretSource,
	}
}
