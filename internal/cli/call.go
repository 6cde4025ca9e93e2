package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/peas/pkg/plugin"
)

var callModule string

var callCmd = &cobra.Command{
	Use:   "call <capability> <method> [args...]",
	Short: "Call a method on the extensions of the active plugins",
	Long: `Load the active plugin set, create an extension of the named capability
for every plugin providing it and call method on each. Arguments are parsed
as JSON where possible and passed as strings otherwise. Results are printed
as JSON, one line per plugin.`,
	Args: cobra.MinimumNArgs(2),
	RunE: withHost(false, runCall),
}

func init() {
	callCmd.Flags().StringVar(&callModule, "module", "", "only call the extension of this plugin")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, h *host, args []string) error {
	capability := plugin.NamedCapability(args[0])
	method := args[1]
	callArgs := parseCallArgs(args[2:])

	active, err := h.activePlugins(cmd.Context())
	if err != nil {
		return err
	}
	if callModule != "" {
		if _, err := h.lookup([]string{callModule}); err != nil {
			return err
		}
		active = append(active, callModule)
	}
	h.engine.SetActivePlugins(active)

	set := plugin.NewExtensionSet(h.engine, capability, h.target())
	defer set.Close()

	if callModule != "" {
		out, err := set.CallFor(callModule, method, callArgs...)
		if err != nil {
			return err
		}
		return printResults(cmd, callModule, out)
	}

	if set.Len() == 0 {
		return fmt.Errorf("no active plugin provides %s", capability)
	}

	var failed int
	set.Foreach(func(info *plugin.PluginInfo, ext plugin.Extension) {
		out, err := ext.Call(method, callArgs...)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", info.ModuleName(), err)
			return
		}
		if err := printResults(cmd, info.ModuleName(), out); err != nil {
			failed++
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		}
	})
	if failed > 0 {
		return fmt.Errorf("%d of %d calls failed", failed, set.Len())
	}
	return nil
}

func parseCallArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		args = append(args, v)
	}
	return args
}

func printResults(cmd *cobra.Command, module string, results []any) error {
	if results == nil {
		results = []any{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("%s: results are not representable as JSON: %w", module, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", module, data)
	return nil
}
