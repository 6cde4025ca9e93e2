package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/peas/pkg/plugin"
)

var listAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered plugins",
	Long: `List the plugins found on the configured search paths together with
their loader and whether they are enabled. Hidden plugins are only shown
with --all.`,
	Args: cobra.NoArgs,
	RunE: withHost(false, runList),
}

func init() {
	listCmd.Flags().BoolVar(&listAll, "all", false, "include hidden plugins")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, h *host, args []string) error {
	active, err := h.activePlugins(cmd.Context())
	if err != nil {
		return err
	}
	enabled := make(map[string]bool, len(active))
	for _, name := range active {
		enabled[strings.ToLower(name)] = true
	}

	plugins := h.engine.Plugins()
	sort.SliceStable(plugins, func(i, j int) bool {
		return strings.ToLower(plugins[i].ModuleName()) < strings.ToLower(plugins[j].ModuleName())
	})

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tNAME\tVERSION\tLOADER\tSTATE")
	for _, info := range plugins {
		if info.IsHidden() && !listAll {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			info.ModuleName(),
			info.Name(),
			valueOr(info.Version(), "-"),
			info.LoaderID(),
			pluginState(info, enabled[strings.ToLower(info.ModuleName())]),
		)
	}
	return tw.Flush()
}

func pluginState(info *plugin.PluginInfo, enabled bool) string {
	var state string
	switch available, _ := info.IsAvailable(); {
	case !available:
		state = "unavailable"
	case info.IsLoaded():
		state = "loaded"
	case info.IsBuiltin():
		state = "builtin"
	case enabled:
		state = "enabled"
	default:
		state = "disabled"
	}
	if info.IsHidden() {
		state += ",hidden"
	}
	return state
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
