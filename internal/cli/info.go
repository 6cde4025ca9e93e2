package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <module>",
	Short: "Show a plugin's descriptor",
	Args:  cobra.ExactArgs(1),
	RunE:  withHost(false, runInfo),
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, h *host, args []string) error {
	infos, err := h.lookup(args)
	if err != nil {
		return err
	}
	info := infos[0]

	active, err := h.activePlugins(cmd.Context())
	if err != nil {
		return err
	}
	enabled := false
	for _, name := range active {
		if strings.EqualFold(name, info.ModuleName()) {
			enabled = true
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Module:      %s\n", info.ModuleName())
	fmt.Fprintf(out, "Name:        %s\n", info.Name())
	fmt.Fprintf(out, "Description: %s\n", valueOr(info.Description(), "-"))
	fmt.Fprintf(out, "Version:     %s\n", valueOr(info.Version(), "-"))
	fmt.Fprintf(out, "Authors:     %s\n", valueOr(strings.Join(info.Authors(), ", "), "-"))
	fmt.Fprintf(out, "Copyright:   %s\n", valueOr(info.Copyright(), "-"))
	fmt.Fprintf(out, "Website:     %s\n", valueOr(info.Website(), "-"))
	fmt.Fprintf(out, "Loader:      %s\n", info.LoaderID())
	fmt.Fprintf(out, "Module dir:  %s\n", info.ModuleDir())
	fmt.Fprintf(out, "Data dir:    %s\n", info.DataDir())

	deps := make([]string, 0, len(info.Dependencies()))
	for _, dep := range info.Dependencies() {
		deps = append(deps, dep.String())
	}
	fmt.Fprintf(out, "Depends:     %s\n", valueOr(strings.Join(deps, ", "), "-"))
	fmt.Fprintf(out, "State:       %s\n", pluginState(info, enabled))

	if available, err := info.IsAvailable(); !available && err != nil {
		fmt.Fprintf(out, "Error:       %v\n", err)
	}

	for _, key := range info.ExternalDataKeys() {
		v, _ := info.ExternalData(key)
		fmt.Fprintf(out, "%-12s %v\n", key+":", v)
	}
	return nil
}
