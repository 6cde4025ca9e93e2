package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable <module>...",
	Short: "Add plugins to the active set",
	Long: `Add plugins to the active set remembered in the store. A running host
picks the change up on its next rescan.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withHost(false, runEnable),
}

var disableCmd = &cobra.Command{
	Use:   "disable <module>...",
	Short: "Remove plugins from the active set",
	Args:  cobra.MinimumNArgs(1),
	RunE:  withHost(false, runDisable),
}

func init() {
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
}

func runEnable(cmd *cobra.Command, h *host, args []string) error {
	infos, err := h.lookup(args)
	if err != nil {
		return err
	}
	if err := h.seedStore(cmd.Context()); err != nil {
		return err
	}

	modules := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsBuiltin() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is builtin and always loaded\n", info.ModuleName())
			continue
		}
		modules = append(modules, info.ModuleName())
	}

	added, err := h.store.Enable(cmd.Context(), h.cfg.AppName, modules...)
	if err != nil {
		return err
	}
	report(cmd, "Enabled", "already enabled", modules, added)
	return nil
}

func runDisable(cmd *cobra.Command, h *host, args []string) error {
	infos, err := h.lookup(args)
	if err != nil {
		return err
	}
	if err := h.seedStore(cmd.Context()); err != nil {
		return err
	}

	modules := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsBuiltin() {
			return fmt.Errorf("%s is builtin and cannot be disabled", info.ModuleName())
		}
		modules = append(modules, info.ModuleName())
	}

	removed, err := h.store.Disable(cmd.Context(), h.cfg.AppName, modules...)
	if err != nil {
		return err
	}
	report(cmd, "Disabled", "not enabled", modules, removed)
	return nil
}

func report(cmd *cobra.Command, verb, unchanged string, modules, changed []string) {
	done := make(map[string]bool, len(changed))
	for _, m := range changed {
		done[m] = true
	}
	for _, m := range modules {
		if done[strings.ToLower(m)] {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, m)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", m, unchanged)
		}
	}
}
