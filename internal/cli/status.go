package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show plugin host status",
	Long:  `Show whether the plugin host is running and which plugins are active.`,
	Args:  cobra.NoArgs,
	RunE:  withHost(false, runStatus),
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, h *host, args []string) error {
	out := cmd.OutOrStdout()
	pidFile := pidFilePath(h.cfg)

	if isRunning(pidFile) {
		pid, err := readPID(pidFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Status: running\n")
		fmt.Fprintf(out, "PID: %d\n", pid)

		// PID file modification time approximates the uptime
		if fileInfo, err := os.Stat(pidFile); err == nil {
			fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(fileInfo.ModTime())))
		}
	} else {
		fmt.Fprintln(out, "Status: stopped")
	}

	active, err := h.activePlugins(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Plugins: %d discovered, %d active\n", len(h.engine.Plugins()), len(active))
	if len(active) > 0 {
		fmt.Fprintf(out, "Active: %s\n", strings.Join(active, ", "))
	}
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
