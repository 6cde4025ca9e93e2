package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	stopTimeout int
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the plugin host",
	Long: `Stop a running plugin host gracefully.
Sends SIGTERM to the host and waits for it to unload its plugins.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Make a running host reload its active plugin set",
	Args:  cobra.NoArgs,
	RunE:  runReload,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "timeout in seconds to wait for the host to stop")
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pidFile := pidFilePath(cfg)

	if err := signalHost(pidFile, syscall.SIGTERM); err != nil {
		return err
	}

	// Wait for process to stop with timeout
	deadline := time.Now().Add(time.Duration(stopTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if !isRunning(pidFile) {
			fmt.Fprintln(cmd.OutOrStdout(), "Host stopped successfully")
			os.Remove(pidFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Timeout reached, sending SIGKILL...")
	if err := signalHost(pidFile, syscall.SIGKILL); err != nil {
		return err
	}

	os.Remove(pidFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Host killed")
	return nil
}

func runReload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := signalHost(pidFilePath(cfg), syscall.SIGHUP); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Reload requested")
	return nil
}

func signalHost(pidFile string, sig syscall.Signal) error {
	if !isRunning(pidFile) {
		return fmt.Errorf("host is not running")
	}

	pid, err := readPID(pidFile)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to send %s: %w", sig, err)
	}
	return nil
}
