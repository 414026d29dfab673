package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running Autoscore server",
		Long:  "Signal the server recorded in the PID file and wait for it to drain.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 35*time.Second, "How long to wait for the server to exit")

	return cmd
}

func runStop(timeout time.Duration) error {
	pid, err := readPID()
	if err != nil {
		return fmt.Errorf("no running server found (missing PID file at %s)", pidFile)
	}
	if !processAlive(pid) {
		removePID()
		return fmt.Errorf("server (PID %d) is not running (stale PID file removed)", pid)
	}

	fmt.Printf("Stopping Autoscore server (PID %d)...\n", pid)
	if err := terminate(pid); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if !waitForExit(pid, timeout) {
		return fmt.Errorf("server (PID %d) still running after %s", pid, timeout)
	}
	removePID()
	fmt.Println("Server stopped.")
	return nil
}

// waitForExit polls until pid is gone or timeout elapses.
func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !processAlive(pid)
}
