//go:build windows

package cli

import (
	"os"
)

// processAlive reports whether pid exists. On Windows FindProcess opens a
// handle and fails for unknown PIDs.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}

// terminate kills the process. Windows has no SIGTERM, so the audit store
// is not closed cleanly.
func terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
