//go:build !windows

package cli

import (
	"errors"
	"syscall"
)

// processAlive reports whether pid exists. EPERM means the process exists
// but belongs to another user.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// terminate asks the server to shut down gracefully. The server drains
// in-flight requests and closes the audit store on SIGTERM.
func terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}
