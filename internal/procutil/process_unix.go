//go:build !windows

package procutil

import (
	"errors"
	"syscall"
)

// Terminate asks the process identified by pid to shut down gracefully.
func Terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// Kill forcibly ends the process identified by pid.
func Kill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}

// IsAlive checks whether a process with the given pid is still running.
// EPERM means the process exists but belongs to another user (the daemon may
// run as root while apps run as the developer), so it counts as alive.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
