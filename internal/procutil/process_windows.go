//go:build windows

package procutil

import (
	"fmt"
	"os"
	"syscall"
)

const processQueryLimitedInformation = 0x1000

// Terminate ends the process identified by pid. Windows has no SIGTERM
// equivalent for arbitrary processes, so this is a hard TerminateProcess.
func Terminate(pid int) error {
	return Kill(pid)
}

// Kill forcibly ends the process identified by pid.
func Kill(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	defer p.Release()
	return p.Kill()
}

// IsAlive checks whether a process with the given pid is still running by
// attempting to open a handle with PROCESS_QUERY_LIMITED_INFORMATION.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	syscall.CloseHandle(h)
	return true
}
