//go:build windows

package main

import "syscall"

// detachSysProcAttr returns the process attributes that detach the daemon
// from the CLI's session. Windows has no sessions in the Unix sense; a new
// process group keeps console Ctrl+C events from reaching the daemon.
func detachSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
