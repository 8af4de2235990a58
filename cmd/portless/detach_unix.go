//go:build !windows

package main

import "syscall"

// detachSysProcAttr returns the process attributes that detach the daemon
// from the CLI's session. On Unix a new session id breaks the controlling
// terminal link.
func detachSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
