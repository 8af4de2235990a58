package procutil

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

func TestIsAliveSelf(t *testing.T) {
	if !IsAlive(os.Getpid()) {
		t.Fatal("IsAlive should return true for own process")
	}
}

func TestIsAliveInvalidPID(t *testing.T) {
	if IsAlive(0) {
		t.Fatal("IsAlive should return false for pid 0")
	}
	// Well beyond any realistic pid_max.
	if IsAlive(1<<30 - 1) {
		t.Fatal("IsAlive should return false for non-existent PID")
	}
}

// longRunningCmd returns a cross-platform exec.Cmd that blocks until killed.
func longRunningCmd() *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("waitfor", "PortlessTestSignalNeverSent", "/T", "300")
	}
	return exec.Command("sleep", "300")
}

func TestTerminate(t *testing.T) {
	cmd := longRunningCmd()
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start subprocess: %v", err)
	}
	pid := cmd.Process.Pid

	if err := Terminate(pid); err != nil {
		t.Fatalf("Terminate returned error: %v", err)
	}

	// Reap so the pid does not linger as a zombie (zombies still answer
	// signal 0).
	_ = cmd.Wait()
	time.Sleep(50 * time.Millisecond)

	if IsAlive(pid) {
		t.Fatal("process should not be alive after Terminate")
	}
}

func TestKill(t *testing.T) {
	cmd := longRunningCmd()
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start subprocess: %v", err)
	}
	pid := cmd.Process.Pid

	if err := Kill(pid); err != nil {
		t.Fatalf("Kill returned error: %v", err)
	}

	_ = cmd.Wait()
	time.Sleep(50 * time.Millisecond)

	if IsAlive(pid) {
		t.Fatal("process should not be alive after Kill")
	}
}
