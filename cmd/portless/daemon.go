package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/portless-dev/portless/internal/client"
	"github.com/portless-dev/portless/internal/config"
	"github.com/portless-dev/portless/internal/daemon"
	"github.com/portless-dev/portless/internal/procutil"
)

func newDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:           "daemon",
		Short:         "Daemon management commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	daemonStartCmd := &cobra.Command{
		Use:           "start",
		Short:         "Start the portless daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStart,
	}
	daemonStartCmd.Flags().BoolP("detach", "d", false, "Run the daemon in the background")
	daemonStartCmd.Flags().Bool("https", false, "Terminate TLS on port 443 with the local CA")
	daemonStartCmd.Flags().Bool("kill-children", false, "Terminate supervised dev servers when the daemon stops")

	daemonStopCmd := &cobra.Command{
		Use:           "stop",
		Short:         "Stop the portless daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStop,
	}

	daemonStatusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Get daemon status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStatus,
	}

	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd)
	return daemonCmd
}

// newStatusCommand exposes daemon status at the top level as well.
func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Get daemon status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStatus,
	}
}

// daemonBinary locates portlessd: next to the current executable first, then
// on PATH.
func daemonBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "portlessd")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return exec.LookPath("portlessd")
}

func daemonStart(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	detach, _ := cmd.Flags().GetBool("detach")
	https, _ := cmd.Flags().GetBool("https")
	killChildren, _ := cmd.Flags().GetBool("kill-children")

	paths := config.GetPaths("")
	if pid, running := daemon.IsRunning(paths); running {
		return out.Error(fmt.Sprintf("Daemon is already running (pid %d)", pid), nil)
	}

	bin, err := daemonBinary()
	if err != nil {
		return out.Error("Could not find the portlessd binary", err)
	}

	daemonArgs := []string{}
	if https {
		daemonArgs = append(daemonArgs, "--https")
	}
	if killChildren {
		daemonArgs = append(daemonArgs, "--kill-children")
	}

	proc := exec.Command(bin, daemonArgs...)
	if detach {
		proc.Stdout = nil
		proc.Stderr = nil
		proc.Stdin = nil
		// Detach from the CLI's session so closing the terminal does not
		// take the daemon down with it.
		proc.SysProcAttr = detachSysProcAttr()
		if err := proc.Start(); err != nil {
			return out.Error("Failed to start daemon", err)
		}

		// Binding :80 needs privileges; give startup a moment and confirm
		// the control socket answers before reporting success.
		c := client.New(paths.Socket)
		deadline := time.Now().Add(5 * time.Second)
		for !c.IsRunning() {
			if time.Now().After(deadline) {
				return out.Error("Daemon did not come up; see "+filepath.Join(paths.Logs, "daemon.log"), nil)
			}
			time.Sleep(100 * time.Millisecond)
		}
		return out.Success(fmt.Sprintf("Daemon started (pid %d)", proc.Process.Pid), map[string]interface{}{
			"pid": proc.Process.Pid,
		})
	}

	proc.Stdout = os.Stdout
	proc.Stderr = os.Stderr
	proc.Stdin = os.Stdin
	return proc.Run()
}

func daemonStop(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	paths := config.GetPaths("")

	c := client.New(paths.Socket)
	if err := c.Shutdown(); err != nil {
		// Socket dead but pid file live means a wedged daemon; fall back to
		// a signal.
		if pid, running := daemon.IsRunning(paths); running {
			if terr := procutil.Terminate(pid); terr != nil {
				return out.Error("Failed to stop daemon", terr)
			}
			return out.Success(fmt.Sprintf("Sent SIGTERM to daemon (pid %d)", pid), nil)
		}
		return out.Error("Daemon is not running", nil)
	}

	// Wait for the pid file to disappear so "stop && start" does not race.
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, running := daemon.IsRunning(paths); !running {
			break
		}
		if time.Now().After(deadline) {
			return out.Error("Daemon acknowledged shutdown but did not exit", nil)
		}
		time.Sleep(100 * time.Millisecond)
	}

	return out.Success("Daemon stopped", nil)
}

func daemonStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	paths := config.GetPaths("")

	c := client.New(paths.Socket)
	status, err := c.Status()
	if err != nil {
		return out.Error("Daemon is not running", err)
	}

	if out.jsonMode {
		return out.Print(status)
	}

	fmt.Println("Daemon Status:")
	fmt.Printf("  PID: %d\n", status.PID)
	fmt.Printf("  Started: %s (%s ago)\n",
		status.StartedAt.Format(time.RFC3339),
		time.Since(status.StartedAt).Round(time.Second))
	fmt.Printf("  Services: %d\n", status.ServiceCount)
	fmt.Printf("  HTTPS: %v\n", status.HTTPSEnabled)
	return nil
}
