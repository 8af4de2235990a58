// Package supervisor spawns and terminates the developer's app processes.
// Children run under a pty so dev servers keep their interactive behavior
// (colored output, watch modes); output is drained into a per-service log.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/portless-dev/portless/internal/procutil"
)

var (
	// ErrSpawn indicates the app process could not be started.
	ErrSpawn = errors.New("supervisor: failed to spawn process")
	// ErrEmptyCommand indicates a spec without a command.
	ErrEmptyCommand = errors.New("supervisor: empty command")
)

// DefaultPortEnv is the environment variable used for port injection when the
// spec does not override it.
const DefaultPortEnv = "PORT"

// defaultStopTimeout bounds how long Stop waits after SIGTERM before
// escalating to SIGKILL.
const defaultStopTimeout = 5 * time.Second

// Spec describes one app process to launch.
type Spec struct {
	Command string // full command line, split on whitespace
	Dir     string // working directory
	Port    int    // assigned backend port
	PortEnv string // env var name for the port (default PORT)
	PortArg string // when set, port is appended as a CLI argument instead
	LogPath string // file receiving the child's combined output; empty inherits
}

type child struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Supervisor tracks the children it spawned so Stop can reap them instead of
// leaving zombies. Pids it never spawned are handled through plain signals.
type Supervisor struct {
	mu          sync.Mutex
	children    map[int]*child
	stopTimeout time.Duration
}

// New creates a supervisor.
func New() *Supervisor {
	return &Supervisor{
		children:    make(map[int]*child),
		stopTimeout: defaultStopTimeout,
	}
}

// Spawn launches the command described by spec and returns its pid. It does
// not wait for the app to bind its port; the proxy surfaces upstream errors
// until it does.
func (s *Supervisor) Spawn(spec Spec) (int, error) {
	args, env, err := buildCommand(spec)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), env...)

	var sink io.WriteCloser
	if spec.LogPath != "" {
		sink, err = os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("%w: open log %s: %v", ErrSpawn, spec.LogPath, err)
		}
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		// No pty available (restricted environments, some platforms); fall
		// back to a plain pipe-less start with the log as stdout/stderr.
		if startErr := startWithoutPTY(cmd, sink); startErr != nil {
			if sink != nil {
				sink.Close()
			}
			return 0, fmt.Errorf("%w: %v", ErrSpawn, startErr)
		}
	}

	pid := cmd.Process.Pid
	c := &child{cmd: cmd, done: make(chan struct{})}

	s.mu.Lock()
	s.children[pid] = c
	s.mu.Unlock()

	go func() {
		if ptmx != nil {
			if sink != nil {
				// EIO on pty read is the normal close path.
				_, _ = io.Copy(sink, ptmx)
			} else {
				_, _ = io.Copy(io.Discard, ptmx)
			}
			ptmx.Close()
		}
		err := cmd.Wait()
		if sink != nil {
			sink.Close()
		}
		close(c.done)

		s.mu.Lock()
		delete(s.children, pid)
		s.mu.Unlock()

		if err != nil {
			log.Printf("[Supervisor] process %d exited: %v", pid, err)
		}
	}()

	return pid, nil
}

// Stop terminates the process gracefully, escalating to a hard kill after the
// stop timeout. A pid that is already gone is success: the desired end state
// is reached either way.
func (s *Supervisor) Stop(pid int) error {
	s.mu.Lock()
	c := s.children[pid]
	s.mu.Unlock()

	if !procutil.IsAlive(pid) {
		return nil
	}

	if err := procutil.Terminate(pid); err != nil && procutil.IsAlive(pid) {
		return fmt.Errorf("supervisor: terminate %d: %w", pid, err)
	}

	if c != nil {
		select {
		case <-c.done:
			return nil
		case <-time.After(s.stopTimeout):
		}
	} else if waitForExit(pid, s.stopTimeout) {
		return nil
	}

	if err := procutil.Kill(pid); err != nil && procutil.IsAlive(pid) {
		return fmt.Errorf("supervisor: kill %d: %w", pid, err)
	}
	if c != nil {
		<-c.done
	}
	return nil
}

// IsAlive reports whether the process with the given pid is running.
func (s *Supervisor) IsAlive(pid int) bool {
	return procutil.IsAlive(pid)
}

// StopAll terminates every child this supervisor spawned. Used only when the
// shutdown-children policy is enabled.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	pids := make([]int, 0, len(s.children))
	for pid := range s.children {
		pids = append(pids, pid)
	}
	s.mu.Unlock()

	for _, pid := range pids {
		if err := s.Stop(pid); err != nil {
			log.Printf("[Supervisor] stop %d: %v", pid, err)
		}
	}
}

// buildCommand turns a spec into argv plus extra environment entries. The
// port goes into either the environment or the argument list, never both. A
// port argument ending in ':' gets the port appended directly (Django's
// "0.0.0.0:<port>" form).
func buildCommand(spec Spec) (args []string, env []string, err error) {
	args = strings.Fields(spec.Command)
	if len(args) == 0 {
		return nil, nil, ErrEmptyCommand
	}

	if spec.PortArg != "" {
		if strings.HasSuffix(spec.PortArg, ":") {
			args = append(args, fmt.Sprintf("%s%d", spec.PortArg, spec.Port))
		} else {
			args = append(args, spec.PortArg, fmt.Sprintf("%d", spec.Port))
		}
		return args, nil, nil
	}

	portEnv := spec.PortEnv
	if portEnv == "" {
		portEnv = DefaultPortEnv
	}
	env = []string{fmt.Sprintf("%s=%d", portEnv, spec.Port)}
	return args, env, nil
}

func startWithoutPTY(cmd *exec.Cmd, sink io.Writer) error {
	if sink != nil {
		cmd.Stdout = sink
		cmd.Stderr = sink
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	cmd.Stdin = nil
	return cmd.Start()
}

func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !procutil.IsAlive(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !procutil.IsAlive(pid)
}
