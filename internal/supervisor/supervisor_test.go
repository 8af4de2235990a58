package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestBuildCommand(t *testing.T) {
	cases := []struct {
		name     string
		spec     Spec
		wantArgs []string
		wantEnv  []string
	}{
		{
			name:     "default port env",
			spec:     Spec{Command: "npm run dev", Port: 4000},
			wantArgs: []string{"npm", "run", "dev"},
			wantEnv:  []string{"PORT=4000"},
		},
		{
			name:     "custom port env",
			spec:     Spec{Command: "node server.js", Port: 4100, PortEnv: "APP_PORT"},
			wantArgs: []string{"node", "server.js"},
			wantEnv:  []string{"APP_PORT=4100"},
		},
		{
			name:     "port arg",
			spec:     Spec{Command: "npm run dev --", Port: 4200, PortArg: "--port"},
			wantArgs: []string{"npm", "run", "dev", "--", "--port", "4200"},
			wantEnv:  nil,
		},
		{
			name:     "port arg with trailing colon appends directly",
			spec:     Spec{Command: "python manage.py runserver", Port: 4300, PortArg: "0.0.0.0:"},
			wantArgs: []string{"python", "manage.py", "runserver", "0.0.0.0:4300"},
			wantEnv:  nil,
		},
		{
			name:     "port arg wins over port env",
			spec:     Spec{Command: "rails server", Port: 4400, PortEnv: "PORT", PortArg: "-p"},
			wantArgs: []string{"rails", "server", "-p", "4400"},
			wantEnv:  nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			args, env, err := buildCommand(tc.spec)
			if err != nil {
				t.Fatalf("buildCommand: %v", err)
			}
			if strings.Join(args, " ") != strings.Join(tc.wantArgs, " ") {
				t.Errorf("args = %v; want %v", args, tc.wantArgs)
			}
			if strings.Join(env, " ") != strings.Join(tc.wantEnv, " ") {
				t.Errorf("env = %v; want %v", env, tc.wantEnv)
			}
		})
	}
}

func TestBuildCommandEmpty(t *testing.T) {
	_, _, err := buildCommand(Spec{Command: "   "})
	if !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestSpawnInjectsPortEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on unix env command")
	}

	logPath := filepath.Join(t.TempDir(), "app.log")
	s := New()

	pid, err := s.Spawn(Spec{Command: "env", Port: 4321, LogPath: logPath})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("pid = %d", pid)
	}

	// env exits immediately; wait for the output drain to finish.
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, _ := os.ReadFile(logPath)
		if strings.Contains(string(data), "PORT=4321") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("log never contained PORT=4321:\n%s", data)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStopTerminatesChild(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sleep command")
	}

	s := New()
	pid, err := s.Spawn(Spec{Command: "sleep 300", Port: 4000})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !s.IsAlive(pid) {
		t.Fatal("child should be alive after spawn")
	}

	if err := s.Stop(pid); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.IsAlive(pid) {
		t.Fatal("child should be gone after Stop")
	}
}

func TestStopMissingPIDIsSuccess(t *testing.T) {
	s := New()
	// The desired end state (process gone) is already reached.
	if err := s.Stop(1<<30 - 1); err != nil {
		t.Fatalf("Stop of missing pid should succeed, got %v", err)
	}
}

func TestStopAll(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sleep command")
	}

	s := New()
	var pids []int
	for i := 0; i < 2; i++ {
		pid, err := s.Spawn(Spec{Command: "sleep 300", Port: 4000 + i})
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		pids = append(pids, pid)
	}

	s.StopAll()

	for _, pid := range pids {
		if s.IsAlive(pid) {
			t.Errorf("pid %d still alive after StopAll", pid)
		}
	}
}

func TestSpawnBadCommand(t *testing.T) {
	s := New()
	_, err := s.Spawn(Spec{Command: "/nonexistent-binary-xyz", Port: 4000})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
}
