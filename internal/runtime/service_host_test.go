package runtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingService struct {
	name     string
	events   *[]string
	startErr error
}

func (s *recordingService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	*s.events = append(*s.events, "start:"+s.name)
	return nil
}

func (s *recordingService) Shutdown(ctx context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestServiceHostOrdering(t *testing.T) {
	var events []string
	host := NewServiceHost()

	for _, name := range []string{"store", "control", "proxy"} {
		name := name
		if err := host.Register(name, func(ctx context.Context) (Service, error) {
			return &recordingService{name: name, events: &events}, nil
		}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := host.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []string{"start:store", "start:control", "start:proxy", "stop:proxy", "stop:control", "stop:store"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestServiceHostStartFailureRollsBack(t *testing.T) {
	var events []string
	host := NewServiceHost()

	host.Register("ok", func(ctx context.Context) (Service, error) {
		return &recordingService{name: "ok", events: &events}, nil
	})
	host.Register("bad", func(ctx context.Context) (Service, error) {
		return &recordingService{name: "bad", events: &events, startErr: errors.New("bind failed")}, nil
	})

	if err := host.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded, want error")
	}

	// The service that started must have been shut down again.
	found := false
	for _, ev := range events {
		if ev == "stop:ok" {
			found = true
		}
	}
	if !found {
		t.Fatalf("rollback did not stop started service: %v", events)
	}
}

func TestServiceHostDuplicateRegistration(t *testing.T) {
	host := NewServiceHost()
	factory := func(ctx context.Context) (Service, error) { return nil, nil }

	if err := host.Register("proxy", factory); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := host.Register("proxy", factory); err == nil {
		t.Fatal("duplicate Register succeeded")
	}
}

func TestLifecycleShutdownIdempotent(t *testing.T) {
	lc := NewLifecycle()

	select {
	case <-lc.Done():
		t.Fatal("Done closed before Shutdown")
	default:
	}

	lc.Shutdown()
	lc.Shutdown() // second call must not panic

	select {
	case <-lc.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Shutdown")
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := t.TempDir() + "/portlessd.pid"

	if err := WritePIDFile(path, 4242); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != 4242 {
		t.Fatalf("pid = %d, want 4242", pid)
	}

	RemovePIDFile(path)
	if _, err := ReadPIDFile(path); err == nil {
		t.Fatal("ReadPIDFile succeeded after RemovePIDFile")
	}
}
