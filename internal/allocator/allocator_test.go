package allocator

import (
	"errors"
	"net"
	"sync"
	"testing"
)

func TestAllocateDistinctPorts(t *testing.T) {
	held := make(map[int]struct{})
	a := New(func() map[int]struct{} {
		snapshot := make(map[int]struct{}, len(held))
		for p := range held {
			snapshot[p] = struct{}{}
		}
		return snapshot
	})

	seen := make(map[int]bool)
	for i := 0; i < 10; i++ {
		port, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		if port < RangeStart || port > RangeEnd {
			t.Fatalf("port %d outside range", port)
		}
		if seen[port] {
			t.Fatalf("port %d returned twice", port)
		}
		seen[port] = true
		held[port] = struct{}{}
	}
}

func TestAllocateSkipsRegistryPorts(t *testing.T) {
	a := New(func() map[int]struct{} {
		return map[int]struct{}{RangeStart: {}, RangeStart + 1: {}}
	})

	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if port == RangeStart || port == RangeStart+1 {
		t.Fatalf("allocated registry-held port %d", port)
	}
}

func TestAllocateSkipsBoundPorts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	bound := ln.Addr().(*net.TCPAddr).Port

	a := New(nil)

	for i := 0; i < 5; i++ {
		port, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if port == bound {
			t.Fatalf("allocated OS-bound port %d", port)
		}
	}
}

func TestAllocateExhausted(t *testing.T) {
	a := New(nil)
	a.probe = func(int) bool { return false }

	_, err := a.Allocate()
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestAllocateConcurrentDistinct(t *testing.T) {
	a := New(nil)
	a.probe = func(int) bool { return true }

	// Several rounds of simultaneous callers against a registry snapshot
	// that never catches up; reservations must keep the ports distinct.
	const rounds = 5
	const callers = 4

	seen := make(map[int]bool)
	for r := 0; r < rounds; r++ {
		var mu sync.Mutex
		var wg sync.WaitGroup
		ports := make([]int, 0, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				port, err := a.Allocate()
				if err != nil {
					t.Errorf("Allocate: %v", err)
					return
				}
				mu.Lock()
				ports = append(ports, port)
				mu.Unlock()
			}()
		}
		wg.Wait()

		for _, port := range ports {
			if seen[port] {
				t.Fatalf("round %d: port %d handed out twice (ports %v)", r, port, ports)
			}
			seen[port] = true
		}
	}
}

func TestReleaseMakesPortReusable(t *testing.T) {
	a := New(nil)
	a.probe = func(int) bool { return true }

	size := RangeEnd - RangeStart + 1
	for i := 0; i < size; i++ {
		if _, err := a.Allocate(); err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
	}
	if _, err := a.Allocate(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted with every port reserved, got %v", err)
	}

	freed := RangeStart + 7
	a.Release(freed)

	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate after Release: %v", err)
	}
	if port != freed {
		t.Fatalf("expected released port %d, got %d", freed, port)
	}
}

func TestCursorRotates(t *testing.T) {
	a := New(nil)
	a.probe = func(int) bool { return true }

	first, err := a.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if second != first+1 {
		t.Errorf("cursor did not advance: %d then %d", first, second)
	}
}
