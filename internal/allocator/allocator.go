// Package allocator hands out backend ports from a bounded range.
package allocator

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

const (
	// RangeStart is the first port handed out to managed apps.
	RangeStart = 4000
	// RangeEnd is the last port handed out to managed apps.
	RangeEnd = 4999
)

// ErrExhausted indicates every port in the range is taken.
var ErrExhausted = errors.New("allocator: no free port in range")

// PortsInUseFunc returns a snapshot of ports currently held by registered
// services. The allocator calls it once per allocation, before probing, and
// holds no lock of its own across the probes.
type PortsInUseFunc func() map[int]struct{}

// Allocator scans the managed range from a rotating cursor so a just-freed
// port is not reused immediately (fewer TIME_WAIT collisions). Ports handed
// out stay reserved until Release, so concurrent Allocate calls cannot return
// the same port while the registry snapshot lags behind.
type Allocator struct {
	inUse PortsInUseFunc
	probe func(port int) bool

	mu       sync.Mutex
	next     int
	reserved map[int]struct{}
}

// New creates an allocator. inUse may be nil when no registry exists yet.
func New(inUse PortsInUseFunc) *Allocator {
	return &Allocator{
		inUse:    inUse,
		probe:    probePort,
		next:     RangeStart,
		reserved: make(map[int]struct{}),
	}
}

// Allocate returns a port in [RangeStart, RangeEnd] that is neither held by a
// registered service, reserved by an in-flight allocation, nor bound by any
// other listener. It fails with ErrExhausted after one full scan of the range.
// The caller must Release the port once it is visible through the in-use
// snapshot, or when the registration it was allocated for fails.
func (a *Allocator) Allocate() (int, error) {
	var taken map[int]struct{}
	if a.inUse != nil {
		taken = a.inUse()
	}

	a.mu.Lock()
	start := a.next
	a.mu.Unlock()

	size := RangeEnd - RangeStart + 1
	for i := 0; i < size; i++ {
		port := RangeStart + (start-RangeStart+i)%size

		// Skip ports the registry knows about even if the bind probe would
		// succeed: the owning app may not have bound its port yet.
		if _, held := taken[port]; held {
			continue
		}
		if a.isReserved(port) {
			continue
		}
		if !a.probe(port) {
			continue
		}
		// No lock is held across the probe, so a concurrent caller may have
		// reserved the port in the meantime.
		if !a.reserve(port, size) {
			continue
		}
		return port, nil
	}

	return 0, fmt.Errorf("%w [%d-%d]", ErrExhausted, RangeStart, RangeEnd)
}

// Release drops the reservation taken by Allocate.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	delete(a.reserved, port)
	a.mu.Unlock()
}

func (a *Allocator) isReserved(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.reserved[port]
	return ok
}

func (a *Allocator) reserve(port, size int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.reserved[port]; ok {
		return false
	}
	a.reserved[port] = struct{}{}
	a.next = RangeStart + (port-RangeStart+1)%size
	return true
}

// probePort attempts a transient bind-and-release on the loopback interface.
func probePort(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
