// Package registry holds the authoritative domain -> service routing table.
// The proxy engine reads it on every request; the control server is the only
// writer.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/portless-dev/portless/internal/procutil"
)

// ErrDomainBound indicates the domain is registered to a live process.
var ErrDomainBound = errors.New("registry: domain already bound")

// Service is one registered domain binding.
type Service struct {
	Domain    string    `json:"domain"`
	Port      int       `json:"port"`
	PID       int       `json:"pid,omitempty"`
	Directory string    `json:"directory"`
	StartedAt time.Time `json:"started_at"`
}

// LivenessFunc reports whether the process with the given pid is running.
type LivenessFunc func(pid int) bool

// Registry is safe for concurrent readers with serialized writers.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
	isAlive  LivenessFunc
}

// New creates an empty registry. A nil liveness func defaults to a signal-0
// probe of the recorded pid.
func New(isAlive LivenessFunc) *Registry {
	if isAlive == nil {
		isAlive = procutil.IsAlive
	}
	return &Registry{
		services: make(map[string]Service),
		isAlive:  isAlive,
	}
}

// Register records a service binding. A domain already held by a live
// process is refused with ErrDomainBound; a stale entry (recorded pid no
// longer running) is silently replaced.
func (r *Registry) Register(svc Service) error {
	domain := normalize(svc.Domain)
	if domain == "" {
		return fmt.Errorf("registry: empty domain")
	}
	svc.Domain = domain
	if svc.StartedAt.IsZero() {
		svc.StartedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.services[domain]; ok {
		if r.entryAlive(existing) {
			return fmt.Errorf("%w: %s (pid %d)", ErrDomainBound, domain, existing.PID)
		}
	}

	r.services[domain] = svc
	return nil
}

// Lookup resolves a domain to its service. Matching is case-insensitive and
// exact; no wildcard expansion happens here.
func (r *Registry) Lookup(domain string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[normalize(domain)]
	return svc, ok
}

// Remove deletes the binding for the domain and returns it.
func (r *Registry) Remove(domain string) (Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalize(domain)
	svc, ok := r.services[key]
	if ok {
		delete(r.services, key)
	}
	return svc, ok
}

// List returns all services ordered by domain for deterministic output.
func (r *Registry) List() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Len reports the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Domains returns the sorted registered domain names.
func (r *Registry) Domains() []string {
	services := r.List()
	out := make([]string, len(services))
	for i, svc := range services {
		out[i] = svc.Domain
	}
	return out
}

// Ports returns a snapshot of every registered port, dead entries included;
// reconciliation prunes those, and until it does their ports stay off limits.
// The allocator consults this without holding any registry lock across its
// bind probes.
func (r *Registry) Ports() map[int]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ports := make(map[int]struct{}, len(r.services))
	for _, svc := range r.services {
		ports[svc.Port] = struct{}{}
	}
	return ports
}

// Alive reports whether the service's recorded process is still running.
// Services registered without a pid are considered alive as long as they are
// in the table.
func (r *Registry) Alive(svc Service) bool {
	return r.entryAlive(svc)
}

// Reconcile prunes entries whose recorded pid is no longer a live process and
// returns the removed services.
func (r *Registry) Reconcile() []Service {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Service
	for domain, svc := range r.services {
		if svc.PID > 0 && !r.isAlive(svc.PID) {
			removed = append(removed, svc)
			delete(r.services, domain)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Domain < removed[j].Domain })
	return removed
}

// Restore replaces the table with the given services, used when loading a
// snapshot at daemon startup. Entries are normalized; later duplicates win.
func (r *Registry) Restore(services []Service) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.services = make(map[string]Service, len(services))
	for _, svc := range services {
		domain := normalize(svc.Domain)
		if domain == "" {
			continue
		}
		svc.Domain = domain
		r.services[domain] = svc
	}
}

func (r *Registry) entryAlive(svc Service) bool {
	if svc.PID <= 0 {
		return true
	}
	return r.isAlive(svc.PID)
}

func normalize(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
