// Package daemon assembles the portless runtime: the routing registry, the
// proxy listeners, process supervision and the control socket, started and
// stopped as one unit.
package daemon

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/portless-dev/portless/internal/allocator"
	"github.com/portless-dev/portless/internal/certs"
	"github.com/portless-dev/portless/internal/config"
	"github.com/portless-dev/portless/internal/procutil"
	"github.com/portless-dev/portless/internal/protocol"
	"github.com/portless-dev/portless/internal/proxy"
	"github.com/portless-dev/portless/internal/registry"
	daemonruntime "github.com/portless-dev/portless/internal/runtime"
	"github.com/portless-dev/portless/internal/store"
	"github.com/portless-dev/portless/internal/supervisor"
)

// ErrNotFound reports a stop or kill request for a domain with no binding.
var ErrNotFound = errors.New("daemon: service not found")

// errInvalid marks malformed register payloads; the control layer maps it to
// the invalid-request protocol code.
var errInvalid = errors.New("daemon: invalid request")

const (
	// reconcileInterval is the polling period for pruning registry entries
	// whose processes died without an explicit stop.
	reconcileInterval = 15 * time.Second

	// snapshotTimeout bounds store writes triggered by routing changes.
	snapshotTimeout = 5 * time.Second
)

// Options groups dependencies required to construct a Daemon.
type Options struct {
	Paths config.Paths
	Store *store.Store
	HTTPS bool

	// KillChildren makes shutdown terminate supervised processes even when
	// the store setting says otherwise.
	KillChildren bool

	// Listener overrides, used by tests; empty means the standard ports.
	HTTPAddr  string
	HTTPSAddr string
}

// Daemon represents the main daemon process.
type Daemon struct {
	paths      config.Paths
	store      *store.Store
	registry   *registry.Registry
	allocator  *allocator.Allocator
	supervisor *supervisor.Supervisor
	certs      *certs.Manager
	host       *daemonruntime.ServiceHost
	lifecycle  *daemonruntime.Lifecycle

	httpsEnabled bool
	killChildren bool
	httpAddr     string
	httpsAddr    string
	startedAt    time.Time
}

// New creates a daemon bound to the provided store and filesystem layout.
func New(opts Options) (*Daemon, error) {
	if opts.Store == nil {
		return nil, errors.New("daemon: state store is required")
	}

	reg := registry.New(nil)

	return &Daemon{
		paths:        opts.Paths,
		store:        opts.Store,
		registry:     reg,
		allocator:    allocator.New(reg.Ports),
		supervisor:   supervisor.New(),
		certs:        certs.NewManager(opts.Paths),
		host:         daemonruntime.NewServiceHost(),
		lifecycle:    daemonruntime.NewLifecycle(),
		httpsEnabled: opts.HTTPS,
		killChildren: opts.KillChildren,
		httpAddr:     opts.HTTPAddr,
		httpsAddr:    opts.HTTPSAddr,
	}, nil
}

// Run starts every service and blocks until shutdown is requested or a
// service fails fatally.
func (d *Daemon) Run(ctx context.Context) error {
	d.startedAt = time.Now()

	if err := daemonruntime.WritePIDFile(d.paths.PIDFile, os.Getpid()); err != nil {
		return err
	}
	defer daemonruntime.RemovePIDFile(d.paths.PIDFile)

	if err := d.restoreState(ctx); err != nil {
		return err
	}

	tlsConfig, err := d.setupTLS()
	if err != nil {
		return err
	}

	engine := proxy.New(proxy.Options{
		Registry:  d.registry,
		HTTPAddr:  d.httpAddr,
		HTTPSAddr: d.httpsAddr,
		TLSConfig: tlsConfig,
		Stop:      d.StopService,
	})

	if err := d.host.Register("proxy", func(ctx context.Context) (daemonruntime.Service, error) {
		return engine, nil
	}); err != nil {
		return err
	}
	if err := d.host.Register("control", func(ctx context.Context) (daemonruntime.Service, error) {
		return newControlService(d.paths.Socket, d), nil
	}); err != nil {
		return err
	}
	if err := d.host.Register("reconciler", func(ctx context.Context) (daemonruntime.Service, error) {
		return newReconcileService(d), nil
	}); err != nil {
		return err
	}

	if err := d.host.Start(ctx); err != nil {
		return err
	}

	log.Printf("[Daemon] running (pid %d, %d service(s) restored, https=%v)",
		os.Getpid(), d.registry.Len(), d.httpsEnabled)

	var runErr error
	select {
	case <-ctx.Done():
	case <-d.lifecycle.Done():
	case err := <-d.host.Errors():
		runErr = err
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.host.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}

	d.persistSnapshot()

	stopChildren := d.killChildren
	if !stopChildren {
		stopChildren, _ = d.store.BoolSetting(stopCtx, store.SettingShutdownChildren, false)
	}
	if stopChildren {
		log.Printf("[Daemon] stopping supervised processes")
		d.supervisor.StopAll()
	}

	return runErr
}

// Shutdown requests a graceful stop; Run returns once teardown completes.
func (d *Daemon) Shutdown() {
	d.lifecycle.Shutdown()
}

// RegisterService binds a domain, either spawning the command under
// supervision or recording an externally managed port.
func (d *Daemon) RegisterService(data protocol.RegisterData) (*protocol.RegisterResult, error) {
	domain := strings.ToLower(strings.TrimSpace(data.Domain))
	if domain == "" {
		return nil, fmt.Errorf("%w: domain is required", errInvalid)
	}

	if existing, ok := d.registry.Lookup(domain); ok && d.registry.Alive(existing) {
		return nil, fmt.Errorf("%w: %s (pid %d)", registry.ErrDomainBound, domain, existing.PID)
	}

	if strings.TrimSpace(data.Command) == "" {
		return d.registerExternal(domain, data)
	}
	return d.registerSupervised(domain, data)
}

// registerExternal records a binding whose listener portless does not manage.
// The port may sit outside the allocator range; routing only needs to know
// where to dial.
func (d *Daemon) registerExternal(domain string, data protocol.RegisterData) (*protocol.RegisterResult, error) {
	if data.Port <= 0 || data.Port > 65535 {
		return nil, fmt.Errorf("%w: a port is required when no command is given", errInvalid)
	}

	svc := registry.Service{
		Domain:    domain,
		Port:      data.Port,
		Directory: data.Directory,
	}
	if err := d.registry.Register(svc); err != nil {
		return nil, err
	}

	d.afterRoutingChange(domain)
	log.Printf("[Daemon] registered %s -> 127.0.0.1:%d (external)", domain, data.Port)
	return &protocol.RegisterResult{Domain: domain, Port: data.Port}, nil
}

func (d *Daemon) registerSupervised(domain string, data protocol.RegisterData) (*protocol.RegisterResult, error) {
	port := data.Port
	if port == 0 {
		var err error
		port, err = d.allocator.Allocate()
		if err != nil {
			return nil, err
		}
		// By the time this returns the registry either holds the port or the
		// registration failed; either way the reservation is no longer needed.
		defer d.allocator.Release(port)
	}

	pid, err := d.supervisor.Spawn(supervisor.Spec{
		Command: data.Command,
		Dir:     data.Directory,
		Port:    port,
		PortEnv: data.PortEnv,
		PortArg: data.PortArg,
		LogPath: d.serviceLogPath(domain),
	})
	if err != nil {
		return nil, err
	}

	svc := registry.Service{
		Domain:    domain,
		Port:      port,
		PID:       pid,
		Directory: data.Directory,
		StartedAt: time.Now(),
	}
	if err := d.registry.Register(svc); err != nil {
		// Lost the race for the domain; do not leave the child orphaned.
		d.supervisor.Stop(pid)
		return nil, err
	}

	d.afterRoutingChange(domain)
	log.Printf("[Daemon] registered %s -> 127.0.0.1:%d (pid %d)", domain, port, pid)
	return &protocol.RegisterResult{Domain: domain, Port: port, PID: pid}, nil
}

// StopService terminates a service's process (if portless spawned one) and
// removes its route. The route is gone before this returns.
func (d *Daemon) StopService(domain string) error {
	svc, ok := d.registry.Lookup(domain)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, domain)
	}

	if svc.PID > 0 {
		if err := d.supervisor.Stop(svc.PID); err != nil {
			return fmt.Errorf("stop %s (pid %d): %w", svc.Domain, svc.PID, err)
		}
	}

	d.registry.Remove(svc.Domain)
	d.persistSnapshot()
	log.Printf("[Daemon] stopped %s (port %d)", svc.Domain, svc.Port)
	return nil
}

// ListServices returns all registered services with a fresh liveness check.
func (d *Daemon) ListServices() []protocol.ServiceInfo {
	services := d.registry.List()
	out := make([]protocol.ServiceInfo, 0, len(services))
	for _, svc := range services {
		out = append(out, protocol.ServiceInfo{
			Domain:    svc.Domain,
			Port:      svc.Port,
			PID:       svc.PID,
			Directory: svc.Directory,
			StartedAt: svc.StartedAt,
			Alive:     d.registry.Alive(svc),
		})
	}
	return out
}

// Status reports daemon metadata for the status command.
func (d *Daemon) Status() protocol.StatusResult {
	return protocol.StatusResult{
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		ServiceCount: d.registry.Len(),
		HTTPSEnabled: d.httpsEnabled,
	}
}

// RegenerateCert mints a fresh leaf certificate covering the currently
// registered domains. The running HTTPS listener picks it up on the next
// handshake.
func (d *Daemon) RegenerateCert() error {
	return d.certs.Regenerate(d.registry.Domains())
}

func (d *Daemon) restoreState(ctx context.Context) error {
	services, err := d.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("daemon: restore snapshot: %w", err)
	}
	d.registry.Restore(services)

	if pruned := d.registry.Reconcile(); len(pruned) > 0 {
		for _, svc := range pruned {
			log.Printf("[Daemon] dropped stale entry %s (pid %d gone)", svc.Domain, svc.PID)
		}
	}
	d.persistSnapshot()

	saveCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	return d.store.SaveSettings(saveCtx, map[string]string{
		store.SettingHTTPSEnabled: strconv.FormatBool(d.httpsEnabled),
	})
}

func (d *Daemon) setupTLS() (*tls.Config, error) {
	if !d.httpsEnabled {
		return nil, nil
	}
	if err := d.certs.EnsureLeaf(d.registry.Domains()); err != nil {
		return nil, err
	}
	return d.certs.DynamicTLSConfig()
}

// afterRoutingChange persists the snapshot and, when HTTPS is on, extends the
// leaf certificate to cover the new domain. Certificate trouble must not fail
// the registration; HTTP routing already works.
func (d *Daemon) afterRoutingChange(domain string) {
	d.persistSnapshot()

	if d.httpsEnabled {
		if err := d.certs.EnsureLeaf(d.registry.Domains()); err != nil {
			log.Printf("[Daemon] leaf certificate refresh for %s failed: %v", domain, err)
		}
	}
}

func (d *Daemon) persistSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	if err := d.store.SaveSnapshot(ctx, d.registry.List()); err != nil {
		log.Printf("[Daemon] persist snapshot: %v", err)
	}
}

func (d *Daemon) serviceLogPath(domain string) string {
	return filepath.Join(d.paths.Logs, domain+".log")
}

// IsRunning checks the pid file for a live daemon process.
func IsRunning(paths config.Paths) (int, bool) {
	pid, err := daemonruntime.ReadPIDFile(paths.PIDFile)
	if err != nil {
		return 0, false
	}
	if !procutil.IsAlive(pid) {
		return 0, false
	}
	return pid, true
}
