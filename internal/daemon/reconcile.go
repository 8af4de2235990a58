package daemon

import (
	"context"
	"log"
	"sync"
	"time"
)

// reconcileService periodically prunes registry entries whose processes have
// exited without an explicit stop, so dead routes disappear within one tick.
type reconcileService struct {
	daemon   *Daemon
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newReconcileService(d *Daemon) *reconcileService {
	return &reconcileService{daemon: d, interval: reconcileInterval}
}

func (s *reconcileService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(runCtx)
	return nil
}

func (s *reconcileService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return nil
}

func (s *reconcileService) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned := s.daemon.registry.Reconcile()
			if len(pruned) == 0 {
				continue
			}
			for _, svc := range pruned {
				log.Printf("[Reconcile] %s (pid %d) exited, route removed", svc.Domain, svc.PID)
			}
			s.daemon.persistSnapshot()
		}
	}
}
