// Package supervisor orchestrates the daemon's long-running tasks (the
// API server, the SNI dispatcher, the traffic sampler) and coordinates
// their shutdown on SIGTERM (spec §5).
package supervisor

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/overlaygate/gatewayd/internal/kernel"
	"github.com/overlaygate/gatewayd/internal/logging"
	"github.com/overlaygate/gatewayd/internal/sni"
)

// DefaultDrainTimeout is T_drain from spec §5.
const DefaultDrainTimeout = 10 * time.Second

// Config controls shutdown behaviour.
type Config struct {
	DrainTimeout time.Duration
	// CleanExit tears down every managed namespace on shutdown instead
	// of leaving them for a warm restart (spec §5).
	CleanExit bool
}

// DefaultConfig returns the daemon's default shutdown configuration.
func DefaultConfig() Config {
	return Config{DrainTimeout: DefaultDrainTimeout}
}

// NamespaceLister is the subset of kernel.Adapter needed to tear down
// namespaces on a clean exit.
type NamespaceLister interface {
	ListNamespaces() ([]string, error)
	DeleteNamespace(name string) error
}

// Supervisor owns every accept loop and background task the daemon
// runs, and brings them all down together on SIGTERM.
type Supervisor struct {
	cfg Config
	log *logging.Logger

	apiServer   *http.Server
	sniServer   *sni.Dispatcher
	sniListener net.Listener
	adapter     NamespaceLister

	wg sync.WaitGroup
}

// New builds a Supervisor. httpServer and dispatcher/sniListener may be
// nil for components not in use (e.g. tests exercising only one task).
func New(cfg Config, httpServer *http.Server, dispatcher *sni.Dispatcher, sniListener net.Listener, adapter NamespaceLister, log *logging.Logger) *Supervisor {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	return &Supervisor{
		cfg:         cfg,
		log:         log.WithComponent("supervisor"),
		apiServer:   httpServer,
		sniServer:   dispatcher,
		sniListener: sniListener,
		adapter:     adapter,
	}
}

// Run starts every configured task and blocks until ctx is cancelled or
// SIGTERM/SIGINT is received, then drains for up to DrainTimeout before
// returning. Each background task (e.g. sampler.Run) must return when
// its context is cancelled.
func (s *Supervisor) Run(ctx context.Context, background ...func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	for _, task := range background {
		task := task
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			task(ctx)
		}()
	}

	if s.apiServer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("api server exited", "error", err)
			}
		}()
	}

	if s.sniServer != nil && s.sniListener != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.sniServer.Serve(s.sniListener); err != nil {
				s.log.Info("sni dispatcher stopped accepting", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case <-sig:
		s.log.Info("received shutdown signal")
	}

	return s.shutdown(cancel)
}

func (s *Supervisor) shutdown(cancel context.CancelFunc) error {
	drainCtx, drainCancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer drainCancel()

	if s.sniListener != nil {
		s.sniListener.Close()
	}
	if s.apiServer != nil {
		if err := s.apiServer.Shutdown(drainCtx); err != nil {
			s.log.Warn("api server shutdown", "error", err)
		}
	}

	cancel() // stop background tasks (sampler) now that new work is refused

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-drainCtx.Done():
		s.log.Warn("drain timeout exceeded, forcing shutdown", "timeout", s.cfg.DrainTimeout)
	}

	if s.cfg.CleanExit && s.adapter != nil {
		s.teardownNamespaces()
	}

	s.log.Info("shutdown complete")
	return nil
}

func (s *Supervisor) teardownNamespaces() {
	namespaces, err := s.adapter.ListNamespaces()
	if err != nil {
		s.log.Warn("list namespaces for clean exit", "error", err)
		return
	}
	for _, ns := range namespaces {
		if _, ok := kernel.ParsePort(ns); !ok {
			continue
		}
		if err := s.adapter.DeleteNamespace(ns); err != nil {
			s.log.Warn("delete namespace on clean exit", "namespace", ns, "error", err)
		}
	}
}
