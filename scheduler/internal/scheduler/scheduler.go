// Package scheduler is the main orchestrator of the pod scheduler service:
// cluster client, endpoint cache, reconciler and HTTP surface.
package scheduler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"k8s.io/client-go/kubernetes"

	"github.com/aura-swarm/swarm/scheduler/config"
	"github.com/aura-swarm/swarm/scheduler/internal/api"
	"github.com/aura-swarm/swarm/scheduler/internal/cache"
	"github.com/aura-swarm/swarm/scheduler/internal/k8s"
)

// Scheduler is the main scheduler process.
type Scheduler struct {
	cfg        *config.Config
	api        *api.Server
	reconciler *k8s.Reconciler
	logger     *slog.Logger
}

// New creates a new scheduler from configuration. A nil cluster client
// selects the no-cluster mode: pods are only logged and no reconciler runs.
func New(cfg *config.Config, client kubernetes.Interface, logger *slog.Logger) *Scheduler {
	endpoints := cache.New()

	var sched k8s.Scheduler
	var reconciler *k8s.Reconciler
	if client != nil {
		sched = k8s.NewClusterScheduler(client, cfg.Cluster.Namespace, cfg.Cluster.AgentImage, k8s.Limits{
			MaxCPUMillicores: cfg.Cluster.MaxCPUMillicores,
			MaxMemoryMB:      cfg.Cluster.MaxMemoryMB,
		}, logger)
		notifier := k8s.NewGatewayNotifier(cfg.Gateway.URL, logger)
		reconciler = k8s.NewReconciler(client, cfg.Cluster.Namespace, endpoints, notifier, logger)
	} else {
		logger.Warn("no cluster client, running in no-cluster mode")
		sched = k8s.NewNoopScheduler(logger)
	}

	return &Scheduler{
		cfg:        cfg,
		api:        api.NewServer(sched, endpoints, logger),
		reconciler: reconciler,
		logger:     logger.With("component", "scheduler"),
	}
}

// Run starts the reconciler and the HTTP server and blocks until the context
// is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.reconciler != nil {
		go s.reconciler.Run(ctx)
	}

	srv := &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("scheduler listening", "addr", s.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down scheduler gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		}
		s.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		return err
	}
}
