// Package gateway is the main orchestrator that ties the control-plane
// components together: store, token validation, control service and the HTTP
// surface.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aura-swarm/swarm/gateway/config"
	"github.com/aura-swarm/swarm/gateway/internal/api"
	"github.com/aura-swarm/swarm/gateway/internal/auth"
	"github.com/aura-swarm/swarm/gateway/internal/control"
	"github.com/aura-swarm/swarm/gateway/internal/store"
)

// Gateway is the main gateway process.
type Gateway struct {
	cfg    *config.Config
	store  store.Store
	api    *api.Server
	logger *slog.Logger
}

// New creates a new gateway from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	st, err := store.Open(ctx, store.Config{
		DataDir:     cfg.Storage.DataDir,
		DatabaseURL: cfg.Storage.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	var validator auth.Validator
	if cfg.Auth.DevMode {
		logger.Warn("DEV_MODE is on: accepting mock tokens, never use in production")
		validator = &auth.MockValidator{MFAVerified: true}
	} else {
		validator, err = auth.NewJWKSValidator(cfg.Auth.BaseURL, cfg.Auth.Audience)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init token validator: %w", err)
		}
	}

	var sched control.Scheduler
	if cfg.Scheduler.URL != "" {
		sched = control.NewHTTPScheduler(cfg.Scheduler.URL, logger)
	} else {
		logger.Warn("no SCHEDULER_URL configured, agents will not get pods")
		sched = control.NewNoopScheduler(logger)
	}

	ctrl := control.NewService(st, sched, cfg.Session.MaxAgentsPerUser, logger)
	apiSrv := api.NewServer(ctrl, validator, cfg, logger)

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS_ORIGINS contains wildcard '*', restrict to specific origins in production")
			break
		}
	}

	return &Gateway{
		cfg:    cfg,
		store:  st,
		api:    apiSrv,
		logger: logger.With("component", "gateway"),
	}, nil
}

// Run starts the gateway HTTP server and blocks until the context is
// canceled.
func (g *Gateway) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    g.cfg.Server.Addr,
		Handler: g.api.Handler(),
	}

	g.api.StartBackgroundTasks(ctx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", "addr", g.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("shutting down gateway gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			g.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			g.logger.Info("http server stopped gracefully")
		}

		g.logger.Info("closing store")
		_ = g.store.Close()
		g.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = g.store.Close()
		return err
	}
}
