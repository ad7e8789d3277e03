// Package hub is the orchestrator that ties the relay components together.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/covisit-io/covisit/internal/api"
	"github.com/covisit-io/covisit/internal/config"
	"github.com/covisit-io/covisit/internal/relay"
	"github.com/covisit-io/covisit/internal/session"
	"github.com/covisit-io/covisit/internal/store"
)

// Hub is the main relay process.
type Hub struct {
	cfg      *config.Config
	store    store.Store
	recorder *store.Recorder
	relay    *relay.Hub
	api      *api.Server
	logger   *slog.Logger
}

// New creates a new hub from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	recorder := store.NewRecorder(db, logger)

	sessions := session.NewStore(session.Options{
		ResetPermissionOnReconnect: cfg.Session.ResetPermissionOnReconnect,
	})

	rl := relay.New(sessions, recorder, logger, relay.Options{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		AllowedNavOrigins: cfg.Relay.AllowedNavOrigins,
		MaxMessageBytes:   cfg.Relay.MaxMessageBytes,
	})

	apiSrv := api.NewServer(rl, db, cfg, logger)

	h := &Hub{
		cfg:      cfg,
		store:    db,
		recorder: recorder,
		relay:    rl,
		api:      apiSrv,
		logger:   logger.With("component", "hub"),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}
	if len(cfg.Relay.AllowedNavOrigins) == 0 {
		logger.Info("no navigate origin allowlist configured, all origins permitted")
	}

	return h, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.cfg.Server.Addr,
		Handler: h.api.Handler(),
	}

	h.recorder.Start(ctx)
	h.api.StartBackgroundTasks(ctx)

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("relay listening", "addr", h.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("server shutdown error", "error", err)
		}
		if err := h.store.Close(); err != nil {
			h.logger.Warn("store close error", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
