// Package daemon assembles the sync engine and runs it as a long-lived
// process: store, remote gateway, orchestrator, archive importer, lifecycle
// manager, the HTTP trigger surface, and the periodic sync schedule.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/42zz/CaleNote-sub001/internal/archive"
	"github.com/42zz/CaleNote-sub001/internal/config"
	"github.com/42zz/CaleNote-sub001/internal/httpapi"
	"github.com/42zz/CaleNote-sub001/internal/lifecycle"
	"github.com/42zz/CaleNote-sub001/internal/logger"
	"github.com/42zz/CaleNote-sub001/internal/model"
	"github.com/42zz/CaleNote-sub001/internal/pager"
	"github.com/42zz/CaleNote-sub001/internal/remote"
	"github.com/42zz/CaleNote-sub001/internal/store"
	"github.com/42zz/CaleNote-sub001/internal/store/factory"
	"github.com/42zz/CaleNote-sub001/internal/sync"
)

// Run starts the sync daemon and blocks until shutdown or error.
func Run(tokens remote.TokenProvider) error {
	log := logger.New("calenote-sync")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Str("remote_base_url", cfg.RemoteBaseURL).
		Int("http_port", cfg.HTTPPort).
		Dur("sync_interval", cfg.SyncInterval).
		Msg("sync daemon starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := factory.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer func() { _ = st.Close() }()

	if err := waitUntilHealthy(ctx, st); err != nil {
		log.Error().Err(err).Msg("startup health check failed")
		return err
	}

	eng := NewEngine(st, tokens, cfg, log)

	if err := eng.svc.StartPeriodicSync(cfg.SyncInterval); err != nil {
		return err
	}
	defer eng.svc.StopPeriodicSync()
	eng.startEviction(ctx, log)

	server := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           httpapi.NewRouter(eng.handlers),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
			return err
		}
		log.Info().Msg("server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}
}

// Engine is the fully wired component graph. The daemon and the one-shot
// CLI commands share it.
type Engine struct {
	gw       *remote.Gateway
	orch     *sync.Orchestrator
	svc      *sync.Service
	importer *archive.Importer
	life     *lifecycle.Manager
	agenda   *pager.Pager
	handlers *httpapi.Handlers
	cfg      *config.Config
}

// NewEngine wires every component onto one store and one shared rate limiter.
func NewEngine(st store.Store, tokens remote.TokenProvider, cfg *config.Config, log zerolog.Logger) *Engine {
	limiter := remote.NewRateLimiter(cfg.MinCallInterval)
	gw := remote.NewGateway(remote.Options{
		BaseURL:        cfg.RemoteBaseURL,
		Tokens:         tokens,
		Limiter:        limiter,
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.BackoffBase,
		BackoffMaxWait: cfg.BackoffMaxWait,
		Logger:         log,
	})

	orch := sync.NewOrchestrator(st, gw, cfg, log)
	svc := sync.NewService(orch, log)
	importer := archive.NewImporter(st, gw, cfg, log)
	life := lifecycle.NewManager(st, gw, orch, importer, log)
	agenda := pager.New(st, log)
	handlers := httpapi.NewHandlers(svc, importer, life, agenda, st, log)

	return &Engine{
		gw:       gw,
		orch:     orch,
		svc:      svc,
		importer: importer,
		life:     life,
		agenda:   agenda,
		handlers: handlers,
		cfg:      cfg,
	}
}

// Sync exposes the trigger facade.
func (e *Engine) Sync() *sync.Service { return e.svc }

// Importer exposes the archive importer.
func (e *Engine) Importer() *archive.Importer { return e.importer }

// Lifecycle exposes the cache lifecycle manager.
func (e *Engine) Lifecycle() *lifecycle.Manager { return e.life }

// Agenda exposes the display pager over the archive.
func (e *Engine) Agenda() *pager.Pager { return e.agenda }

// HotWindow is the currently configured active window.
func (e *Engine) HotWindow() model.TimeRange { return e.orch.HotWindow() }

// startEviction trims the hot cache on the sync interval.
func (e *Engine) startEviction(ctx context.Context, log zerolog.Logger) {
	go func() {
		ticker := time.NewTicker(e.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.life.Evict(ctx, e.orch.HotWindow()); err != nil {
					log.Warn().Err(err).Msg("hot cache eviction failed")
				}
			}
		}
	}()
}

// waitUntilHealthy blocks startup until the store answers pings, with
// exponential backoff, bounded to a minute.
func waitUntilHealthy(ctx context.Context, st store.Store) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(time.Minute),
	), ctx)
	return backoff.Retry(func() error {
		if err := st.HealthPing(ctx); err != nil {
			return fmt.Errorf("store not ready: %w", err)
		}
		return nil
	}, policy)
}
