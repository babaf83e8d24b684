package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"anchor-delivery/internal/api"
	"anchor-delivery/internal/config"
	"anchor-delivery/internal/dispatch"
	"anchor-delivery/internal/listener"
	"anchor-delivery/internal/media"
	"anchor-delivery/internal/registry"
	"anchor-delivery/internal/storage"
)

// Run wires storage, the registry and the HTTP surface, then serves until
// SIGINT or SIGTERM.
func Run(cfg config.Config) error {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	if cfg.Postgres.Migrate {
		if err := storage.Migrate(cfg.DSN()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	store, err := storage.New(rootCtx, cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	// one-time legacy copy; delivery does not depend on it
	if _, err := store.MigrateLegacy(rootCtx); err != nil {
		log.Warn().Err(err).Msg("legacy popup migration failed; continuing")
	}

	// Registry
	reg, err := registry.New(cfg.Server.SiteURL)
	if err != nil {
		return err
	}
	if err := warmRegistry(rootCtx, reg, store, 5, time.Second); err != nil {
		return fmt.Errorf("initial snapshot build: %w", err)
	}

	rdb, err := newRedisClient(cfg.Redis.URL)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// HTTP
	h := &api.Handler{
		Reg:        reg,
		Dispatcher: dispatch.New(dispatch.NewTemplateExecutor(cfg.TemplateTimeout())),
		Store:      store,
		Media:      media.NewProcessor(cfg.Media.Dir, cfg.Media.BaseURL),
		Gates:      api.RedisGates(rdb, cfg.VisitorTTL()),
		DB:         store,
		Redis:      rdb,
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Listener (LISTEN/NOTIFY)
	go listener.ListenAndRefresh(rootCtx, store, reg, cfg.Listener.Channel, cfg.Backoff())

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Int("items", reg.Size()).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-waitForSignal():
	case err := <-errCh:
		return fmt.Errorf("server crashed: %w", err)
	}
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	return srv.Shutdown(shCtx)
}

// warmRegistry builds the first snapshot, retrying while the store is
// unreachable.
func warmRegistry(ctx context.Context, reg *registry.Registry, l registry.Loader, attempts uint, delay time.Duration) error {
	return retry.Do(
		func() error { return reg.BuildSnapshot(ctx, l) },
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Msg("snapshot build failed; retrying")
		}),
	)
}

// newRedisClient returns nil when no URL is configured; visitor gates then
// fail open.
func newRedisClient(raw string) (*redis.Client, error) {
	if raw == "" {
		log.Info().Msg("redis not configured; server-side visitor gating disabled")
		return nil, nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func waitForSignal() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}
