package listener

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"anchor-delivery/internal/registry"
)

// debounce is how long the listener waits for further notifications before
// rebuilding, so a bulk save triggers a single rebuild.
const debounce = 200 * time.Millisecond

// Source is the store the listener watches.
type Source interface {
	registry.Loader
	PgxPool() *pgxpool.Pool
	ListenChannel() string
}

// ListenAndRefresh rebuilds reg whenever the channel is notified. It
// reconnects with jittered backoff and rebuilds after every reconnect, since
// notifications sent while disconnected are lost. It returns when ctx ends.
func ListenAndRefresh(ctx context.Context, src Source, reg *registry.Registry, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = src.ListenChannel()
	}
	first := true
	for {
		err := listen(ctx, src, reg, channel, !first)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		first = false
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Str("channel", channel).Msg("listen connection lost")
		select {
		case <-ctx.Done():
			log.Info().Msg("listener stopped")
			return
		case <-time.After(backoff):
		}
	}
}

func listen(ctx context.Context, src Source, reg *registry.Registry, channel string, resync bool) error {
	conn, err := src.PgxPool().Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for DB changes")
	if resync {
		refresh(ctx, src, reg)
	}

	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		// swallow the rest of a burst
		for {
			wctx, cancel := context.WithTimeout(ctx, debounce)
			_, err := conn.Conn().WaitForNotification(wctx)
			cancel()
			if err == nil {
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			return err
		}
		log.Info().Str("channel", ntf.Channel).Str("op", ntf.Payload).Msg("db change; refreshing snapshot")
		refresh(ctx, src, reg)
	}
}

func refresh(ctx context.Context, src registry.Loader, reg *registry.Registry) {
	if err := reg.BuildSnapshot(ctx, src); err != nil {
		log.Error().Err(err).Msg("refresh snapshot error")
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
