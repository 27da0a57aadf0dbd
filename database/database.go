package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxRetries = 10

// OpenPostgres connects to the archive database, retrying while it starts up.
func OpenPostgres(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	return openPostgres(ctx, dbURL, maxRetries, 2*time.Second)
}

func openPostgres(ctx context.Context, dbURL string, retries int, wait time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse DATABASE_URL")
	}

	var pool *pgxpool.Pool
	for i := 1; i <= retries; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err = pgxpool.NewWithConfig(attemptCtx, cfg)
		if err == nil {
			// Try to ping the DB to ensure it's ready
			if err = pool.Ping(attemptCtx); err == nil {
				cancel()
				log.Info().Msg("Connected to Postgres")
				return pool, nil
			}
			pool.Close()
		}
		cancel()

		log.Warn().Int("attempt", i).Err(err).Msgf("Could not connect to Postgres. Retrying in %s", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, errors.Wrapf(err, "connect to Postgres after %d attempts", retries)
}
