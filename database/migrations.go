package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RunMigrations ensures the archive tables exist.
func RunMigrations(ctx context.Context, db *pgxpool.Pool) error {
	migrations := []string{
		// Confirmed messages, keyed by their backend id
		`CREATE TABLE IF NOT EXISTS archived_messages (
			id VARCHAR(64) PRIMARY KEY,
			sender_id VARCHAR(64) NOT NULL,
			recipient_id VARCHAR(64) NOT NULL,
			conversation_id VARCHAR(64),
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,

		`CREATE INDEX IF NOT EXISTS archived_messages_pair_idx
			ON archived_messages (sender_id, recipient_id, created_at);`,

		// Last known conversation list per signed-in user
		`CREATE TABLE IF NOT EXISTS archived_conversations (
			viewer_id VARCHAR(64) NOT NULL,
			id VARCHAR(64) NOT NULL,
			payload JSONB NOT NULL,
			last_activity TIMESTAMPTZ,
			archived_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (viewer_id, id)
		);`,
	}

	for _, query := range migrations {
		if _, err := db.Exec(ctx, query); err != nil {
			return errors.Wrap(err, "migration failed")
		}
	}

	log.Info().Msg("Migrations applied successfully.")
	return nil
}
