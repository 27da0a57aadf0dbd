package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/clementus360/proxy-chat-client/models"
)

// Archive keeps the last confirmed transcripts and conversation lists so
// they can be shown while the backend is unreachable.
type Archive struct {
	db *pgxpool.Pool
}

func NewArchive(db *pgxpool.Pool) *Archive {
	return &Archive{db: db}
}

// SaveMessages stores confirmed messages. Pending ones are skipped.
func (a *Archive) SaveMessages(ctx context.Context, msgs []models.Message) error {
	batch := &pgx.Batch{}
	for _, m := range msgs {
		if m.Pending || m.ID == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO archived_messages (id, sender_id, recipient_id, conversation_id, content, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			m.ID, string(m.SenderID), string(m.RecipientID), m.ConversationID, m.Content, m.Timestamp,
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	if err := a.db.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "archive messages")
	}
	return nil
}

// Transcript returns the archived messages between a and b, oldest first.
func (a *Archive) Transcript(ctx context.Context, userA, userB string) ([]models.Message, error) {
	rows, err := a.db.Query(ctx, `
		SELECT id, sender_id, recipient_id, COALESCE(conversation_id, ''), content, created_at
		FROM archived_messages
		WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at ASC`,
		userA, userB,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query transcript")
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m              models.Message
			sender, recipt string
		)
		if err := rows.Scan(&m.ID, &sender, &recipt, &m.ConversationID, &m.Content, &m.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		m.SenderID, m.RecipientID = models.Ref(sender), models.Ref(recipt)
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "read transcript")
}

// SaveConversations replaces the archived list for viewerID.
func (a *Archive) SaveConversations(ctx context.Context, viewerID string, list []models.Conversation) error {
	tx, err := a.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin archive")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM archived_conversations WHERE viewer_id = $1`, viewerID); err != nil {
		return errors.Wrap(err, "clear archived conversations")
	}

	for _, c := range list {
		payload, err := json.Marshal(c)
		if err != nil {
			return errors.Wrap(err, "encode conversation")
		}
		var last *time.Time
		if at := c.LastActivity(); !at.IsZero() {
			last = &at
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO archived_conversations (viewer_id, id, payload, last_activity)
			VALUES ($1, $2, $3, $4)`,
			viewerID, c.ID, payload, last,
		); err != nil {
			return errors.Wrap(err, "archive conversation")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit archive")
}

// Conversations returns the archived list for viewerID, most recent first.
func (a *Archive) Conversations(ctx context.Context, viewerID string) ([]models.Conversation, error) {
	rows, err := a.db.Query(ctx, `
		SELECT payload FROM archived_conversations
		WHERE viewer_id = $1
		ORDER BY last_activity DESC NULLS LAST`,
		viewerID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query conversations")
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scan conversation")
		}
		var c models.Conversation
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, errors.Wrap(err, "decode conversation")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "read conversations")
}
