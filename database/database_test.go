package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clementus360/proxy-chat-client/models"
)

func TestRedisOptions(t *testing.T) {
	opts := RedisOptions("redis://:secret@cache:6380/2", "ignored")
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	opts = RedisOptions("localhost:6379", "pw")
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 0, opts.DB)

	opts = RedisOptions("redis://cache:6379", "pw")
	assert.Equal(t, "pw", opts.Password)
}

func TestOpenPostgres_BadURL(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "::not a url")
	assert.Error(t, err)
}

func TestOpenPostgres_GivesUpWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := openPostgres(ctx, "postgres://nobody@127.0.0.1:1/none?connect_timeout=1", 3, time.Second)
	assert.Error(t, err)
}

func openArchive(t *testing.T) *Archive {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx := context.Background()
	pool, err := openPostgres(ctx, url, 1, time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	require.NoError(t, RunMigrations(ctx, pool))
	return NewArchive(pool)
}

func TestArchive_Transcript(t *testing.T) {
	a := openArchive(t)
	ctx := context.Background()

	alice, bob := uuid.NewString(), uuid.NewString()
	at := time.Now().UTC().Truncate(time.Millisecond)
	msgs := []models.Message{
		{ID: uuid.NewString(), SenderID: models.Ref(alice), RecipientID: models.Ref(bob), Content: "hi", Timestamp: at},
		{ID: uuid.NewString(), SenderID: models.Ref(bob), RecipientID: models.Ref(alice), Content: "hey", Timestamp: at.Add(time.Second)},
		models.NewPendingMessage(uuid.NewString(), alice, bob, "not yet", at.Add(2*time.Second)),
	}

	require.NoError(t, a.SaveMessages(ctx, msgs))
	require.NoError(t, a.SaveMessages(ctx, msgs[:1]))

	got, err := a.Transcript(ctx, bob, alice)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].Content)
	assert.Equal(t, models.Ref(bob), got[1].SenderID)
}

func TestArchive_Conversations(t *testing.T) {
	a := openArchive(t)
	ctx := context.Background()

	viewer := uuid.NewString()
	older := models.Conversation{ID: uuid.NewString(), LastMessage: &models.Message{Content: "old", Timestamp: time.Now().Add(-time.Hour)}}
	newer := models.Conversation{ID: uuid.NewString(), LastMessage: &models.Message{Content: "new", Timestamp: time.Now()}}
	empty := models.Conversation{ID: uuid.NewString()}

	require.NoError(t, a.SaveConversations(ctx, viewer, []models.Conversation{older, empty, newer}))

	got, err := a.Conversations(ctx, viewer)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, older.ID, got[1].ID)
	assert.Equal(t, empty.ID, got[2].ID)

	require.NoError(t, a.SaveConversations(ctx, viewer, []models.Conversation{newer}))
	got, err = a.Conversations(ctx, viewer)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpenRedis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping integration test")
	}
	client, err := OpenRedis(context.Background(), url, os.Getenv("REDIS_PASSWORD"))
	require.NoError(t, err)
	client.Close()
}
