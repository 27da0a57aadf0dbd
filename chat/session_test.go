package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clementus360/proxy-chat-client/apperr"
	"github.com/clementus360/proxy-chat-client/models"
	"github.com/clementus360/proxy-chat-client/websocket"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeHistory struct {
	msgs  []models.Message
	err   error
	calls int
	// onFetch runs while the request is "in flight"
	onFetch func()
}

func (f *fakeHistory) MessageHistory(ctx context.Context, otherUserID string) ([]models.Message, error) {
	f.calls++
	if f.onFetch != nil {
		f.onFetch()
	}
	return f.msgs, f.err
}

type fakeChannel struct {
	*websocket.Hub
	ackErr error
	sent   []models.PrivateMessageRequest
	// beforeAck runs between the emit and the acknowledgement
	beforeAck func()
}

func newFakeChannel() *fakeChannel { return &fakeChannel{Hub: websocket.NewHub()} }

func (f *fakeChannel) Emit(ctx context.Context, event string, payload any, ack websocket.AckFunc) error {
	if req, ok := payload.(models.PrivateMessageRequest); ok {
		f.sent = append(f.sent, req)
	}
	if f.beforeAck != nil {
		f.beforeAck()
	}
	if ack != nil {
		ack(f.ackErr)
	}
	return nil
}

func msg(id, from, to, content string, minute int) models.Message {
	return models.Message{ID: id, SenderID: models.Ref(from), RecipientID: models.Ref(to),
		Content: content, Timestamp: t0.Add(time.Duration(minute) * time.Minute)}
}

func push(t *testing.T, hub *websocket.Hub, m models.Message) {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	hub.Dispatch(EventPrivateMessage, b)
}

func contents(ms []models.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Content
	}
	return out
}

func TestOpen_HistoryThenLiveAppends(t *testing.T) {
	ch := newFakeChannel()
	api := &fakeHistory{msgs: []models.Message{msg("m1", "u2", "me", "hi", 0), msg("m2", "me", "u2", "hey", 1)}}
	s := NewSession(api, ch, "me", "u2")
	defer s.Close()

	require.NoError(t, s.Open(context.Background()))
	push(t, ch.Hub, msg("m3", "u2", "me", "how are you", 2))
	push(t, ch.Hub, msg("m4", "u9", "me", "other chat", 3))

	assert.Equal(t, []string{"hi", "hey", "how are you"}, contents(s.Messages()))
}

func TestOpen_HistoryReplacesTranscript(t *testing.T) {
	ch := newFakeChannel()
	api := &fakeHistory{msgs: []models.Message{msg("m1", "u2", "me", "hi", 0)}}
	s := NewSession(api, ch, "me", "u2")
	defer s.Close()

	require.NoError(t, s.Open(context.Background()))
	push(t, ch.Hub, msg("m2", "u2", "me", "second", 1))

	api.msgs = []models.Message{msg("m1", "u2", "me", "hi", 0), msg("m2", "u2", "me", "second", 1)}
	require.NoError(t, s.Open(context.Background()))

	assert.Equal(t, []string{"hi", "second"}, contents(s.Messages()))
	assert.Equal(t, 1, ch.Count(EventPrivateMessage), "reopening must not attach twice")
}

func TestOpen_LiveMessageDuringFetchKept(t *testing.T) {
	ch := newFakeChannel()
	api := &fakeHistory{msgs: []models.Message{msg("m1", "u2", "me", "hi", 0)}}
	api.onFetch = func() { push(t, ch.Hub, msg("m2", "u2", "me", "while loading", 1)) }
	s := NewSession(api, ch, "me", "u2")
	defer s.Close()

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, []string{"hi", "while loading"}, contents(s.Messages()))
}

func TestSend_EmptyDraft(t *testing.T) {
	ch := newFakeChannel()
	s := NewSession(&fakeHistory{}, ch, "me", "u2")
	require.NoError(t, s.Open(context.Background()))

	for _, draft := range []string{"", "   ", "\n\t "} {
		err := s.SendText(context.Background(), draft)
		assert.ErrorIs(t, err, apperr.ErrEmptyDraft)
	}
	assert.Empty(t, ch.sent)
	assert.Empty(t, s.Messages())
}

func TestSend_SuccessAppendsPendingAndClearsDraft(t *testing.T) {
	ch := newFakeChannel()
	s := NewSession(&fakeHistory{}, ch, "me", "u2")
	s.now = func() time.Time { return t0 }
	s.newID = func() string { return "local-1" }
	require.NoError(t, s.Open(context.Background()))

	require.NoError(t, s.SendText(context.Background(), "  see you soon "))

	require.Len(t, ch.sent, 1)
	assert.Equal(t, models.PrivateMessageRequest{RecipientID: "u2", Content: "see you soon"}, ch.sent[0])
	assert.Empty(t, s.Draft())

	got := s.Messages()
	require.Len(t, got, 1)
	assert.True(t, got[0].Pending)
	assert.Empty(t, got[0].ID)
	assert.Equal(t, "local-1", got[0].Key())
	assert.Equal(t, t0, got[0].Timestamp)
}

func TestSend_AckErrorKeepsDraft(t *testing.T) {
	ch := newFakeChannel()
	ch.ackErr = errors.New("user is offline")
	s := NewSession(&fakeHistory{}, ch, "me", "u2")
	require.NoError(t, s.Open(context.Background()))

	err := s.SendText(context.Background(), "hello?")

	assert.ErrorIs(t, err, apperr.ErrAck)
	assert.Equal(t, "hello?", s.Draft())
	assert.Empty(t, s.Messages())
	assert.Len(t, ch.sent, 1, "no automatic retry")
}

func TestSend_NoChannel(t *testing.T) {
	s := NewSession(&fakeHistory{}, nil, "me", "u2")
	err := s.SendText(context.Background(), "hi")
	assert.ErrorIs(t, err, apperr.ErrTransportUnavailable)
	assert.Equal(t, "hi", s.Draft())
}

func TestAuthoritativeEchoConfirmsPending(t *testing.T) {
	ch := newFakeChannel()
	s := NewSession(&fakeHistory{}, ch, "me", "u2")
	s.newID = func() string { return "local-1" }
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.SendText(context.Background(), "ping"))

	push(t, ch.Hub, msg("srv-1", "me", "u2", "ping", 5))

	got := s.Messages()
	require.Len(t, got, 1)
	assert.False(t, got[0].Pending)
	assert.Equal(t, "srv-1", got[0].ID)
	assert.Equal(t, "local-1", got[0].LocalID)
}

func TestEchoBeforeAckNotDuplicated(t *testing.T) {
	ch := newFakeChannel()
	s := NewSession(&fakeHistory{}, ch, "me", "u2")
	require.NoError(t, s.Open(context.Background()))
	ch.beforeAck = func() { push(t, ch.Hub, msg("srv-1", "me", "u2", "ping", 5)) }

	require.NoError(t, s.SendText(context.Background(), "ping"))

	got := s.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "srv-1", got[0].ID)
	assert.Empty(t, s.Draft())
}

func TestDuplicateDeliveryDropped(t *testing.T) {
	ch := newFakeChannel()
	s := NewSession(&fakeHistory{}, ch, "me", "u2")
	require.NoError(t, s.Open(context.Background()))

	push(t, ch.Hub, msg("m1", "u2", "me", "hi", 0))
	push(t, ch.Hub, msg("m1", "u2", "me", "hi", 0))

	assert.Len(t, s.Messages(), 1)
}

func TestClose_DetachesAndIgnoresLateEvents(t *testing.T) {
	ch := newFakeChannel()
	s := NewSession(&fakeHistory{}, ch, "me", "u2")
	require.NoError(t, s.Open(context.Background()))
	s.Close()
	s.Close()

	assert.Zero(t, ch.Count(EventPrivateMessage))
	s.Receive(msg("m1", "u2", "me", "late", 0))
	assert.Empty(t, s.Messages())
	assert.ErrorIs(t, s.Open(context.Background()), context.Canceled)
}

func TestRepeatedSessionsDoNotLeakListeners(t *testing.T) {
	ch := newFakeChannel()
	for i := 0; i < 5; i++ {
		s := NewSession(&fakeHistory{}, ch, "me", "u2")
		require.NoError(t, s.Open(context.Background()))
		s.Close()
	}
	assert.Zero(t, ch.Count(EventPrivateMessage))
}

type fakeArchive struct {
	saved []models.Message
}

func (a *fakeArchive) SaveMessages(ctx context.Context, msgs []models.Message) error {
	a.saved = append(a.saved, msgs...)
	return nil
}

func (a *fakeArchive) Transcript(ctx context.Context, x, y string) ([]models.Message, error) {
	var out []models.Message
	for _, m := range a.saved {
		if m.Between(x, y) {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestOpen_ArchiveFallbackOnNetworkFault(t *testing.T) {
	archive := &fakeArchive{}
	api := &fakeHistory{msgs: []models.Message{msg("m1", "u2", "me", "hi", 0)}}

	s := NewSession(api, nil, "me", "u2").WithArchive(archive)
	require.NoError(t, s.Open(context.Background()))
	s.Close()
	require.Len(t, archive.saved, 1)

	api.err = apperr.Network("get message history", errors.New("timeout"))
	s2 := NewSession(api, nil, "me", "u2").WithArchive(archive)
	err := s2.Open(context.Background())

	assert.ErrorIs(t, err, apperr.ErrNetwork)
	assert.Equal(t, []string{"hi"}, contents(s2.Messages()))
}
