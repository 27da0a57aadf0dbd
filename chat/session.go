// Package chat is the open one-to-one conversation: history, live messages
// and sending with a local echo.
package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clementus360/proxy-chat-client/apperr"
	"github.com/clementus360/proxy-chat-client/models"
	"github.com/clementus360/proxy-chat-client/websocket"
)

const EventPrivateMessage = "private message"

type HistoryAPI interface {
	MessageHistory(ctx context.Context, otherUserID string) ([]models.Message, error)
}

// Archive stores confirmed messages for reading while offline.
type Archive interface {
	SaveMessages(ctx context.Context, msgs []models.Message) error
	Transcript(ctx context.Context, a, b string) ([]models.Message, error)
}

type Session struct {
	api     HistoryAPI
	ch      websocket.Channel
	archive Archive
	viewer  string
	partner string

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	messages []models.Message
	draft    string
	detach   func()
	opened   bool
	closed   bool
}

func NewSession(api HistoryAPI, ch websocket.Channel, viewerID, partnerID string) *Session {
	return &Session{
		api:     api,
		ch:      ch,
		viewer:  viewerID,
		partner: partnerID,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (s *Session) WithArchive(a Archive) *Session {
	s.archive = a
	return s
}

func (s *Session) Partner() string { return s.partner }

// Open starts listening for live messages and loads the history, which
// replaces whatever transcript the session held.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	if !s.opened && s.ch != nil {
		s.detach = s.ch.On(EventPrivateMessage, s.onPrivateMessage)
	}
	s.opened = true
	s.mu.Unlock()

	history, err := s.api.MessageHistory(ctx, s.partner)
	if err != nil {
		if errors.Is(err, apperr.ErrNetwork) && s.archive != nil {
			if archived, aerr := s.archive.Transcript(ctx, s.viewer, s.partner); aerr == nil {
				log.Warn().Err(err).Str("user_id", s.partner).Msg("Backend unreachable, showing archived messages")
				s.replace(archived)
			}
		} else {
			log.Error().Err(err).Str("user_id", s.partner).Msg("Error fetching message history")
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !s.replace(history) {
		return context.Canceled
	}

	if s.archive != nil {
		if err := s.archive.SaveMessages(ctx, history); err != nil {
			log.Warn().Err(err).Msg("Error archiving messages")
		}
	}
	return nil
}

// replace installs history as the transcript. Live messages that arrived
// while the history was loading and are not part of it are kept after it.
func (s *Session) replace(history []models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	known := make(map[string]struct{}, len(history))
	next := make([]models.Message, 0, len(history)+len(s.messages))
	for _, m := range history {
		if m.ID != "" {
			known[m.ID] = struct{}{}
		}
		next = append(next, m)
	}
	for _, m := range s.messages {
		if m.Pending {
			next = append(next, m)
			continue
		}
		if _, ok := known[m.ID]; !ok && m.ID != "" {
			next = append(next, m)
		}
	}
	s.messages = next
	return true
}

func (s *Session) onPrivateMessage(data json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("event", EventPrivateMessage).Msg("Error decoding event")
		return
	}
	if !msg.Between(s.viewer, s.partner) {
		return
	}
	s.Receive(msg)
}

// Receive appends msg. An authoritative copy of one of the viewer's pending
// messages confirms it in place, and a message already present is dropped.
func (s *Session) Receive(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if msg.ID != "" {
		for _, m := range s.messages {
			if m.ID == msg.ID {
				return
			}
		}
	}

	if string(msg.SenderID) == s.viewer {
		for i, m := range s.messages {
			if m.Pending && m.Content == msg.Content && m.RecipientID == msg.RecipientID {
				msg.Pending = false
				msg.LocalID = m.LocalID
				s.messages[i] = msg
				return
			}
		}
	}

	s.messages = append(s.messages, msg)
}

func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Send emits the current draft and waits for the acknowledgement. On
// success the draft is cleared and a pending echo is appended; on failure
// the draft is kept for the user to retry.
func (s *Session) Send(ctx context.Context) error {
	s.mu.Lock()
	content := strings.TrimSpace(s.draft)
	closed := s.closed
	mark := len(s.messages)
	s.mu.Unlock()

	if content == "" {
		return apperr.ErrEmptyDraft
	}
	if closed {
		return context.Canceled
	}
	if s.ch == nil {
		log.Warn().Str("user_id", s.partner).Msg("Live channel unavailable, message not sent")
		return apperr.TransportUnavailable(EventPrivateMessage)
	}

	done := make(chan error, 1)
	req := models.PrivateMessageRequest{RecipientID: s.partner, Content: content}
	if err := s.ch.Emit(ctx, EventPrivateMessage, req, func(err error) { done <- err }); err != nil {
		log.Error().Err(err).Str("user_id", s.partner).Msg("Error sending message")
		return err
	}

	var ackErr error
	select {
	case ackErr = <-done:
	case <-ctx.Done():
		ackErr = ctx.Err()
	}
	if ackErr != nil {
		log.Error().Err(ackErr).Str("user_id", s.partner).Msg("Message was not delivered")
		return apperr.Ack(EventPrivateMessage, ackErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.draft == "" || strings.TrimSpace(s.draft) == content {
		s.draft = ""
	}
	if mark > len(s.messages) {
		mark = len(s.messages)
	}
	// the authoritative copy may have arrived before the acknowledgement
	for _, m := range s.messages[mark:] {
		if !m.Pending && string(m.SenderID) == s.viewer && m.Content == content {
			return nil
		}
	}
	s.messages = append(s.messages, models.NewPendingMessage(s.newID(), s.viewer, s.partner, content, s.now()))
	return nil
}

// SendText sets the draft to text and sends it.
func (s *Session) SendText(ctx context.Context, text string) error {
	s.SetDraft(text)
	return s.Send(ctx)
}

func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Close detaches the live listener. Later completions are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
}
