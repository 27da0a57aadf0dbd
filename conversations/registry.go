// Package conversations keeps the viewer's conversation list in step with the
// backend: a bulk fetch plus three live events.
package conversations

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clementus360/proxy-chat-client/apperr"
	"github.com/clementus360/proxy-chat-client/models"
	"github.com/clementus360/proxy-chat-client/websocket"
)

// Live channel events.
const (
	EventUpdateConversation = "update conversation"
	EventMessageRead        = "message read"
	EventNewMessage         = "new message"
	EventMarkAsRead         = "mark as read"
)

type ConversationsAPI interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
}

// Archive keeps the last fetched list for use when the backend is unreachable.
type Archive interface {
	SaveConversations(ctx context.Context, viewerID string, list []models.Conversation) error
	Conversations(ctx context.Context, viewerID string) ([]models.Conversation, error)
}

type Registry struct {
	api     ConversationsAPI
	ch      websocket.Channel
	archive Archive

	mu     sync.Mutex
	viewer string
	state  State
	gen    uint64
}

// New builds a registry. ch may be nil, in which case live requests are
// skipped with a warning.
func New(api ConversationsAPI, ch websocket.Channel, viewerID string) *Registry {
	return &Registry{api: api, ch: ch, viewer: viewerID}
}

func (r *Registry) WithArchive(a Archive) *Registry {
	r.archive = a
	return r
}

// FetchAll replaces the list with the backend's. A response that is not a
// list fails with apperr.ErrDataFormat and leaves the list untouched.
func (r *Registry) FetchAll(ctx context.Context) error {
	r.mu.Lock()
	gen, viewer := r.gen, r.viewer
	r.mu.Unlock()

	list, err := r.api.Conversations(ctx)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrDataFormat):
			log.Error().Err(err).Msg("Conversation list has unexpected format")
		case errors.Is(err, apperr.ErrNetwork) && r.archive != nil:
			log.Warn().Err(err).Msg("Backend unreachable, using archived conversations")
			if archived, aerr := r.archive.Conversations(ctx, viewer); aerr == nil && len(archived) > 0 {
				r.applyIf(gen, Loaded{Conversations: archived})
			}
		default:
			log.Error().Err(err).Msg("Error fetching conversations")
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !r.applyIf(gen, Loaded{Conversations: list}) {
		return context.Canceled
	}

	if r.archive != nil {
		if err := r.archive.SaveConversations(ctx, viewer, list); err != nil {
			log.Warn().Err(err).Msg("Error archiving conversations")
		}
	}
	return nil
}

// Apply runs ev through the reducer.
func (r *Registry) Apply(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := ev.(NewMessage); ok && m.ViewerID == "" {
		m.ViewerID = r.viewer
		ev = m
	}
	r.state = Reduce(r.state, ev)
}

// applyIf applies ev only if no Reset happened since gen was read.
func (r *Registry) applyIf(gen uint64, ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return false
	}
	r.state = Reduce(r.state, ev)
	return true
}

// Reset empties the list and drops completions still in flight.
func (r *Registry) Reset(viewerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.viewer = viewerID
	r.state = State{}
}

func (r *Registry) Conversations() []models.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.state.Conversations)
}

func (r *Registry) Get(id string) (models.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := indexOf(r.state.Conversations, id); i >= 0 {
		return r.state.Conversations[i], true
	}
	return models.Conversation{}, false
}

// Filter returns the conversations where a participant's name or the last
// message contains query, ignoring case. An empty query matches all.
func (r *Registry) Filter(query string) []models.Conversation {
	list := r.Conversations()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return list
	}

	out := make([]models.Conversation, 0, len(list))
	for _, c := range list {
		if matches(c, q) {
			out = append(out, c)
		}
	}
	return out
}

func matches(c models.Conversation, q string) bool {
	for _, p := range c.Participants {
		if strings.Contains(strings.ToLower(p.Name), q) {
			return true
		}
	}
	return c.LastMessage != nil && strings.Contains(strings.ToLower(c.LastMessage.Content), q)
}

// Select asks the backend to mark the conversation read and zeroes its
// unread count once the backend acknowledges. It waits for the
// acknowledgement or ctx.
func (r *Registry) Select(ctx context.Context, conversationID string) error {
	if r.ch == nil {
		log.Warn().Str("conversation_id", conversationID).Msg("Live channel unavailable, not marking as read")
		return apperr.TransportUnavailable(EventMarkAsRead)
	}

	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	done := make(chan error, 1)
	err := r.ch.Emit(ctx, EventMarkAsRead, models.MarkAsReadRequest{ConversationID: conversationID}, func(err error) {
		if err == nil {
			r.applyIf(gen, Read{ConversationID: conversationID})
		}
		done <- err
	})
	if err != nil {
		if errors.Is(err, apperr.ErrTransportUnavailable) {
			log.Warn().Str("conversation_id", conversationID).Msg("Live channel unavailable, not marking as read")
		}
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("Mark as read failed")
			return apperr.Ack(EventMarkAsRead, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach wires the three live events that mutate the list.
func (r *Registry) Attach(l websocket.Listener) (detach func()) {
	detachers := []func(){
		l.On(EventUpdateConversation, func(data json.RawMessage) {
			var c models.Conversation
			if err := json.Unmarshal(data, &c); err != nil || c.ID == "" {
				log.Error().Err(err).Str("event", EventUpdateConversation).Msg("Error decoding event")
				return
			}
			r.Apply(Updated{Conversation: c})
		}),
		l.On(EventMessageRead, func(data json.RawMessage) {
			var ev models.MessageRead
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Error().Err(err).Str("event", EventMessageRead).Msg("Error decoding event")
				return
			}
			r.Apply(Read{ConversationID: ev.ConversationID})
		}),
		l.On(EventNewMessage, func(data json.RawMessage) {
			var msg models.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Error().Err(err).Str("event", EventNewMessage).Msg("Error decoding event")
				return
			}
			r.Apply(NewMessage{Message: msg})
		}),
	}

	return func() {
		for _, d := range detachers {
			d()
		}
	}
}
