// Package unread keeps the per-user unread map and the global
// unread-conversations tally.
//
// The global tally is a heuristic: it moves on incoming private messages and
// when a chat is opened, and is never recomputed from per-conversation
// counts.
package unread

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/clementus360/proxy-chat-client/models"
	"github.com/clementus360/proxy-chat-client/websocket"
)

const EventPrivateMessage = "private message"

type Snapshot struct {
	PerUser map[string]int `json:"perUser"`
	Global  int            `json:"global"`
	Active  string         `json:"active,omitempty"`
}

type Tracker struct {
	mu      sync.Mutex
	perUser map[string]int
	global  int
	active  string
	viewer  string
}

func NewTracker() *Tracker {
	return &Tracker{perUser: make(map[string]int)}
}

// SetViewer names the signed-in user, whose own echoed messages are not counted.
func (t *Tracker) SetViewer(userID string) {
	t.mu.Lock()
	t.viewer = userID
	t.mu.Unlock()
}

// OnPrivateMessage records one incoming message from senderID.
func (t *Tracker) OnPrivateMessage(senderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if senderID == "" || senderID == t.viewer {
		return
	}

	t.perUser[senderID]++
	if senderID != t.active {
		t.global++
	}
}

// OpenChat makes userID the active partner, zeroes its entry and takes one
// off the global tally, never below zero.
func (t *Tracker) OpenChat(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = userID
	t.perUser[userID] = 0
	if t.global > 0 {
		t.global--
	}
}

func (t *Tracker) CloseChat() {
	t.mu.Lock()
	t.active = ""
	t.mu.Unlock()
}

// Merge sets the entries present in counts.
func (t *Tracker) Merge(counts map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, n := range counts {
		if n < 0 {
			n = 0
		}
		t.perUser[id] = n
	}
}

func (t *Tracker) Count(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perUser[userID]
}

func (t *Tracker) Global() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.global
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	per := make(map[string]int, len(t.perUser))
	for id, n := range t.perUser {
		per[id] = n
	}
	return Snapshot{PerUser: per, Global: t.global, Active: t.active}
}

// Reset forgets everything, used on sign-out.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perUser = make(map[string]int)
	t.global = 0
	t.active = ""
}

// Attach counts every private message arriving on ch, whichever chat is open.
func (t *Tracker) Attach(ch websocket.Listener) (detach func()) {
	return ch.On(EventPrivateMessage, func(data json.RawMessage) {
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Str("event", EventPrivateMessage).Msg("Error decoding event")
			return
		}
		t.OnPrivateMessage(string(msg.SenderID))
	})
}
