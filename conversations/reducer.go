package conversations

import (
	"sort"

	"github.com/clementus360/proxy-chat-client/models"
)

// State is the conversation list, most recent activity first.
type State struct {
	Conversations []models.Conversation
}

type Event interface{ isEvent() }

// Loaded replaces the whole list.
type Loaded struct {
	Conversations []models.Conversation
}

// Updated upserts one conversation by id.
type Updated struct {
	Conversation models.Conversation
}

// Read zeroes a conversation's unread count.
type Read struct {
	ConversationID string
}

// NewMessage sets a conversation's last message and, unless the viewer sent
// it, bumps its unread count.
type NewMessage struct {
	Message  models.Message
	ViewerID string
}

func (Loaded) isEvent()     {}
func (Updated) isEvent()    {}
func (Read) isEvent()       {}
func (NewMessage) isEvent() {}

// Reduce returns the state after ev. s is not modified.
func Reduce(s State, ev Event) State {
	switch ev := ev.(type) {
	case Loaded:
		return State{Conversations: sorted(dedupe(ev.Conversations))}

	case Updated:
		c := ev.Conversation
		list := clone(s.Conversations)
		i := indexOf(list, c.ID)
		if i >= 0 {
			list[i] = c
		} else {
			list = append([]models.Conversation{c}, list...)
		}
		// one conversation per participant pair
		if key := c.PairKey(); key != "" {
			kept := list[:0]
			for _, existing := range list {
				if existing.ID == c.ID || existing.PairKey() != key {
					kept = append(kept, existing)
				}
			}
			list = kept
		}
		return State{Conversations: sorted(list)}

	case Read:
		i := indexOf(s.Conversations, ev.ConversationID)
		if i < 0 || s.Conversations[i].UnreadCount == 0 {
			return s
		}
		list := clone(s.Conversations)
		list[i].UnreadCount = 0
		return State{Conversations: list}

	case NewMessage:
		i := indexOf(s.Conversations, ev.Message.ConversationID)
		if i < 0 {
			return s
		}
		list := clone(s.Conversations)
		msg := ev.Message
		list[i].LastMessage = &msg
		if string(msg.SenderID) != ev.ViewerID {
			list[i].UnreadCount++
		}
		return State{Conversations: sorted(list)}
	}
	return s
}

func indexOf(list []models.Conversation, id string) int {
	if id == "" {
		return -1
	}
	for i, c := range list {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func clone(list []models.Conversation) []models.Conversation {
	out := make([]models.Conversation, len(list))
	copy(out, list)
	return out
}

// dedupe keeps the first entry per id and per participant pair.
func dedupe(list []models.Conversation) []models.Conversation {
	ids := make(map[string]struct{}, len(list))
	pairs := make(map[string]struct{}, len(list))
	out := make([]models.Conversation, 0, len(list))
	for _, c := range list {
		if _, dup := ids[c.ID]; dup {
			continue
		}
		key := c.PairKey()
		if key != "" {
			if _, dup := pairs[key]; dup {
				continue
			}
			pairs[key] = struct{}{}
		}
		ids[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// sorted orders by last message time, newest first. Conversations without a
// message go last; ties keep their order.
func sorted(list []models.Conversation) []models.Conversation {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastActivity().After(list[j].LastActivity())
	})
	return list
}
