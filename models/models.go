package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// Ref is a user reference as sent by the backend: either a bare id or a
// populated user object. Only the id is kept.
type Ref string

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Ref(s)
		return nil
	}

	var obj struct {
		ID    string `json:"_id"`
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.ID == "" {
		obj.ID = obj.AltID
	}
	*r = Ref(obj.ID)
	return nil
}

type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type User struct {
	ID          string      `json:"_id"`
	Name        string      `json:"name"`
	Photo       string      `json:"photo,omitempty"`
	Description string      `json:"description,omitempty"`
	Age         *int        `json:"age,omitempty"`
	IsOnline    bool        `json:"isOnline"`
	Distance    *float64    `json:"distance,omitempty"` // km from the viewer
	Location    *Coordinate `json:"location,omitempty"`
}

// Message is either confirmed (ID set by the backend) or a pending local
// echo (LocalID set, ID empty) waiting for its authoritative copy.
type Message struct {
	ID             string    `json:"_id,omitempty"`
	LocalID        string    `json:"localId,omitempty"`
	Pending        bool      `json:"pending,omitempty"`
	SenderID       Ref       `json:"sender"`
	RecipientID    Ref       `json:"recipient"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"createdAt"`
	ConversationID string    `json:"conversationId,omitempty"`
}

func NewPendingMessage(localID string, sender, recipient string, content string, at time.Time) Message {
	return Message{
		LocalID:     localID,
		Pending:     true,
		SenderID:    Ref(sender),
		RecipientID: Ref(recipient),
		Content:     content,
		Timestamp:   at,
	}
}

// Key identifies the message in a transcript regardless of its state.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.LocalID
}

// Between reports whether the message was exchanged by a and b in either direction.
func (m Message) Between(a, b string) bool {
	s, r := string(m.SenderID), string(m.RecipientID)
	return (s == a && r == b) || (s == b && r == a)
}

type Conversation struct {
	ID           string   `json:"_id"`
	Participants []User   `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount"`
}

// LastActivity is the zero time when the conversation has no message yet.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.Timestamp
}

// PairKey is the same for both orderings of the participants.
func (c Conversation) PairKey() string {
	if len(c.Participants) < 2 {
		return ""
	}
	a, b := c.Participants[0].ID, c.Participants[1].ID
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// Partner returns the participant that is not viewerID.
func (c Conversation) Partner(viewerID string) (User, bool) {
	for _, p := range c.Participants {
		if p.ID != viewerID {
			return p, true
		}
	}
	return User{}, false
}

// Live channel payloads

type UserStatus struct {
	UserID   Ref  `json:"userId"`
	IsOnline bool `json:"isOnline"`
}

type MessageRead struct {
	ConversationID string `json:"conversationId"`
}

type PrivateMessageRequest struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

type MarkAsReadRequest struct {
	ConversationID string `json:"conversationId"`
}

// REST payloads

type NearbyUsersResponse struct {
	Users []User `json:"users"`
}

type UnreadCountResponse struct {
	UnreadCount int `json:"unreadCount"`
}

type UserResponse struct {
	User User `json:"user"`
}

type LocationResponse struct {
	Location Coordinate `json:"location"`
}

type ProfileUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Age         *int    `json:"age,omitempty"`
}
