package unread

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clementus360/proxy-chat-client/websocket"
)

func TestOpenChat_SingleCorrection(t *testing.T) {
	tr := NewTracker()
	tr.OnPrivateMessage("a")
	tr.OnPrivateMessage("b")
	tr.OnPrivateMessage("c")
	tr.Merge(map[string]int{"x": 2})
	assert.Equal(t, 3, tr.Global())

	tr.OpenChat("x")

	assert.Equal(t, 0, tr.Count("x"))
	assert.Equal(t, 2, tr.Global())
}

func TestGlobalNeverNegative(t *testing.T) {
	tr := NewTracker()
	tr.OpenChat("x")
	tr.OpenChat("y")
	assert.Equal(t, 0, tr.Global())
}

func TestActivePartnerDoesNotBumpGlobal(t *testing.T) {
	tr := NewTracker()
	tr.OpenChat("x")

	tr.OnPrivateMessage("x")
	assert.Equal(t, 0, tr.Global())
	assert.Equal(t, 1, tr.Count("x"))

	tr.CloseChat()
	tr.OnPrivateMessage("x")
	assert.Equal(t, 1, tr.Global())
	assert.Equal(t, 2, tr.Count("x"))
}

func TestOwnEchoIgnored(t *testing.T) {
	tr := NewTracker()
	tr.SetViewer("me")
	tr.OnPrivateMessage("me")

	assert.Equal(t, 0, tr.Global())
	assert.Equal(t, 0, tr.Count("me"))
}

func TestAttach(t *testing.T) {
	hub := websocket.NewHub()
	tr := NewTracker()
	detach := tr.Attach(hub)

	payload, _ := json.Marshal(map[string]any{"sender": map[string]string{"_id": "u7"}, "recipient": "me", "content": "hey"})
	hub.Dispatch(EventPrivateMessage, payload)
	hub.Dispatch(EventPrivateMessage, json.RawMessage(`not json`))

	assert.Equal(t, 1, tr.Count("u7"))
	assert.Equal(t, 1, tr.Global())

	detach()
	hub.Dispatch(EventPrivateMessage, payload)
	assert.Equal(t, 1, tr.Count("u7"))
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker()
	tr.Merge(map[string]int{"a": 1, "b": -4})
	snap := tr.Snapshot()
	snap.PerUser["a"] = 99

	assert.Equal(t, 1, tr.Count("a"))
	assert.Equal(t, 0, tr.Count("b"))
}
