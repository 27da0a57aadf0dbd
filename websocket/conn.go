package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clementus360/proxy-chat-client/apperr"
)

const writeWait = 10 * time.Second

var errLocalClose = errors.New("connection closed locally")

// Frame is the JSON envelope on the live channel.
//
// Outbound events carry Event, Data and, when an acknowledgement is wanted,
// Ack. The remote side answers with a frame holding only Ack and, on
// failure, Error.
type Frame struct {
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int64          `json:"ack,omitempty"`
	Error string          `json:"error,omitempty"`
}

// AckFunc receives nil on success or the reason the request failed.
type AckFunc func(err error)

type pendingAck struct {
	fn       AckFunc
	resolved chan struct{}
}

// Conn is one live websocket connection.
type Conn struct {
	ws  *websocket.Conn
	hub *Hub

	writeMu sync.Mutex

	mu      sync.Mutex
	nextAck int64
	acks    map[int64]*pendingAck
	local   bool
	err     error
	done    chan struct{}
}

func newConn(ws *websocket.Conn, hub *Hub) *Conn {
	c := &Conn{
		ws:   ws,
		hub:  hub,
		acks: make(map[int64]*pendingAck),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Error().Err(err).Msg("Error decoding frame")
			continue
		}

		if f.Event == "" {
			if f.Ack != nil {
				c.resolve(*f.Ack, f.Error)
			}
			continue
		}

		c.hub.Dispatch(f.Event, f.Data)
	}
}

func (c *Conn) resolve(id int64, remoteErr string) {
	p := c.take(id)
	if p == nil {
		return
	}
	if remoteErr != "" {
		p.fn(errors.New(remoteErr))
		return
	}
	p.fn(nil)
}

func (c *Conn) take(id int64) *pendingAck {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.acks[id]
	if !ok {
		return nil
	}
	delete(c.acks, id)
	close(p.resolved)
	return p
}

func (c *Conn) finish(err error) {
	c.mu.Lock()
	if c.acks == nil {
		c.mu.Unlock()
		return
	}
	if c.local {
		err = errLocalClose
	}
	c.err = err
	pending := c.acks
	c.acks = nil
	close(c.done)
	c.mu.Unlock()

	for _, p := range pending {
		close(p.resolved)
		p.fn(apperr.TransportUnavailable("await acknowledgement"))
	}
}

// Done is closed once the connection has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended. It is nil while connected.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) On(event string, fn Handler) func() {
	return c.hub.On(event, fn)
}

// Emit writes a named event. When ack is non-nil and Emit returns nil, ack is
// called exactly once: with the remote answer, with ctx's error if ctx ends
// first, or with a transport-unavailable error if the connection drops.
func (c *Conn) Emit(ctx context.Context, event string, payload any, ack AckFunc) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s payload", event)
	}
	f := Frame{Event: event, Data: data}

	var p *pendingAck
	var id int64
	if ack != nil {
		c.mu.Lock()
		if c.acks == nil {
			c.mu.Unlock()
			return apperr.TransportUnavailable(event)
		}
		c.nextAck++
		id = c.nextAck
		p = &pendingAck{fn: ack, resolved: make(chan struct{})}
		c.acks[id] = p
		c.mu.Unlock()
		f.Ack = &id

		go func() {
			select {
			case <-ctx.Done():
				if p := c.take(id); p != nil {
					p.fn(ctx.Err())
				}
			case <-p.resolved:
			}
		}()
	}

	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.ws.WriteJSON(f)
	c.writeMu.Unlock()

	if err != nil {
		if p != nil {
			c.take(id)
		}
		return apperr.Network("emit "+event, err)
	}
	return nil
}

// Close ends the connection without triggering a reconnect.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.local = true
	c.mu.Unlock()

	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.ws.Close()
}

// remoteDisconnect reports whether err is a disconnect the remote side or the
// network caused, which is worth reconnecting after.
func remoteDisconnect(err error) bool {
	if err == nil || errors.Is(err, errLocalClose) {
		return false
	}
	if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		return false
	}
	return true
}
