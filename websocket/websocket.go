// Package websocket owns the live bidirectional connection to the backend.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clementus360/proxy-chat-client/apperr"
)

// Events raised locally on the hub, not sent by the backend.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Listener registers handlers for named events.
type Listener interface {
	On(event string, fn Handler) (detach func())
}

// Channel is what components need from the live connection.
type Channel interface {
	Listener
	Emit(ctx context.Context, event string, payload any, ack AckFunc) error
}

// Manager keeps at most one connection, keyed by the credential it was
// opened with. Listeners are registered on the manager's hub and survive
// reconnects.
type Manager struct {
	url      string
	dialer   *websocket.Dialer
	hub      *Hub
	attempts int
	delay    time.Duration

	mu     sync.Mutex
	token  string
	conn   *Conn
	gen    uint64
	closed chan struct{}
}

type Option func(*Manager)

func WithReconnect(attempts int, delay time.Duration) Option {
	return func(m *Manager) {
		m.attempts = attempts
		m.delay = delay
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

func NewManager(wsURL string, opts ...Option) *Manager {
	m := &Manager{
		url: wsURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		hub:      NewHub(),
		attempts: 5,
		delay:    time.Second,
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Hub() *Hub { return m.hub }

// Current returns the live connection, or nil when there is none.
func (m *Manager) Current() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *Manager) Connected() bool { return m.Current() != nil }

func (m *Manager) On(event string, fn Handler) func() {
	return m.hub.On(event, fn)
}

// Emit sends over the current connection, or fails with
// apperr.ErrTransportUnavailable when there is none.
func (m *Manager) Emit(ctx context.Context, event string, payload any, ack AckFunc) error {
	conn := m.Current()
	if conn == nil {
		return apperr.TransportUnavailable(event)
	}
	return conn.Emit(ctx, event, payload, ack)
}

// Sync brings the connection in line with token. A changed token tears the
// old connection down before dialing; an empty token only tears down.
func (m *Manager) Sync(ctx context.Context, token string) error {
	m.mu.Lock()
	if token == m.token && (token == "" || m.conn != nil) {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	old := m.conn
	m.conn = nil
	m.token = token
	m.mu.Unlock()

	if old != nil {
		old.Close()
		log.Info().Msg("Live connection closed")
	}
	if token == "" {
		return nil
	}

	err := m.connect(ctx, gen, token)
	if err != nil && !errors.Is(err, apperr.ErrAuth) {
		go m.reconnect(gen, token)
	}
	return err
}

// Close tears down the connection and stops reconnecting for good.
func (m *Manager) Close() {
	m.mu.Lock()
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
	m.gen++
	old := m.conn
	m.conn = nil
	m.token = ""
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	u, err := url.Parse(m.url)
	if err != nil {
		return nil, errors.Wrap(err, "parse websocket url")
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := m.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, apperr.Auth("connect", err)
		}
		return nil, apperr.Network("connect", err)
	}
	return ws, nil
}

func (m *Manager) connect(ctx context.Context, gen uint64, token string) error {
	ws, err := m.dial(ctx, token)
	if err != nil {
		log.Warn().Err(err).Msg("Could not open live connection")
		return err
	}

	m.mu.Lock()
	if gen != m.gen {
		// superseded by a newer Sync or Close while dialing
		m.mu.Unlock()
		ws.Close()
		return nil
	}
	conn := newConn(ws, m.hub)
	m.conn = conn
	m.mu.Unlock()

	log.Info().Str("url", m.url).Msg("Live connection established")
	m.hub.Dispatch(EventConnect, nil)

	go m.watch(gen, token, conn)
	return nil
}

func (m *Manager) watch(gen uint64, token string, conn *Conn) {
	<-conn.Done()

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	stale := gen != m.gen
	m.mu.Unlock()

	reason := conn.Err()
	m.hub.Dispatch(EventDisconnect, disconnectPayload(reason))

	if stale || !remoteDisconnect(reason) {
		return
	}
	log.Warn().Err(reason).Msg("Live connection lost, reconnecting")
	m.reconnect(gen, token)
}

func (m *Manager) reconnect(gen uint64, token string) {
	for attempt := 1; attempt <= m.attempts; attempt++ {
		select {
		case <-time.After(time.Duration(attempt) * m.delay):
		case <-m.closed:
			return
		}
		if !m.current(gen) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.dialer.HandshakeTimeout+time.Second)
		err := m.connect(ctx, gen, token)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, apperr.ErrAuth) {
			log.Error().Err(err).Msg("Live connection rejected, giving up")
			return
		}
		log.Warn().Int("attempt", attempt).Err(err).Msg("Reconnect failed")
	}
	log.Error().Int("attempts", m.attempts).Msg("Could not reconnect live channel")
}

func disconnectPayload(reason error) json.RawMessage {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	b, _ := json.Marshal(map[string]string{"reason": msg})
	return b
}
