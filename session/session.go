// Package session persists the credential and the signed-in user record so
// every process of the client starts from, and follows, the same sign-in.
package session

import (
	"context"
	"sync"

	"github.com/clementus360/proxy-chat-client/models"
)

type Credentials struct {
	Token string       `json:"token"`
	User  *models.User `json:"user,omitempty"`
}

func (c Credentials) SignedIn() bool { return c.Token != "" }

func (c Credentials) UserID() string {
	if c.User == nil {
		return ""
	}
	return c.User.ID
}

// Store is durable client-side storage shared by every process of the
// client. Watch yields the new credentials after any write, including
// writes made by other processes.
type Store interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
	Watch(ctx context.Context) (<-chan Credentials, error)
}

// MemoryStore keeps credentials in process.
type MemoryStore struct {
	mu       sync.Mutex
	creds    Credentials
	watchers map[chan Credentials]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{watchers: make(map[chan Credentials]struct{})}
}

func (s *MemoryStore) Load(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, nil
}

func (s *MemoryStore) Save(ctx context.Context, creds Credentials) error {
	s.set(creds)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.set(Credentials{})
	return nil
}

func (s *MemoryStore) set(creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = creds
	for ch := range s.watchers {
		select {
		case ch <- creds:
		default:
			// slow watcher, drop the oldest pending value
			select {
			case <-ch:
			default:
			}
			ch <- creds
		}
	}
}

func (s *MemoryStore) Watch(ctx context.Context) (<-chan Credentials, error) {
	ch := make(chan Credentials, 1)

	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}
