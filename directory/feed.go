// Package directory is the paginated feed of nearby users.
package directory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/clementus360/proxy-chat-client/models"
	"github.com/clementus360/proxy-chat-client/websocket"
)

const EventUserStatus = "user status"

// maxLookups bounds concurrent per-user unread lookups.
const maxLookups = 4

type UsersAPI interface {
	NearbyUsers(ctx context.Context, page, limit int, origin *models.Coordinate) ([]models.User, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// UnreadSink receives per-user unread counts discovered while paging.
type UnreadSink interface {
	Merge(counts map[string]int)
}

type Feed struct {
	api    UsersAPI
	unread UnreadSink

	mu      sync.Mutex
	viewer  string
	state   State
	page    int
	hasMore bool
	gen     uint64
}

func NewFeed(api UsersAPI, unread UnreadSink, viewerID string) *Feed {
	return &Feed{api: api, unread: unread, viewer: viewerID, hasMore: true}
}

// FetchPage appends page to the list and reports whether another page may
// exist. A Reset while the request is in flight discards its result.
func (f *Feed) FetchPage(ctx context.Context, page, pageSize int, origin *models.Coordinate) (bool, error) {
	f.mu.Lock()
	gen := f.gen
	viewer := f.viewer
	f.mu.Unlock()

	batch, err := f.api.NearbyUsers(ctx, page, pageSize, origin)
	if err != nil {
		log.Error().Err(err).Int("page", page).Msg("Error fetching nearby users")
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return false, context.Canceled
	}
	added := NewUsers(f.state, batch, viewer)
	f.state = Reduce(f.state, PageFetched{Users: batch, ViewerID: viewer})
	f.page = page
	f.hasMore = len(batch) >= pageSize
	hasMore := f.hasMore
	f.mu.Unlock()

	log.Debug().Int("page", page).Int("fetched", len(batch)).Int("added", len(added)).Msg("Nearby users fetched")

	counts := f.lookupUnread(ctx, added)
	if ctx.Err() != nil || f.unread == nil || len(counts) == 0 {
		return hasMore, nil
	}

	// held across Merge so a Reset cannot slip in between
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return hasMore, nil
	}
	f.unread.Merge(counts)
	return hasMore, nil
}

// FetchNext fetches the page after the last one applied.
func (f *Feed) FetchNext(ctx context.Context, pageSize int, origin *models.Coordinate) (bool, error) {
	f.mu.Lock()
	next := f.page + 1
	f.mu.Unlock()
	return f.FetchPage(ctx, next, pageSize, origin)
}

// Refresh drops the list and fetches the first page again.
func (f *Feed) Refresh(ctx context.Context, pageSize int, origin *models.Coordinate) (bool, error) {
	f.Reset()
	return f.FetchPage(ctx, 1, pageSize, origin)
}

func (f *Feed) Reset() {
	f.mu.Lock()
	f.gen++
	f.state = Reduce(f.state, Reset{})
	f.page = 0
	f.hasMore = true
	f.mu.Unlock()
}

// SetViewer changes whose feed this is and starts over.
func (f *Feed) SetViewer(viewerID string) {
	f.mu.Lock()
	f.viewer = viewerID
	f.mu.Unlock()
	f.Reset()
}

// lookupUnread asks for every user's unread count. A failed lookup counts
// as zero.
func (f *Feed) lookupUnread(ctx context.Context, users []models.User) map[string]int {
	if len(users) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		counts = make(map[string]int, len(users))
	)

	var g errgroup.Group
	g.SetLimit(maxLookups)
	for _, u := range users {
		g.Go(func() error {
			n, err := f.api.UnreadCount(ctx, u.ID)
			if err != nil {
				log.Warn().Err(err).Str("user_id", u.ID).Msg("Unread lookup failed, assuming 0")
				n = 0
			}
			mu.Lock()
			counts[u.ID] = n
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return counts
}

func (f *Feed) ApplyPresence(status models.UserStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = Reduce(f.state, PresenceChanged{UserID: string(status.UserID), IsOnline: status.IsOnline})
}

// Attach applies presence updates arriving on l.
func (f *Feed) Attach(l websocket.Listener) (detach func()) {
	return l.On(EventUserStatus, func(data json.RawMessage) {
		var status models.UserStatus
		if err := json.Unmarshal(data, &status); err != nil {
			log.Error().Err(err).Str("event", EventUserStatus).Msg("Error decoding event")
			return
		}
		f.ApplyPresence(status)
	})
}

func (f *Feed) Users() []models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]models.User, len(f.state.Users))
	copy(users, f.state.Users)
	return users
}

func (f *Feed) HasMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasMore
}

func (f *Feed) Page() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page
}
