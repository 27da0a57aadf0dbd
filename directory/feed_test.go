package directory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clementus360/proxy-chat-client/models"
	"github.com/clementus360/proxy-chat-client/unread"
	"github.com/clementus360/proxy-chat-client/websocket"
)

type fakeUsersAPI struct {
	mu       sync.Mutex
	pages    map[int][]models.User
	unread   map[string]int
	failFor  map[string]bool
	lookedUp []string
	origins  []*models.Coordinate
}

func (f *fakeUsersAPI) NearbyUsers(ctx context.Context, page, limit int, origin *models.Coordinate) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.origins = append(f.origins, origin)
	return f.pages[page], nil
}

func (f *fakeUsersAPI) UnreadCount(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookedUp = append(f.lookedUp, userID)
	if f.failFor[userID] {
		return 0, errors.New("lookup failed")
	}
	return f.unread[userID], nil
}

func users(prefix string, n int) []models.User {
	out := make([]models.User, n)
	for i := range out {
		out[i] = models.User{ID: fmt.Sprintf("%s%d", prefix, i), Name: fmt.Sprintf("User %d", i)}
	}
	return out
}

func ids(us []models.User) []string {
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = u.ID
	}
	return out
}

func TestFetchPage_HasMoreHeuristic(t *testing.T) {
	api := &fakeUsersAPI{pages: map[int][]models.User{
		1: users("a", 20),
		2: users("b", 5),
	}}
	feed := NewFeed(api, nil, "me")

	more, err := feed.FetchPage(context.Background(), 1, 20, nil)
	require.NoError(t, err)
	assert.True(t, more)

	more, err = feed.FetchPage(context.Background(), 2, 20, nil)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Len(t, feed.Users(), 25)
}

func TestFetchPage_DeduplicatesAcrossPages(t *testing.T) {
	p1 := []models.User{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}}
	p2 := []models.User{{ID: "u3"}, {ID: "u4"}, {ID: "u1"}, {ID: "u4"}}
	api := &fakeUsersAPI{pages: map[int][]models.User{1: p1, 2: p2}}
	feed := NewFeed(api, nil, "me")

	_, err := feed.FetchPage(context.Background(), 1, 3, nil)
	require.NoError(t, err)
	_, err = feed.FetchNext(context.Background(), 3, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"u1", "u2", "u3", "u4"}, ids(feed.Users()))
	assert.Equal(t, 2, feed.Page())
}

func TestFetchPage_ExcludesViewer(t *testing.T) {
	api := &fakeUsersAPI{pages: map[int][]models.User{1: {{ID: "me"}, {ID: "u1"}}}}
	feed := NewFeed(api, nil, "me")

	_, err := feed.FetchPage(context.Background(), 1, 20, &models.Coordinate{Latitude: 1, Longitude: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"u1"}, ids(feed.Users()))
	require.NotNil(t, api.origins[0])
	assert.Equal(t, 1.0, api.origins[0].Latitude)
}

func TestFetchPage_UnreadFanOutIsBestEffort(t *testing.T) {
	api := &fakeUsersAPI{
		pages:   map[int][]models.User{1: {{ID: "u1"}, {ID: "u2"}, {ID: "u3"}}},
		unread:  map[string]int{"u1": 4, "u3": 1},
		failFor: map[string]bool{"u2": true},
	}
	tr := unread.NewTracker()
	feed := NewFeed(api, tr, "me")

	_, err := feed.FetchPage(context.Background(), 1, 20, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, tr.Count("u1"))
	assert.Equal(t, 0, tr.Count("u2"))
	assert.Equal(t, 1, tr.Count("u3"))
	assert.ElementsMatch(t, []string{"u1", "u2", "u3"}, api.lookedUp)
}

func TestFetchPage_OnlyNewUsersLookedUp(t *testing.T) {
	api := &fakeUsersAPI{pages: map[int][]models.User{
		1: {{ID: "u1"}},
		2: {{ID: "u1"}, {ID: "u2"}},
	}}
	feed := NewFeed(api, unread.NewTracker(), "me")

	feed.FetchPage(context.Background(), 1, 1, nil)
	feed.FetchPage(context.Background(), 2, 1, nil)

	assert.Equal(t, []string{"u1", "u2"}, api.lookedUp)
}

func TestFetchPage_CancelledContextNotApplied(t *testing.T) {
	api := &fakeUsersAPI{pages: map[int][]models.User{1: {{ID: "u1"}}}}
	feed := NewFeed(api, nil, "me")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := feed.FetchPage(ctx, 1, 20, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, feed.Users())
}

// slowUnreadAPI holds every unread lookup until release is closed.
type slowUnreadAPI struct {
	*fakeUsersAPI
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowUnreadAPI) UnreadCount(ctx context.Context, userID string) (int, error) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.fakeUsersAPI.UnreadCount(ctx, userID)
}

func TestFetchPage_UnreadDroppedAfterViewerChange(t *testing.T) {
	api := &slowUnreadAPI{
		fakeUsersAPI: &fakeUsersAPI{
			pages:  map[int][]models.User{1: {{ID: "old-u1"}}},
			unread: map[string]int{"old-u1": 7},
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	tr := unread.NewTracker()
	feed := NewFeed(api, tr, "viewerA")

	done := make(chan error, 1)
	go func() {
		_, err := feed.FetchPage(context.Background(), 1, 20, nil)
		done <- err
	}()

	<-api.started
	feed.SetViewer("viewerB")
	tr.Reset()
	close(api.release)
	require.NoError(t, <-done)

	assert.Empty(t, feed.Users())
	assert.Equal(t, 0, tr.Count("old-u1"))
	assert.Empty(t, tr.Snapshot().PerUser)
}

func TestRefreshStartsOver(t *testing.T) {
	api := &fakeUsersAPI{pages: map[int][]models.User{1: {{ID: "u1"}}, 2: {{ID: "u2"}}}}
	feed := NewFeed(api, nil, "me")

	feed.FetchPage(context.Background(), 1, 1, nil)
	feed.FetchNext(context.Background(), 1, nil)
	require.Len(t, feed.Users(), 2)

	_, err := feed.Refresh(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids(feed.Users()))
	assert.Equal(t, 1, feed.Page())
}

func TestPresence(t *testing.T) {
	api := &fakeUsersAPI{pages: map[int][]models.User{1: {{ID: "u1"}, {ID: "u2", IsOnline: true}}}}
	feed := NewFeed(api, nil, "me")
	feed.FetchPage(context.Background(), 1, 20, nil)

	hub := websocket.NewHub()
	detach := feed.Attach(hub)
	defer detach()

	hub.Dispatch(EventUserStatus, []byte(`{"userId":"u1","isOnline":true}`))
	hub.Dispatch(EventUserStatus, []byte(`{"userId":"u2","isOnline":false}`))
	hub.Dispatch(EventUserStatus, []byte(`{"userId":"stranger","isOnline":true}`))

	got := feed.Users()
	require.Len(t, got, 2)
	assert.True(t, got[0].IsOnline)
	assert.False(t, got[1].IsOnline)
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	s := State{Users: []models.User{{ID: "u1"}}}
	next := Reduce(s, PresenceChanged{UserID: "u1", IsOnline: true})

	assert.False(t, s.Users[0].IsOnline)
	assert.True(t, next.Users[0].IsOnline)
	assert.Empty(t, Reduce(next, Reset{}).Users)
}
