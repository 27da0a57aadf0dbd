package directory

import "github.com/clementus360/proxy-chat-client/models"

// State is the in-memory user list. Users are only ever appended or
// patched, never removed, until a Reset.
type State struct {
	Users []models.User
}

type Event interface{ isEvent() }

// PageFetched appends a page, skipping the viewer and ids already present.
type PageFetched struct {
	Users    []models.User
	ViewerID string
}

// PresenceChanged patches the online flag of a known user.
type PresenceChanged struct {
	UserID   string
	IsOnline bool
}

type Reset struct{}

func (PageFetched) isEvent()     {}
func (PresenceChanged) isEvent() {}
func (Reset) isEvent()           {}

// Reduce returns the state after ev. s is not modified.
func Reduce(s State, ev Event) State {
	switch ev := ev.(type) {
	case PageFetched:
		added := NewUsers(s, ev.Users, ev.ViewerID)
		if len(added) == 0 {
			return s
		}
		users := make([]models.User, 0, len(s.Users)+len(added))
		users = append(users, s.Users...)
		users = append(users, added...)
		return State{Users: users}

	case PresenceChanged:
		for i, u := range s.Users {
			if u.ID != ev.UserID {
				continue
			}
			if u.IsOnline == ev.IsOnline {
				return s
			}
			users := make([]models.User, len(s.Users))
			copy(users, s.Users)
			users[i].IsOnline = ev.IsOnline
			return State{Users: users}
		}
		return s

	case Reset:
		return State{}
	}
	return s
}

// NewUsers returns the users of batch that Reduce would add to s, in order.
func NewUsers(s State, batch []models.User, viewerID string) []models.User {
	seen := make(map[string]struct{}, len(s.Users)+len(batch))
	for _, u := range s.Users {
		seen[u.ID] = struct{}{}
	}

	var added []models.User
	for _, u := range batch {
		if u.ID == "" || u.ID == viewerID {
			continue
		}
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		added = append(added, u)
	}
	return added
}
