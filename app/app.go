// Package app wires the client together: one live connection, the directory
// feed, the conversation registry, unread bookkeeping and at most one open
// chat, all following the stored sign-in.
package app

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clementus360/proxy-chat-client/apperr"
	"github.com/clementus360/proxy-chat-client/chat"
	"github.com/clementus360/proxy-chat-client/conversations"
	"github.com/clementus360/proxy-chat-client/directory"
	"github.com/clementus360/proxy-chat-client/geo"
	"github.com/clementus360/proxy-chat-client/models"
	"github.com/clementus360/proxy-chat-client/session"
	"github.com/clementus360/proxy-chat-client/unread"
	"github.com/clementus360/proxy-chat-client/websocket"
)

// API is the part of the backend REST surface the client uses.
type API interface {
	directory.UsersAPI
	conversations.ConversationsAPI
	chat.HistoryAPI
	UpdateProfile(ctx context.Context, update models.ProfileUpdate) (models.User, error)
	UploadPhoto(ctx context.Context, filename string, photo io.Reader) (models.User, error)
	UpdateLocation(ctx context.Context, pos models.Coordinate) (models.Coordinate, error)
}

// Connection is the live channel plus its credential-driven lifecycle.
type Connection interface {
	websocket.Channel
	Sync(ctx context.Context, token string) error
	Close()
}

// Archive serves both transcripts and conversation lists while offline.
type Archive interface {
	chat.Archive
	conversations.Archive
}

type Deps struct {
	API      API
	Conn     Connection
	Store    session.Store
	Locator  *geo.Locator
	Archive  Archive
	PageSize int
}

var errNotSignedIn = errors.New("not signed in")

type App struct {
	api      API
	conn     Connection
	store    session.Store
	locator  *geo.Locator
	archive  Archive
	pageSize int

	feed     *directory.Feed
	registry *conversations.Registry
	unread   *unread.Tracker
	detach   func()

	mu    sync.Mutex
	creds session.Credentials
	chat  *chat.Session
}

func New(d Deps) *App {
	if d.PageSize <= 0 {
		d.PageSize = 20
	}
	if d.Store == nil {
		d.Store = session.NewMemoryStore()
	}

	a := &App{
		api:      d.API,
		conn:     d.Conn,
		store:    d.Store,
		locator:  d.Locator,
		archive:  d.Archive,
		pageSize: d.PageSize,
		unread:   unread.NewTracker(),
	}
	a.feed = directory.NewFeed(d.API, a.unread, "")
	a.registry = conversations.New(d.API, d.Conn, "")
	if d.Archive != nil {
		a.registry.WithArchive(d.Archive)
	}

	// Listeners live on the connection's hub and survive reconnects.
	detachers := []func(){
		a.registry.Attach(d.Conn),
		a.feed.Attach(d.Conn),
		a.unread.Attach(d.Conn),
		d.Conn.On(websocket.EventConnect, func(json.RawMessage) { go a.onConnect() }),
	}
	a.detach = func() {
		for _, fn := range detachers {
			fn()
		}
	}
	return a
}

// Token is the current credential, used to authorize REST calls.
func (a *App) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creds.Token
}

func (a *App) Credentials() session.Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creds
}

func (a *App) Feed() *directory.Feed             { return a.feed }
func (a *App) Registry() *conversations.Registry { return a.registry }
func (a *App) Unread() *unread.Tracker           { return a.unread }
func (a *App) PageSize() int                     { return a.pageSize }

// Chat returns the open chat, or nil.
func (a *App) Chat() *chat.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chat
}

// Run follows the stored sign-in until ctx ends, then drops the connection.
func (a *App) Run(ctx context.Context) error {
	creds, err := a.store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load session")
	}

	changes, err := a.store.Watch(ctx)
	if err != nil {
		return errors.Wrap(err, "watch session")
	}

	a.apply(ctx, creds)

	defer func() {
		a.CloseChat()
		a.detach()
		a.conn.Close()
	}()

	for {
		select {
		case creds, ok := <-changes:
			if !ok {
				<-ctx.Done()
				return nil
			}
			a.apply(ctx, creds)
		case <-ctx.Done():
			return nil
		}
	}
}

// apply moves every component over to creds. Switching users drops all
// per-user state first.
func (a *App) apply(ctx context.Context, creds session.Credentials) {
	a.mu.Lock()
	prev := a.creds
	a.creds = creds
	var open *chat.Session
	switched := prev.UserID() != creds.UserID() || prev.SignedIn() != creds.SignedIn()
	if switched {
		open, a.chat = a.chat, nil
	}
	a.mu.Unlock()

	if switched {
		if open != nil {
			open.Close()
		}
		viewer := creds.UserID()
		a.feed.SetViewer(viewer)
		a.registry.Reset(viewer)
		a.unread.Reset()
		a.unread.SetViewer(viewer)
		log.Info().Str("user_id", viewer).Bool("signed_in", creds.SignedIn()).Msg("Session changed")
	}

	if err := a.conn.Sync(ctx, creds.Token); err != nil {
		if errors.Is(err, apperr.ErrAuth) {
			log.Warn().Err(err).Msg("Credential rejected by live channel")
		} else {
			log.Error().Err(err).Msg("Error connecting live channel")
		}
	}
}

func (a *App) onConnect() {
	if !a.Credentials().SignedIn() {
		return
	}
	if err := a.registry.FetchAll(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Conversations not refreshed after connect")
	}
}

// Login stores creds. Other processes sharing the store follow.
func (a *App) Login(ctx context.Context, creds session.Credentials) error {
	if !creds.SignedIn() {
		return apperr.Auth("login", errors.New("empty token"))
	}
	if err := a.store.Save(ctx, creds); err != nil {
		return errors.Wrap(err, "save session")
	}
	a.apply(ctx, creds)
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if err := a.store.Clear(ctx); err != nil {
		return errors.Wrap(err, "clear session")
	}
	a.apply(ctx, session.Credentials{})
	return nil
}

func (a *App) viewer(op string) (string, error) {
	creds := a.Credentials()
	if !creds.SignedIn() || creds.UserID() == "" {
		return "", apperr.Auth(op, errNotSignedIn)
	}
	return creds.UserID(), nil
}

// origin is the viewer's position, or nil when it cannot be had in time.
func (a *App) origin(ctx context.Context) *models.Coordinate {
	if a.locator == nil {
		return nil
	}
	pos, err := a.locator.Position(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Fetching users without location")
		return nil
	}
	return &pos
}

// RefreshUsers reloads the directory from its first page.
func (a *App) RefreshUsers(ctx context.Context) (bool, error) {
	if _, err := a.viewer("refresh users"); err != nil {
		return false, err
	}
	return a.feed.Refresh(ctx, a.pageSize, a.origin(ctx))
}

// MoreUsers loads the next directory page.
func (a *App) MoreUsers(ctx context.Context) (bool, error) {
	if _, err := a.viewer("more users"); err != nil {
		return false, err
	}
	return a.feed.FetchNext(ctx, a.pageSize, a.origin(ctx))
}

func (a *App) RefreshConversations(ctx context.Context) error {
	if _, err := a.viewer("refresh conversations"); err != nil {
		return err
	}
	return a.registry.FetchAll(ctx)
}

// OpenConversation marks the conversation read and opens the chat with its
// other participant. A missing live channel only skips the mark-as-read.
func (a *App) OpenConversation(ctx context.Context, conversationID string) (*chat.Session, error) {
	viewer, err := a.viewer("open conversation")
	if err != nil {
		return nil, err
	}

	c, ok := a.registry.Get(conversationID)
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "conversation %s", conversationID)
	}
	partner, ok := c.Partner(viewer)
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "partner in conversation %s", conversationID)
	}

	if err := a.registry.Select(ctx, conversationID); err != nil {
		switch {
		case errors.Is(err, apperr.ErrTransportUnavailable):
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("Opening conversation without marking it read")
		}
	}

	return a.OpenChat(ctx, partner.ID)
}

// OpenChat makes userID the active chat partner and loads the transcript.
// The session is returned even when the history could not be loaded.
func (a *App) OpenChat(ctx context.Context, userID string) (*chat.Session, error) {
	viewer, err := a.viewer("open chat")
	if err != nil {
		return nil, err
	}

	s := chat.NewSession(a.api, a.conn, viewer, userID)
	if a.archive != nil {
		s.WithArchive(a.archive)
	}

	a.mu.Lock()
	prev := a.chat
	a.chat = s
	a.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	a.unread.OpenChat(userID)
	return s, s.Open(ctx)
}

func (a *App) CloseChat() {
	a.mu.Lock()
	s := a.chat
	a.chat = nil
	a.mu.Unlock()

	if s != nil {
		s.Close()
		a.unread.CloseChat()
	}
}

// SendMessage sends text to the open chat's partner and returns the session
// it went through, which may have been closed in the meantime.
func (a *App) SendMessage(ctx context.Context, text string) (*chat.Session, error) {
	s := a.Chat()
	if s == nil {
		return nil, errors.Wrap(apperr.ErrNotFound, "no open chat")
	}
	return s, s.SendText(ctx, text)
}

// UpdateProfile saves the returned user into the stored session.
func (a *App) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (models.User, error) {
	if _, err := a.viewer("update profile"); err != nil {
		return models.User{}, err
	}
	user, err := a.api.UpdateProfile(ctx, update)
	if err != nil {
		return models.User{}, err
	}
	return user, a.storeUser(ctx, user)
}

func (a *App) UploadPhoto(ctx context.Context, filename string, photo io.Reader) (models.User, error) {
	if _, err := a.viewer("upload photo"); err != nil {
		return models.User{}, err
	}
	user, err := a.api.UploadPhoto(ctx, filename, photo)
	if err != nil {
		return models.User{}, err
	}
	return user, a.storeUser(ctx, user)
}

func (a *App) storeUser(ctx context.Context, user models.User) error {
	a.mu.Lock()
	creds := a.creds
	creds.User = &user
	a.creds = creds
	a.mu.Unlock()
	return errors.Wrap(a.store.Save(ctx, creds), "save session")
}

// UpdateLocation reports pos, or the located position when pos is nil.
func (a *App) UpdateLocation(ctx context.Context, pos *models.Coordinate) (models.Coordinate, error) {
	if _, err := a.viewer("update location"); err != nil {
		return models.Coordinate{}, err
	}
	if pos == nil {
		if a.locator == nil {
			return models.Coordinate{}, geo.ErrUnavailable
		}
		p, err := a.locator.Position(ctx)
		if err != nil {
			return models.Coordinate{}, err
		}
		pos = &p
	}
	return a.api.UpdateLocation(ctx, *pos)
}
