// Package session owns one signed-in user's real-time state: the broker
// connection, its subscriptions, the inbound event routing and every open
// conversation.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatsync/logger"
	"chatsync/module/chat/ephemeral"
	"chatsync/module/chat/history"
	"chatsync/module/chat/model"
	"chatsync/module/game"
	"chatsync/service/credential"
	"chatsync/service/crosstab"
	"chatsync/service/dispatcher"
	"chatsync/service/subscription"
	"chatsync/service/transport"
	"chatsync/tools/errs"
	"chatsync/tools/notify"
	"chatsync/tools/safe"

	"go.uber.org/zap"
)

type Config struct {
	Transport  transport.Config
	Dispatcher dispatcher.Config
	Ephemeral  ephemeral.Config
	PageSize   int
}

// Deps are the collaborators owned by the embedding application. Loader and
// CrossTab are optional.
type Deps struct {
	Driver      transport.Driver
	Credentials credential.Source
	Loader      history.Loader
	CrossTab    crosstab.Channel
	Logger      *zap.Logger
	Now         func() time.Time
}

type UnreadChange struct {
	ChatID int64
	Count  int
}

type Session struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	now  func() time.Time

	conn *transport.Conn
	reg  *subscription.Registry
	disp *dispatcher.Dispatcher

	unreadHub   *notify.Hub[UnreadChange]
	refreshHub  *notify.Hub[int64]
	teardownHub *notify.Hub[int64]

	mu      sync.Mutex
	running bool
	self    credential.Credential
	tracker *ephemeral.Tracker
	games   *game.Channel
	convs   map[int64]*Conversation
	unread  map[int64]int
	cancels []func()
}

func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Driver == nil {
		return nil, errs.ErrArgs.WrapMsg("session needs a broker driver")
	}
	if deps.Credentials == nil {
		return nil, errs.ErrArgs.WrapMsg("session needs a credential source")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = history.DefaultPageSize
	}
	log := logger.Named(deps.Logger, "session")

	s := &Session{
		cfg:         cfg,
		deps:        deps,
		log:         log,
		now:         deps.Now,
		unreadHub:   notify.NewHub[UnreadChange](log),
		refreshHub:  notify.NewHub[int64](log),
		teardownHub: notify.NewHub[int64](log),
		convs:       make(map[int64]*Conversation),
		unread:      make(map[int64]int),
	}
	s.conn = transport.New(deps.Driver, cfg.Transport,
		transport.WithLogger(deps.Logger),
		transport.WithHeartbeat(model.DestHeartbeat, func(userID int64, now time.Time) any {
			return model.HeartbeatCommand(userID, now)
		}),
	)
	s.reg = subscription.New(s.conn, subscription.WithLogger(deps.Logger), subscription.WithClock(deps.Now))
	s.conn.SetReplayer(s.reg)

	disp, err := dispatcher.New(cfg.Dispatcher, deps.Logger)
	if err != nil {
		return nil, err
	}
	s.disp = disp
	s.registerHandlers()
	s.conn.OnFrame(func(f transport.Frame) {
		_ = s.disp.HandleFrame(context.Background(), f)
	})
	return s, nil
}

// userSubscriptions are held for the whole session, whatever is open.
func userSubscriptions() []subscription.Subscription {
	return []subscription.Subscription{
		subscription.ForUser(subscription.ReadReceipts),
		subscription.ForUser(subscription.ChatUpdates),
		subscription.ForUser(subscription.AdminChanges),
		subscription.ForUser(subscription.MemberRemovals),
		subscription.ForGame(""),
	}
}

// Start signs in with the current credential and connects. Calling it on a
// running session reconnects; a credential naming another user restarts the
// session for that user. A failed connect leaves the session running and
// Disconnected, so Start may be retried.
func (s *Session) Start(ctx context.Context) error {
	cred, ok := s.deps.Credentials.Credential()
	if !ok {
		return errs.ErrNoCredential.Wrap()
	}

	s.mu.Lock()
	if s.running && s.self.UserID == cred.UserID {
		s.self = cred
		s.mu.Unlock()
		return s.conn.Connect(ctx, cred.UserID, cred.Token)
	}
	restart := s.running
	s.mu.Unlock()
	if restart {
		s.Stop()
	}

	s.mu.Lock()
	s.running = true
	s.self = cred
	s.tracker = ephemeral.New(s.cfg.Ephemeral, cred.UserID, cred.Username,
		ephemeral.Hooks{Teardown: s.teardown, Refresh: s.refreshHub.Emit},
		ephemeral.WithClock(s.now), ephemeral.WithLogger(s.deps.Logger))
	s.games = game.New(s.conn, s.reg, game.Player{UserID: cred.UserID, Username: cred.Username}, s.deps.Logger)
	s.cancels = []func(){
		s.deps.Credentials.OnInvalidated(s.onInvalidated),
		s.conn.OnAuthRejected(s.onAuthRejected),
	}
	if ct := s.deps.CrossTab; ct != nil {
		s.cancels = append(s.cancels, ct.Subscribe(s.onCrossTab))
	}
	s.mu.Unlock()

	s.reg.Bind(cred.UserID)
	for _, sub := range userSubscriptions() {
		if _, err := s.reg.Subscribe(ctx, sub); err != nil {
			s.log.Warn("user subscription deferred", zap.Stringer("sub", sub), zap.Error(err))
		}
	}
	s.log.Info("session started", zap.Int64("user_id", cred.UserID), zap.String("username", cred.Username))

	err := s.conn.Connect(ctx, cred.UserID, cred.Token)
	if ct := s.deps.CrossTab; ct != nil && err == nil {
		if perr := ct.Publish(ctx, crosstab.Signal{Kind: crosstab.Login, UserID: cred.UserID, At: s.now()}); perr != nil {
			s.log.Warn("cross-tab login signal failed", zap.Error(perr))
		}
	}
	return err
}

// Stop closes every conversation, clears the subscriptions, drops the
// outbound queue and disconnects. It must not be called from an observer
// of the session's connection.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancels, tracker, convs := s.cancels, s.tracker, s.convs
	s.cancels = nil
	s.convs = make(map[int64]*Conversation)
	s.unread = make(map[int64]int)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, c := range convs {
		c.shut(false)
	}
	tracker.Stop()
	s.reg.Clear()
	s.conn.Shutdown()
	s.log.Info("session stopped")
}

// Logout stops the session, tells the other tabs and drops the credential.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	running, self := s.running, s.self
	s.mu.Unlock()
	if !running {
		return nil
	}
	var err error
	if ct := s.deps.CrossTab; ct != nil {
		err = ct.Publish(ctx, crosstab.Signal{Kind: crosstab.Logout, UserID: self.UserID, At: s.now()})
	}
	s.Stop()
	s.deps.Credentials.Invalidate("logout")
	return err
}

func (s *Session) State() transport.Status { return s.conn.Status() }

func (s *Session) OnStateChange(fn func(transport.Status)) (cancel func()) {
	return s.conn.OnStateChange(fn)
}

// Running reports whether Start succeeded in signing in and Stop has not
// been called since.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) Self() credential.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Games is nil before the first Start.
func (s *Session) Games() *game.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.games
}

// Unread is the number of messages received for chatID while it was not
// open.
func (s *Session) Unread(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[chatID]
}

func (s *Session) OnUnread(fn func(UnreadChange)) (cancel func()) { return s.unreadHub.Subscribe(fn) }

// OnRefresh fires once per burst of metadata changes for a conversation.
func (s *Session) OnRefresh(fn func(chatID int64)) (cancel func()) { return s.refreshHub.Subscribe(fn) }

// OnTeardown fires when the current user lost a conversation.
func (s *Session) OnTeardown(fn func(chatID int64)) (cancel func()) {
	return s.teardownHub.Subscribe(fn)
}

func (s *Session) conversation(chatID int64) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs[chatID]
}

func (s *Session) currentTracker() *ephemeral.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker
}

func (s *Session) bumpUnread(chatID int64) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.unread[chatID]++
	n := s.unread[chatID]
	s.mu.Unlock()
	s.unreadHub.Emit(UnreadChange{ChatID: chatID, Count: n})
}

func (s *Session) resetUnread(chatID int64) {
	s.mu.Lock()
	n, ok := s.unread[chatID]
	delete(s.unread, chatID)
	s.mu.Unlock()
	if ok && n > 0 {
		s.unreadHub.Emit(UnreadChange{ChatID: chatID})
	}
}

// teardown runs when the current user was removed from chatID or the
// conversation was deleted. Nothing is refetched.
func (s *Session) teardown(chatID int64) {
	s.mu.Lock()
	c := s.convs[chatID]
	delete(s.convs, chatID)
	s.mu.Unlock()
	s.resetUnread(chatID)

	// the removal arrives on the broadcast and the personal path with
	// different content, so a second call finds nothing left to remove
	removed := c != nil
	if c != nil {
		c.shut(true)
	} else {
		for _, sub := range []subscription.Subscription{subscription.ForConversation(chatID), subscription.ForTyping(chatID)} {
			if s.reg.Has(sub) {
				s.reg.UnsubscribeKey(sub)
				removed = true
			}
		}
	}
	if !removed {
		s.log.Debug("teardown for conversation not held", zap.Int64("chatId", chatID))
		return
	}
	s.log.Info("conversation torn down", zap.Int64("chatId", chatID))
	s.teardownHub.Emit(chatID)
}

// onInvalidated re-reads the credential. The same user reconnects with the
// new token, another user ends the session, no credential disconnects and
// waits for one.
func (s *Session) onInvalidated(reason string) {
	cred, ok := s.deps.Credentials.Credential()
	s.mu.Lock()
	running, self := s.running, s.self
	s.mu.Unlock()
	if !running {
		return
	}
	switch {
	case !ok:
		s.log.Info("credential dropped, disconnecting", zap.String("reason", reason))
		s.conn.Disconnect()
	case cred.UserID != self.UserID:
		s.log.Info("credential names another user, stopping", zap.String("reason", reason), zap.Int64("user_id", cred.UserID))
		safe.SafeGo(s.log, "session-stop", s.Stop)
	default:
		s.log.Info("credential replaced, reconnecting", zap.String("reason", reason))
		safe.SafeGo(s.log, "session-reconnect", func() { s.reconnect(cred) })
	}
}

func (s *Session) reconnect(cred credential.Credential) {
	s.mu.Lock()
	if !s.running || s.self.UserID != cred.UserID {
		s.mu.Unlock()
		return
	}
	s.self = cred
	s.mu.Unlock()
	if err := s.conn.Connect(context.Background(), cred.UserID, cred.Token); err != nil {
		s.log.Warn("reconnect with new credential failed", zap.Error(err))
	}
}

func (s *Session) onAuthRejected(err error) {
	s.log.Warn("broker rejected credential", zap.Error(err))
	s.deps.Credentials.Invalidate("auth rejected")
}

func (s *Session) onCrossTab(sig crosstab.Signal) {
	s.mu.Lock()
	running, self := s.running, s.self
	s.mu.Unlock()
	if !running {
		return
	}
	switch sig.Kind {
	case crosstab.Logout:
		if sig.UserID == self.UserID {
			s.log.Info("logged out in another tab", zap.String("origin", sig.Origin))
			safe.SafeGo(s.log, "session-stop", s.Stop)
		}
	case crosstab.Login:
		cred, ok := s.deps.Credentials.Credential()
		if !ok {
			return
		}
		if cred.UserID != self.UserID {
			safe.SafeGo(s.log, "session-stop", s.Stop)
			return
		}
		if s.conn.Status().State == transport.Disconnected {
			safe.SafeGo(s.log, "session-reconnect", func() { s.reconnect(cred) })
		}
	}
}

// checkAuth routes a REST 401 to the credential source.
func (s *Session) checkAuth(err error) {
	if errors.Is(err, errs.ErrUnauthorized) {
		s.deps.Credentials.Invalidate("unauthorized")
	}
}
