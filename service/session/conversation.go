package session

import (
	"context"
	"sync"
	"sync/atomic"

	"chatsync/module/chat/ephemeral"
	"chatsync/module/chat/history"
	"chatsync/module/chat/model"
	"chatsync/module/chat/reconcile"
	"chatsync/service/subscription"
	"chatsync/tools/errs"

	"go.uber.org/zap"
)

// Conversation is one open conversation: its visible list, its history
// cursor and its live subscriptions.
type Conversation struct {
	s     *Session
	id    int64
	self  reconcile.Self
	rec   *reconcile.Reconciler
	pager *history.Paginator // nil without a history loader
	log   *zap.Logger

	mu      sync.Mutex
	handles []subscription.Handle
	closed  atomic.Bool
}

// OpenConversation subscribes to ref and loads its newest page. A direct
// conversation may be opened by peer username; the loader resolves the id.
// Opening an open conversation returns it.
func (s *Session) OpenConversation(ctx context.Context, ref model.ConversationRef) (*Conversation, error) {
	if ref.IsZero() {
		return nil, errs.ErrArgs.WrapMsg("empty conversation ref")
	}
	s.mu.Lock()
	running, cred := s.running, s.self
	existing := s.convs[ref.ID]
	s.mu.Unlock()
	if !running {
		return nil, errs.ErrSessionStopped.Wrap()
	}
	if ref.ID != 0 && existing != nil {
		return existing, nil
	}

	id := ref.ID
	var first *history.Page
	if id == 0 {
		if s.deps.Loader == nil {
			return nil, errs.ErrArgs.WrapMsg("opening by peer needs a history loader", "peer", ref.Peer)
		}
		page, err := s.deps.Loader.FetchMessages(ctx, ref, s.cfg.PageSize, 0)
		if err != nil {
			s.checkAuth(err)
			return nil, err
		}
		if page.ConversationID == 0 {
			return nil, errs.ErrArgs.WrapMsg("peer did not resolve to a conversation", "peer", ref.Peer)
		}
		id, first = page.ConversationID, &page
	}

	self := reconcile.Self{UserID: cred.UserID, Username: cred.Username}
	c := &Conversation{
		s:    s,
		id:   id,
		self: self,
		rec:  reconcile.New(id, self, s.conn, reconcile.WithClock(s.now), reconcile.WithLogger(s.deps.Logger)),
		log:  s.log.With(zap.Int64("chatId", id)),
	}
	if s.deps.Loader != nil {
		c.pager = history.NewPaginator(model.ByID(id), s.deps.Loader, c.rec, s.cfg.PageSize, s.deps.Logger)
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, errs.ErrSessionStopped.Wrap()
	}
	if other := s.convs[id]; other != nil {
		s.mu.Unlock()
		return other, nil
	}
	s.convs[id] = c
	s.mu.Unlock()
	s.resetUnread(id)

	// subscribe before loading so nothing sent during the load is missed
	for _, sub := range []subscription.Subscription{subscription.ForConversation(id), subscription.ForTyping(id)} {
		h, err := s.reg.Subscribe(ctx, sub)
		if err != nil {
			c.log.Warn("subscription deferred to reconnect", zap.Stringer("sub", sub), zap.Error(err))
		}
		c.mu.Lock()
		c.handles = append(c.handles, h)
		c.mu.Unlock()
	}

	switch {
	case first != nil:
		c.pager.Prime(*first)
	case c.pager != nil:
		if _, err := c.pager.LoadInitial(ctx); err != nil {
			s.checkAuth(err)
			s.CloseConversation(id)
			return nil, err
		}
	}
	c.log.Debug("conversation opened", zap.Int("messages", c.rec.Len()))
	return c, nil
}

// CloseConversation unsubscribes chatID and cancels its typing state. The
// list is kept until the Conversation is dropped.
func (s *Session) CloseConversation(chatID int64) {
	s.mu.Lock()
	c := s.convs[chatID]
	delete(s.convs, chatID)
	tracker := s.tracker
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.shut(false)
	if tracker != nil {
		tracker.Forget(chatID)
	}
}

func (c *Conversation) shut(clearView bool) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	handles := c.handles
	c.handles = nil
	c.mu.Unlock()
	for _, h := range handles {
		c.s.reg.Unsubscribe(h)
	}
	if clearView {
		c.rec.Clear()
	}
}

func (c *Conversation) ID() int64 { return c.id }

func (c *Conversation) Closed() bool { return c.closed.Load() }

func (c *Conversation) Close() { c.s.CloseConversation(c.id) }

func (c *Conversation) Messages() []model.Message { return c.rec.Snapshot() }

// Subscribe observes list changes in mutation order.
func (c *Conversation) Subscribe(fn func(reconcile.Delta)) (cancel func()) {
	return c.rec.Subscribe(fn)
}

func (c *Conversation) Send(ctx context.Context, text string, replyTo *int64) (model.Message, error) {
	if c.Closed() {
		return model.Message{}, errs.ErrConversationClosed.Wrap()
	}
	return c.rec.SendMessage(ctx, text, replyTo)
}

func (c *Conversation) Edit(ctx context.Context, messageID int64, text string) error {
	if c.Closed() {
		return errs.ErrConversationClosed.Wrap()
	}
	return c.rec.EditMessage(ctx, messageID, text)
}

func (c *Conversation) Delete(ctx context.Context, messageID int64) error {
	if c.Closed() {
		return errs.ErrConversationClosed.Wrap()
	}
	return c.rec.DeleteMessage(ctx, messageID)
}

// MarkRead sends a receipt for the newest message from the other side.
func (c *Conversation) MarkRead(ctx context.Context) error {
	if c.Closed() {
		return errs.ErrConversationClosed.Wrap()
	}
	return c.rec.MarkConversationRead(ctx)
}

// LoadOlder loads the page before the oldest loaded message. Without a
// history loader there is nothing older to load.
func (c *Conversation) LoadOlder(ctx context.Context) (history.Result, error) {
	if c.Closed() {
		return history.Result{}, errs.ErrConversationClosed.Wrap()
	}
	if c.pager == nil {
		return history.Result{Exhausted: true}, nil
	}
	res, err := c.pager.LoadOlder(ctx)
	c.s.checkAuth(err)
	return res, err
}

// NotifyTyping tells the other members the current user is typing. At most
// one notification per interval goes out; false means this one was skipped.
func (c *Conversation) NotifyTyping(ctx context.Context) (bool, error) {
	if c.Closed() {
		return false, errs.ErrConversationClosed.Wrap()
	}
	t := c.s.currentTracker()
	if t == nil || !t.AllowTyping(c.id) {
		return false, nil
	}
	_, err := c.s.conn.Publish(ctx, model.DestChatTyping, model.TypingCommand(c.id, c.self.UserID, c.self.Username, c.s.now()))
	return err == nil, err
}

// Typers lists who is typing here now.
func (c *Conversation) Typers() []ephemeral.Typer {
	if t := c.s.currentTracker(); t != nil {
		return t.Typing(c.id)
	}
	return nil
}

func (c *Conversation) OnTyping(fn func([]ephemeral.Typer)) (cancel func()) {
	t := c.s.currentTracker()
	if t == nil {
		return func() {}
	}
	return t.OnTypingChange(func(ch ephemeral.TypingChange) {
		if ch.ChatID == c.id {
			fn(ch.Typers)
		}
	})
}

// SetAdmin grants or revokes admin rights of a member.
func (c *Conversation) SetAdmin(ctx context.Context, targetID int64, target string, promote bool) error {
	env := model.AdminChangeCommand(c.id, c.self.UserID, c.self.Username, targetID, target, promote, c.s.now())
	return c.command(ctx, model.DestAdminChanged, env)
}

func (c *Conversation) AddMember(ctx context.Context, username string) error {
	env := model.MemberAddedCommand(c.id, c.self.UserID, c.self.Username, username, c.s.now())
	return c.command(ctx, model.DestMemberAdded, env)
}

func (c *Conversation) RemoveMember(ctx context.Context, targetID int64, username string) error {
	env := model.MemberRemovedCommand(c.id, c.self.UserID, c.self.Username, targetID, username, c.s.now())
	return c.command(ctx, model.DestMemberRemoved, env)
}

func (c *Conversation) Rename(ctx context.Context, name string) error {
	env := model.SettingsChangedCommand(c.id, c.self.UserID, c.self.Username, name, c.s.now())
	return c.command(ctx, model.DestSettingsChanged, env)
}

func (c *Conversation) command(ctx context.Context, dest string, env model.Envelope) error {
	if c.Closed() {
		return errs.ErrConversationClosed.Wrap()
	}
	_, err := c.s.conn.Publish(ctx, dest, env)
	return err
}
