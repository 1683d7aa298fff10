// Package game carries the auxiliary turn-based game traffic. Rules are the
// server's business; the channel only routes envelopes.
package game

import (
	"context"
	"sync"
	"time"

	"chatsync/logger"
	"chatsync/module/chat/model"
	"chatsync/service/subscription"
	"chatsync/service/transport"
	"chatsync/tools/decode"
	"chatsync/tools/notify"
	"chatsync/tools/safe"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, destination string, payload any) (transport.PublishResult, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, sub subscription.Subscription) (subscription.Handle, error)
	UnsubscribeKey(sub subscription.Subscription)
}

type Player struct {
	UserID   int64
	Username string
}

type Channel struct {
	pub  Publisher
	subs Subscriber
	me   Player
	now  func() time.Time
	log  *zap.Logger

	user *notify.Hub[model.Envelope] // events for games not joined, invites

	mu    sync.Mutex
	games map[string]*notify.Hub[model.Envelope]
}

func New(pub Publisher, subs Subscriber, me Player, log *zap.Logger) *Channel {
	safe.MustNotNil(pub, "publisher")
	safe.MustNotNil(subs, "subscriber")
	log = logger.Named(log, "game")
	return &Channel{
		pub:   pub,
		subs:  subs,
		me:    me,
		now:   time.Now,
		log:   log,
		user:  notify.NewHub[model.Envelope](log),
		games: make(map[string]*notify.Hub[model.Envelope]),
	}
}

// Join subscribes to the game topic and announces the player.
func (c *Channel) Join(ctx context.Context, gameID string) error {
	c.hub(gameID)
	if _, err := c.subs.Subscribe(ctx, subscription.ForGame(gameID)); err != nil {
		return err
	}
	return c.send(ctx, model.DestGameJoin, model.TypeGameJoin, gameID, nil)
}

// Leave drops the subscription and every observer of gameID.
func (c *Channel) Leave(gameID string) {
	c.subs.UnsubscribeKey(subscription.ForGame(gameID))
	c.mu.Lock()
	h := c.games[gameID]
	delete(c.games, gameID)
	c.mu.Unlock()
	if h != nil {
		h.Reset()
	}
}

func (c *Channel) Create(ctx context.Context, chatID int64, data map[string]any) error {
	e := model.GameCommand(model.TypeGameCreate, "", chatID, c.me.UserID, c.me.Username, data, c.now())
	_, err := c.pub.Publish(ctx, model.DestGameCreate, e)
	return err
}

func (c *Channel) Act(ctx context.Context, gameID, action string, data map[string]any) error {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["action"] = action
	return c.send(ctx, model.DestGameAction, model.TypeGameAction, gameID, payload)
}

func (c *Channel) Invite(ctx context.Context, gameID, username string) error {
	e := model.GameCommand(model.TypeGameInvite, gameID, 0, c.me.UserID, c.me.Username, nil, c.now())
	e.TargetUsername = username
	_, err := c.pub.Publish(ctx, model.DestGameInvite, e)
	return err
}

// Observe registers fn for envelopes of a joined game.
func (c *Channel) Observe(gameID string, fn func(model.Envelope)) (cancel func()) {
	return c.hub(gameID).Subscribe(fn)
}

// ObserveUser registers fn for per-user game events and games not joined.
func (c *Channel) ObserveUser(fn func(model.Envelope)) (cancel func()) {
	return c.user.Subscribe(fn)
}

func (c *Channel) Joined(gameID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.games[gameID]
	return ok
}

// Handle routes one inbound GAME_* envelope.
func (c *Channel) Handle(e model.Envelope) {
	c.mu.Lock()
	h := c.games[e.GameID]
	c.mu.Unlock()
	if h != nil && e.GameID != "" {
		h.Emit(e)
		return
	}
	c.user.Emit(e)
}

// Decode reads an envelope's data into T.
func Decode[T any](e model.Envelope) (*T, error) {
	if e.Data == nil {
		return new(T), nil
	}
	return decode.DecodeMap[T](e.Data)
}

func (c *Channel) send(ctx context.Context, dest string, t model.EventType, gameID string, data map[string]any) error {
	_, err := c.pub.Publish(ctx, dest, model.GameCommand(t, gameID, 0, c.me.UserID, c.me.Username, data, c.now()))
	if err != nil {
		c.log.Warn("game publish failed", zap.String("destination", dest), zap.String("gameId", gameID), zap.Error(err))
	}
	return err
}

func (c *Channel) hub(gameID string) *notify.Hub[model.Envelope] {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.games[gameID]
	if !ok {
		h = notify.NewHub[model.Envelope](c.log)
		c.games[gameID] = h
	}
	return h
}
