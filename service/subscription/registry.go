package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatsync/logger"
	"chatsync/module/chat/model"
	"chatsync/service/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Kind int

const (
	Conversation Kind = iota + 1
	TypingChannel
	ReadReceipts
	ChatUpdates
	AdminChanges
	MemberRemovals
	Game
)

func (k Kind) String() string {
	switch k {
	case Conversation:
		return "conversation"
	case TypingChannel:
		return "typing"
	case ReadReceipts:
		return "read-receipts"
	case ChatUpdates:
		return "chat-updates"
	case AdminChanges:
		return "admin-changes"
	case MemberRemovals:
		return "member-removals"
	case Game:
		return "game"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Subscription is a declarative wish to receive one channel. ChatID keys
// the conversation scoped kinds, GameID keys Game ("" means the per-user
// game event queue).
type Subscription struct {
	Kind   Kind
	ChatID int64
	GameID string
}

func ForConversation(chatID int64) Subscription {
	return Subscription{Kind: Conversation, ChatID: chatID}
}

func ForTyping(chatID int64) Subscription {
	return Subscription{Kind: TypingChannel, ChatID: chatID}
}

func ForGame(gameID string) Subscription {
	return Subscription{Kind: Game, GameID: gameID}
}

// ForUser builds one of the per-user kinds.
func ForUser(kind Kind) Subscription {
	return Subscription{Kind: kind}
}

func (s Subscription) String() string {
	switch s.Kind {
	case Conversation, TypingChannel:
		return fmt.Sprintf("%s:%d", s.Kind, s.ChatID)
	case Game:
		return fmt.Sprintf("%s:%s", s.Kind, s.GameID)
	default:
		return s.Kind.String()
	}
}

type Handle string

// Wirer performs broker level subscriptions. *transport.Conn satisfies it:
// Subscribe is a no-op while not connected and the registry is replayed on
// the next Connected transition.
type Wirer interface {
	Subscribe(ctx context.Context, ws transport.WireSubscription) error
	Unsubscribe(id string) error
}

type record struct {
	handle Handle
	sub    Subscription
	wires  []transport.WireSubscription
}

// Registry owns the desired subscription set. Its mutex is never held while
// calling into the Wirer.
type Registry struct {
	wirer Wirer
	log   *zap.Logger
	now   func() time.Time

	mu       sync.RWMutex
	userID   int64
	byHandle map[Handle]*record
	byKey    map[Subscription]Handle
	order    []Handle // insertion order, replayed as-is
}

type Option func(*Registry)

func WithLogger(l *zap.Logger) Option { return func(r *Registry) { r.log = l } }

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func New(wirer Wirer, opts ...Option) *Registry {
	r := &Registry{
		wirer:    wirer,
		now:      time.Now,
		byHandle: make(map[Handle]*record),
		byKey:    make(map[Subscription]Handle),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = logger.Named(r.log, "subscription")
	return r
}

// Bind sets the user the per-user destinations are built for. Rebinding to a
// different user clears every record.
func (r *Registry) Bind(userID int64) {
	r.mu.Lock()
	if r.userID == userID {
		r.mu.Unlock()
		return
	}
	recs := r.resetLocked()
	r.userID = userID
	r.mu.Unlock()
	r.unwire(recs)
}

// Subscribe is set-insert: an existing subscription returns its handle. The
// record is kept even when the wire subscribe fails so the next reconnect
// replays it.
func (r *Registry) Subscribe(ctx context.Context, sub Subscription) (Handle, error) {
	r.mu.Lock()
	if h, ok := r.byKey[sub]; ok {
		r.mu.Unlock()
		return h, nil
	}
	h := Handle(uuid.NewString())
	rec := &record{handle: h, sub: sub, wires: r.wiresFor(h, sub)}
	r.byHandle[h] = rec
	r.byKey[sub] = h
	r.order = append(r.order, h)
	uid := r.userID
	r.mu.Unlock()

	for _, ws := range rec.wires {
		if err := r.wirer.Subscribe(ctx, withNotice(rec, ws, uid, r.now())); err != nil {
			r.log.Warn("wire subscribe failed", zap.Stringer("sub", sub), zap.String("destination", ws.Destination), zap.Error(err))
			return h, err
		}
	}
	r.log.Debug("subscribed", zap.Stringer("sub", sub), zap.String("handle", string(h)))
	return h, nil
}

// Unsubscribe always drops the record; the wire subscription is removed when
// there is one.
func (r *Registry) Unsubscribe(h Handle) {
	r.mu.Lock()
	rec, ok := r.byHandle[h]
	if ok {
		r.removeLocked(rec)
	}
	r.mu.Unlock()
	if ok {
		r.unwire([]*record{rec})
	}
}

// UnsubscribeKey drops the record for sub if present.
func (r *Registry) UnsubscribeKey(sub Subscription) {
	r.mu.RLock()
	h, ok := r.byKey[sub]
	r.mu.RUnlock()
	if ok {
		r.Unsubscribe(h)
	}
}

func (r *Registry) Clear() {
	r.mu.Lock()
	recs := r.resetLocked()
	r.mu.Unlock()
	r.unwire(recs)
}

func (r *Registry) Has(sub Subscription) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byKey[sub]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}

// WireSubscriptions implements transport.Replayer.
func (r *Registry) WireSubscriptions() []transport.WireSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	out := make([]transport.WireSubscription, 0, len(r.order)*2)
	for _, h := range r.order {
		rec := r.byHandle[h]
		for _, ws := range rec.wires {
			out = append(out, withNotice(rec, ws, r.userID, now))
		}
	}
	return out
}

// withNotice attaches a fresh "watching this conversation" notice to the
// primary wire of a conversation subscription.
func withNotice(rec *record, ws transport.WireSubscription, userID int64, now time.Time) transport.WireSubscription {
	if rec.sub.Kind != Conversation || ws.ID != rec.wires[0].ID {
		return ws
	}
	ws.Notice = &transport.Notice{
		Destination: model.DestChatSubscribe,
		Payload:     model.SubscribeNotice(rec.sub.ChatID, userID, now),
	}
	return ws
}

func (r *Registry) wiresFor(h Handle, sub Subscription) []transport.WireSubscription {
	dests := Destinations(sub, r.userID)
	out := make([]transport.WireSubscription, len(dests))
	for i, d := range dests {
		out[i] = transport.WireSubscription{ID: fmt.Sprintf("%s#%d", h, i), Destination: d}
	}
	return out
}

func (r *Registry) removeLocked(rec *record) {
	delete(r.byHandle, rec.handle)
	delete(r.byKey, rec.sub)
	for i, h := range r.order {
		if h == rec.handle {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) resetLocked() []*record {
	recs := make([]*record, 0, len(r.order))
	for _, h := range r.order {
		recs = append(recs, r.byHandle[h])
	}
	r.byHandle = make(map[Handle]*record)
	r.byKey = make(map[Subscription]Handle)
	r.order = nil
	return recs
}

func (r *Registry) unwire(recs []*record) {
	for _, rec := range recs {
		for _, ws := range rec.wires {
			if err := r.wirer.Unsubscribe(ws.ID); err != nil {
				r.log.Warn("wire unsubscribe failed", zap.String("destination", ws.Destination), zap.Error(err))
			}
		}
	}
}

// Destinations lists the broker destinations of sub for userID. Kinds with
// two entries are delivered on both a per-user queue and a broadcast topic.
func Destinations(sub Subscription, userID int64) []string {
	switch sub.Kind {
	case Conversation:
		return []string{model.ConversationQueue(sub.ChatID), model.ConversationTopic(userID, sub.ChatID)}
	case TypingChannel:
		return []string{model.TypingTopic(sub.ChatID)}
	case ReadReceipts:
		return []string{model.ReadReceiptQueue(userID)}
	case ChatUpdates:
		return []string{model.ChatUpdatesQueue, model.ChatUpdatesTopic(userID)}
	case AdminChanges:
		return []string{model.AdminChangesTopic(userID)}
	case MemberRemovals:
		return []string{model.MemberRemovalsTopic(userID)}
	case Game:
		if sub.GameID == "" {
			return []string{model.GameEventsQueue}
		}
		return []string{model.GameTopic(sub.GameID)}
	default:
		return nil
	}
}
