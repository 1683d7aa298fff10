package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatsync/logger"
	"chatsync/module/chat/model"
	"chatsync/service/dispatcher/legacy"
	"chatsync/service/metrics"
	"chatsync/service/transport"
	"chatsync/tools/errs"
	"chatsync/tools/idem"
	"chatsync/tools/safe"

	"go.uber.org/zap"
)

type Category int

const (
	Unknown Category = iota
	Message
	Typing
	ReadReceipt
	ConversationUpdate
	Membership
	Game
)

func (c Category) String() string {
	switch c {
	case Message:
		return "message"
	case Typing:
		return "typing"
	case ReadReceipt:
		return "read_receipt"
	case ConversationUpdate:
		return "conversation_update"
	case Membership:
		return "membership"
	case Game:
		return "game"
	default:
		return "unknown"
	}
}

// Event is one classified inbound envelope.
type Event struct {
	Category    Category
	Envelope    model.Envelope
	Destination string
}

type Handler interface {
	Category() Category
	Handle(ctx context.Context, ev Event) error
}

type funcHandler struct {
	cat Category
	fn  func(ctx context.Context, ev Event) error
}

func (h funcHandler) Category() Category                         { return h.cat }
func (h funcHandler) Handle(ctx context.Context, ev Event) error { return h.fn(ctx, ev) }

// HandlerFunc adapts fn to a Handler for cat.
func HandlerFunc(cat Category, fn func(ctx context.Context, ev Event) error) Handler {
	return funcHandler{cat: cat, fn: fn}
}

type Config struct {
	DedupeTTL  time.Duration
	DedupeSize int
}

type Dispatcher struct {
	cfg  Config
	log  *zap.Logger
	seen idem.Store

	mu       sync.RWMutex
	handlers map[Category]Handler
}

func New(cfg Config, log *zap.Logger) (*Dispatcher, error) {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 30 * time.Second
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = 4096
	}
	seen, err := idem.NewMem(cfg.DedupeSize, cfg.DedupeTTL)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		cfg:      cfg,
		log:      logger.Named(log, "dispatcher"),
		seen:     seen,
		handlers: make(map[Category]Handler),
	}, nil
}

// Register replaces the handler of h's category.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[h.Category()] = h
}

func (d *Dispatcher) handler(c Category) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[c]
	return h, ok
}

// HandleFrame decodes one frame and calls at most one handler. Malformed,
// unknown and duplicate frames are dropped; the returned error is for the
// caller's logs only.
func (d *Dispatcher) HandleFrame(ctx context.Context, f transport.Frame) error {
	var env model.Envelope
	if err := json.Unmarshal(f.Body, &env); err != nil {
		metrics.RecordEvent(Unknown.String(), "malformed")
		d.log.Warn("malformed frame", zap.String("destination", f.Destination), zap.Error(err))
		return errs.ErrMalformedEvent.WithDetail("destination="+f.Destination).WrapMsg("decode envelope", "err", err)
	}
	return d.Dispatch(ctx, Event{Envelope: env, Destination: f.Destination})
}

// Dispatch classifies ev.Envelope, ignoring any preset Category.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	ev.Category = Classify(ev.Envelope)
	cat := ev.Category.String()
	if ev.Category == Unknown {
		metrics.RecordEvent(cat, "unknown")
		d.log.Debug("unknown event", zap.String("type", string(ev.Envelope.Type)), zap.String("updateType", string(ev.Envelope.UpdateType)))
		return nil
	}
	if key, ok := dedupeKey(ev.Category, ev.Envelope); ok {
		if seen, _ := d.seen.SeenOnce(key, d.cfg.DedupeTTL); seen {
			metrics.RecordEvent(cat, "duplicate")
			return nil
		}
	}
	h, ok := d.handler(ev.Category)
	if !ok {
		metrics.RecordEvent(cat, "unhandled")
		return nil
	}
	enrich(&ev.Envelope)

	var herr error
	if err := safe.Call(func() { herr = h.Handle(ctx, ev) }); err != nil {
		metrics.RecordEvent(cat, "panic")
		d.log.Error("handler panic recovered", zap.String("category", cat), zap.Error(err))
		return err
	}
	if herr != nil {
		metrics.RecordEvent(cat, "error")
		d.log.Warn("handler failed", zap.String("category", cat), zap.Int64("chatId", ev.Envelope.ChatID), zap.Error(herr))
		return herr
	}
	metrics.RecordEvent(cat, "ok")
	return nil
}

// Classify maps an envelope to the handler category.
func Classify(e model.Envelope) Category {
	switch {
	case e.Type == model.TypeChat:
		return Message
	case e.Type == model.TypeTyping:
		return Typing
	case e.Type == model.TypeRead:
		return ReadReceipt
	case e.Type.IsGame():
		return Game
	case e.Type == model.TypeChatUpdate:
		switch e.UpdateType {
		case model.UpdateNewChat, model.UpdateSettingsChanged, model.UpdateChatDeleted:
			return ConversationUpdate
		case model.UpdateMemberAdded, model.UpdateMemberRemoved, model.UpdateAdminChanged, model.UpdateMemberLeft:
			return Membership
		}
	}
	return Unknown
}

// dedupeKey identifies the same event arriving on both the per-user queue and
// the broadcast topic. Typing, receipts and game traffic use one path and
// are never deduplicated.
func dedupeKey(c Category, e model.Envelope) (string, bool) {
	switch c {
	case Message:
		return fmt.Sprintf("m|%d|%d|%t|%t|%d|%s|%d",
			e.ChatID, e.MessageID, e.IsEdited, e.IsDeleted, e.UserID, e.Content, e.Timestamp.UnixNano()), true
	case ConversationUpdate, Membership:
		return fmt.Sprintf("u|%s|%d|%d|%d|%s|%d|%s",
			e.UpdateType, e.ChatID, e.UserID, e.TargetUserID, e.TargetUsername, e.Timestamp.UnixNano(), e.Content+e.UpdateMessage), true
	default:
		return "", false
	}
}

// enrich fills systemKind/systemParams from legacy free text when the
// sender did not provide them.
func enrich(e *model.Envelope) {
	if e.SystemKind != model.SystemNone {
		return
	}
	if e.Type == model.TypeChat && !e.IsSystem {
		return
	}
	text := e.Content
	if text == "" {
		text = e.UpdateMessage
	}
	p := legacy.Parse(text)
	if !p.Matched {
		return
	}
	e.SystemKind = p.Kind
	if e.SystemParams == nil {
		e.SystemParams = p.SystemParams()
	}
}
