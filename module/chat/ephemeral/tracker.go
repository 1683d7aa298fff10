package ephemeral

import (
	"sync"
	"time"

	"chatsync/logger"
	"chatsync/module/chat/model"
	"chatsync/tools/notify"

	"go.uber.org/zap"
)

type Config struct {
	TypingTTL          time.Duration
	TypingSendInterval time.Duration
	RefreshDelay       time.Duration
}

func (c Config) withDefaults() Config {
	if c.TypingTTL <= 0 {
		c.TypingTTL = 3 * time.Second
	}
	if c.TypingSendInterval <= 0 {
		c.TypingSendInterval = 2 * time.Second
	}
	if c.RefreshDelay <= 0 {
		c.RefreshDelay = 500 * time.Millisecond
	}
	return c
}

// Hooks are the side effects of membership events. Teardown runs on the
// caller's goroutine; Refresh runs on a timer goroutine, once per burst.
type Hooks struct {
	Teardown func(chatID int64)
	Refresh  func(chatID int64)
}

type TypingChange struct {
	ChatID int64
	Typers []Typer
}

// Tracker derives short-lived state from the event stream: who is typing,
// whether a local typing notification may go out, and what a membership
// change means for the current user.
type Tracker struct {
	cfg       Config
	selfID    int64
	selfName  string
	hooks     Hooks
	now       func() time.Time
	log       *zap.Logger
	limiter   *Limiter
	typingHub *notify.Hub[TypingChange]

	mu        sync.Mutex
	typing    map[int64]map[int64]*typingEntry // chat -> user -> entry
	refreshes map[int64]*time.Timer
	stopped   bool
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.log = l } }

func New(cfg Config, selfID int64, selfName string, hooks Hooks, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:       cfg.withDefaults(),
		selfID:    selfID,
		selfName:  selfName,
		hooks:     hooks,
		now:       time.Now,
		typing:    make(map[int64]map[int64]*typingEntry),
		refreshes: make(map[int64]*time.Timer),
	}
	for _, o := range opts {
		o(t)
	}
	t.log = logger.Named(t.log, "ephemeral")
	t.limiter = NewLimiter(t.cfg.TypingSendInterval, t.now)
	t.typingHub = notify.NewHub[TypingChange](t.log)
	return t
}

func (t *Tracker) OnTypingChange(fn func(TypingChange)) (cancel func()) {
	return t.typingHub.Subscribe(fn)
}

// OnTyping records or refreshes a remote typing event.
func (t *Tracker) OnTyping(e model.Envelope) {
	if e.UserID == t.selfID || e.ChatID == 0 {
		return
	}
	until := t.now().Add(t.cfg.TypingTTL)

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	m := t.typing[e.ChatID]
	if m == nil {
		m = make(map[int64]*typingEntry)
		t.typing[e.ChatID] = m
	}
	if old, ok := m[e.UserID]; ok {
		old.timer.Stop()
	}
	chatID, userID := e.ChatID, e.UserID
	m[userID] = &typingEntry{
		Typer: Typer{UserID: userID, Username: e.Username, Until: until},
		timer: time.AfterFunc(t.cfg.TypingTTL, func() { t.expire(chatID, userID, until) }),
	}
	ev := TypingChange{ChatID: chatID, Typers: t.typersLocked(chatID, t.now())}
	t.mu.Unlock()
	t.typingHub.Emit(ev)
}

// Typing lists who is typing in chatID now; expired entries never show even
// before the sweep removed them.
func (t *Tracker) Typing(chatID int64) []Typer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typersLocked(chatID, t.now())
}

// AllowTyping reports whether a local typing notification for chatID may be
// sent now.
func (t *Tracker) AllowTyping(chatID int64) bool {
	return t.limiter.Allow(chatID)
}

// OnMembership applies a membership or conversation update and returns what
// it did.
func (t *Tracker) OnMembership(e model.Envelope) Action {
	a := Decide(t.selfID, t.selfName, e)
	switch a {
	case Teardown:
		t.Forget(e.ChatID)
		if t.hooks.Teardown != nil {
			t.hooks.Teardown(e.ChatID)
		}
	case Refresh:
		t.scheduleRefresh(e.ChatID)
	}
	t.log.Debug("membership", zap.Int64("chatId", e.ChatID), zap.String("update", string(e.UpdateType)), zap.Stringer("action", a))
	return a
}

// scheduleRefresh coalesces a burst of updates into one refresh.
func (t *Tracker) scheduleRefresh(chatID int64) {
	if t.hooks.Refresh == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if _, ok := t.refreshes[chatID]; ok {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.cfg.RefreshDelay, func() {
		t.mu.Lock()
		if t.refreshes[chatID] != timer {
			t.mu.Unlock()
			return
		}
		delete(t.refreshes, chatID)
		t.mu.Unlock()
		t.hooks.Refresh(chatID)
	})
	t.refreshes[chatID] = timer
}

// RefreshPending reports whether a refresh of chatID is scheduled.
func (t *Tracker) RefreshPending(chatID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.refreshes[chatID]
	return ok
}

// Forget drops typing state, the limiter slot and any scheduled refresh of
// chatID.
func (t *Tracker) Forget(chatID int64) {
	t.mu.Lock()
	changed := t.dropTypingLocked(chatID)
	if timer, ok := t.refreshes[chatID]; ok {
		timer.Stop()
		delete(t.refreshes, chatID)
	}
	t.mu.Unlock()
	t.limiter.Forget(chatID)
	if changed {
		t.typingHub.Emit(TypingChange{ChatID: chatID})
	}
}

// Stop cancels every timer; later events are ignored.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for chatID := range t.typing {
		t.dropTypingLocked(chatID)
	}
	for chatID, timer := range t.refreshes {
		timer.Stop()
		delete(t.refreshes, chatID)
	}
}
