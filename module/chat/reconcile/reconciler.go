package reconcile

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chatsync/logger"
	"chatsync/module/chat/model"
	"chatsync/service/transport"
	"chatsync/tools/errs"
	"chatsync/tools/ids"
	"chatsync/tools/notify"
	"chatsync/tools/safe"

	"go.uber.org/zap"
)

// Publisher is the outbound half of the transport.
type Publisher interface {
	Publish(ctx context.Context, destination string, payload any) (transport.PublishResult, error)
}

// Self is the current user.
type Self struct {
	UserID   int64
	Username string
}

type DeltaKind int

const (
	Inserted DeltaKind = iota + 1
	Replaced           // a pending entry became confirmed; OldID is the provisional id
	Updated
	Removed
	Reset // bulk change, re-read Snapshot
)

func (k DeltaKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case Reset:
		return "reset"
	default:
		return "delta"
	}
}

// Delta describes one change of the visible list. Index is the entry's
// position after the change (before it, for Removed).
type Delta struct {
	Kind    DeltaKind
	Index   int
	Message model.Message
	OldID   int64
}

// Reconciler owns the visible message list of one conversation.
type Reconciler struct {
	chatID int64
	self   Self
	pub    Publisher
	now    func() time.Time
	log    *zap.Logger
	hub    *notify.Hub[Delta]

	mu       sync.Mutex
	list     []model.Message
	pending  []Delta // deltas not yet delivered, in mutation order
	emitting bool
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option { return func(r *Reconciler) { r.now = now } }

func WithLogger(l *zap.Logger) Option { return func(r *Reconciler) { r.log = l } }

func New(chatID int64, self Self, pub Publisher, opts ...Option) *Reconciler {
	safe.MustNotNil(pub, "publisher")
	r := &Reconciler{chatID: chatID, self: self, pub: pub, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	r.log = logger.Named(r.log, "reconcile").With(zap.Int64("chatId", chatID))
	r.hub = notify.NewHub[Delta](r.log)
	return r
}

func (r *Reconciler) ChatID() int64 { return r.chatID }

// Subscribe registers fn for deltas. Deltas are delivered in mutation order;
// fn may call back into the Reconciler.
func (r *Reconciler) Subscribe(fn func(Delta)) (cancel func()) { return r.hub.Subscribe(fn) }

// Snapshot returns a copy of the visible list.
func (r *Reconciler) Snapshot() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Message, len(r.list))
	for i, m := range r.list {
		out[i] = m.Clone()
	}
	return out
}

func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list)
}

// OldestLoadedID is the smallest confirmed id, 0 when none is loaded.
func (r *Reconciler) OldestLoadedID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest int64
	for _, m := range r.list {
		if m.Confirmed() && (oldest == 0 || m.ID < oldest) {
			oldest = m.ID
		}
	}
	return oldest
}

// SendMessage shows the message at once as pending and publishes it. A
// queued publish keeps the pending entry; a rejected one removes it.
func (r *Reconciler) SendMessage(ctx context.Context, text string, replyTo *int64) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, errs.ErrEmptyMessage.Wrap()
	}
	now := r.now()
	m := model.Message{
		ID:             ids.Provisional(),
		ConversationID: r.chatID,
		AuthorID:       r.self.UserID,
		AuthorName:     r.self.Username,
		Text:           text,
		SentAt:         now,
		Pending:        true,
	}
	if replyTo != nil {
		v := *replyTo
		m.ReplyTo = &v
	}

	r.mu.Lock()
	r.list = append(r.list, m)
	r.push(Delta{Kind: Inserted, Index: len(r.list) - 1, Message: m.Clone()})
	r.unlockAndFlush()

	res, err := r.pub.Publish(ctx, model.DestChatSend, model.SendCommand(r.chatID, r.self.UserID, r.self.Username, text, replyTo, now))
	if err != nil {
		r.mu.Lock()
		if i := r.indexOf(m.ID); i >= 0 {
			r.removeAt(i)
		}
		r.unlockAndFlush()
		r.log.Warn("send failed", zap.Error(err))
		return model.Message{}, err
	}
	r.log.Debug("send", zap.Int64("provisionalId", m.ID), zap.Stringer("result", res))
	return m.Clone(), nil
}

// OnConfirmed merges a server-confirmed message.
func (r *Reconciler) OnConfirmed(msg model.Message) {
	if msg.ConversationID != 0 && msg.ConversationID != r.chatID {
		return
	}
	msg = msg.Clone()
	msg.ConversationID = r.chatID
	msg.Pending = false

	r.mu.Lock()
	defer r.unlockAndFlush()

	if i := r.indexOf(msg.ID); i >= 0 {
		r.list[i] = msg
		i = r.fixOrder(i)
		r.push(Delta{Kind: Updated, Index: i, Message: msg.Clone()})
		return
	}
	if msg.AuthorID == r.self.UserID && msg.AuthorID != 0 && confirmsSend(msg) {
		if i := r.matchPending(msg.Text); i >= 0 {
			old := r.list[i].ID
			if msg.ReplyTo == nil {
				msg.ReplyTo = r.list[i].ReplyTo
			}
			r.list[i] = msg
			i = r.fixOrder(i)
			r.push(Delta{Kind: Replaced, Index: i, Message: msg.Clone(), OldID: old})
			return
		}
	}
	i := r.insertPos(msg)
	r.insertAt(i, msg)
	r.push(Delta{Kind: Inserted, Index: i, Message: msg.Clone()})
}

// OnEdited applies a server edit; false when id is not loaded.
func (r *Reconciler) OnEdited(id int64, text string) bool {
	r.mu.Lock()
	defer r.unlockAndFlush()
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	m := &r.list[i]
	if m.Flags.Deleted {
		return true
	}
	m.Text = text
	m.Flags.Edited = true
	r.push(Delta{Kind: Updated, Index: i, Message: m.Clone()})
	return true
}

// OnDeleted tombstones the entry; it stays in the list.
func (r *Reconciler) OnDeleted(id int64) bool {
	r.mu.Lock()
	defer r.unlockAndFlush()
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	m := &r.list[i]
	m.Flags.Deleted = true
	m.Text = model.DeletedPlaceholder
	r.push(Delta{Kind: Updated, Index: i, Message: m.Clone()})
	return true
}

// MarkRead flags the current user's confirmed messages up to upTo as read by
// the recipient.
func (r *Reconciler) MarkRead(upTo int64) int {
	r.mu.Lock()
	defer r.unlockAndFlush()
	n := 0
	for i := range r.list {
		m := &r.list[i]
		if !m.Confirmed() || m.ID > upTo || m.AuthorID != r.self.UserID || m.ReadByRecipient {
			continue
		}
		m.ReadByRecipient = true
		r.push(Delta{Kind: Updated, Index: i, Message: m.Clone()})
		n++
	}
	return n
}

// LoadInitial replaces the confirmed part of the list with batch. Pending
// entries survive at the tail, and so do confirmed entries newer than the
// whole batch: they arrived live while the page was loading.
func (r *Reconciler) LoadInitial(batch []model.Message) {
	r.mu.Lock()
	defer r.unlockAndFlush()
	confirmed := make([]model.Message, 0, len(batch))
	seen := make(map[int64]struct{}, len(batch))
	var newest int64
	for _, m := range batch {
		if m.ID <= 0 {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		newest = max(newest, m.ID)
		m = m.Clone()
		m.ConversationID, m.Pending = r.chatID, false
		confirmed = append(confirmed, m)
	}
	for _, m := range r.list {
		if m.Confirmed() && m.ID > newest {
			confirmed = append(confirmed, m)
		}
	}
	sort.SliceStable(confirmed, func(i, j int) bool { return model.Less(confirmed[i], confirmed[j]) })
	r.list = append(confirmed, r.pendingEntries()...)
	r.push(Delta{Kind: Reset})
}

// MergeHistory unions batch into the list by id and re-sorts. It returns
// how many entries were new.
func (r *Reconciler) MergeHistory(batch []model.Message) int {
	r.mu.Lock()
	defer r.unlockAndFlush()
	have := make(map[int64]struct{}, len(r.list))
	for _, m := range r.list {
		have[m.ID] = struct{}{}
	}
	added := 0
	confirmed := make([]model.Message, 0, len(r.list)+len(batch))
	for _, m := range r.list {
		if m.Confirmed() {
			confirmed = append(confirmed, m)
		}
	}
	for _, m := range batch {
		if m.ID <= 0 {
			continue
		}
		if _, ok := have[m.ID]; ok {
			continue
		}
		have[m.ID] = struct{}{}
		m = m.Clone()
		m.ConversationID, m.Pending = r.chatID, false
		confirmed = append(confirmed, m)
		added++
	}
	if added == 0 {
		return 0
	}
	sort.SliceStable(confirmed, func(i, j int) bool { return model.Less(confirmed[i], confirmed[j]) })
	r.list = append(confirmed, r.pendingEntries()...)
	r.push(Delta{Kind: Reset})
	return added
}

// EditMessage publishes an edit and applies it locally once accepted.
func (r *Reconciler) EditMessage(ctx context.Context, id int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return errs.ErrEmptyMessage.Wrap()
	}
	if err := r.requireConfirmed(id); err != nil {
		return err
	}
	if _, err := r.pub.Publish(ctx, model.DestChatEdit, model.EditCommand(r.chatID, r.self.UserID, id, text, r.now())); err != nil {
		return err
	}
	r.OnEdited(id, text)
	return nil
}

func (r *Reconciler) DeleteMessage(ctx context.Context, id int64) error {
	if err := r.requireConfirmed(id); err != nil {
		return err
	}
	if _, err := r.pub.Publish(ctx, model.DestChatDelete, model.DeleteCommand(r.chatID, r.self.UserID, id, r.now())); err != nil {
		return err
	}
	r.OnDeleted(id)
	return nil
}

// MarkConversationRead sends a read receipt for the newest confirmed message
// authored by someone else. It is a no-op when there is none.
func (r *Reconciler) MarkConversationRead(ctx context.Context) error {
	r.mu.Lock()
	var last int64
	for i := len(r.list) - 1; i >= 0; i-- {
		m := r.list[i]
		if m.Confirmed() && m.AuthorID != r.self.UserID {
			last = m.ID
			break
		}
	}
	r.mu.Unlock()
	if last == 0 {
		return nil
	}
	_, err := r.pub.Publish(ctx, model.DestChatRead, model.ReadCommand(r.chatID, r.self.UserID, last, r.now()))
	return err
}

// Clear drops every entry.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	defer r.unlockAndFlush()
	if len(r.list) == 0 {
		return
	}
	r.list = nil
	r.push(Delta{Kind: Reset})
}

func (r *Reconciler) requireConfirmed(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(id)
	if i < 0 || !r.list[i].Confirmed() {
		return errs.ErrMessageNotFound.WrapMsg("", "chatId", r.chatID, "id", id)
	}
	return nil
}

// ---- list helpers, mu held ----

func (r *Reconciler) indexOf(id int64) int {
	for i := len(r.list) - 1; i >= 0; i-- {
		if r.list[i].ID == id {
			return i
		}
	}
	return -1
}

// confirmsSend reports whether msg can be the echo of a local send. Edits,
// deletes and system lines carry the actor's id but never confirm one.
func confirmsSend(msg model.Message) bool {
	return !msg.Flags.Edited && !msg.Flags.Deleted && !msg.Flags.System && msg.SystemKind == model.SystemNone
}

// matchPending picks the oldest pending entry with the same text, else the
// oldest pending entry.
func (r *Reconciler) matchPending(text string) int {
	first := -1
	for i, m := range r.list {
		if !m.Pending || !ids.IsProvisional(m.ID) || m.AuthorID != r.self.UserID {
			continue
		}
		if m.Text == text {
			return i
		}
		if first < 0 {
			first = i
		}
	}
	return first
}

func (r *Reconciler) pendingEntries() []model.Message {
	var out []model.Message
	for _, m := range r.list {
		if m.Pending {
			out = append(out, m)
		}
	}
	return out
}

// insertPos is the ordered position of msg among confirmed entries, before
// the trailing pending run.
func (r *Reconciler) insertPos(msg model.Message) int {
	pos := len(r.list)
	for pos > 0 && r.list[pos-1].Pending {
		pos--
	}
	for pos > 0 {
		prev := r.list[pos-1]
		if !prev.Pending && !model.Less(msg, prev) {
			break
		}
		pos--
	}
	return pos
}

// fixOrder moves the confirmed entry at i when it is out of order with its
// confirmed neighbours and returns its final index.
func (r *Reconciler) fixOrder(i int) int {
	m := r.list[i]
	ok := true
	for j := i - 1; j >= 0; j-- {
		if r.list[j].Pending {
			continue
		}
		ok = !model.Less(m, r.list[j])
		break
	}
	for j := i + 1; ok && j < len(r.list); j++ {
		if r.list[j].Pending {
			continue
		}
		ok = !model.Less(r.list[j], m)
		break
	}
	if ok {
		return i
	}
	r.list = append(r.list[:i], r.list[i+1:]...)
	p := r.insertPos(m)
	r.insertAt(p, m)
	return p
}

func (r *Reconciler) insertAt(i int, m model.Message) {
	r.list = append(r.list, model.Message{})
	copy(r.list[i+1:], r.list[i:])
	r.list[i] = m
}

func (r *Reconciler) removeAt(i int) {
	m := r.list[i]
	r.list = append(r.list[:i], r.list[i+1:]...)
	r.push(Delta{Kind: Removed, Index: i, Message: m.Clone()})
}

func (r *Reconciler) push(d Delta) { r.pending = append(r.pending, d) }

// unlockAndFlush releases mu and delivers queued deltas. Only one goroutine
// delivers at a time, so observers see deltas in mutation order.
func (r *Reconciler) unlockAndFlush() {
	if r.emitting {
		r.mu.Unlock()
		return
	}
	r.emitting = true
	for len(r.pending) > 0 {
		batch := r.pending
		r.pending = nil
		r.mu.Unlock()
		for _, d := range batch {
			r.hub.Emit(d)
		}
		r.mu.Lock()
	}
	r.emitting = false
	r.mu.Unlock()
}
