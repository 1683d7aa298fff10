package ephemeral

import (
	"sort"
	"time"
)

// Typer is a remote user currently typing in a conversation.
type Typer struct {
	UserID   int64
	Username string
	Until    time.Time
}

type typingEntry struct {
	Typer
	timer *time.Timer
}

// typers lists live entries of chatID at now, ordered by user id. mu held.
func (t *Tracker) typersLocked(chatID int64, now time.Time) []Typer {
	m := t.typing[chatID]
	out := make([]Typer, 0, len(m))
	for _, e := range m {
		if now.Before(e.Until) {
			out = append(out, e.Typer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// expire is the sweep for one entry. The entry is only removed when it has
// not been refreshed since the timer was armed.
func (t *Tracker) expire(chatID, userID int64, until time.Time) {
	t.mu.Lock()
	e, ok := t.typing[chatID][userID]
	if !ok || !e.Until.Equal(until) {
		t.mu.Unlock()
		return
	}
	delete(t.typing[chatID], userID)
	if len(t.typing[chatID]) == 0 {
		delete(t.typing, chatID)
	}
	ev := TypingChange{ChatID: chatID, Typers: t.typersLocked(chatID, t.now())}
	t.mu.Unlock()
	t.typingHub.Emit(ev)
}

func (t *Tracker) dropTypingLocked(chatID int64) bool {
	m, ok := t.typing[chatID]
	if !ok {
		return false
	}
	for _, e := range m {
		e.timer.Stop()
	}
	delete(t.typing, chatID)
	return true
}
