package ephemeral

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a leading-edge limiter for outbound typing notifications: the
// first call in a conversation passes, the next passes after interval.
type Limiter struct {
	interval time.Duration
	now      func() time.Time

	mu  sync.Mutex
	per map[int64]*rate.Limiter
}

func NewLimiter(interval time.Duration, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{interval: interval, now: now, per: make(map[int64]*rate.Limiter)}
}

func (l *Limiter) Allow(chatID int64) bool {
	l.mu.Lock()
	lim, ok := l.per[chatID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.interval), 1)
		l.per[chatID] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(l.now(), 1)
}

func (l *Limiter) Forget(chatID int64) {
	l.mu.Lock()
	delete(l.per, chatID)
	l.mu.Unlock()
}
