// Package crosstab propagates login and logout between sessions of the same
// browser profile or device.
package crosstab

import (
	"context"
	"sync"
	"time"

	"chatsync/tools/notify"

	"go.uber.org/zap"
)

type Kind string

const (
	Login  Kind = "login"
	Logout Kind = "logout"
)

type Signal struct {
	Kind   Kind      `json:"kind"`
	UserID int64     `json:"userId"`
	Origin string    `json:"origin"` // publishing session, its own signals are not delivered back
	At     time.Time `json:"at"`
}

type Channel interface {
	Publish(ctx context.Context, s Signal) error
	Subscribe(fn func(Signal)) (cancel func())
	Close() error
}

// Bus connects Local endpoints living in one process.
type Bus struct {
	mu    sync.RWMutex
	peers map[*Local]struct{}
}

func NewBus() *Bus { return &Bus{peers: make(map[*Local]struct{})} }

// Local is one endpoint on a Bus.
type Local struct {
	bus    *Bus
	origin string
	hub    *notify.Hub[Signal]
}

func (b *Bus) Join(origin string, log *zap.Logger) *Local {
	l := &Local{bus: b, origin: origin, hub: notify.NewHub[Signal](log)}
	b.mu.Lock()
	b.peers[l] = struct{}{}
	b.mu.Unlock()
	return l
}

func (l *Local) Publish(_ context.Context, s Signal) error {
	s.Origin = l.origin
	l.bus.mu.RLock()
	peers := make([]*Local, 0, len(l.bus.peers))
	for p := range l.bus.peers {
		if p != l {
			peers = append(peers, p)
		}
	}
	l.bus.mu.RUnlock()
	for _, p := range peers {
		p.hub.Emit(s)
	}
	return nil
}

func (l *Local) Subscribe(fn func(Signal)) (cancel func()) { return l.hub.Subscribe(fn) }

func (l *Local) Close() error {
	l.bus.mu.Lock()
	delete(l.bus.peers, l)
	l.bus.mu.Unlock()
	l.hub.Reset()
	return nil
}
