package natsx

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subscribe Core 订阅；同一个 id 重复订阅直接返回
func (l *natsLink) Subscribe(id, destination string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[id]; ok {
		return nil
	}

	subject := Subject(destination, l.userID)
	cb := func(m *nats.Msg) {
		err := l.handler(context.Background(), NatsxMessage{
			SubscriptionID: id,
			Destination:    destination,
			Subject:        m.Subject,
			Data:           append([]byte(nil), m.Data...),
			Header:         headerToMap(m.Header),
		})
		if err != nil {
			l.log.Warn("frame handler failed", zap.String("subject", m.Subject), zap.Error(err))
		}
	}
	sub, err := l.nc.Subscribe(subject, cb)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	l.subs[id] = sub
	return nil
}

func (l *natsLink) Unsubscribe(id string) error {
	l.mu.Lock()
	sub, ok := l.subs[id]
	delete(l.subs, id)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
