package natsx

import (
	"context"
	"strconv"
	"sync"

	"chatsync/service/transport"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type natsLink struct {
	nc         *nats.Conn
	userID     int64
	onActivity func()
	log        *zap.Logger
	handler    NatsxHandler

	mu     sync.Mutex
	subs   map[string]*nats.Subscription // wire id -> sub
	frames chan transport.Frame
	done   chan struct{}
	once   sync.Once
	err    error
}

func newLink(req transport.DialRequest, cfg NatsxConfig, log *zap.Logger) *natsLink {
	l := &natsLink{
		userID:     req.UserID,
		onActivity: req.OnActivity,
		log:        log,
		subs:       make(map[string]*nats.Subscription),
		frames:     make(chan transport.Frame, cfg.FrameBuffer),
		done:       make(chan struct{}),
	}
	l.handler = NatsxChain(l.deliver, cfg.Middlewares...)
	return l
}

func (l *natsLink) Frames() <-chan transport.Frame { return l.frames }
func (l *natsLink) Done() <-chan struct{}          { return l.done }

func (l *natsLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *natsLink) die(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	})
}

// Ping 往返 flush，成功即视为收到服务端响应
func (l *natsLink) Ping(ctx context.Context) error {
	if err := l.nc.FlushWithContext(ctx); err != nil {
		return err
	}
	if l.onActivity != nil {
		l.onActivity()
	}
	return nil
}

func (l *natsLink) Close() error {
	l.mu.Lock()
	for id, sub := range l.subs {
		_ = sub.Unsubscribe()
		delete(l.subs, id)
	}
	l.mu.Unlock()
	l.die(nil)
	if l.nc != nil {
		l.nc.Close()
	}
	return nil
}

// deliver is the innermost handler: it funnels every subscription callback
// into the single frames channel.
func (l *natsLink) deliver(ctx context.Context, msg NatsxMessage) error {
	f := transport.Frame{
		SubscriptionID: msg.SubscriptionID,
		Destination:    msg.Destination,
		Body:           msg.Data,
		Header:         msg.Header,
	}
	select {
	case l.frames <- f:
		return nil
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }
