package crosstab

import (
	"context"
	"encoding/json"
	"sync"

	"chatsync/logger"
	"chatsync/tools/notify"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultRedisChannel = "chatsync:crosstab"

// Redis fans signals out through a Redis pub/sub channel, for sessions that
// live in different processes.
type Redis struct {
	rdb     *redis.Client
	channel string
	origin  string
	log     *zap.Logger
	hub     *notify.Hub[Signal]

	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

// NewRedis subscribes to channel and starts the receive loop.
func NewRedis(ctx context.Context, rdb *redis.Client, channel, origin string, log *zap.Logger) (*Redis, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	log = logger.Named(log, "crosstab")
	ps := rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	r := &Redis{
		rdb:     rdb,
		channel: channel,
		origin:  origin,
		log:     log,
		hub:     notify.NewHub[Signal](log),
		pubsub:  ps,
		done:    make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

func (r *Redis) loop() {
	defer close(r.done)
	for m := range r.pubsub.Channel() {
		var s Signal
		if err := json.Unmarshal([]byte(m.Payload), &s); err != nil {
			r.log.Warn("bad crosstab payload", zap.Error(err))
			continue
		}
		if s.Origin == r.origin {
			continue
		}
		r.hub.Emit(s)
	}
}

func (r *Redis) Publish(ctx context.Context, s Signal) error {
	s.Origin = r.origin
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, b).Err()
}

func (r *Redis) Subscribe(fn func(Signal)) (cancel func()) { return r.hub.Subscribe(fn) }

func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		err = r.pubsub.Close()
		<-r.done
		r.hub.Reset()
	})
	return err
}
