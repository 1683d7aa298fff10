package natsx

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatsync/logger"
	"chatsync/service/transport"
	"chatsync/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers     []string
	Name        string
	Timeout     time.Duration // dial timeout of a single server
	FrameBuffer int           // inbound frames buffered per link
	Middlewares []NatsxMiddleware
	Logger      *zap.Logger
}

// Driver dials one NATS connection per transport link. Library level
// reconnects are disabled: the transport owns backoff and replay.
type Driver struct {
	cfg NatsxConfig
	log *zap.Logger
}

func NewDriver(cfg NatsxConfig) (*Driver, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = 1024
	}
	if cfg.Name == "" {
		cfg.Name = "chatsync"
	}
	return &Driver{cfg: cfg, log: logger.Named(cfg.Logger, "natsx")}, nil
}

func (d *Driver) options(req transport.DialRequest, l *natsLink) []nats.Option {
	opts := []nats.Option{
		nats.Name(d.cfg.Name),
		nats.NoReconnect(),
		nats.Timeout(d.cfg.Timeout),
		nats.ClosedHandler(func(nc *nats.Conn) { l.die(nc.LastError()) }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) { l.die(err) }),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			d.log.Warn("async nats error", zap.String("subject", subject), zap.Error(err))
		}),
	}
	if req.Token != "" {
		opts = append(opts, nats.Token(req.Token))
	}
	return opts
}

// Dial 连接 NATS；ctx 取消时放弃并关闭迟到的连接
func (d *Driver) Dial(ctx context.Context, req transport.DialRequest) (transport.Link, error) {
	l := newLink(req, d.cfg, d.log)

	type result struct {
		nc  *nats.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(strings.Join(d.cfg.Servers, ","), d.options(req, l)...)
		ch <- result{nc: nc, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.nc != nil {
				r.nc.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			if isAuthError(r.err) {
				return nil, errs.ErrAuthRejected.WrapMsg("nats connect", "err", r.err)
			}
			return nil, r.err
		}
		l.nc = r.nc
		return l, nil
	}
}

func isAuthError(err error) bool {
	return errors.Is(err, nats.ErrAuthorization) || errors.Is(err, nats.ErrAuthExpired)
}

// Subject maps a STOMP style destination onto a NATS subject. The per-user
// "/user/queue/..." form has no broker-side principal in NATS, so it is
// scoped explicitly: "/user/queue/chat.5" -> "user.7.queue.chat.5".
func Subject(destination string, userID int64) string {
	d := strings.Trim(destination, "/")
	if strings.HasPrefix(d, "user/queue/") {
		d = "user/" + formatInt(userID) + "/queue/" + strings.TrimPrefix(d, "user/queue/")
	}
	return strings.ReplaceAll(d, "/", ".")
}
