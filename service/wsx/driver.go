package wsx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chatsync/logger"
	"chatsync/service/transport"
	"chatsync/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ---- 常量参数 ----
const (
	writeWait   = 10 * time.Second
	sendBuffer  = 256
	frameBuffer = 1024
)

type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// Driver dials the gateway over a websocket. One link per dial.
type Driver struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *zap.Logger
}

func NewDriver(cfg Config) (*Driver, error) {
	if cfg.URL == "" {
		return nil, errors.New("websocket url missing")
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Driver{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: logger.Named(cfg.Logger, "wsx"),
	}, nil
}

func (d *Driver) Dial(ctx context.Context, req transport.DialRequest) (transport.Link, error) {
	h := http.Header{}
	for k, v := range req.Header {
		h.Set(k, v)
	}
	if req.Token != "" && h.Get("Authorization") == "" {
		h.Set("Authorization", "Bearer "+req.Token)
	}
	if h.Get("userId") == "" {
		h.Set("userId", strconv.FormatInt(req.UserID, 10))
	}

	ws, resp, err := d.dialer.DialContext(ctx, d.cfg.URL, h)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errs.ErrAuthRejected.WrapMsg("websocket handshake", "status", resp.StatusCode)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return newLink(ws, req.OnActivity, d.log), nil
}
