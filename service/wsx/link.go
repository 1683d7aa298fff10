package wsx

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chatsync/service/transport"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type writeReq struct {
	data []byte
	errc chan error
}

type wsLink struct {
	ws         *websocket.Conn
	onActivity func()
	log        *zap.Logger

	send   chan writeReq // consumed by the single writer goroutine
	frames chan transport.Frame
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func newLink(ws *websocket.Conn, onActivity func(), log *zap.Logger) *wsLink {
	l := &wsLink{
		ws:         ws,
		onActivity: onActivity,
		log:        log,
		send:       make(chan writeReq, sendBuffer),
		frames:     make(chan transport.Frame, frameBuffer),
		done:       make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		l.activity()
		return nil
	})
	go l.writeLoop()
	go l.readLoop()
	return l
}

func (l *wsLink) Frames() <-chan transport.Frame { return l.frames }
func (l *wsLink) Done() <-chan struct{}          { return l.done }

func (l *wsLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *wsLink) activity() {
	if l.onActivity != nil {
		l.onActivity()
	}
}

func (l *wsLink) die(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
		_ = l.ws.Close()
	})
}

func (l *wsLink) Close() error {
	_ = l.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	l.die(nil)
	return nil
}

func (l *wsLink) write(ctx context.Context, f wireFrame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	req := writeReq{data: b, errc: make(chan error, 1)}
	select {
	case l.send <- req:
	case <-l.done:
		return websocket.ErrCloseSent
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.errc:
		return err
	case <-l.done:
		return websocket.ErrCloseSent
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *wsLink) Publish(ctx context.Context, destination string, body []byte) error {
	return l.write(ctx, wireFrame{Op: OpPublish, Destination: destination, Body: rawBody(body)})
}

func (l *wsLink) Subscribe(id, destination string) error {
	return l.write(context.Background(), wireFrame{Op: OpSubscribe, ID: id, Destination: destination})
}

func (l *wsLink) Unsubscribe(id string) error {
	return l.write(context.Background(), wireFrame{Op: OpUnsubscribe, ID: id})
}

// Ping sends a control ping; the pong handler reports activity.
func (l *wsLink) Ping(ctx context.Context) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return l.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

func (l *wsLink) writeLoop() {
	for {
		select {
		case <-l.done:
			return
		case req := <-l.send:
			_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := l.ws.WriteMessage(websocket.TextMessage, req.data)
			req.errc <- err
			if err != nil {
				l.log.Warn("write failed", zap.Error(err))
				l.die(err)
				return
			}
		}
	}
}

func (l *wsLink) readLoop() {
	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = nil
			}
			l.die(err)
			return
		}
		l.activity()

		var f wireFrame
		if err := json.Unmarshal(data, &f); err != nil {
			l.log.Warn("bad frame", zap.Error(err))
			continue
		}
		switch f.Op {
		case OpMessage:
			select {
			case l.frames <- transport.Frame{SubscriptionID: f.ID, Destination: f.Destination, Body: []byte(f.Body), Header: f.Header}:
			case <-l.done:
				return
			}
		case OpError:
			l.log.Warn("gateway error", zap.String("message", f.Message), zap.String("destination", f.Destination))
		}
	}
}
