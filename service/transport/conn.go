package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"chatsync/logger"
	"chatsync/service/metrics"
	"chatsync/tools/errs"
	"chatsync/tools/notify"

	"go.uber.org/zap"
)

type outbound struct {
	destination string
	body        []byte
}

// event is queued under mu and delivered after it is released.
type event struct {
	status  *Status
	authErr error
}

type Option func(*Conn)

func WithLogger(l *zap.Logger) Option {
	return func(c *Conn) { c.log = l }
}

func WithReplayer(r Replayer) Option {
	return func(c *Conn) { c.replayer = r }
}

// WithHeartbeat publishes build(userID, now) to destination on every
// heartbeat tick, in addition to the link level ping.
func WithHeartbeat(destination string, build func(userID int64, now time.Time) any) Option {
	return func(c *Conn) {
		c.hbDest = destination
		c.hbBuild = build
	}
}

// Conn owns one logical broker connection: lifecycle, reconnect with
// backoff, heartbeat and health check, and the outbound queue used while
// not connected.
type Conn struct {
	cfg    Config
	driver Driver
	log    *zap.Logger

	mu              sync.Mutex
	gen             uint64 // bumped by Connect and Disconnect
	status          Status
	userID          int64
	token           string
	manual          bool
	link            Link
	stopLink        context.CancelFunc
	wired           map[string]string // wire id -> destination on the current link
	queue           []outbound
	replayer        Replayer
	reconnectCancel context.CancelFunc
	events          []event
	emitting        bool

	lastActivity atomic.Int64

	hbDest  string
	hbBuild func(userID int64, now time.Time) any

	wg sync.WaitGroup

	states *notify.Hub[Status]
	frames *notify.Hub[Frame]
	auth   *notify.Hub[error]
}

func New(driver Driver, cfg Config, opts ...Option) *Conn {
	c := &Conn{
		cfg:    cfg.withDefaults(),
		driver: driver,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = logger.Named(c.log, "transport")
	c.states = notify.NewHub[Status](c.log)
	c.frames = notify.NewHub[Frame](c.log)
	c.auth = notify.NewHub[error](c.log)
	return c
}

// SetReplayer attaches the subscription source replayed on every Connected
// transition.
func (c *Conn) SetReplayer(r Replayer) {
	c.mu.Lock()
	c.replayer = r
	c.mu.Unlock()
}

func (c *Conn) OnStateChange(fn func(Status)) (cancel func()) { return c.states.Subscribe(fn) }

// OnFrame observers run on the link's reader goroutine, one frame at a time.
func (c *Conn) OnFrame(fn func(Frame)) (cancel func()) { return c.frames.Subscribe(fn) }

// OnAuthRejected fires when the broker refuses the credential. The
// connection stays Disconnected until Connect is called again.
func (c *Conn) OnAuthRejected(fn func(error)) (cancel func()) { return c.auth.Subscribe(fn) }

func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Conn) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// WireCount is the number of broker subscriptions on the current link.
func (c *Conn) WireCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.wired)
}

// Connect is a no-op while already Connected as userID. Otherwise it dials
// with the credential and returns once the link is Connected, the registry
// replayed and the queue flushed, or with an error matching
// errs.ErrConnectFailed (errs.ErrAuthRejected for a refused credential).
func (c *Conn) Connect(ctx context.Context, userID int64, token string) error {
	c.mu.Lock()
	if c.status.State == Connected && c.userID == userID {
		c.token = token
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.cancelReconnectLocked()
	c.dropLinkLocked()
	c.userID, c.token = userID, token
	c.manual = false
	c.setStatusLocked(Status{State: Connecting})
	c.unlockAndFlush()

	err := c.establish(ctx, gen)
	if err == nil {
		return nil
	}

	c.mu.Lock()
	if c.gen == gen {
		c.setStatusLocked(Status{State: Disconnected})
		if errors.Is(err, errs.ErrAuthRejected) {
			c.events = append(c.events, event{authErr: err})
		}
	}
	c.unlockAndFlush()
	c.log.Warn("connect failed", zap.Int64("user_id", userID), zap.Error(err))
	return err
}

// Disconnect closes the link and stops all timers. Queued commands are kept
// for the next Connect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.manual = true
	c.cancelReconnectLocked()
	c.dropLinkLocked()
	c.setStatusLocked(Status{State: Disconnected})
	c.unlockAndFlush()
}

// Shutdown disconnects, drops the outbound queue and waits for every
// goroutine started by c. It must not be called from an observer.
func (c *Conn) Shutdown() {
	c.Disconnect()
	c.mu.Lock()
	dropped := len(c.queue)
	c.queue = nil
	c.mu.Unlock()
	metrics.OutboundQueued.Set(0)
	if dropped > 0 {
		c.log.Info("dropped queued commands on shutdown", zap.Int("count", dropped))
	}
	c.wg.Wait()
}

// Publish sends immediately while Connected, otherwise appends to the
// outbound queue which is drained in order on the next Connected
// transition.
func (c *Conn) Publish(ctx context.Context, destination string, payload any) (PublishResult, error) {
	body, err := encode(payload)
	if err != nil {
		metrics.RecordPublish(Rejected.String())
		return Rejected, errs.ErrSendRejected.WrapMsg("encode payload", "destination", destination, "err", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.State == Connected && c.link != nil {
		if err := c.link.Publish(ctx, destination, body); err != nil {
			metrics.RecordPublish(Rejected.String())
			return Rejected, errs.ErrSendRejected.WrapMsg("publish", "destination", destination, "err", err)
		}
		metrics.RecordPublish(Sent.String())
		return Sent, nil
	}
	if c.cfg.OutboundQueueLimit > 0 && len(c.queue) >= c.cfg.OutboundQueueLimit {
		metrics.RecordPublish(Rejected.String())
		return Rejected, errs.ErrQueueFull.WrapMsg("", "limit", c.cfg.OutboundQueueLimit)
	}
	c.queue = append(c.queue, outbound{destination: destination, body: body})
	metrics.OutboundQueued.Set(float64(len(c.queue)))
	metrics.RecordPublish(Queued.String())
	return Queued, nil
}

// Subscribe makes ws on the current link. While not Connected it does
// nothing: the registry replay will make it later. Subscribing an id that is
// already on the link is a no-op.
func (c *Conn) Subscribe(ctx context.Context, ws WireSubscription) error {
	c.mu.Lock()
	defer c.unlockAndFlush()
	if c.status.State != Connected || c.link == nil {
		return nil
	}
	return c.subscribeLocked(ctx, ws)
}

func (c *Conn) Unsubscribe(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return nil
	}
	if _, ok := c.wired[id]; !ok {
		return nil
	}
	delete(c.wired, id)
	return c.link.Unsubscribe(id)
}

func (c *Conn) subscribeLocked(ctx context.Context, ws WireSubscription) error {
	if _, ok := c.wired[ws.ID]; ok {
		return nil
	}
	if err := c.link.Subscribe(ws.ID, ws.Destination); err != nil {
		return errs.WrapMsg(err, "subscribe", "destination", ws.Destination)
	}
	c.wired[ws.ID] = ws.Destination
	if ws.Notice != nil {
		body, err := encode(ws.Notice.Payload)
		if err != nil {
			return errs.WrapMsg(err, "encode notice", "destination", ws.Notice.Destination)
		}
		if err := c.link.Publish(ctx, ws.Notice.Destination, body); err != nil {
			return errs.WrapMsg(err, "publish notice", "destination", ws.Notice.Destination)
		}
	}
	return nil
}

func (c *Conn) establish(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	req := DialRequest{
		UserID: c.userID,
		Token:  c.token,
		Header: map[string]string{
			"Authorization": "Bearer " + c.token,
			"userId":        strconv.FormatInt(c.userID, 10),
		},
		OnActivity: c.touch,
	}
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	link, err := c.driver.Dial(dctx, req)
	if err != nil {
		if errors.Is(err, errs.ErrAuthRejected) {
			return err
		}
		if errors.Is(dctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return errs.ErrConnectFailed.WrapMsg("connect timeout", "timeout", c.cfg.ConnectTimeout)
		}
		return errs.ErrConnectFailed.WrapMsg("dial", "err", err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = link.Close()
		return errs.ErrConnectFailed.WrapMsg("superseded by a newer connect or disconnect")
	}
	c.link = link
	c.wired = make(map[string]string)
	c.touch()
	if err := c.activateLocked(dctx); err != nil {
		c.dropLinkLocked()
		c.mu.Unlock()
		return errs.ErrConnectFailed.WrapMsg("activate link", "err", err)
	}

	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
	loopCtx, stop := context.WithCancel(context.Background())
	c.stopLink = stop
	c.wg.Add(3)
	go c.readLoop(loopCtx, link)
	go c.heartbeatLoop(loopCtx, link)
	go c.healthLoop(loopCtx, link)
	c.setStatusLocked(Status{State: Connected})
	c.log.Info("connected", zap.Int64("user_id", req.UserID), zap.Int("subscriptions", len(c.wired)))
	c.unlockAndFlush()
	return nil
}

// activateLocked replays the registry then drains the queue. Both run under
// mu so a concurrent Publish lands after the drained commands.
func (c *Conn) activateLocked(ctx context.Context) error {
	if c.replayer != nil {
		for _, ws := range c.replayer.WireSubscriptions() {
			if err := c.subscribeLocked(ctx, ws); err != nil {
				return err
			}
		}
	}
	for len(c.queue) > 0 {
		ob := c.queue[0]
		if err := c.link.Publish(ctx, ob.destination, ob.body); err != nil {
			metrics.OutboundQueued.Set(float64(len(c.queue)))
			return errs.WrapMsg(err, "flush queue", "remaining", len(c.queue))
		}
		c.queue = c.queue[1:]
		metrics.RecordPublish(Sent.String())
	}
	c.queue = nil
	metrics.OutboundQueued.Set(0)
	return nil
}

func (c *Conn) dropLinkLocked() {
	if c.stopLink != nil {
		c.stopLink()
		c.stopLink = nil
	}
	if c.link != nil {
		if err := c.link.Close(); err != nil {
			c.log.Debug("close link", zap.Error(err))
		}
		c.link = nil
	}
	c.wired = nil
}

func (c *Conn) cancelReconnectLocked() {
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
}

// linkLost handles an unexpected close of link. Stale notifications for a
// link that was already replaced are ignored.
func (c *Conn) linkLost(link Link, cause error) {
	c.mu.Lock()
	if c.link != link {
		c.mu.Unlock()
		return
	}
	c.log.Warn("link lost", zap.Error(cause))
	c.dropLinkLocked()
	if !c.manual {
		c.startReconnectLocked()
	}
	c.unlockAndFlush()
}

func (c *Conn) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	metrics.ConnectionState.Set(float64(s.State))
	c.events = append(c.events, event{status: &s})
}

// unlockAndFlush releases mu after delivering queued events in order. Only
// one goroutine delivers at a time; observers may call back into c.
func (c *Conn) unlockAndFlush() {
	if c.emitting {
		c.mu.Unlock()
		return
	}
	c.emitting = true
	for len(c.events) > 0 {
		ev := c.events[0]
		c.events = c.events[1:]
		c.mu.Unlock()
		if ev.status != nil {
			c.states.Emit(*ev.status)
		}
		if ev.authErr != nil {
			c.auth.Emit(ev.authErr)
		}
		c.mu.Lock()
	}
	c.events = nil
	c.emitting = false
	c.mu.Unlock()
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return json.Marshal(p)
	}
}
