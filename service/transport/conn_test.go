package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatsync/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastConfig() Config {
	return Config{
		ConnectTimeout:       200 * time.Millisecond,
		HeartbeatInterval:    time.Hour,
		HealthCheckInterval:  time.Hour,
		StaleThreshold:       2 * time.Hour,
		BackoffBase:          5 * time.Millisecond,
		BackoffMax:           20 * time.Millisecond,
		BackoffMultiplier:    1.5,
		BackoffJitter:        0.2,
		MaxReconnectAttempts: 3,
		FinalRetryDelay:      10 * time.Millisecond,
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []Status
}

func (s *stateLog) add(st Status) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
}

func (s *stateLog) all() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.states...)
}

func newTestConn(t *testing.T, d *fakeDriver, cfg Config, opts ...Option) *Conn {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	c := New(d, cfg, opts...)
	t.Cleanup(c.Shutdown)
	return c
}

func TestConnectIsIdempotent(t *testing.T) {
	d := &fakeDriver{}
	c := newTestConn(t, d, fastConfig())
	var log stateLog
	c.OnStateChange(log.add)

	require.NoError(t, c.Connect(context.Background(), 7, "tok"))
	require.NoError(t, c.Connect(context.Background(), 7, "tok"))

	assert.Equal(t, 1, d.dials())
	assert.Equal(t, Status{State: Connected}, c.Status())
	assert.Equal(t, []Status{{State: Connecting}, {State: Connected}}, log.all())
	assert.Equal(t, "Bearer tok", d.requests[0].Header["Authorization"])
	assert.Equal(t, "7", d.requests[0].Header["userId"])
}

func TestConnectTimeout(t *testing.T) {
	d := &fakeDriver{hang: true}
	cfg := fastConfig()
	cfg.ConnectTimeout = 30 * time.Millisecond
	c := newTestConn(t, d, cfg)

	start := time.Now()
	err := c.Connect(context.Background(), 1, "tok")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConnectFailed))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, Disconnected, c.Status().State)
}

func TestAuthRejectionIsTerminal(t *testing.T) {
	d := &fakeDriver{alwaysErr: errs.ErrAuthRejected.WrapMsg("401")}
	c := newTestConn(t, d, fastConfig())

	rejected := make(chan error, 1)
	c.OnAuthRejected(func(err error) { rejected <- err })

	err := c.Connect(context.Background(), 1, "bad")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrAuthRejected))
	assert.Equal(t, Disconnected, c.Status().State)

	select {
	case got := <-rejected:
		assert.True(t, errors.Is(got, errs.ErrAuthRejected))
	case <-time.After(time.Second):
		t.Fatal("auth rejection not signalled")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.dials(), "no blind retry after an auth rejection")
}

func TestQueuedPublishesFlushInOrder(t *testing.T) {
	d := &fakeDriver{}
	c := newTestConn(t, d, fastConfig())
	ctx := context.Background()

	for _, body := range []string{"a", "b", "c"} {
		res, err := c.Publish(ctx, "/app/chat.send", body)
		require.NoError(t, err)
		assert.Equal(t, Queued, res)
	}
	assert.Equal(t, 3, c.QueueLen())
	assert.Empty(t, d.publishedTo("/app/chat.send"))

	require.NoError(t, c.Connect(ctx, 1, "tok"))
	assert.Equal(t, []string{"a", "b", "c"}, d.publishedTo("/app/chat.send"))
	assert.Zero(t, c.QueueLen())

	res, err := c.Publish(ctx, "/app/chat.send", "d")
	require.NoError(t, err)
	assert.Equal(t, Sent, res)
	assert.Equal(t, []string{"a", "b", "c", "d"}, d.publishedTo("/app/chat.send"))
}

func TestQueueLimit(t *testing.T) {
	cfg := fastConfig()
	cfg.OutboundQueueLimit = 1
	c := newTestConn(t, &fakeDriver{}, cfg)

	_, err := c.Publish(context.Background(), "/x", "1")
	require.NoError(t, err)
	res, err := c.Publish(context.Background(), "/x", "2")
	assert.Equal(t, Rejected, res)
	assert.True(t, errors.Is(err, errs.ErrQueueFull))
	assert.True(t, errors.Is(err, errs.ErrSendRejected))
}

func TestPublishErrorWhileConnected(t *testing.T) {
	d := &fakeDriver{}
	c := newTestConn(t, d, fastConfig())
	require.NoError(t, c.Connect(context.Background(), 1, "tok"))

	d.mu.Lock()
	d.publishErr = errors.New("write: broken pipe")
	d.mu.Unlock()

	res, err := c.Publish(context.Background(), "/x", "1")
	assert.Equal(t, Rejected, res)
	assert.True(t, errors.Is(err, errs.ErrSendRejected))
}

func TestReconnectReplaysSubscriptionsExactlyOnce(t *testing.T) {
	d := &fakeDriver{}
	subs := staticReplayer{
		{ID: "a", Destination: "/user/queue/chat.1", Notice: &Notice{Destination: "/app/chat.subscribe", Payload: "n1"}},
		{ID: "b", Destination: "/topic/chat.1/typing"},
	}
	c := newTestConn(t, d, fastConfig(), WithReplayer(subs))
	require.NoError(t, c.Connect(context.Background(), 1, "tok"))

	// a racing subscribe of an already replayed id must not double it
	require.NoError(t, c.Subscribe(context.Background(), subs[0]))

	for cycle := 0; cycle < 3; cycle++ {
		prev := d.last()
		prev.kill(errRemoteClosed)
		require.Eventually(t, func() bool {
			l := d.last()
			return l != prev && c.Status().State == Connected
		}, 2*time.Second, 5*time.Millisecond, "cycle %d", cycle)
	}

	l := d.last()
	assert.Equal(t, map[string]string{"a": "/user/queue/chat.1", "b": "/topic/chat.1/typing"}, l.subscriptions())
	l.mu.Lock()
	assert.Equal(t, 2, l.subCalls)
	l.mu.Unlock()
	assert.Equal(t, 2, c.WireCount())
	assert.Len(t, d.publishedTo("/app/chat.subscribe"), 4, "one notice per established link")
}

func TestReconnectExhaustionKeepsReconnecting(t *testing.T) {
	d := &fakeDriver{}
	c := newTestConn(t, d, fastConfig())
	require.NoError(t, c.Connect(context.Background(), 1, "tok"))

	var log stateLog
	c.OnStateChange(log.add)
	d.setAlwaysErr(errors.New("network unreachable"))
	d.last().kill(errRemoteClosed)

	// 3 backoff attempts plus the final retry
	require.Eventually(t, func() bool { return d.dials() == 1+4 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 5, d.dials(), "no attempts after the final retry")
	assert.Equal(t, Status{State: Reconnecting, Attempt: 4}, c.Status())

	states := log.all()
	require.NotEmpty(t, states)
	assert.Equal(t, Status{State: Reconnecting, Attempt: 1}, states[0])

	d.setAlwaysErr(nil)
	require.NoError(t, c.Connect(context.Background(), 1, "tok"))
	assert.Equal(t, Connected, c.Status().State)
}

func TestReconnectAuthRejection(t *testing.T) {
	d := &fakeDriver{}
	c := newTestConn(t, d, fastConfig())
	require.NoError(t, c.Connect(context.Background(), 1, "tok"))

	rejected := make(chan struct{}, 1)
	c.OnAuthRejected(func(error) { rejected <- struct{}{} })
	d.setAlwaysErr(errs.ErrAuthRejected.Wrap())
	d.last().kill(errRemoteClosed)

	select {
	case <-rejected:
	case <-time.After(2 * time.Second):
		t.Fatal("auth rejection during reconnect not signalled")
	}
	require.Eventually(t, func() bool { return c.Status().State == Disconnected }, time.Second, 5*time.Millisecond)
	dials := d.dials()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, dials, d.dials())
}

func TestStaleConnectionForcesReconnect(t *testing.T) {
	d := &fakeDriver{}
	cfg := fastConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	cfg.StaleThreshold = 30 * time.Millisecond
	c := newTestConn(t, d, cfg)
	require.NoError(t, c.Connect(context.Background(), 1, "tok"))
	first := d.last()

	require.Eventually(t, func() bool { return d.dials() >= 2 }, 2*time.Second, 5*time.Millisecond)
	select {
	case <-first.Done():
	default:
		t.Fatal("stale link was not closed")
	}
}

func TestHeartbeatPublishes(t *testing.T) {
	d := &fakeDriver{}
	cfg := fastConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	c := newTestConn(t, d, cfg, WithHeartbeat("/app/heartbeat", func(userID int64, _ time.Time) any {
		return map[string]int64{"userId": userID}
	}))
	require.NoError(t, c.Connect(context.Background(), 9, "tok"))

	require.Eventually(t, func() bool { return len(d.publishedTo("/app/heartbeat")) >= 2 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"userId":9}`, d.publishedTo("/app/heartbeat")[0])
}

func TestHeartbeatFailureReconnects(t *testing.T) {
	d := &fakeDriver{}
	cfg := fastConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	c := newTestConn(t, d, cfg)
	require.NoError(t, c.Connect(context.Background(), 1, "tok"))

	first := d.last()
	first.mu.Lock()
	first.pingErr = errors.New("pong timeout")
	first.mu.Unlock()

	require.Eventually(t, func() bool { return d.dials() >= 2 && c.Status().State == Connected }, 2*time.Second, 5*time.Millisecond)
}

func TestDisconnectKeepsQueueShutdownDropsIt(t *testing.T) {
	d := &fakeDriver{}
	c := New(d, fastConfig(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, c.Connect(context.Background(), 1, "tok"))

	c.Disconnect()
	assert.Equal(t, Disconnected, c.Status().State)
	_, err := c.Publish(context.Background(), "/x", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.QueueLen())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, d.dials(), "manual disconnect must not reconnect")

	c.Shutdown()
	assert.Zero(t, c.QueueLen())
}

func TestFramesReachObservers(t *testing.T) {
	d := &fakeDriver{}
	c := newTestConn(t, d, fastConfig())
	got := make(chan Frame, 2)
	c.OnFrame(func(f Frame) { got <- f })
	require.NoError(t, c.Connect(context.Background(), 1, "tok"))

	d.last().frames <- Frame{Destination: "/user/queue/chat.1", Body: []byte(`{}`)}
	select {
	case f := <-got:
		assert.Equal(t, "/user/queue/chat.1", f.Destination)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestSubscribeWhileDisconnectedIsDeferred(t *testing.T) {
	d := &fakeDriver{}
	c := newTestConn(t, d, fastConfig())
	require.NoError(t, c.Subscribe(context.Background(), WireSubscription{ID: "x", Destination: "/d"}))
	assert.Zero(t, c.WireCount())
	require.NoError(t, c.Unsubscribe("x"))
}
