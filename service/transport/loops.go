package transport

import (
	"context"
	"errors"
	"time"

	"chatsync/service/metrics"
	"chatsync/tools/errs"

	"go.uber.org/zap"
)

var errStale = errors.New("no inbound activity within the stale threshold")

func (c *Conn) readLoop(ctx context.Context, link Link) {
	defer c.wg.Done()
	frames := link.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				c.linkLost(link, link.Err())
				return
			}
			c.touch()
			c.frames.Emit(f)
		case <-link.Done():
			c.drain(ctx, frames)
			c.linkLost(link, link.Err())
			return
		}
	}
}

// drain delivers frames the link buffered before it died.
func (c *Conn) drain(ctx context.Context, frames <-chan Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			c.frames.Emit(f)
		default:
			return
		}
	}
}

func (c *Conn) heartbeatLoop(ctx context.Context, link Link) {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if err := c.beat(ctx, link, now); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn("heartbeat failed", zap.Error(err))
				c.linkLost(link, err)
				return
			}
		}
	}
}

func (c *Conn) beat(ctx context.Context, link Link, now time.Time) error {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HeartbeatInterval)
	defer cancel()
	if err := link.Ping(hctx); err != nil {
		return err
	}
	if c.hbDest == "" || c.hbBuild == nil {
		return nil
	}
	body, err := encode(c.hbBuild(c.UserID(), now))
	if err != nil {
		return err
	}
	return link.Publish(hctx, c.hbDest, body)
}

// healthLoop forces a reconnect when nothing arrived for StaleThreshold,
// even if the socket still looks open.
func (c *Conn) healthLoop(ctx context.Context, link Link) {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.HealthCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			last := time.Unix(0, c.lastActivity.Load())
			if silent := now.Sub(last); silent > c.cfg.StaleThreshold {
				c.log.Warn("connection stale, forcing reconnect", zap.Duration("silent", silent))
				metrics.StaleConnections.Inc()
				c.linkLost(link, errStale)
				return
			}
		}
	}
}

func (c *Conn) startReconnectLocked() {
	if c.reconnectCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.reconnectCancel = cancel
	c.setStatusLocked(Status{State: Reconnecting, Attempt: 1})
	c.wg.Add(1)
	go c.reconnectLoop(ctx, c.gen)
}

// reconnectLoop retries with exponential backoff up to MaxReconnectAttempts,
// then once more after FinalRetryDelay. If that fails too the state stays
// Reconnecting until the caller connects again.
func (c *Conn) reconnectLoop(ctx context.Context, gen uint64) {
	defer c.wg.Done()
	b := c.cfg.newBackOff()
	for attempt := 1; ; attempt++ {
		final := attempt > c.cfg.MaxReconnectAttempts
		delay := c.cfg.FinalRetryDelay
		if !final {
			delay = b.NextBackOff()
		}

		c.mu.Lock()
		if c.gen != gen || ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		c.setStatusLocked(Status{State: Reconnecting, Attempt: attempt})
		c.unlockAndFlush()
		c.log.Info("reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Bool("final", final))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		metrics.ReconnectAttempts.Inc()
		err := c.establish(ctx, gen)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if errors.Is(err, errs.ErrAuthRejected) {
			c.mu.Lock()
			if c.gen == gen {
				c.cancelReconnectLocked()
				c.setStatusLocked(Status{State: Disconnected})
				c.events = append(c.events, event{authErr: err})
			}
			c.unlockAndFlush()
			return
		}
		if final {
			c.mu.Lock()
			if c.gen == gen {
				c.cancelReconnectLocked()
			}
			c.mu.Unlock()
			c.log.Error("reconnect attempts exhausted, waiting for an explicit connect", zap.Int("attempts", attempt))
			return
		}
	}
}
