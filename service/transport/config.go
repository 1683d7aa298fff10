package transport

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Config struct {
	ConnectTimeout       time.Duration // Connecting -> ConnectFailed after this
	HeartbeatInterval    time.Duration
	HealthCheckInterval  time.Duration
	StaleThreshold       time.Duration // max silence before a forced reconnect
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	BackoffMultiplier    float64
	BackoffJitter        float64 // randomization factor, 0.2 = +-20%
	MaxReconnectAttempts int
	FinalRetryDelay      time.Duration // one more try after the attempts run out
	OutboundQueueLimit   int           // 0 = unbounded
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       20 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		HealthCheckInterval:  60 * time.Second,
		StaleThreshold:       90 * time.Second,
		BackoffBase:          time.Second,
		BackoffMax:           30 * time.Second,
		BackoffMultiplier:    1.5,
		BackoffJitter:        0.2,
		MaxReconnectAttempts: 10,
		FinalRetryDelay:      60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = d.StaleThreshold
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.BackoffJitter < 0 || c.BackoffJitter >= 1 {
		c.BackoffJitter = d.BackoffJitter
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.FinalRetryDelay <= 0 {
		c.FinalRetryDelay = d.FinalRetryDelay
	}
	if c.OutboundQueueLimit < 0 {
		c.OutboundQueueLimit = 0
	}
	return c
}

// newBackOff never stops on its own; the attempt budget is enforced by the
// reconnect loop.
func (c Config) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.BackoffBase,
		RandomizationFactor: c.BackoffJitter,
		Multiplier:          c.BackoffMultiplier,
		MaxInterval:         c.BackoffMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
