package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	BrokerNATS      = "nats"
	BrokerWebsocket = "ws"

	CrossTabLocal = "local"
	CrossTabRedis = "redis"
)

// Config holds every environment backed setting of the client engine.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	NodeID    int64  `env:"NODE_ID" envDefault:"1"`

	Broker    BrokerConfig    `envPrefix:"BROKER_"`
	API       APIConfig       `envPrefix:"API_"`
	Transport TransportConfig `envPrefix:"TRANSPORT_"`
	Chat      ChatConfig      `envPrefix:"CHAT_"`
	CrossTab  CrossTabConfig  `envPrefix:"CROSSTAB_"`
}

type BrokerConfig struct {
	Kind    string        `env:"KIND" envDefault:"ws"`
	URLs    []string      `env:"URLS" envSeparator:"," envDefault:"ws://127.0.0.1:8000/ws"`
	Name    string        `env:"CLIENT_NAME" envDefault:"chatsync"`
	Timeout time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
}

type APIConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://127.0.0.1:8000"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"15s"`
	Token   string        `env:"TOKEN"`
}

type TransportConfig struct {
	ConnectTimeout       time.Duration `env:"CONNECT_TIMEOUT" envDefault:"20s"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	HealthCheckInterval  time.Duration `env:"HEALTH_CHECK_INTERVAL" envDefault:"60s"`
	StaleThreshold       time.Duration `env:"STALE_THRESHOLD" envDefault:"90s"`
	BackoffBase          time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`
	BackoffMax           time.Duration `env:"BACKOFF_MAX" envDefault:"30s"`
	BackoffMultiplier    float64       `env:"BACKOFF_MULTIPLIER" envDefault:"1.5"`
	BackoffJitter        float64       `env:"BACKOFF_JITTER" envDefault:"0.2"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"10"`
	FinalRetryDelay      time.Duration `env:"FINAL_RETRY_DELAY" envDefault:"60s"`
	OutboundQueueLimit   int           `env:"OUTBOUND_QUEUE_LIMIT" envDefault:"0"`
}

type ChatConfig struct {
	PageSize           int           `env:"PAGE_SIZE" envDefault:"30"`
	TypingTTL          time.Duration `env:"TYPING_TTL" envDefault:"3s"`
	TypingSendInterval time.Duration `env:"TYPING_SEND_INTERVAL" envDefault:"2s"`
	RefreshDelay       time.Duration `env:"REFRESH_DELAY" envDefault:"500ms"`
	DedupeTTL          time.Duration `env:"DEDUPE_TTL" envDefault:"30s"`
	DedupeSize         int           `env:"DEDUPE_SIZE" envDefault:"4096"`
}

type CrossTabConfig struct {
	Kind          string `env:"KIND" envDefault:"local"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	Channel       string `env:"CHANNEL" envDefault:"chatsync:session"`
}

// Load reads optional dotenv files, then parses CHATSYNC_* variables.
func Load(dotenvPaths ...string) (*Config, error) {
	for _, path := range dotenvPaths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load dotenv %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "CHATSYNC_"}); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Broker.Kind {
	case BrokerNATS, BrokerWebsocket:
	default:
		return fmt.Errorf("CHATSYNC_BROKER_KIND must be %q or %q, got %q", BrokerNATS, BrokerWebsocket, c.Broker.Kind)
	}
	if len(c.Broker.URLs) == 0 {
		return fmt.Errorf("CHATSYNC_BROKER_URLS is required")
	}
	switch c.CrossTab.Kind {
	case CrossTabLocal, CrossTabRedis:
	default:
		return fmt.Errorf("CHATSYNC_CROSSTAB_KIND must be %q or %q, got %q", CrossTabLocal, CrossTabRedis, c.CrossTab.Kind)
	}
	if c.Transport.BackoffMultiplier < 1 {
		return fmt.Errorf("CHATSYNC_TRANSPORT_BACKOFF_MULTIPLIER must be >= 1")
	}
	if c.Transport.BackoffJitter < 0 || c.Transport.BackoffJitter >= 1 {
		return fmt.Errorf("CHATSYNC_TRANSPORT_BACKOFF_JITTER must be in [0,1)")
	}
	if c.Chat.PageSize <= 0 {
		return fmt.Errorf("CHATSYNC_CHAT_PAGE_SIZE must be positive")
	}
	if c.Transport.StaleThreshold <= c.Transport.HeartbeatInterval {
		return fmt.Errorf("CHATSYNC_TRANSPORT_STALE_THRESHOLD must exceed the heartbeat interval")
	}
	return nil
}
