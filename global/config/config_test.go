package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BrokerWebsocket, cfg.Broker.Kind)
	assert.Equal(t, 20*time.Second, cfg.Transport.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Transport.HeartbeatInterval)
	assert.Equal(t, 1.5, cfg.Transport.BackoffMultiplier)
	assert.Equal(t, 10, cfg.Transport.MaxReconnectAttempts)
	assert.Equal(t, 30, cfg.Chat.PageSize)
	assert.Equal(t, 3*time.Second, cfg.Chat.TypingTTL)
	assert.Equal(t, 2*time.Second, cfg.Chat.TypingSendInterval)
	assert.Equal(t, CrossTabLocal, cfg.CrossTab.Kind)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHATSYNC_BROKER_KIND", "nats")
	t.Setenv("CHATSYNC_BROKER_URLS", "nats://a:4222,nats://b:4222")
	t.Setenv("CHATSYNC_TRANSPORT_MAX_RECONNECT_ATTEMPTS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BrokerNATS, cfg.Broker.Kind)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.Broker.URLs)
	assert.Equal(t, 3, cfg.Transport.MaxReconnectAttempts)
}

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHATSYNC_CHAT_PAGE_SIZE=50\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CHATSYNC_CHAT_PAGE_SIZE") })

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Chat.PageSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad broker", map[string]string{"CHATSYNC_BROKER_KIND": "kafka"}},
		{"bad crosstab", map[string]string{"CHATSYNC_CROSSTAB_KIND": "bus"}},
		{"bad multiplier", map[string]string{"CHATSYNC_TRANSPORT_BACKOFF_MULTIPLIER": "0.5"}},
		{"bad jitter", map[string]string{"CHATSYNC_TRANSPORT_BACKOFF_JITTER": "1.5"}},
		{"bad page", map[string]string{"CHATSYNC_CHAT_PAGE_SIZE": "0"}},
		{"stale below heartbeat", map[string]string{"CHATSYNC_TRANSPORT_STALE_THRESHOLD": "10s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
