package main

import (
	"testing"
	"time"

	"chatsync/global/config"
	"chatsync/module/chat/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	ref, err := parseRef("42")
	require.NoError(t, err)
	assert.Equal(t, model.ByID(42), ref)

	ref, err = parseRef("@bob")
	require.NoError(t, err)
	assert.Equal(t, model.ByPeer("bob"), ref)

	for _, bad := range []string{"", "@", "0", "-3", "abc"} {
		_, err := parseRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestSessionConfigMapping(t *testing.T) {
	cfg := &config.Config{}
	cfg.Transport.HeartbeatInterval = 15 * time.Second
	cfg.Transport.MaxReconnectAttempts = 4
	cfg.Transport.OutboundQueueLimit = 100
	cfg.Chat.PageSize = 50
	cfg.Chat.TypingTTL = 5 * time.Second
	cfg.Chat.DedupeSize = 64

	sc := sessionConfig(cfg)
	assert.Equal(t, 15*time.Second, sc.Transport.HeartbeatInterval)
	assert.Equal(t, 4, sc.Transport.MaxReconnectAttempts)
	assert.Equal(t, 100, sc.Transport.OutboundQueueLimit)
	assert.Equal(t, 50, sc.PageSize)
	assert.Equal(t, 5*time.Second, sc.Ephemeral.TypingTTL)
	assert.Equal(t, 64, sc.Dispatcher.DedupeSize)
}
