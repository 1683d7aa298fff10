package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"chatsync/global/config"
	"chatsync/logger"
	"chatsync/module/chat/ephemeral"
	"chatsync/module/chat/history"
	"chatsync/module/chat/model"
	"chatsync/service/credential"
	"chatsync/service/crosstab"
	"chatsync/service/dispatcher"
	"chatsync/service/natsx"
	"chatsync/service/session"
	storageredis "chatsync/service/storage/redis"
	"chatsync/service/transport"
	"chatsync/service/wsx"
	"chatsync/tools/idem"
	"chatsync/tools/ids"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is everything one command needs, built from the environment.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	creds   *credential.JWTSource
	sess    *session.Session
	closers []func()
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	envPath, _ := cmd.Flags().GetString("env")
	cfg, err := config.Load(envPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat == "json")
	log := logger.Log
	ids.SetNodeID(cfg.NodeID)

	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.API.Token
	}
	creds := credential.NewJWTSource(log)
	if _, err := creds.Set(token); err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}

	a := &app{cfg: cfg, log: log, creds: creds}
	driver, err := a.driver()
	if err != nil {
		return nil, err
	}
	ct, err := a.crossTab(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	loader := history.NewRestLoader(cfg.API.BaseURL, cfg.API.Timeout, func() (string, bool) {
		c, ok := creds.Credential()
		return c.Token, ok
	})

	sess, err := session.New(sessionConfig(cfg), session.Deps{
		Driver:      driver,
		Credentials: creds,
		Loader:      loader,
		CrossTab:    ct,
		Logger:      log,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.sess = sess
	return a, nil
}

func sessionConfig(cfg *config.Config) session.Config {
	t := cfg.Transport
	return session.Config{
		Transport: transport.Config{
			ConnectTimeout:       t.ConnectTimeout,
			HeartbeatInterval:    t.HeartbeatInterval,
			HealthCheckInterval:  t.HealthCheckInterval,
			StaleThreshold:       t.StaleThreshold,
			BackoffBase:          t.BackoffBase,
			BackoffMax:           t.BackoffMax,
			BackoffMultiplier:    t.BackoffMultiplier,
			BackoffJitter:        t.BackoffJitter,
			MaxReconnectAttempts: t.MaxReconnectAttempts,
			FinalRetryDelay:      t.FinalRetryDelay,
			OutboundQueueLimit:   t.OutboundQueueLimit,
		},
		Dispatcher: dispatcher.Config{
			DedupeTTL:  cfg.Chat.DedupeTTL,
			DedupeSize: cfg.Chat.DedupeSize,
		},
		Ephemeral: ephemeral.Config{
			TypingTTL:          cfg.Chat.TypingTTL,
			TypingSendInterval: cfg.Chat.TypingSendInterval,
			RefreshDelay:       cfg.Chat.RefreshDelay,
		},
		PageSize: cfg.Chat.PageSize,
	}
}

func (a *app) driver() (transport.Driver, error) {
	b := a.cfg.Broker
	switch b.Kind {
	case config.BrokerNATS:
		// NATS may redeliver a message on the same subject; drop repeats by Nats-Msg-Id
		store, err := idem.NewMem(a.cfg.Chat.DedupeSize, a.cfg.Chat.DedupeTTL)
		if err != nil {
			return nil, err
		}
		return natsx.NewDriver(natsx.NatsxConfig{
			Servers:     b.URLs,
			Name:        b.Name,
			Timeout:     b.Timeout,
			Middlewares: []natsx.NatsxMiddleware{natsx.NatsxIdemMiddleware(store, a.cfg.Chat.DedupeTTL)},
			Logger:      a.log,
		})
	default:
		return wsx.NewDriver(wsx.Config{URL: b.URLs[0], HandshakeTimeout: b.Timeout, Logger: a.log})
	}
}

func (a *app) crossTab(ctx context.Context) (crosstab.Channel, error) {
	ct := a.cfg.CrossTab
	origin := fmt.Sprintf("node-%d-%s", a.cfg.NodeID, uuid.NewString()[:8])
	if ct.Kind != config.CrossTabRedis {
		return crosstab.NewBus().Join(origin, a.log), nil
	}
	rdb, err := storageredis.New(ctx, storageredis.Config{Addr: ct.RedisAddr, Password: ct.RedisPassword, DB: ct.RedisDB})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	ch, err := crosstab.NewRedis(ctx, rdb, ct.Channel, origin, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = ch.Close() })
	return ch, nil
}

func (a *app) close() {
	if a.sess != nil {
		a.sess.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

// parseRef accepts a numeric conversation id or @username for a direct
// conversation.
func parseRef(arg string) (model.ConversationRef, error) {
	if peer, ok := strings.CutPrefix(arg, "@"); ok && peer != "" {
		return model.ByPeer(peer), nil
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return model.ConversationRef{}, fmt.Errorf("conversation must be a positive id or @username, got %q", arg)
	}
	return model.ByID(id), nil
}
