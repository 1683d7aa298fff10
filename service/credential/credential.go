package credential

import (
	"sync"
	"time"

	"chatsync/logger"
	"chatsync/tools/errs"
	"chatsync/tools/notify"
	"chatsync/tools/security"

	"go.uber.org/zap"
)

// Credential identifies the current user to the broker and the REST API.
type Credential struct {
	UserID    int64
	Username  string
	Token     string
	ExpiresAt time.Time
}

func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Source is owned by the embedding application. OnInvalidated fires after the
// credential was replaced or dropped; observers re-read Credential().
type Source interface {
	Credential() (Credential, bool)
	OnInvalidated(fn func(reason string)) (cancel func())
	Invalidate(reason string)
}

// JWTSource derives the user from the token claims without verifying the
// signature.
type JWTSource struct {
	log   *zap.Logger
	now   func() time.Time
	hub   *notify.Hub[string]
	mu    sync.RWMutex
	cred  Credential
	valid bool
}

func NewJWTSource(log *zap.Logger) *JWTSource {
	log = logger.Named(log, "credential")
	return &JWTSource{log: log, now: time.Now, hub: notify.NewHub[string](log)}
}

// Set installs token. Observers are notified when a credential was already
// present, so a refreshed token reconnects a live session.
func (s *JWTSource) Set(token string) (Credential, error) {
	claims, err := security.ParseUnverified(token)
	if err != nil {
		return Credential{}, errs.ErrNoCredential.WrapMsg("parse token", "err", err)
	}
	c := Credential{UserID: claims.UserID, Username: claims.Username, Token: token, ExpiresAt: claims.ExpiresAt}
	if c.Expired(s.now()) {
		return Credential{}, errs.ErrNoCredential.WrapMsg("token expired", "exp", c.ExpiresAt)
	}

	s.mu.Lock()
	had := s.valid
	s.cred, s.valid = c, true
	s.mu.Unlock()

	s.log.Info("credential set", zap.Int64("userId", c.UserID), zap.String("token", security.HashToken(token)))
	if had {
		s.hub.Emit("replaced")
	}
	return c, nil
}

// Credential returns the current credential; an expired one counts as absent.
func (s *JWTSource) Credential() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.valid || s.cred.Expired(s.now()) {
		return Credential{}, false
	}
	return s.cred, true
}

func (s *JWTSource) OnInvalidated(fn func(reason string)) (cancel func()) {
	return s.hub.Subscribe(fn)
}

func (s *JWTSource) Invalidate(reason string) {
	s.mu.Lock()
	was := s.valid
	s.cred, s.valid = Credential{}, false
	s.mu.Unlock()
	if !was {
		return
	}
	s.log.Warn("credential invalidated", zap.String("reason", reason))
	s.hub.Emit(reason)
}

// NewStatic returns a source preloaded with c, for tools and tests.
func NewStatic(c Credential) *JWTSource {
	s := NewJWTSource(nil)
	s.cred, s.valid = c, true
	return s
}
