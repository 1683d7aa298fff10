package credential

import (
	"errors"
	"testing"
	"time"

	"chatsync/tools/errs"
	"chatsync/tools/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func token(t *testing.T, uid int64, ttl time.Duration) string {
	opts := security.DefaultOptions([]byte("dev"))
	opts.TTL = ttl
	tok, _, err := security.Generate(opts, uid, "user")
	require.NoError(t, err)
	return tok
}

func TestSetAndRead(t *testing.T) {
	s := NewJWTSource(zap.NewNop())
	_, ok := s.Credential()
	assert.False(t, ok)

	c, err := s.Set(token(t, 5, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.UserID)

	got, ok := s.Credential()
	require.True(t, ok)
	assert.Equal(t, c, got)
}

func TestReplaceNotifiesButFirstSetDoesNot(t *testing.T) {
	s := NewJWTSource(zap.NewNop())
	var reasons []string
	s.OnInvalidated(func(r string) { reasons = append(reasons, r) })

	_, err := s.Set(token(t, 5, time.Hour))
	require.NoError(t, err)
	assert.Empty(t, reasons)

	_, err = s.Set(token(t, 5, 2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"replaced"}, reasons)
}

func TestInvalidate(t *testing.T) {
	s := NewStatic(Credential{UserID: 1, Token: "t"})
	var reasons []string
	cancel := s.OnInvalidated(func(r string) { reasons = append(reasons, r) })

	s.Invalidate("auth rejected")
	s.Invalidate("again")
	_, ok := s.Credential()
	assert.False(t, ok)
	assert.Equal(t, []string{"auth rejected"}, reasons)

	cancel()
	_, _ = s.Set(token(t, 1, time.Hour))
	s.Invalidate("x")
	assert.Len(t, reasons, 1)
}

func TestExpiredCountsAsAbsent(t *testing.T) {
	now := time.Now()
	s := NewStatic(Credential{UserID: 1, Token: "t", ExpiresAt: now.Add(time.Minute)})
	s.now = func() time.Time { return now }
	_, ok := s.Credential()
	assert.True(t, ok)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok = s.Credential()
	assert.False(t, ok)
}

func TestSetRejectsBadToken(t *testing.T) {
	s := NewJWTSource(zap.NewNop())
	_, err := s.Set("garbage")
	assert.True(t, errors.Is(err, errs.ErrNoCredential))

	s.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	_, err = s.Set(token(t, 1, time.Hour))
	assert.True(t, errors.Is(err, errs.ErrNoCredential))
}
