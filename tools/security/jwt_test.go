package security

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateThenParse(t *testing.T) {
	tok, exp, err := Generate(DefaultOptions([]byte("secret")), 42, "alice")
	require.NoError(t, err)

	c, err := ParseUnverified(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.UserID)
	assert.Equal(t, "alice", c.Username)
	assert.WithinDuration(t, exp, c.ExpiresAt, time.Second)
}

func TestParseUserIDFallback(t *testing.T) {
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub":     "alice@example.com",
		"user_id": float64(9),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	c, err := ParseUnverified(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(9), c.UserID)
	assert.True(t, c.ExpiresAt.IsZero())
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := ParseUnverified("not-a-token")
	assert.Error(t, err)

	tok, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "x"}).SignedString([]byte("k"))
	_, err = ParseUnverified(tok)
	assert.Error(t, err)
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: []byte("s"), Alg: "RS256"}, 1, "")
	assert.Error(t, err)
}

func TestHashTokenIsStable(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), len("sha256:")+16)
}
