package idem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeenOnceWithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	s, err := newMem(16, time.Second, func() time.Time { return now })
	require.NoError(t, err)

	seen, _ := s.SeenOnce("a", 0)
	assert.False(t, seen)
	seen, _ = s.SeenOnce("a", 0)
	assert.True(t, seen)

	now = now.Add(2 * time.Second)
	seen, _ = s.SeenOnce("a", 0)
	assert.False(t, seen, "expired key counts as new")
}

func TestSeenOnceEvictsOldest(t *testing.T) {
	s, err := NewMem(2, time.Minute)
	require.NoError(t, err)

	for _, k := range []string{"a", "b", "c"} {
		seen, _ := s.SeenOnce(k, 0)
		require.False(t, seen)
	}
	seen, _ := s.SeenOnce("a", 0)
	assert.False(t, seen, "a was evicted")
	seen, _ = s.SeenOnce("c", 0)
	assert.True(t, seen)
}
