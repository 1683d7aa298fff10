package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampLayouts(t *testing.T) {
	want := time.Date(2024, 3, 9, 10, 11, 12, 0, time.UTC)
	tests := []struct {
		name string
		raw  string
	}{
		{"rfc3339", `"2024-03-09T10:11:12Z"`},
		{"zoneless", `"2024-03-09T10:11:12"`},
		{"zoneless space", `"2024-03-09 10:11:12"`},
		{"epoch seconds", `1709979072`},
		{"epoch millis", `1709979072000`},
		{"array", `[2024,3,9,10,11,12]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &ts))
			assert.True(t, want.Equal(ts.Time), "got %s", ts.Time)
		})
	}

	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func TestEnvelopeToMessage(t *testing.T) {
	raw := `{"type":"CHAT","chatId":5,"userId":7,"username":"alice","content":"gone",
		"timestamp":"2024-03-09T10:11:12.5","messageId":99,"isDeleted":true,"replyTo":98}`
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))

	m := env.ToMessage()
	assert.Equal(t, int64(99), m.ID)
	assert.Equal(t, int64(5), m.ConversationID)
	assert.Equal(t, DeletedPlaceholder, m.Text)
	assert.True(t, m.Flags.Deleted)
	require.NotNil(t, m.ReplyTo)
	assert.Equal(t, int64(98), *m.ReplyTo)
	assert.True(t, m.Confirmed())
}

func TestCommandsRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cmd := AdminChangeCommand(5, 1, "alice", 2, "bob", false, now)
	b, err := json.Marshal(cmd)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "CHAT_UPDATE", got["type"])
	assert.Equal(t, "ADMIN_CHANGED", got["updateType"])
	assert.Equal(t, false, got["isPromotion"])
	assert.Equal(t, string(SystemAdminRevoked), got["systemKind"])
	assert.Equal(t, "2024-01-01T00:00:00Z", got["timestamp"])
}

func TestClone(t *testing.T) {
	r := int64(3)
	m := Message{ID: 1, ReplyTo: &r, SystemParams: map[string]any{"a": 1}}
	c := m.Clone()
	*c.ReplyTo = 4
	c.SystemParams["a"] = 2
	assert.Equal(t, int64(3), *m.ReplyTo)
	assert.Equal(t, 1, m.SystemParams["a"])
}

func TestParseMemberParams(t *testing.T) {
	p, err := ParseMemberParams(map[string]any{
		ParamActor:        "alice",
		ParamTarget:       "bob",
		ParamTargetUserID: "42",
	})
	require.NoError(t, err)
	assert.Equal(t, MemberParams{Actor: "alice", Target: "bob", TargetUserID: 42}, p)

	p, err = ParseMemberParams(map[string]any{ParamTargetUserID: float64(7)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.TargetUserID)

	p, err = ParseMemberParams(nil)
	require.NoError(t, err)
	assert.Equal(t, MemberParams{}, p)
}

func TestGameCommand(t *testing.T) {
	e := GameCommand(TypeGameAction, "g1", 0, 3, "carol", map[string]any{"move": "e4"}, time.Unix(0, 0))
	assert.True(t, e.Type.IsGame())
	assert.Equal(t, "g1", e.GameID)
	assert.Equal(t, "e4", e.Data["move"])
}
