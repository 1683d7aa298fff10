package game

import (
	"context"
	"testing"

	"chatsync/module/chat/model"
	"chatsync/service/subscription"
	"chatsync/service/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBus struct {
	published []string
	envs      []model.Envelope
	subs      map[subscription.Subscription]bool
}

func newBus() *fakeBus { return &fakeBus{subs: map[subscription.Subscription]bool{}} }

func (b *fakeBus) Publish(_ context.Context, dest string, payload any) (transport.PublishResult, error) {
	b.published = append(b.published, dest)
	b.envs = append(b.envs, payload.(model.Envelope))
	return transport.Sent, nil
}

func (b *fakeBus) Subscribe(_ context.Context, s subscription.Subscription) (subscription.Handle, error) {
	b.subs[s] = true
	return subscription.Handle(s.String()), nil
}

func (b *fakeBus) UnsubscribeKey(s subscription.Subscription) { delete(b.subs, s) }

func TestJoinActLeave(t *testing.T) {
	b := newBus()
	c := New(b, b, Player{UserID: 3, Username: "carol"}, zap.NewNop())

	require.NoError(t, c.Join(context.Background(), "g1"))
	assert.True(t, b.subs[subscription.ForGame("g1")])
	assert.True(t, c.Joined("g1"))

	var got []model.Envelope
	c.Observe("g1", func(e model.Envelope) { got = append(got, e) })
	var other []model.Envelope
	c.ObserveUser(func(e model.Envelope) { other = append(other, e) })

	c.Handle(model.Envelope{Type: model.TypeGameState, GameID: "g1"})
	c.Handle(model.Envelope{Type: model.TypeGameInvite, GameID: "g2"})
	assert.Len(t, got, 1)
	assert.Len(t, other, 1)

	require.NoError(t, c.Act(context.Background(), "g1", "move", map[string]any{"cell": 4}))
	require.NoError(t, c.Invite(context.Background(), "g1", "dave"))
	require.NoError(t, c.Create(context.Background(), 9, nil))
	assert.Equal(t, []string{model.DestGameJoin, model.DestGameAction, model.DestGameInvite, model.DestGameCreate}, b.published)
	assert.Equal(t, "move", b.envs[1].Data["action"])
	assert.Equal(t, "dave", b.envs[2].TargetUsername)
	assert.Equal(t, int64(9), b.envs[3].ChatID)

	c.Leave("g1")
	assert.False(t, b.subs[subscription.ForGame("g1")])
	c.Handle(model.Envelope{Type: model.TypeGameEnd, GameID: "g1"})
	assert.Len(t, got, 1)
	assert.Len(t, other, 2)
}

func TestDecode(t *testing.T) {
	type state struct {
		Turn  int64   `json:"turn"`
		Board []int64 `json:"board"`
	}
	s, err := Decode[state](model.Envelope{Data: map[string]any{"turn": float64(2), "board": []any{float64(1), float64(0)}}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Turn)
	assert.Equal(t, []int64{1, 0}, s.Board)

	empty, err := Decode[state](model.Envelope{})
	require.NoError(t, err)
	assert.Zero(t, empty.Turn)
}
