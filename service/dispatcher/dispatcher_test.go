package dispatcher

import (
	"context"
	"errors"
	"testing"

	"chatsync/module/chat/model"
	"chatsync/service/transport"
	"chatsync/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	events []Event
}

func (r *recorder) register(d *Dispatcher, cats ...Category) {
	for _, c := range cats {
		d.Register(HandlerFunc(c, func(_ context.Context, ev Event) error {
			r.events = append(r.events, ev)
			return nil
		}))
	}
}

func newDispatcher(t *testing.T) (*Dispatcher, *recorder) {
	d, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)
	r := &recorder{}
	r.register(d, Message, Typing, ReadReceipt, ConversationUpdate, Membership, Game)
	return d, r
}

func frame(dest, body string) transport.Frame {
	return transport.Frame{Destination: dest, Body: []byte(body)}
}

func TestClassify(t *testing.T) {
	cases := map[Category][]model.Envelope{
		Message:            {{Type: model.TypeChat}},
		Typing:             {{Type: model.TypeTyping}},
		ReadReceipt:        {{Type: model.TypeRead}},
		Game:               {{Type: model.TypeGameState}, {Type: model.TypeGameEnd}},
		ConversationUpdate: {{Type: model.TypeChatUpdate, UpdateType: model.UpdateNewChat}, {Type: model.TypeChatUpdate, UpdateType: model.UpdateSettingsChanged}, {Type: model.TypeChatUpdate, UpdateType: model.UpdateChatDeleted}},
		Membership:         {{Type: model.TypeChatUpdate, UpdateType: model.UpdateMemberAdded}, {Type: model.TypeChatUpdate, UpdateType: model.UpdateMemberRemoved}, {Type: model.TypeChatUpdate, UpdateType: model.UpdateAdminChanged}, {Type: model.TypeChatUpdate, UpdateType: model.UpdateMemberLeft}},
		Unknown:            {{Type: model.TypeChatUpdate, UpdateType: "WHATEVER"}, {Type: model.TypeHeartbeat}, {Type: "NOPE"}},
	}
	for want, envs := range cases {
		for _, e := range envs {
			assert.Equal(t, want, Classify(e), "%s/%s", e.Type, e.UpdateType)
		}
	}
}

func TestHandleFrameRoutesMessage(t *testing.T) {
	d, r := newDispatcher(t)
	err := d.HandleFrame(context.Background(), frame("/user/queue/chat.5",
		`{"type":"CHAT","chatId":5,"userId":2,"username":"bob","content":"hi","messageId":10,"timestamp":"2026-01-02T03:04:05"}`))
	require.NoError(t, err)

	require.Len(t, r.events, 1)
	ev := r.events[0]
	assert.Equal(t, Message, ev.Category)
	assert.Equal(t, "/user/queue/chat.5", ev.Destination)
	assert.Equal(t, int64(10), ev.Envelope.MessageID)
	assert.Equal(t, "hi", ev.Envelope.Content)
}

func TestMalformedFrameDropped(t *testing.T) {
	d, r := newDispatcher(t)
	err := d.HandleFrame(context.Background(), frame("/topic/x", `{"type":`))
	assert.True(t, errors.Is(err, errs.ErrMalformedEvent))
	var ce *errs.CodeError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Detail, "destination=/topic/x")
	assert.Contains(t, ce.Detail, "decode envelope")
	assert.Empty(t, errs.ErrMalformedEvent.Detail)
	assert.Empty(t, r.events)
}

func TestUnknownDropped(t *testing.T) {
	d, r := newDispatcher(t)
	require.NoError(t, d.HandleFrame(context.Background(), frame("/topic/x", `{"type":"CHAT_UPDATE","updateType":"MYSTERY"}`)))
	assert.Empty(t, r.events)
}

func TestDualPathDeduplicated(t *testing.T) {
	d, r := newDispatcher(t)
	body := `{"type":"CHAT","chatId":5,"userId":2,"content":"hi","messageId":10,"timestamp":1767323045000}`
	require.NoError(t, d.HandleFrame(context.Background(), frame("/user/queue/chat.5", body)))
	require.NoError(t, d.HandleFrame(context.Background(), frame("/topic/user.7.chat.5", body)))
	assert.Len(t, r.events, 1)

	edited := `{"type":"CHAT","chatId":5,"userId":2,"content":"hi!","messageId":10,"isEdited":true,"timestamp":1767323045000}`
	require.NoError(t, d.HandleFrame(context.Background(), frame("/user/queue/chat.5", edited)))
	assert.Len(t, r.events, 2, "an edit of the same id is a different event")
}

func TestTypingNeverDeduplicated(t *testing.T) {
	d, r := newDispatcher(t)
	body := `{"type":"TYPING","chatId":5,"userId":2,"username":"bob"}`
	for i := 0; i < 3; i++ {
		require.NoError(t, d.HandleFrame(context.Background(), frame("/topic/chat.5/typing", body)))
	}
	assert.Len(t, r.events, 3)
}

func TestHandlerPanicRecovered(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Register(HandlerFunc(Typing, func(context.Context, Event) error { panic("boom") }))

	err := d.HandleFrame(context.Background(), frame("/topic/chat.1/typing", `{"type":"TYPING","chatId":1}`))
	require.Error(t, err)
	assert.Equal(t, errs.ServerInternalError, errs.Code(err))
}

func TestLegacyEnrichment(t *testing.T) {
	d, r := newDispatcher(t)
	require.NoError(t, d.HandleFrame(context.Background(), frame("/user/queue/chat-updates",
		`{"type":"CHAT_UPDATE","updateType":"MEMBER_REMOVED","chatId":3,"content":"alice removed bob from the group"}`)))
	require.NoError(t, d.HandleFrame(context.Background(), frame("/user/queue/chat.3",
		`{"type":"CHAT","chatId":3,"messageId":4,"isSystem":true,"content":"carol left the group"}`)))
	require.NoError(t, d.HandleFrame(context.Background(), frame("/user/queue/chat.3",
		`{"type":"CHAT","chatId":3,"messageId":5,"content":"alice added bob to the group"}`)))

	require.Len(t, r.events, 3)
	assert.Equal(t, model.SystemMemberRemoved, r.events[0].Envelope.SystemKind)
	assert.Equal(t, "bob", r.events[0].Envelope.SystemParams[model.ParamTarget])
	assert.Equal(t, model.SystemMemberLeft, r.events[1].Envelope.SystemKind)
	assert.Empty(t, r.events[2].Envelope.SystemKind, "plain chat text is never reinterpreted")
}

func TestStructuredKindWins(t *testing.T) {
	d, r := newDispatcher(t)
	require.NoError(t, d.HandleFrame(context.Background(), frame("/user/queue/chat-updates",
		`{"type":"CHAT_UPDATE","updateType":"ADMIN_CHANGED","chatId":3,"content":"alice made bob an admin","systemKind":"admin_revoked"}`)))
	require.Len(t, r.events, 1)
	assert.Equal(t, model.SystemAdminRevoked, r.events[0].Envelope.SystemKind)
}

func TestHandlerErrorReturned(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Register(HandlerFunc(ReadReceipt, func(context.Context, Event) error { return errors.New("nope") }))
	err := d.HandleFrame(context.Background(), frame("/user/7/queue/read-receipts", `{"type":"READ","chatId":1,"messageId":3}`))
	assert.EqualError(t, err, "nope")
}
