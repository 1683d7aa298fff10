package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// EventType is the primary `type` tag of an envelope.
type EventType string

const (
	TypeChat       EventType = "CHAT"
	TypeSubscribe  EventType = "SUBSCRIBE"
	TypeTyping     EventType = "TYPING"
	TypeRead       EventType = "READ"
	TypeChatUpdate EventType = "CHAT_UPDATE"
	TypeHeartbeat  EventType = "HEARTBEAT"

	TypeGameCreate EventType = "GAME_CREATE"
	TypeGameJoin   EventType = "GAME_JOIN"
	TypeGameAction EventType = "GAME_ACTION"
	TypeGameState  EventType = "GAME_STATE"
	TypeGameInvite EventType = "GAME_INVITE"
	TypeGameEnd    EventType = "GAME_END"
)

func (t EventType) IsGame() bool { return strings.HasPrefix(string(t), "GAME_") }

// UpdateType is the secondary tag of CHAT_UPDATE envelopes.
type UpdateType string

const (
	UpdateNewChat         UpdateType = "NEW_CHAT"
	UpdateMemberAdded     UpdateType = "MEMBER_ADDED"
	UpdateMemberRemoved   UpdateType = "MEMBER_REMOVED"
	UpdateMemberLeft      UpdateType = "MEMBER_LEFT"
	UpdateAdminChanged    UpdateType = "ADMIN_CHANGED"
	UpdateSettingsChanged UpdateType = "SETTINGS_CHANGED"
	UpdateChatDeleted     UpdateType = "CHAT_DELETED"
)

// Envelope is the record carried on every inbound and outbound destination.
type Envelope struct {
	Type           EventType      `json:"type"`
	ChatID         int64          `json:"chatId,omitempty"`
	UserID         int64          `json:"userId,omitempty"`
	Username       string         `json:"username,omitempty"`
	Content        string         `json:"content,omitempty"`
	Timestamp      Timestamp      `json:"timestamp"`
	MessageID      int64          `json:"messageId,omitempty"`
	IsEdited       bool           `json:"isEdited,omitempty"`
	IsDeleted      bool           `json:"isDeleted,omitempty"`
	IsSystem       bool           `json:"isSystem,omitempty"`
	ReplyTo        *int64         `json:"replyTo,omitempty"`
	IsForwarded    bool           `json:"isForwarded,omitempty"`
	IsRead         bool           `json:"isRead,omitempty"`
	IsGroup        bool           `json:"isGroup,omitempty"`
	ChatName       string         `json:"chatName,omitempty"`
	UpdateType     UpdateType     `json:"updateType,omitempty"`
	UpdateMessage  string         `json:"updateMessage,omitempty"`
	TargetUserID   int64          `json:"targetUserId,omitempty"`
	TargetUsername string         `json:"targetUsername,omitempty"`
	IsPromotion    *bool          `json:"isPromotion,omitempty"`
	SystemKind     SystemKind     `json:"systemKind,omitempty"`
	SystemParams   map[string]any `json:"systemParams,omitempty"`
	GameID         string         `json:"gameId,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// ToMessage converts a CHAT envelope into a confirmed message.
func (e *Envelope) ToMessage() Message {
	m := Message{
		ID:             e.MessageID,
		ConversationID: e.ChatID,
		AuthorID:       e.UserID,
		AuthorName:     e.Username,
		Text:           e.Content,
		SentAt:         e.Timestamp.Time,
		Flags: Flags{
			Deleted:   e.IsDeleted,
			Edited:    e.IsEdited,
			System:    e.IsSystem,
			Forwarded: e.IsForwarded,
		},
		ReadByRecipient: e.IsRead,
		SystemKind:      e.SystemKind,
		SystemParams:    e.SystemParams,
	}
	if e.ReplyTo != nil {
		r := *e.ReplyTo
		m.ReplyTo = &r
	}
	if m.Flags.Deleted {
		m.Text = DeletedPlaceholder
	}
	return m
}

// Timestamp accepts the layouts produced by the known servers: RFC3339,
// zone-less ISO-8601 (treated as UTC), epoch seconds or milliseconds, and
// the [y,m,d,h,mi,s,nanos] array form.
type Timestamp struct {
	time.Time
}

func At(t time.Time) Timestamp { return Timestamp{Time: t} }

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		return t.parseString(s)
	case '[':
		var parts []int
		if err := json.Unmarshal(b, &parts); err != nil {
			return fmt.Errorf("timestamp array: %w", err)
		}
		return t.parseArray(parts)
	default:
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("timestamp number: %w", err)
		}
		t.Time = fromEpoch(f)
		return nil
	}
}

func (t *Timestamp) parseString(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	for _, layout := range zonelessLayouts {
		if v, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp %q", s)
}

func (t *Timestamp) parseArray(p []int) error {
	if len(p) < 3 {
		return fmt.Errorf("timestamp array too short: %v", p)
	}
	get := func(i int) int {
		if i < len(p) {
			return p[i]
		}
		return 0
	}
	t.Time = time.Date(p[0], time.Month(p[1]), p[2], get(3), get(4), get(5), get(6), time.UTC)
	return nil
}

// fromEpoch treats values above 1e12 as milliseconds.
func fromEpoch(f float64) time.Time {
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
