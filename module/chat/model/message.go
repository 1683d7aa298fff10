package model

import (
	"strconv"
	"time"
)

// DeletedPlaceholder replaces the text of a deleted message. The entry itself
// stays in the list so replies keep resolving.
const DeletedPlaceholder = "This message was deleted"

// ConversationRef addresses a conversation for the "open" operation. Direct
// conversations may be opened by peer username before their id is known.
type ConversationRef struct {
	ID   int64  // conversation id, 0 when unknown
	Peer string // peer username for direct conversations
}

func ByID(id int64) ConversationRef          { return ConversationRef{ID: id} }
func ByPeer(username string) ConversationRef { return ConversationRef{Peer: username} }

func (r ConversationRef) IsZero() bool { return r.ID == 0 && r.Peer == "" }

func (r ConversationRef) String() string {
	if r.ID != 0 {
		return strconv.FormatInt(r.ID, 10)
	}
	return "@" + r.Peer
}

type Flags struct {
	Deleted   bool `json:"deleted"`
	Edited    bool `json:"edited"`
	System    bool `json:"system"`
	Forwarded bool `json:"forwarded"`
}

// Message is one entry of a conversation's visible list.
type Message struct {
	ID              int64          `json:"id"`             // server id (>0) or provisional id (<0) while pending
	ConversationID  int64          `json:"conversationId"` // owning conversation
	AuthorID        int64          `json:"authorId"`       // 0 for system messages without an author
	AuthorName      string         `json:"authorName"`     // username snapshot
	Text            string         `json:"text"`
	SentAt          time.Time      `json:"sentAt"`
	ReplyTo         *int64         `json:"replyTo,omitempty"`
	Flags           Flags          `json:"flags"`
	ReadByRecipient bool           `json:"readByRecipient"`
	SystemKind      SystemKind     `json:"systemKind,omitempty"`
	SystemParams    map[string]any `json:"systemParams,omitempty"`
	Pending         bool           `json:"pending"`
}

// Clone returns a deep copy; list owners hand out clones only.
func (m Message) Clone() Message {
	out := m
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	if m.SystemParams != nil {
		out.SystemParams = make(map[string]any, len(m.SystemParams))
		for k, v := range m.SystemParams {
			out.SystemParams[k] = v
		}
	}
	return out
}

// Confirmed reports whether the message carries a server id.
func (m Message) Confirmed() bool { return !m.Pending && m.ID > 0 }

// Less orders confirmed messages by id, falling back to send time for equal ids.
func Less(a, b Message) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.SentAt.Before(b.SentAt)
}
