package history

import (
	"context"

	"chatsync/module/chat/model"
)

// Page is one batch of confirmed messages, ordered by id ascending.
type Page struct {
	ConversationID int64
	Messages       []model.Message
	HasMore        bool
}

// Loader fetches history. beforeID 0 asks for the newest page.
type Loader interface {
	FetchMessages(ctx context.Context, ref model.ConversationRef, limit int, beforeID int64) (Page, error)
}
