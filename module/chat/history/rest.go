package history

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatsync/module/chat/model"
	"chatsync/tools/errs"

	"github.com/go-resty/resty/v2"
)

const OlderMessagesPath = "/api/c/get_older_messages"

type olderRequest struct {
	ChatID   int64  `json:"chatId,omitempty"`
	From     string `json:"from,omitempty"` // peer username of a direct chat
	BeforeID int64  `json:"beforeId,omitempty"`
	Limit    int    `json:"limit"`
}

type restMessage struct {
	ID          int64           `json:"id"`
	Text        string          `json:"text"`
	Author      string          `json:"author"`
	AuthorID    int64           `json:"authorId"`
	Time        model.Timestamp `json:"time"`
	IsDeleted   bool            `json:"isDeleted"`
	IsEdited    bool            `json:"isEdited"`
	IsSystem    bool            `json:"isSystem"`
	IsRead      bool            `json:"isRead"`
	ReplyTo     *int64          `json:"replyTo"`
	IsForwarded bool            `json:"isForwarded"`
}

type olderResponse struct {
	Status   bool          `json:"status"`
	ChatID   int64         `json:"chatId"`
	Messages []restMessage `json:"messages"`
	HasMore  bool          `json:"hasMore"`
}

func (m restMessage) toMessage(chatID int64) model.Message {
	out := model.Message{
		ID:             m.ID,
		ConversationID: chatID,
		AuthorID:       m.AuthorID,
		AuthorName:     m.Author,
		Text:           m.Text,
		SentAt:         m.Time.Time,
		ReplyTo:        m.ReplyTo,
		Flags: model.Flags{
			Deleted:   m.IsDeleted,
			Edited:    m.IsEdited,
			System:    m.IsSystem,
			Forwarded: m.IsForwarded,
		},
		ReadByRecipient: m.IsRead,
	}
	if out.Flags.Deleted {
		out.Text = model.DeletedPlaceholder
	}
	return out
}

// RestLoader reads history from the chat REST API.
type RestLoader struct {
	httpClient *resty.Client
	token      func() (string, bool)
}

func NewRestLoader(baseURL string, timeout time.Duration, token func() (string, bool)) *RestLoader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", "chatsync/1.0").
		SetTimeout(timeout)
	return &RestLoader{httpClient: httpClient, token: token}
}

func (l *RestLoader) FetchMessages(ctx context.Context, ref model.ConversationRef, limit int, beforeID int64) (Page, error) {
	tok, ok := l.token()
	if !ok {
		return Page{}, errs.ErrNoCredential.WrapMsg("fetch history", "ref", ref.String())
	}

	var resp olderResponse
	httpResp, err := l.httpClient.R().
		SetContext(ctx).
		SetAuthToken(tok).
		SetHeader("Content-Type", "application/json").
		SetBody(olderRequest{ChatID: ref.ID, From: ref.Peer, BeforeID: beforeID, Limit: limit}).
		SetResult(&resp).
		Post(OlderMessagesPath)
	if err != nil {
		return Page{}, fmt.Errorf("history request failed: %w", err)
	}
	switch {
	case httpResp.StatusCode() == http.StatusUnauthorized:
		return Page{}, errs.ErrUnauthorized.WrapMsg("fetch history", "ref", ref.String())
	case httpResp.IsError():
		return Page{}, fmt.Errorf("history error (%d): %s", httpResp.StatusCode(), httpResp.String())
	case !resp.Status:
		return Page{}, fmt.Errorf("history request refused for %s", ref)
	}

	chatID := resp.ChatID
	if chatID == 0 {
		chatID = ref.ID
	}
	page := Page{ConversationID: chatID, HasMore: resp.HasMore, Messages: make([]model.Message, 0, len(resp.Messages))}
	for _, m := range resp.Messages {
		page.Messages = append(page.Messages, m.toMessage(chatID))
	}
	return page, nil
}
