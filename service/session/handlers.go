package session

import (
	"context"

	"chatsync/service/dispatcher"
	"chatsync/tools/errs"

	"go.uber.org/zap"
)

func (s *Session) registerHandlers() {
	s.disp.Register(dispatcher.HandlerFunc(dispatcher.Message, s.onMessage))
	s.disp.Register(dispatcher.HandlerFunc(dispatcher.Typing, s.onTyping))
	s.disp.Register(dispatcher.HandlerFunc(dispatcher.ReadReceipt, s.onReadReceipt))
	s.disp.Register(dispatcher.HandlerFunc(dispatcher.ConversationUpdate, s.onMembership))
	s.disp.Register(dispatcher.HandlerFunc(dispatcher.Membership, s.onMembership))
	s.disp.Register(dispatcher.HandlerFunc(dispatcher.Game, s.onGame))
}

func (s *Session) onMessage(_ context.Context, ev dispatcher.Event) error {
	e := ev.Envelope
	if e.ChatID == 0 {
		return errs.ErrMalformedEvent.WrapMsg("chat event without chatId", "destination", ev.Destination)
	}
	c := s.conversation(e.ChatID)
	if c == nil {
		// only new messages from others count as unread
		if !e.IsEdited && !e.IsDeleted && e.UserID != s.Self().UserID {
			s.bumpUnread(e.ChatID)
		}
		return nil
	}
	// edits and deletes only touch loaded entries; an unknown id is outside
	// the loaded window and is picked up when that page is fetched
	switch {
	case e.IsDeleted:
		if !c.rec.OnDeleted(e.MessageID) {
			s.log.Debug("delete for unloaded message", zap.Int64("chatId", e.ChatID), zap.Int64("messageId", e.MessageID))
		}
	case e.IsEdited:
		if !c.rec.OnEdited(e.MessageID, e.Content) {
			s.log.Debug("edit for unloaded message", zap.Int64("chatId", e.ChatID), zap.Int64("messageId", e.MessageID))
		}
	default:
		c.rec.OnConfirmed(e.ToMessage())
	}
	return nil
}

func (s *Session) onTyping(_ context.Context, ev dispatcher.Event) error {
	if t := s.currentTracker(); t != nil {
		t.OnTyping(ev.Envelope)
	}
	return nil
}

// onReadReceipt handles receipts from the peer (mark own messages read) and
// from the current user in another tab (the conversation was read there).
func (s *Session) onReadReceipt(_ context.Context, ev dispatcher.Event) error {
	e := ev.Envelope
	if e.UserID == s.Self().UserID {
		s.resetUnread(e.ChatID)
		return nil
	}
	if c := s.conversation(e.ChatID); c != nil {
		c.rec.MarkRead(e.MessageID)
	}
	return nil
}

func (s *Session) onMembership(_ context.Context, ev dispatcher.Event) error {
	if t := s.currentTracker(); t != nil {
		t.OnMembership(ev.Envelope)
	}
	return nil
}

func (s *Session) onGame(_ context.Context, ev dispatcher.Event) error {
	if g := s.Games(); g != nil {
		g.Handle(ev.Envelope)
	}
	return nil
}
