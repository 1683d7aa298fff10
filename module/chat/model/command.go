package model

import "time"

// Command builders for the outbound destinations. Each returns the envelope
// to publish; callers own the destination constant.

func base(t EventType, chatID, userID int64, now time.Time) Envelope {
	return Envelope{Type: t, ChatID: chatID, UserID: userID, Timestamp: At(now)}
}

func SendCommand(chatID, userID int64, username, text string, replyTo *int64, now time.Time) Envelope {
	e := base(TypeChat, chatID, userID, now)
	e.Username = username
	e.Content = text
	e.ReplyTo = replyTo
	return e
}

func EditCommand(chatID, userID, messageID int64, text string, now time.Time) Envelope {
	e := base(TypeChat, chatID, userID, now)
	e.MessageID = messageID
	e.Content = text
	e.IsEdited = true
	return e
}

func DeleteCommand(chatID, userID, messageID int64, now time.Time) Envelope {
	e := base(TypeChat, chatID, userID, now)
	e.MessageID = messageID
	e.IsDeleted = true
	return e
}

func ReadCommand(chatID, userID, messageID int64, now time.Time) Envelope {
	e := base(TypeRead, chatID, userID, now)
	e.MessageID = messageID
	e.IsRead = true
	return e
}

func TypingCommand(chatID, userID int64, username string, now time.Time) Envelope {
	e := base(TypeTyping, chatID, userID, now)
	e.Username = username
	return e
}

func SubscribeNotice(chatID, userID int64, now time.Time) Envelope {
	return base(TypeSubscribe, chatID, userID, now)
}

func HeartbeatCommand(userID int64, now time.Time) Envelope {
	return base(TypeHeartbeat, 0, userID, now)
}

// AdminChangeCommand announces a promotion or demotion of target. The
// structured kind lets receivers render the line without parsing content.
func AdminChangeCommand(chatID, userID int64, username string, targetID int64, target string, promotion bool, now time.Time) Envelope {
	e := base(TypeChatUpdate, chatID, userID, now)
	e.Username = username
	e.UpdateType = UpdateAdminChanged
	e.TargetUserID = targetID
	e.TargetUsername = target
	e.IsPromotion = &promotion
	kind := SystemAdminGranted
	if !promotion {
		kind = SystemAdminRevoked
	}
	e.SystemKind = kind
	e.SystemParams = map[string]any{ParamActor: username, ParamTarget: target, ParamTargetUserID: targetID}
	return e
}

func MemberAddedCommand(chatID, userID int64, username, target string, now time.Time) Envelope {
	e := base(TypeChatUpdate, chatID, userID, now)
	e.Username = username
	e.UpdateType = UpdateMemberAdded
	e.TargetUsername = target
	e.SystemKind = SystemMemberAdded
	e.SystemParams = map[string]any{ParamActor: username, ParamTarget: target}
	return e
}

func MemberRemovedCommand(chatID, userID int64, username string, targetID int64, target string, now time.Time) Envelope {
	e := base(TypeChatUpdate, chatID, userID, now)
	e.Username = username
	e.UpdateType = UpdateMemberRemoved
	e.TargetUserID = targetID
	e.TargetUsername = target
	e.SystemKind = SystemMemberRemoved
	e.SystemParams = map[string]any{ParamActor: username, ParamTarget: target, ParamTargetUserID: targetID}
	return e
}

func SettingsChangedCommand(chatID, userID int64, username, chatName string, now time.Time) Envelope {
	e := base(TypeChatUpdate, chatID, userID, now)
	e.Username = username
	e.UpdateType = UpdateSettingsChanged
	e.ChatName = chatName
	e.SystemKind = SystemSettingsChanged
	e.SystemParams = map[string]any{ParamActor: username, ParamChatName: chatName}
	return e
}

// GameCommand builds the envelope for the /app/game.* destinations. data is
// opaque to the client; game rules live on the server.
func GameCommand(t EventType, gameID string, chatID, userID int64, username string, data map[string]any, now time.Time) Envelope {
	e := base(t, chatID, userID, now)
	e.Username = username
	e.GameID = gameID
	e.Data = data
	return e
}
