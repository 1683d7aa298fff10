package model

import "fmt"

// Outbound command destinations.
const (
	AppPrefix = "/app"

	DestHeartbeat       = AppPrefix + "/heartbeat"
	DestChatSubscribe   = AppPrefix + "/chat.subscribe"
	DestChatSend        = AppPrefix + "/chat.send"
	DestChatTyping      = AppPrefix + "/chat.typing"
	DestChatEdit        = AppPrefix + "/chat.edit"
	DestChatDelete      = AppPrefix + "/chat.delete"
	DestChatRead        = AppPrefix + "/chat.read"
	DestAdminChanged    = AppPrefix + "/chat.admin-changed"
	DestMemberAdded     = AppPrefix + "/chat.member-added"
	DestMemberRemoved   = AppPrefix + "/chat.member-removed"
	DestSettingsChanged = AppPrefix + "/chat.settings-changed"

	DestGameCreate = AppPrefix + "/game.create"
	DestGameJoin   = AppPrefix + "/game.join"
	DestGameAction = AppPrefix + "/game.action"
	DestGameInvite = AppPrefix + "/game.invite"
)

// Inbound destinations. The per-user "/user/queue/..." forms are resolved by
// the broker for the authenticated principal; the "/topic/user.{uid}..."
// forms are the broadcast fallback carrying the same events.

func ConversationQueue(chatID int64) string {
	return fmt.Sprintf("/user/queue/chat.%d", chatID)
}

func ConversationTopic(userID, chatID int64) string {
	return fmt.Sprintf("/topic/user.%d.chat.%d", userID, chatID)
}

func TypingTopic(chatID int64) string {
	return fmt.Sprintf("/topic/chat.%d/typing", chatID)
}

func ReadReceiptQueue(userID int64) string {
	return fmt.Sprintf("/user/%d/queue/read-receipts", userID)
}

const ChatUpdatesQueue = "/user/queue/chat-updates"

func ChatUpdatesTopic(userID int64) string {
	return fmt.Sprintf("/topic/user.%d.chat-updates", userID)
}

func AdminChangesTopic(userID int64) string {
	return fmt.Sprintf("/topic/user.%d.admin-changes", userID)
}

func MemberRemovalsTopic(userID int64) string {
	return fmt.Sprintf("/topic/user.%d.member-removals", userID)
}

func GameTopic(gameID string) string {
	return "/topic/game." + gameID
}

const GameEventsQueue = "/user/queue/game-events"
