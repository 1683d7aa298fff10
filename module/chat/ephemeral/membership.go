package ephemeral

import (
	"strings"

	"chatsync/module/chat/model"
	"chatsync/tools/decode"
)

type Action int

const (
	NoAction Action = iota
	Teardown        // the current user lost the conversation
	Refresh         // conversation metadata changed
)

func (a Action) String() string {
	switch a {
	case Teardown:
		return "teardown"
	case Refresh:
		return "refresh"
	default:
		return "none"
	}
}

// Decide maps a membership or conversation update to its effect for the
// user selfID/selfName.
func Decide(selfID int64, selfName string, e model.Envelope) Action {
	if e.SystemKind == model.SystemSelfRemoved {
		return Teardown
	}
	switch e.UpdateType {
	case model.UpdateChatDeleted:
		return Teardown
	case model.UpdateMemberRemoved:
		if isSelf(selfID, selfName, e.TargetUserID, e.TargetUsername) || isSelfParam(selfID, selfName, e) {
			return Teardown
		}
		return Refresh
	case model.UpdateMemberLeft:
		if e.UserID != 0 && e.UserID == selfID {
			return Teardown
		}
		return Refresh
	case model.UpdateMemberAdded, model.UpdateAdminChanged, model.UpdateNewChat, model.UpdateSettingsChanged:
		return Refresh
	}
	return NoAction
}

func isSelf(selfID int64, selfName string, id int64, name string) bool {
	if id != 0 {
		return id == selfID
	}
	return name != "" && strings.EqualFold(name, selfName)
}

// isSelfParam covers legacy updates whose target only survives in the text.
func isSelfParam(selfID int64, selfName string, e model.Envelope) bool {
	if e.TargetUserID != 0 || e.TargetUsername != "" {
		return false
	}
	if id, err := decode.ReadInt64(e.SystemParams, model.ParamTargetUserID); err == nil && id != 0 {
		return id == selfID
	}
	v, _ := decode.ReadString(e.SystemParams, model.ParamTarget)
	return v != "" && strings.EqualFold(v, selfName)
}
