package model

import "chatsync/tools/decode"

// SystemKind identifies a structured system message so receivers can render
// localized text without parsing the free text.
type SystemKind string

const (
	SystemNone            SystemKind = ""
	SystemMemberAdded     SystemKind = "member_added"
	SystemMemberRemoved   SystemKind = "member_removed"
	SystemMemberLeft      SystemKind = "member_left"
	SystemAdminGranted    SystemKind = "admin_granted"
	SystemAdminRevoked    SystemKind = "admin_revoked"
	SystemSelfAdded       SystemKind = "self_added"
	SystemSelfRemoved     SystemKind = "self_removed"
	SystemChatCreated     SystemKind = "chat_created"
	SystemSettingsChanged SystemKind = "settings_changed"
)

// Keys used inside SystemParams.
const (
	ParamActor        = "actor"
	ParamTarget       = "target"
	ParamTargetUserID = "targetUserId"
	ParamChatName     = "chatName"
)

// MemberParams is the typed view of SystemParams for membership kinds.
type MemberParams struct {
	Actor        string `json:"actor"`
	Target       string `json:"target"`
	TargetUserID int64  `json:"targetUserId"`
	ChatName     string `json:"chatName"`
}

// ParseMemberParams reads the typed view of params; numbers sent as strings
// and floats are accepted.
func ParseMemberParams(params map[string]any) (MemberParams, error) {
	if len(params) == 0 {
		return MemberParams{}, nil
	}
	p, err := decode.DecodeMap[MemberParams](params)
	if err != nil {
		return MemberParams{}, err
	}
	return *p, nil
}
