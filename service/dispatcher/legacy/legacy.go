// Package legacy recognises the free-text system lines sent by servers that
// predate structured system messages.
package legacy

import (
	"regexp"
	"strings"

	"chatsync/module/chat/model"
)

// Parsed is the structured reading of a legacy line. When Matched is false
// Text is the input unchanged and Kind is empty.
type Parsed struct {
	Matched bool
	Kind    model.SystemKind
	Params  model.MemberParams
	Text    string
}

// SystemParams renders the params in the envelope's systemParams form.
func (p Parsed) SystemParams() map[string]any {
	if !p.Matched {
		return nil
	}
	out := map[string]any{}
	if p.Params.Actor != "" {
		out[model.ParamActor] = p.Params.Actor
	}
	if p.Params.Target != "" {
		out[model.ParamTarget] = p.Params.Target
	}
	if p.Params.ChatName != "" {
		out[model.ParamChatName] = p.Params.ChatName
	}
	return out
}

type pattern struct {
	re    *regexp.Regexp
	kind  model.SystemKind
	apply func(m []string, p *model.MemberParams)
}

func actorTarget(m []string, p *model.MemberParams) { p.Actor, p.Target = m[1], m[2] }
func chatName(m []string, p *model.MemberParams)    { p.ChatName = m[1] }

// Order matters: the admin phrasings also contain " removed ".
var patterns = []pattern{
	{regexp.MustCompile(`^You were removed from (.+)$`), model.SystemSelfRemoved, chatName},
	{regexp.MustCompile(`^You were added to (.+)$`), model.SystemSelfAdded, chatName},
	{regexp.MustCompile(`^(.+?) removed admin rights from (.+)$`), model.SystemAdminRevoked, actorTarget},
	{regexp.MustCompile(`^(.+?) removed (.+) from admins$`), model.SystemAdminRevoked, actorTarget},
	{regexp.MustCompile(`^(.+?) removed (.+) from the group$`), model.SystemMemberRemoved, actorTarget},
	{regexp.MustCompile(`^(.+?) added (.+) to the group$`), model.SystemMemberAdded, actorTarget},
	{regexp.MustCompile(`^(.+?) made (.+) an admin$`), model.SystemAdminGranted, actorTarget},
	{regexp.MustCompile(`^(.+) left the group$`), model.SystemMemberLeft, func(m []string, p *model.MemberParams) { p.Actor = m[1] }},
}

// Parse never fails.
func Parse(text string) Parsed {
	s := strings.TrimSpace(text)
	for _, pt := range patterns {
		m := pt.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		out := Parsed{Matched: true, Kind: pt.kind, Text: text}
		pt.apply(m, &out.Params)
		return out
	}
	return Parsed{Text: text}
}
