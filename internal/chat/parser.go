// Package chat turns short imperative sentences into structured commands.
package chat

import (
	"errors"
	"regexp"
	"strings"

	"browser-automation/internal/entity"
	"browser-automation/pkg/apperr"
)

var ErrUnparsable = errors.New("unparsable command")

// quoted matches "..." or '...' and contributes two capture groups.
const quoted = `(?:"([^"]+)"|'([^']+)')`

type rule struct {
	action  entity.Action
	pattern *regexp.Regexp
	// group index of the value and target; quoted slots occupy two groups.
	value, target int
	quotedValue   bool
	quotedTarget  bool
}

func compile(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)^` + expr + `$`)
}

// trailing allows a descriptive word after a quoted target, as in
// `click "Save" button`.
const trailing = `(?:\s+.*)?`

// Quoted rules come first: quotes let values and targets contain the
// preposition words themselves.
var rules = []rule{
	{action: entity.ActionType, pattern: compile(`type\s+` + quoted + `\s+(?:into|in|on)\s+` + quoted + trailing), value: 1, target: 3, quotedValue: true, quotedTarget: true},
	{action: entity.ActionSelect, pattern: compile(`select\s+` + quoted + `\s+(?:from|in)\s+` + quoted + trailing), value: 1, target: 3, quotedValue: true, quotedTarget: true},
	{action: entity.ActionType, pattern: compile(`type\s+` + quoted + `\s+(?:into|in|on)\s+(.+)`), value: 1, target: 3, quotedValue: true},
	{action: entity.ActionSelect, pattern: compile(`select\s+` + quoted + `\s+(?:from|in)\s+(.+)`), value: 1, target: 3, quotedValue: true},
	{action: entity.ActionType, pattern: compile(`type\s+(.+?)\s+(?:into|in|on)\s+` + quoted + trailing), value: 1, target: 2, quotedTarget: true},
	{action: entity.ActionSelect, pattern: compile(`select\s+(.+?)\s+(?:from|in)\s+` + quoted + trailing), value: 1, target: 2, quotedTarget: true},
	{action: entity.ActionClick, pattern: compile(`click\s+(?:on\s+)?` + quoted + trailing), target: 1, quotedTarget: true},
	{action: entity.ActionHover, pattern: compile(`hover\s+(?:over\s+|on\s+)?` + quoted + trailing), target: 1, quotedTarget: true},
	{action: entity.ActionCheck, pattern: compile(`check\s+` + quoted + trailing), target: 1, quotedTarget: true},
	{action: entity.ActionUncheck, pattern: compile(`uncheck\s+` + quoted + trailing), target: 1, quotedTarget: true},

	{action: entity.ActionType, pattern: compile(`type\s+(.+?)\s+(?:into|in|on)\s+(.+)`), value: 1, target: 2},
	{action: entity.ActionSelect, pattern: compile(`select\s+(.+?)\s+(?:from|in)\s+(.+)`), value: 1, target: 2},
	{action: entity.ActionClick, pattern: compile(`click\s+(?:on\s+)?(.+)`), target: 1},
	{action: entity.ActionHover, pattern: compile(`hover\s+(?:over\s+|on\s+)?(.+)`), target: 1},
	{action: entity.ActionCheck, pattern: compile(`check\s+(.+)`), target: 1},
	{action: entity.ActionUncheck, pattern: compile(`uncheck\s+(.+)`), target: 1},
}

// Parse maps a sentence such as `type "jane@x.com" into "Email"` onto a
// command. Verbs are case-insensitive.
func Parse(sentence string) (entity.Command, error) {
	const op = "chat.Parse"

	sentence = strings.TrimSpace(sentence)

	for _, r := range rules {
		m := r.pattern.FindStringSubmatch(sentence)
		if m == nil {
			continue
		}

		cmd := entity.Command{
			Action: r.action,
			Target: group(m, r.target, r.quotedTarget),
		}

		if r.value > 0 {
			cmd.Value = group(m, r.value, r.quotedValue)
		}

		return cmd, nil
	}

	return entity.Command{}, apperr.Wrap(op, apperr.CodeParse, ErrUnparsable, map[string]any{
		apperr.MetaReason: "unparsable_command",
		apperr.MetaStage:  apperr.StageParse,
		apperr.MetaValue:  sentence,
	})
}

func group(m []string, i int, quoted bool) string {
	if !quoted {
		return unquote(strings.TrimSpace(m[i]))
	}

	if m[i] != "" {
		return m[i]
	}

	return m[i+1]
}

// unquote drops one pair of matching quotes around s.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}

	return s
}
