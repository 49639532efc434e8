package contextmgr

import (
	"strings"

	"qmpie/internal/chat"
)

// DefaultDigestRunes bounds the rolling session summary.
const DefaultDigestRunes = 4000

// RoleLabel 摘要行中使用的角色名
// RoleLabel returns the speaker label used in summary lines.
func RoleLabel(role string) string {
	if role == chat.RoleUser {
		return "Utilisateur"
	}
	return "Assistant"
}

// AppendDigest 把一行 "{Label}: {content}" 追加到摘要并截取末尾 maxRunes 个字符
// AppendDigest appends "{Label}: {content}" to summary, trims surrounding
// whitespace and keeps only the trailing maxRunes characters. The cut ignores
// word boundaries. maxRunes <= 0 selects DefaultDigestRunes.
func AppendDigest(summary, role, content string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultDigestRunes
	}
	next := strings.TrimSpace(summary + "\n" + RoleLabel(role) + ": " + content)
	runes := []rune(next)
	if len(runes) <= maxRunes {
		return next
	}
	return string(runes[len(runes)-maxRunes:])
}
