package contextmgr

import (
	"bytes"
	"encoding/json"
	"strings"

	"qmpie/internal/chat"
)

const (
	summaryPrefix = "Résumé de session (mémoire compacte) :\n"
	memoryPrefix  = "Mémoire structurée (JSON) : "
)

// View 组装模型上下文所需的会话状态
// View is the slice of session state the assembler reads.
type View struct {
	Summary     string
	Memory      map[string]any
	RecentTurns []chat.Turn
}

// Assembler 按固定顺序拼装模型消息
// Assembler lays out the model context in a fixed order: system prompt,
// compact summary, structured memory, recent turns, then the new user turn.
type Assembler struct {
	SystemPrompt string
}

func New(systemPrompt string) *Assembler {
	return &Assembler{SystemPrompt: strings.TrimSpace(systemPrompt)}
}

// Build returns the messages for one model call.
func (a *Assembler) Build(v View, userMessage string) []chat.Message {
	out := make([]chat.Message, 0, len(v.RecentTurns)+4)
	if a.SystemPrompt != "" {
		out = append(out, chat.Message{Role: chat.RoleSystem, Content: a.SystemPrompt})
	}
	if v.Summary != "" {
		out = append(out, chat.Message{Role: chat.RoleSystem, Content: summaryPrefix + v.Summary})
	}
	if len(v.Memory) > 0 {
		if data, err := MarshalMemory(v.Memory); err == nil {
			out = append(out, chat.Message{Role: chat.RoleSystem, Content: memoryPrefix + data})
		}
	}
	for _, turn := range v.RecentTurns {
		out = append(out, turn.Message())
	}
	out = append(out, chat.Message{Role: chat.RoleUser, Content: userMessage})
	return out
}

// MarshalMemory encodes memory as compact JSON without HTML escaping, so
// labels such as "Accueil & relation" reach the model verbatim.
func MarshalMemory(memory map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(memory); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
