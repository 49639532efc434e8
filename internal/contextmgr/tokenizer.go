package contextmgr

import (
	"strings"
	"sync"
	"unicode"

	"qmpie/internal/chat"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer 精确 token 计数器，支持 tiktoken 和启发式回退
// Tokenizer counts prompt tokens with tiktoken and falls back to a heuristic
// when the BPE ranks cannot be loaded (offline hosts).
type Tokenizer struct {
	encoder      *tiktoken.Tiktoken
	encodingName string
	fallback     bool
	mu           sync.Mutex
}

var (
	tokenizersMu sync.Mutex
	tokenizers   = map[string]*Tokenizer{}
)

// TokenizerForModel 返回按编码缓存的 tokenizer
// TokenizerForModel returns a shared tokenizer for the model's encoding.
// Loading BPE ranks is slow, so instances are cached per encoding.
func TokenizerForModel(model string) *Tokenizer {
	encoding := modelToEncoding(model)
	tokenizersMu.Lock()
	defer tokenizersMu.Unlock()
	if t, ok := tokenizers[encoding]; ok {
		return t
	}
	t := NewTokenizer(encoding)
	tokenizers[encoding] = t
	return t
}

// NewTokenizer 创建 tokenizer，如果 tiktoken 初始化失败则回退到启发式
// NewTokenizer creates a tokenizer, falling back to the heuristic if tiktoken
// cannot load the encoding.
func NewTokenizer(encodingName string) *Tokenizer {
	t := &Tokenizer{encodingName: encodingName}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		t.fallback = true
		return t
	}
	t.encoder = enc
	return t
}

// Count returns the total token count for a message list.
func (t *Tokenizer) Count(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		total += t.countMessage(msg)
	}
	return total
}

// CountText counts tokens for a single text.
func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	if t.fallback || t.encoder == nil {
		return heuristicTokenCount(text)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.encoder.Encode(text, nil, nil))
}

// IsPrecise reports whether tiktoken is in use.
func (t *Tokenizer) IsPrecise() bool {
	return !t.fallback
}

// EncodingName returns the encoding name.
func (t *Tokenizer) EncodingName() string {
	return t.encodingName
}

func (t *Tokenizer) countMessage(msg chat.Message) int {
	// ~4 tokens of framing per message
	tokens := 4
	tokens += t.CountText(msg.Content)
	tokens += t.CountText(msg.Role)
	if msg.Name != "" {
		tokens += t.CountText(msg.Name) + 1
	}
	return tokens
}

// heuristicTokenCount 启发式估算：拉丁文本约 4 字符 / token，符号与表情各 1 token
// heuristicTokenCount estimates ~4 runes per token for Latin text and one
// token per symbol or emoji.
func heuristicTokenCount(text string) int {
	if text == "" {
		return 0
	}
	letters, symbols := 0, 0
	for _, r := range text {
		switch {
		case r < unicode.MaxLatin1 || unicode.In(r, unicode.Latin):
			letters++
		case unicode.IsSpace(r):
			letters++
		default:
			symbols++
		}
	}
	estimate := (letters+3)/4 + symbols
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

// modelToEncoding maps a model name to its tiktoken encoding.
func modelToEncoding(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case m == "":
		return "o200k_base"
	case strings.HasPrefix(m, "gpt-5"), strings.HasPrefix(m, "gpt-4.1"),
		strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "chatgpt-4o"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "o200k_base"
	case strings.HasPrefix(m, "gpt-4"), strings.HasPrefix(m, "gpt-3.5"):
		return "cl100k_base"
	}
	return "cl100k_base"
}
