package session

import (
	"time"

	"qmpie/internal/chat"
	"qmpie/internal/contextmgr"
	"qmpie/internal/memory"
)

const (
	// DefaultMaxTurns is the size of the recent-turn window.
	DefaultMaxTurns = 5
	// DefaultSummaryRunes bounds the rolling summary.
	DefaultSummaryRunes = contextmgr.DefaultDigestRunes
)

// Session 会话状态：阶段、结构化记忆、滚动摘要与最近轮次
// Session is the unit of conversational continuity. Mutate it only while
// holding its Lease.
type Session struct {
	ID            string
	PromptVersion string
	Phase         Phase
	Memory        map[string]any
	Summary       string
	RecentTurns   []chat.Turn
	// Deliverable holds the last final questionnaire extracted from a reply.
	Deliverable string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	maxTurns     int
	summaryRunes int
}

func newSession(id, promptVersion string, now time.Time, maxTurns, summaryRunes int) *Session {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if summaryRunes <= 0 {
		summaryRunes = DefaultSummaryRunes
	}
	return &Session{
		ID:            id,
		PromptVersion: promptVersion,
		Phase:         PhaseCollecte,
		Memory:        map[string]any{},
		RecentTurns:   make([]chat.Turn, 0, maxTurns+1),
		CreatedAt:     now,
		UpdatedAt:     now,
		maxTurns:      maxTurns,
		summaryRunes:  summaryRunes,
	}
}

// MergeMemory folds delta into the session memory. A nil delta is a no-op.
func (s *Session) MergeMemory(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	s.Memory = memory.Merge(s.Memory, delta)
}

// ApplyHint 仅当 hint 为合法阶段时更新阶段
// ApplyHint sets the phase when hint is a valid phase and reports whether it
// did. Any phase may be written, including earlier ones.
func (s *Session) ApplyHint(hint string) bool {
	p, ok := ParsePhase(hint)
	if !ok {
		return false
	}
	s.Phase = p
	return true
}

// AppendTurn 追加一轮对话：最近轮次窗口 FIFO 淘汰，摘要追加后截尾
// AppendTurn pushes a turn onto the recent window, evicting the oldest beyond
// the window size, and appends a rendered line to the rolling summary.
func (s *Session) AppendTurn(role, content string) {
	s.RecentTurns = append(s.RecentTurns, chat.Turn{Role: role, Content: content})
	for len(s.RecentTurns) > s.turnLimit() {
		s.RecentTurns = s.RecentTurns[1:]
	}
	s.Summary = contextmgr.AppendDigest(s.Summary, role, content, s.summaryRunes)
}

// View exposes the fields used to build model context.
func (s *Session) View() contextmgr.View {
	return contextmgr.View{
		Summary:     s.Summary,
		Memory:      s.Memory,
		RecentTurns: s.RecentTurns,
	}
}

// Clone returns a deep copy safe to read after the lease is released.
func (s *Session) Clone() Session {
	cp := *s
	cp.Memory = memory.Clone(s.Memory)
	if cp.Memory == nil {
		cp.Memory = map[string]any{}
	}
	cp.RecentTurns = append([]chat.Turn(nil), s.RecentTurns...)
	return cp
}

func (s *Session) turnLimit() int {
	if s.maxTurns <= 0 {
		return DefaultMaxTurns
	}
	return s.maxTurns
}
