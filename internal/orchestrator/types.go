package orchestrator

import (
	"errors"
	"time"

	"qmpie/internal/contextmgr"
	"qmpie/internal/observability"
	"qmpie/internal/provider"
	"qmpie/internal/session"

	"go.uber.org/zap"
)

var (
	// ErrPromptVersionMismatch: a new session was requested with a prompt
	// version other than the server's.
	ErrPromptVersionMismatch = errors.New("prompt version incompatible")
	// ErrPromptVersionStale: the request's prompt version differs from the
	// one the session was created with.
	ErrPromptVersionStale = errors.New("prompt version stale")
)

// Endpoint names the three turn operations.
type Endpoint string

const (
	EndpointStart    Endpoint = "start"
	EndpointContinue Endpoint = "continue"
	EndpointFinal    Endpoint = "final"
)

// Next actions for the client.
const (
	NextAskUser          = "ask_user"
	NextPersistAndRender = "persist_and_render"
)

// TurnRequest 一轮对话请求
// TurnRequest is one conversational turn. SessionID is ignored by Start.
type TurnRequest struct {
	SessionID     string
	UserMessage   string
	MemoryDelta   map[string]any
	PhaseHint     string
	PromptVersion string
}

// Envelope 返回给客户端的回复信封
// Envelope is the reply to a turn.
type Envelope struct {
	SessionID            string         `json:"sessionId"`
	PromptVersion        string         `json:"promptVersion"`
	Phase                session.Phase  `json:"phase"`
	AssistantMarkdown    string         `json:"assistantMarkdown"`
	MemorySnapshot       map[string]any `json:"memorySnapshot"`
	FinalMarkdownPresent bool           `json:"finalMarkdownPresent"`
	NextAction           string         `json:"nextAction"`
	// Truncated is set when the model stream broke after partial output.
	Truncated bool `json:"truncated,omitempty"`
}

// DeltaFunc receives reply fragments as they stream in.
type DeltaFunc = func(sessionID, fragment string)

type Options struct {
	Provider provider.Provider
	Registry *session.Registry
	// SystemPrompt seeds the assembler when Assembler is nil.
	SystemPrompt string
	Assembler    *contextmgr.Assembler
	// PromptVersion is the version new sessions must announce.
	PromptVersion string
	// PhaseTool offers the set_phase tool to the model.
	PhaseTool bool
	// Timeout bounds each model call; zero means no extra deadline.
	Timeout time.Duration
	// DisabledText is returned as the reply when the provider is disabled.
	DisabledText string
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	OnDelta      DeltaFunc
	Now          func() time.Time
}
