package provider

import (
	"context"
	"errors"

	"qmpie/internal/chat"
)

// ErrDisabled 上游凭据缺失时由 provider 返回
// ErrDisabled is returned by a provider that has no upstream credentials.
var ErrDisabled = errors.New("model provider disabled: missing credentials")

// Request 封装一次模型请求
// Request wraps a single model call.
type Request struct {
	Model    string
	Messages []chat.Message
	Tools    []chat.ToolDef
	// ToolChoice is sent with Tools; empty means "auto".
	ToolChoice string
	// Final relaxes verbosity and length limits for deliverable assembly.
	Final bool
}

// Usage token 用量统计
// Usage reports token consumption
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	ReasoningTokens  int
	TotalTokens      int
}

// ToolCallDelta is one streamed fragment of a tool call. Fragments sharing
// an Index belong to the same call.
type ToolCallDelta struct {
	Index     int
	ID        string
	Type      string
	Name      string
	Arguments string
}

// Event 流式响应中的一个增量
// Event is one increment of a streamed reply.
type Event struct {
	Text      string
	ToolCalls []ToolCallDelta
	Usage     *Usage
}

// Stream 模型输出的增量序列
// Stream is the incremental output of one model call. Recv returns io.EOF
// once the stream is complete.
type Stream interface {
	Recv() (Event, error)
	// Final returns the complete output of the call. It is only consulted
	// when streaming produced no text and may issue a second request.
	Final(ctx context.Context) (string, error)
	Close() error
}

// Provider 模型提供方接口
// Provider is the model backend.
type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
	Name() string
	CurrentModel() string
}

// Disabled is the provider used when no API key is configured. Every call
// fails with ErrDisabled.
type Disabled struct{}

func (Disabled) Stream(context.Context, Request) (Stream, error) { return nil, ErrDisabled }
func (Disabled) Name() string                                    { return "disabled" }
func (Disabled) CurrentModel() string                            { return "" }
