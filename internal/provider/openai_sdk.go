package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"qmpie/internal/chat"

	openai "github.com/sashabaranov/go-openai"
)

const (
	finalMaxCompletionTokens = 20000
	finalVerbosity           = "high"
	finalReasoningEffort     = "high"
)

// OpenAIProvider 使用 go-openai SDK 的 Provider 实现
// OpenAIProvider implements Provider using the go-openai SDK
type OpenAIProvider struct {
	client *openai.Client
	model  string
	cfg    OpenAIConfig
}

// OpenAIConfig SDK provider 配置
// OpenAIConfig is the SDK provider configuration
type OpenAIConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	TimeoutMS       int
	MaxRetries      int
	ReasoningEffort string
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// NewOpenAIProvider 创建基于 SDK 的 provider
// NewOpenAIProvider creates an SDK-based provider
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	config := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		config.BaseURL = base
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// no client-wide timeout: streams are bounded by the request context
		httpClient = &http.Client{}
	}
	config.HTTPClient = httpClient

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
		cfg:    cfg,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) CurrentModel() string {
	return p.model
}

// Timeout is the per-call deadline callers should apply.
func (p *OpenAIProvider) Timeout() time.Duration {
	return time.Duration(p.cfg.TimeoutMS) * time.Millisecond
}

// Stream opens a streamed chat completion, retrying stream creation with
// exponential backoff. Nothing is retried once bytes have been received.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	model := req.Model
	if model == "" {
		model = p.CurrentModel()
	}
	sdkReq := p.buildRequest(model, req)

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(150*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		stream, err := p.client.CreateChatCompletionStream(ctx, sdkReq)
		if err == nil {
			return &openAIStream{p: p, stream: stream, req: sdkReq}, nil
		}
		lastErr = err

		// 不可重试的错误 / Non-retryable errors
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !retryable(err) {
			return nil, fmt.Errorf("create stream: %w", err)
		}
	}
	return nil, fmt.Errorf("create stream failed after %d retries: %w", p.cfg.MaxRetries, lastErr)
}

func (p *OpenAIProvider) buildRequest(model string, req Request) openai.ChatCompletionRequest {
	sdkReq := openai.ChatCompletionRequest{
		Model:           model,
		Messages:        convertMessages(req.Messages),
		Stream:          true,
		StreamOptions:   &openai.StreamOptions{IncludeUsage: true},
		ReasoningEffort: p.cfg.ReasoningEffort,
	}
	if len(req.Tools) > 0 {
		sdkReq.Tools = convertTools(req.Tools)
		sdkReq.ToolChoice = "auto"
		if req.ToolChoice != "" {
			sdkReq.ToolChoice = req.ToolChoice
		}
	}
	if req.Final {
		sdkReq.Verbosity = finalVerbosity
		sdkReq.MaxCompletionTokens = finalMaxCompletionTokens
		sdkReq.ReasoningEffort = finalReasoningEffort
	}
	return sdkReq
}

// retryable reports whether an upstream error may succeed on retry:
// transport failures, 429 and 5xx. Request validation errors are final.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 0 || reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

type openAIStream struct {
	p      *OpenAIProvider
	stream *openai.ChatCompletionStream
	req    openai.ChatCompletionRequest
}

func (s *openAIStream) Recv() (Event, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return Event{}, err
	}
	var ev Event
	var text strings.Builder
	for _, choice := range resp.Choices {
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			ev.ToolCalls = append(ev.ToolCalls, ToolCallDelta{
				Index:     idx,
				ID:        tc.ID,
				Type:      string(tc.Type),
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	ev.Text = text.String()
	// Usage (部分 provider 在最后一个 chunk 中返回)
	// Usage (some providers return it in the last chunk)
	if resp.Usage != nil {
		u := Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		if resp.Usage.CompletionTokensDetails != nil {
			u.ReasoningTokens = resp.Usage.CompletionTokensDetails.ReasoningTokens
		}
		ev.Usage = &u
	}
	return ev, nil
}

// Final replays the request without streaming and returns the message text.
func (s *openAIStream) Final(ctx context.Context) (string, error) {
	req := s.req
	req.Stream = false
	req.StreamOptions = nil
	resp, err := s.p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("final completion: %w", err)
	}
	var out strings.Builder
	for _, choice := range resp.Choices {
		out.WriteString(choice.Message.Content)
	}
	return out.String(), nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

// --- Message / Tool Conversion ---

func convertMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolType(tc.Type),
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func convertTools(tools []chat.ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}
