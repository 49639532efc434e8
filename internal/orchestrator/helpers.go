package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"qmpie/internal/chat"
	"qmpie/internal/observability"
	"qmpie/internal/provider"
	"qmpie/internal/session"
)

func isContextCancellationErr(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx != nil && ctx.Err() != nil
}

func contextErrOr(ctx context.Context, fallback error) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return fallback
}

func outcomeFor(err error) string {
	if errors.Is(err, ErrPromptVersionMismatch) || errors.Is(err, ErrPromptVersionStale) {
		return observability.OutcomeConflict
	}
	return observability.OutcomeError
}

// answerTools 回应只含工具调用的回复，并再请求一次文本
// answerTools answers the tool calls of a reply that carried no text and
// streams the follow-up with tool calls disabled, so the model writes its
// reply. The phase signal of the first call is kept unless the follow-up
// names another.
func (o *Orchestrator) answerTools(ctx context.Context, sessionID string, req provider.Request, first provider.Result) (provider.Result, error) {
	messages := make([]chat.Message, 0, len(req.Messages)+1+len(first.ToolCalls))
	messages = append(messages, req.Messages...)
	messages = append(messages, chat.Message{Role: chat.RoleAssistant, ToolCalls: first.ToolCalls})
	for _, call := range first.ToolCalls {
		messages = append(messages, chat.Message{
			Role:       chat.RoleTool,
			Name:       call.Function.Name,
			ToolCallID: call.ID,
			Content:    toolResult(call),
		})
	}

	follow := req
	follow.Messages = messages
	follow.ToolChoice = "none"
	stream, err := o.provider.Stream(ctx, follow)
	if err != nil {
		return first, err
	}
	res, err := provider.Aggregate(ctx, stream, o.deltaFunc(sessionID))
	if err != nil {
		return first, err
	}
	if res.PhaseSignal == "" {
		res.PhaseSignal = first.PhaseSignal
	}
	res.ToolCalls = append(append([]chat.ToolCall(nil), first.ToolCalls...), res.ToolCalls...)
	res.Usage.PromptTokens += first.Usage.PromptTokens
	res.Usage.CompletionTokens += first.Usage.CompletionTokens
	res.Usage.ReasoningTokens += first.Usage.ReasoningTokens
	res.Usage.TotalTokens += first.Usage.TotalTokens
	return res, nil
}

// toolResult is the tool message content returned for one call.
func toolResult(call chat.ToolCall) string {
	if call.Function.Name != provider.PhaseToolName {
		return mustJSON(map[string]any{"ok": false, "error": "unknown tool"})
	}
	var args struct {
		Phase string `json:"phase"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return mustJSON(map[string]any{"ok": false, "error": "invalid arguments"})
	}
	if _, ok := session.ParsePhase(strings.TrimSpace(args.Phase)); !ok {
		return mustJSON(map[string]any{"ok": false, "error": "unknown phase"})
	}
	return mustJSON(map[string]any{"ok": true})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
