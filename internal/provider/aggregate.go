package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"qmpie/internal/chat"
)

// DeliverableMarker opens the fenced block holding the final questionnaire.
const DeliverableMarker = "```markdown"

// PhaseToolName is the function the model may call to announce a phase.
const PhaseToolName = "set_phase"

// PhaseTool 结构化阶段信号工具定义
// PhaseTool returns the set_phase tool definition.
func PhaseTool() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        PhaseToolName,
			Description: "Annonce la phase du protocole dans laquelle se trouve la conversation.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"phase": map[string]any{
						"type": "string",
						"enum": []string{"collecte", "plan", "sections", "final"},
					},
				},
				"required":             []string{"phase"},
				"additionalProperties": false,
			},
		},
	}
}

// Result 聚合后的模型回复
// Result is a fully aggregated model reply.
type Result struct {
	Text string
	// FinalMarkdownPresent is set when Text contains DeliverableMarker.
	FinalMarkdownPresent bool
	// PhaseSignal is the phase named by the last set_phase call, unvalidated.
	PhaseSignal string
	ToolCalls   []chat.ToolCall
	Usage       Usage
	// UsedFinal is set when the text came from Stream.Final.
	UsedFinal bool
	// Truncated is set when the stream broke after delivering text.
	Truncated bool
}

// Aggregate 按到达顺序拼接增量文本
// Aggregate drains s, concatenating text fragments in arrival order and
// calling onDelta for each. When the stream yields neither text nor tool
// calls, the call's final value is used instead. A transport error after some text has arrived keeps
// the partial reply and sets Truncated; cancellation of ctx is always an
// error.
func Aggregate(ctx context.Context, s Stream, onDelta func(string)) (Result, error) {
	defer s.Close()

	var (
		text  strings.Builder
		calls = map[int]*toolCallAccumulator{}
		res   Result
	)
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.Text = text.String()
				return res, ctxErr
			}
			// 如果已经收到部分内容，返回已有的而不是报错
			// If we already have partial content, return what we have
			if text.Len() > 0 || len(calls) > 0 {
				res.Truncated = true
				break
			}
			return res, fmt.Errorf("recv stream: %w", err)
		}
		if ev.Text != "" {
			text.WriteString(ev.Text)
			if onDelta != nil {
				onDelta(ev.Text)
			}
		}
		for _, tc := range ev.ToolCalls {
			acc, ok := calls[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{}
				calls[tc.Index] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Type != "" {
				acc.typ = tc.Type
			}
			if tc.Name != "" {
				acc.name += tc.Name
			}
			if tc.Arguments != "" {
				acc.args.WriteString(tc.Arguments)
			}
		}
		if ev.Usage != nil {
			res.Usage = *ev.Usage
		}
	}

	res.Text = text.String()
	// A reply made only of tool calls is complete; the caller answers them.
	if res.Text == "" && len(calls) == 0 {
		final, err := s.Final(ctx)
		if err != nil {
			return res, err
		}
		if final != "" {
			res.Text = final
			res.UsedFinal = true
		}
	}
	res.ToolCalls = assembleToolCalls(calls)
	res.PhaseSignal = phaseSignal(res.ToolCalls)
	res.FinalMarkdownPresent = strings.Contains(res.Text, DeliverableMarker)
	return res, nil
}

func phaseSignal(calls []chat.ToolCall) string {
	signal := ""
	for _, call := range calls {
		if call.Function.Name != PhaseToolName {
			continue
		}
		var args struct {
			Phase string `json:"phase"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			continue
		}
		if p := strings.TrimSpace(args.Phase); p != "" {
			signal = p
		}
	}
	return signal
}

type toolCallAccumulator struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

func assembleToolCalls(byIdx map[int]*toolCallAccumulator) []chat.ToolCall {
	if len(byIdx) == 0 {
		return nil
	}
	// 按 index 排序 / Sort by index
	maxIdx := 0
	for idx := range byIdx {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	calls := make([]chat.ToolCall, 0, len(byIdx))
	for i := 0; i <= maxIdx; i++ {
		acc, ok := byIdx[i]
		if !ok {
			continue
		}
		id := strings.TrimSpace(acc.id)
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		typ := strings.TrimSpace(acc.typ)
		if typ == "" {
			typ = "function"
		}
		calls = append(calls, chat.ToolCall{
			ID:   id,
			Type: typ,
			Function: chat.ToolCallFunction{
				Name:      strings.TrimSpace(acc.name),
				Arguments: acc.args.String(),
			},
		})
	}
	return calls
}
