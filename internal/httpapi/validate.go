package httpapi

import (
	"errors"
	"reflect"
	"strings"

	"qmpie/internal/orchestrator"
	"qmpie/internal/session"

	"github.com/go-playground/validator/v10"
)

// TurnBody is the body of POST /api/start. PromptVersion may be empty; the
// orchestrator answers a missing or wrong version with 409.
type TurnBody struct {
	UserMessage   string         `json:"userMessage" validate:"required,min=1"`
	MemoryDelta   map[string]any `json:"memoryDelta,omitempty"`
	PhaseHint     string         `json:"phaseHint,omitempty" validate:"omitempty,phase"`
	PromptVersion string         `json:"promptVersion"`
}

// SessionTurnBody is the body of POST /api/continue and /api/final.
type SessionTurnBody struct {
	SessionID string `json:"sessionId" validate:"required,min=8"`
	TurnBody
}

func (b TurnBody) request(sessionID string) orchestrator.TurnRequest {
	return orchestrator.TurnRequest{
		SessionID:     sessionID,
		UserMessage:   b.UserMessage,
		MemoryDelta:   b.MemoryDelta,
		PhaseHint:     b.PhaseHint,
		PromptVersion: b.PromptVersion,
	}
}

// FieldIssue names one failed rule.
type FieldIssue struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

var turnValidate *validator.Validate

func init() {
	turnValidate = validator.New(validator.WithRequiredStructEnabled())
	turnValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = turnValidate.RegisterValidation("phase", validatePhase)
}

func validatePhase(fl validator.FieldLevel) bool {
	_, ok := session.ParsePhase(fl.Field().String())
	return ok
}

// issues flattens validator errors into field/rule pairs.
func issues(err error) []FieldIssue {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldIssue{{Field: "body", Rule: "json"}}
	}
	out := make([]FieldIssue, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldIssue{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}
