package httpapi

import (
	"context"
	"errors"
	"net/http"
	"unicode/utf8"

	"qmpie/internal/chat"
	"qmpie/internal/deliverable"
	"qmpie/internal/orchestrator"
	"qmpie/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status        string   `json:"status"`
	OpenAIEnabled bool     `json:"openaiEnabled"`
	MissingKeys   []string `json:"missingKeys"`
	Sessions      int      `json:"sessions"`
	PromptVersion string   `json:"promptVersion"`
}

// SessionResponse is the body of GET /api/sessions/:id.
type SessionResponse struct {
	SessionID            string         `json:"sessionId"`
	Phase                session.Phase  `json:"phase"`
	PromptVersion        string         `json:"promptVersion"`
	MemorySnapshot       map[string]any `json:"memorySnapshot"`
	RecentTurns          []chat.Turn    `json:"recentTurns"`
	SummaryChars         int            `json:"summaryChars"`
	FinalMarkdownPresent bool           `json:"finalMarkdownPresent"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Message string       `json:"message"`
	Details []FieldIssue `json:"details,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	missing := s.opts.MissingKeys
	if missing == nil {
		missing = []string{}
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		OpenAIEnabled: s.opts.ProviderEnabled,
		MissingKeys:   missing,
		Sessions:      s.registry.Len(),
		PromptVersion: s.orch.PromptVersion(),
	})
}

func (s *Server) handleStart(c *gin.Context) {
	var body TurnBody
	if !s.bind(c, &body) {
		return
	}
	env, err := s.orch.Start(c.Request.Context(), body.request(""))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, env)
}

func (s *Server) handleTurn(endpoint orchestrator.Endpoint) gin.HandlerFunc {
	run := s.orch.Continue
	if endpoint == orchestrator.EndpointFinal {
		run = s.orch.Final
	}
	return func(c *gin.Context) {
		var body SessionTurnBody
		if !s.bind(c, &body) {
			return
		}
		env, err := run(c.Request.Context(), body.request(body.SessionID))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, env)
	}
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.registry.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	turns := sess.RecentTurns
	if turns == nil {
		turns = []chat.Turn{}
	}
	c.JSON(http.StatusOK, SessionResponse{
		SessionID:            sess.ID,
		Phase:                sess.Phase,
		PromptVersion:        sess.PromptVersion,
		MemorySnapshot:       sess.Memory,
		RecentTurns:          turns,
		SummaryChars:         utf8.RuneCountInString(sess.Summary),
		FinalMarkdownPresent: sess.Deliverable != "",
	})
}

func (s *Server) handleDeliverable(c *gin.Context) {
	sess, err := s.registry.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if sess.Deliverable == "" {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: s.msg.T("api.no_deliverable")})
		return
	}
	switch format := c.DefaultQuery("format", "md"); format {
	case "md", "markdown":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(sess.Deliverable))
	case "html":
		doc, err := deliverable.Document("Questionnaire "+sess.ID, sess.Deliverable)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(doc))
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: s.msg.T("api.unsupported_format", format)})
	}
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.registry.Reset(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info("session reset", zap.String("session", c.Param("id")))
	c.Status(http.StatusNoContent)
}

// bind decodes and validates a JSON body, answering 400 (or 413) itself on
// failure.
func (s *Server) bind(c *gin.Context, body any) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Message: s.msg.T("api.invalid_request"),
				Details: []FieldIssue{{Field: "body", Rule: "max_bytes"}},
			})
			return false
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Message: s.msg.T("api.invalid_request"),
			Details: issues(err),
		})
		return false
	}
	if err := turnValidate.Struct(body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Message: s.msg.T("api.invalid_request"),
			Details: issues(err),
		})
		return false
	}
	return true
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, key := http.StatusInternalServerError, "api.internal"
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status, key = http.StatusNotFound, "api.session_unknown"
	case errors.Is(err, orchestrator.ErrPromptVersionMismatch):
		status, key = http.StatusConflict, "api.version_incompatible"
	case errors.Is(err, orchestrator.ErrPromptVersionStale):
		status, key = http.StatusConflict, "api.version_stale"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, key = http.StatusGatewayTimeout, "api.timeout"
	case errors.Is(err, session.ErrRegistryClosed):
		status, key = http.StatusServiceUnavailable, "api.unavailable"
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Message: s.msg.T(key)})
}
