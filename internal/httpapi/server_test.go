package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"qmpie/internal/defaults"
	"qmpie/internal/i18n"
	"qmpie/internal/observability"
	"qmpie/internal/orchestrator"
	"qmpie/internal/provider"
	"qmpie/internal/provider/providertest"
	"qmpie/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	srv      *Server
	registry *session.Registry
	provider *providertest.Provider
}

func newFixture(t *testing.T, p provider.Provider, mutate ...func(*Options)) *fixture {
	t.Helper()
	reg := session.NewRegistry(session.Options{TTL: -1})
	t.Cleanup(func() { _ = reg.Close() })
	metrics := observability.NewMetrics(nil)
	orch := orchestrator.New(orchestrator.Options{
		Provider: p,
		Registry: reg,
		Metrics:  metrics,
		Timeout:  time.Second,
	})
	opts := Options{
		ProviderEnabled: true,
		CORSOrigins:     []string{"*"},
		Metrics:         metrics,
		Messages:        i18n.New("fr"),
	}
	for _, m := range mutate {
		m(&opts)
	}
	f := &fixture{srv: New(orch, reg, opts), registry: reg}
	if sp, ok := p.(*providertest.Provider); ok {
		f.provider = sp
	}
	return f
}

func (f *fixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func start(t *testing.T, f *fixture) orchestrator.Envelope {
	t.Helper()
	w := f.do("POST", "/api/start", map[string]any{
		"userMessage":   "Bonjour",
		"promptVersion": defaults.PromptVersion,
		"memoryDelta":   map[string]any{"collecte": map[string]any{"cible": "B2B"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[orchestrator.Envelope](t, w)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &providertest.Provider{}, func(o *Options) {
		o.ProviderEnabled = false
		o.MissingKeys = []string{"OPENAI_API_KEY"}
	})
	w := f.do("GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	h := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", h.Status)
	assert.False(t, h.OpenAIEnabled)
	assert.Equal(t, []string{"OPENAI_API_KEY"}, h.MissingKeys)
	assert.Equal(t, defaults.PromptVersion, h.PromptVersion)
}

func TestStartContinueFinal(t *testing.T) {
	p := &providertest.Provider{Replies: []providertest.Reply{
		providertest.Text("Passons à la phase plan."),
		providertest.Text("Phase sections : section 1."),
		providertest.Text("```markdown\n# Questionnaire\n```"),
	}}
	f := newFixture(t, p)

	env := start(t, f)
	assert.Equal(t, session.PhasePlan, env.Phase)
	assert.Equal(t, orchestrator.NextAskUser, env.NextAction)
	assert.Equal(t, "B2B", env.MemorySnapshot["collecte"].(map[string]any)["cible"])

	w := f.do("POST", "/api/continue", map[string]any{
		"sessionId":     env.SessionID,
		"userMessage":   "Ok",
		"promptVersion": defaults.PromptVersion,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, session.PhaseSections, decode[orchestrator.Envelope](t, w).Phase)

	w = f.do("POST", "/api/final", map[string]any{
		"sessionId":     env.SessionID,
		"userMessage":   defaults.FinalUserMessage,
		"promptVersion": defaults.PromptVersion,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fin := decode[orchestrator.Envelope](t, w)
	assert.Equal(t, session.PhaseFinal, fin.Phase)
	assert.Equal(t, orchestrator.NextPersistAndRender, fin.NextAction)
	assert.True(t, fin.FinalMarkdownPresent)

	w = f.do("GET", "/api/sessions/"+env.SessionID+"/deliverable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# Questionnaire", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")

	w = f.do("GET", "/api/sessions/"+env.SessionID+"/deliverable?format=html", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1")

	w = f.do("GET", "/api/sessions/"+env.SessionID+"/deliverable?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidation(t *testing.T) {
	f := newFixture(t, &providertest.Provider{})
	cases := []struct {
		name  string
		path  string
		body  any
		field string
		rule  string
	}{
		{"missing message", "/api/start", map[string]any{"promptVersion": "v"}, "userMessage", "required"},
		{"bad phase", "/api/start", map[string]any{"userMessage": "x", "promptVersion": "v", "phaseHint": "draft"}, "phaseHint", "phase"},
		{"short session", "/api/continue", map[string]any{"sessionId": "abc", "userMessage": "x", "promptVersion": "v"}, "sessionId", "min"},
		{"no session", "/api/final", map[string]any{"userMessage": "x", "promptVersion": "v"}, "sessionId", "required"},
		{"malformed", "/api/start", `{"userMessage":`, "body", "json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do("POST", tc.path, tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, "Requête invalide", resp.Message)
			assert.Contains(t, resp.Details, FieldIssue{Field: tc.field, Rule: tc.rule})
		})
	}
}

func TestErrorMapping(t *testing.T) {
	p := &providertest.Provider{Replies: []providertest.Reply{
		providertest.Text("ok"),
		{OpenErr: errors.New("boom")},
	}}
	f := newFixture(t, p)

	w := f.do("POST", "/api/start", map[string]any{"userMessage": "x", "promptVersion": "qmpie_v1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Version du prompt incompatible. Lancez /start à nouveau.", decode[ErrorResponse](t, w).Message)

	w = f.do("POST", "/api/continue", map[string]any{"sessionId": "unknown-id", "userMessage": "x", "promptVersion": defaults.PromptVersion})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Session inconnue. Relancez /start.", decode[ErrorResponse](t, w).Message)

	w = f.do("POST", "/api/start", map[string]any{"userMessage": "x"})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "Version du prompt incompatible. Lancez /start à nouveau.", decode[ErrorResponse](t, w).Message)

	env := start(t, f)
	w = f.do("POST", "/api/continue", map[string]any{"sessionId": env.SessionID, "userMessage": "x", "promptVersion": ""})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Version du prompt obsolète. Démarrez une nouvelle session.", decode[ErrorResponse](t, w).Message)

	w = f.do("POST", "/api/continue", map[string]any{"sessionId": env.SessionID, "userMessage": "x", "promptVersion": "qmpie_v1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Version du prompt obsolète. Démarrez une nouvelle session.", decode[ErrorResponse](t, w).Message)

	w = f.do("POST", "/api/continue", map[string]any{"sessionId": env.SessionID, "userMessage": "x", "promptVersion": defaults.PromptVersion})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Erreur interne du serveur", decode[ErrorResponse](t, w).Message)
}

func TestTimeoutIs504(t *testing.T) {
	p := &providertest.Provider{Gate: make(chan struct{})}
	reg := session.NewRegistry(session.Options{TTL: -1})
	t.Cleanup(func() { _ = reg.Close() })
	orch := orchestrator.New(orchestrator.Options{Provider: p, Registry: reg, Timeout: 20 * time.Millisecond})
	f := &fixture{srv: New(orch, reg, Options{Messages: i18n.New("fr")}), registry: reg}

	w := f.do("POST", "/api/start", map[string]any{"userMessage": "x", "promptVersion": defaults.PromptVersion})
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestDisabledProviderDegrades(t *testing.T) {
	f := newFixture(t, provider.Disabled{})
	env := start(t, f)
	assert.Equal(t, defaults.DisabledReply, env.AssistantMarkdown)
}

func TestSessionIntrospectionAndReset(t *testing.T) {
	p := &providertest.Provider{Replies: []providertest.Reply{providertest.Text("Salut")}}
	f := newFixture(t, p, func(o *Options) { o.AdminToken = "secret" })
	env := start(t, f)

	w := f.do("GET", "/api/sessions/"+env.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[SessionResponse](t, w)
	assert.Equal(t, env.SessionID, got.SessionID)
	assert.Len(t, got.RecentTurns, 2)
	assert.Equal(t, len([]rune("Utilisateur: Bonjour\nAssistant: Salut")), got.SummaryChars)
	assert.False(t, got.FinalMarkdownPresent)

	w = f.do("GET", "/api/sessions/"+env.SessionID+"/deliverable", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("DELETE", "/api/sessions/"+env.SessionID, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = f.do("DELETE", "/api/sessions/"+env.SessionID, nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = f.do("DELETE", "/api/sessions/"+env.SessionID, nil, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do("GET", "/api/sessions/"+env.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionIntrospectionDuringTurn(t *testing.T) {
	p := &providertest.Provider{Replies: []providertest.Reply{providertest.Text("Salut")}}
	f := newFixture(t, p)
	env := start(t, f)

	gate := make(chan struct{})
	p.Gate = gate
	done := make(chan int, 1)
	go func() {
		w := f.do("POST", "/api/continue", map[string]any{
			"sessionId":     env.SessionID,
			"userMessage":   "Encore",
			"promptVersion": defaults.PromptVersion,
		})
		done <- w.Code
	}()
	require.Eventually(t, func() bool { return len(p.Requests()) == 2 }, time.Second, 5*time.Millisecond)

	read := make(chan *httptest.ResponseRecorder, 1)
	go func() { read <- f.do("GET", "/api/sessions/"+env.SessionID, nil) }()
	select {
	case w := <-read:
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode[SessionResponse](t, w).RecentTurns, 2)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("introspection waited for the turn in flight")
	}

	close(gate)
	require.Equal(t, http.StatusOK, <-done)
	w := f.do("GET", "/api/sessions/"+env.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[SessionResponse](t, w).RecentTurns, 4)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, provider.Disabled{}, func(o *Options) {
		o.RateLimitRPS = 0.001
		o.RateLimitBurst = 2
	})
	body := map[string]any{"userMessage": "x", "promptVersion": defaults.PromptVersion}
	assert.Equal(t, http.StatusOK, f.do("POST", "/api/start", body).Code)
	assert.Equal(t, http.StatusOK, f.do("POST", "/api/start", body).Code)
	w := f.do("POST", "/api/start", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Trop de requêtes, réessayez plus tard.", decode[ErrorResponse](t, w).Message)

	// health is not limited
	assert.Equal(t, http.StatusOK, f.do("GET", "/api/health", nil).Code)
}

func TestIPLimiterSweepsIdleVisitors(t *testing.T) {
	l := newIPLimiter(1, 1)
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))

	now = now.Add(2 * visitorIdle)
	assert.True(t, l.allow("b"))
	_, kept := l.visitors["a"]
	assert.False(t, kept)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, &providertest.Provider{}, func(o *Options) {
		o.CORSOrigins = []string{"http://localhost:5173"}
	})
	w := f.do("OPTIONS", "/api/start", nil, "Origin", "http://localhost:5173")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	w = f.do("GET", "/api/health", nil, "Origin", "http://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	open := newFixture(t, &providertest.Provider{})
	w = open.do("GET", "/api/health", nil, "Origin", "http://any.example")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, &providertest.Provider{}, func(o *Options) { o.BodyLimitBytes = 64 })
	big := `{"userMessage":"` + strings.Repeat("a", 200) + `","promptVersion":"v"}`
	w := f.do("POST", "/api/start", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, provider.Disabled{})
	start(t, f)
	w := f.do("GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `qmpie_turns_total{endpoint="start",outcome="disabled"} 1`)
}
