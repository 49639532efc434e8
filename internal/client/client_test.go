package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"qmpie/internal/defaults"
	"qmpie/internal/httpapi"
	"qmpie/internal/i18n"
	"qmpie/internal/orchestrator"
	"qmpie/internal/provider/providertest"
	"qmpie/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, replies ...providertest.Reply) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := session.NewRegistry(session.Options{TTL: -1})
	t.Cleanup(func() { _ = reg.Close() })
	orch := orchestrator.New(orchestrator.Options{
		Provider: &providertest.Provider{Replies: replies},
		Registry: reg,
	})
	api := httpapi.New(orch, reg, httpapi.Options{
		ProviderEnabled: true,
		AdminToken:      "tok",
		Messages:        i18n.New("fr"),
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientConversation(t *testing.T) {
	srv := newServer(t,
		providertest.Text("Phase plan : voici le sommaire."),
		providertest.Text("```markdown\n# Questionnaire\n```"),
	)
	c := New(srv.URL+"/", WithHTTPClient(srv.Client()), WithAdminToken("tok"))
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.OpenAIEnabled)
	assert.Equal(t, defaults.PromptVersion, h.PromptVersion)

	env, err := c.Start(ctx, httpapi.TurnBody{UserMessage: "Bonjour", PromptVersion: defaults.PromptVersion})
	require.NoError(t, err)
	assert.Equal(t, session.PhasePlan, env.Phase)

	fin, err := c.Final(ctx, httpapi.SessionTurnBody{
		SessionID: env.SessionID,
		TurnBody:  httpapi.TurnBody{UserMessage: defaults.FinalUserMessage, PromptVersion: defaults.PromptVersion},
	})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.NextPersistAndRender, fin.NextAction)

	md, err := c.Deliverable(ctx, env.SessionID, "md")
	require.NoError(t, err)
	assert.Equal(t, "# Questionnaire", md)

	info, err := c.Session(ctx, env.SessionID)
	require.NoError(t, err)
	assert.True(t, info.FinalMarkdownPresent)
	assert.Len(t, info.RecentTurns, 4)

	require.NoError(t, c.ResetSession(ctx, env.SessionID))
	_, err = c.Session(ctx, env.SessionID)
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestClientErrors(t *testing.T) {
	srv := newServer(t, providertest.Text("ok"))
	c := New(srv.URL, WithHTTPClient(srv.Client()))
	ctx := context.Background()

	_, err := c.Continue(ctx, httpapi.SessionTurnBody{
		SessionID: "inconnue-123",
		TurnBody:  httpapi.TurnBody{UserMessage: "x", PromptVersion: defaults.PromptVersion},
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Session inconnue. Relancez /start.", apiErr.Message)

	_, err = c.Start(ctx, httpapi.TurnBody{PromptVersion: defaults.PromptVersion})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, []httpapi.FieldIssue{{Field: "userMessage", Rule: "required"}}, apiErr.Details)

	env, err := c.Start(ctx, httpapi.TurnBody{UserMessage: "x", PromptVersion: defaults.PromptVersion})
	require.NoError(t, err)
	err = c.ResetSession(ctx, env.SessionID)
	assert.True(t, IsStatus(err, http.StatusUnauthorized), "reset without token must fail: %v", err)
}
