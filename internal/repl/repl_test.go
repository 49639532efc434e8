package repl

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"qmpie/internal/client"
	"qmpie/internal/defaults"
	"qmpie/internal/httpapi"
	"qmpie/internal/i18n"
	"qmpie/internal/memory"
	"qmpie/internal/orchestrator"
	"qmpie/internal/session"
	"qmpie/internal/storage"
	"qmpie/internal/tui"
)

type fakeBackend struct {
	health    httpapi.HealthResponse
	healthErr error

	starts    []httpapi.TurnBody
	continues []httpapi.SessionTurnBody
	finals    []httpapi.SessionTurnBody

	replies []orchestrator.Envelope
	errs    []error
}

func (f *fakeBackend) Health(context.Context) (httpapi.HealthResponse, error) {
	return f.health, f.healthErr
}

func (f *fakeBackend) next() (orchestrator.Envelope, error) {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return orchestrator.Envelope{}, err
		}
	}
	if len(f.replies) == 0 {
		return orchestrator.Envelope{}, errors.New("no scripted reply")
	}
	env := f.replies[0]
	f.replies = f.replies[1:]
	return env, nil
}

func (f *fakeBackend) Start(_ context.Context, body httpapi.TurnBody) (orchestrator.Envelope, error) {
	f.starts = append(f.starts, body)
	return f.next()
}

func (f *fakeBackend) Continue(_ context.Context, body httpapi.SessionTurnBody) (orchestrator.Envelope, error) {
	f.continues = append(f.continues, body)
	return f.next()
}

func (f *fakeBackend) Final(_ context.Context, body httpapi.SessionTurnBody) (orchestrator.Envelope, error) {
	f.finals = append(f.finals, body)
	return f.next()
}

func plain(markdown string, _ int) string { return markdown }

func newTestLoop(backend Backend, input string, out *bytes.Buffer, mutate ...func(*Options)) *Loop {
	opts := Options{
		Backend: backend,
		Input:   NewBasicLineInput(strings.NewReader(input), nil),
		Out:     out,
		Render:  plain,
		Width:   60,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewLoop(opts)
}

func envelope(id string, phase session.Phase, text string) orchestrator.Envelope {
	return orchestrator.Envelope{
		SessionID:         id,
		PromptVersion:     defaults.PromptVersion,
		Phase:             phase,
		AssistantMarkdown: text,
		NextAction:        orchestrator.NextAskUser,
	}
}

func TestLoop_StartThenContinue(t *testing.T) {
	backend := &fakeBackend{
		health: httpapi.HealthResponse{Status: "ok", OpenAIEnabled: true},
		replies: []orchestrator.Envelope{
			envelope("sess-0001-abcd", session.PhaseCollecte, "Quel est l'objectif ?"),
			envelope("sess-0001-abcd", session.PhasePlan, "Phase plan : voici le sommaire."),
		},
	}
	var out bytes.Buffer
	loop := newTestLoop(backend, "Bonjour\n\nÉtude satisfaction\n/quit\nignored\n", &out)

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(backend.starts) != 1 || len(backend.continues) != 1 {
		t.Fatalf("starts=%d continues=%d", len(backend.starts), len(backend.continues))
	}
	start := backend.starts[0]
	if start.UserMessage != "Bonjour" || start.PromptVersion != defaults.PromptVersion {
		t.Fatalf("start=%+v", start)
	}
	got := memory.Thematics(start.MemoryDelta)
	if len(got) != 3 || got[0].Label != "Satisfaction client" || !got[0].Checked {
		t.Fatalf("selection sent=%+v", got)
	}
	if backend.continues[0].SessionID != "sess-0001-abcd" {
		t.Fatalf("continue session=%q", backend.continues[0].SessionID)
	}
	if loop.Phase() != session.PhasePlan {
		t.Fatalf("phase=%s", loop.Phase())
	}
	text := out.String()
	if !strings.Contains(text, "voici le sommaire") || !strings.Contains(text, tui.PhaseLabel(session.PhasePlan)) {
		t.Fatalf("output=%q", text)
	}
}

func TestLoop_FinalArchivesAndSavesDeliverable(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "archive.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	final := envelope("sess-0002-abcd", session.PhaseFinal,
		"Voici le livrable.\n```markdown\n# Questionnaire fidélité\n\nQ1. Âge ?\n```")
	final.FinalMarkdownPresent = true
	final.NextAction = orchestrator.NextPersistAndRender
	backend := &fakeBackend{
		health: httpapi.HealthResponse{OpenAIEnabled: true},
		replies: []orchestrator.Envelope{
			envelope("sess-0002-abcd", session.PhaseSections, "Phase sections"),
			final,
		},
	}
	target := filepath.Join(dir, "out", "q.md")
	var out bytes.Buffer
	loop := newTestLoop(backend, "Bonjour\n/final\n/save "+target+"\n", &out, func(o *Options) { o.Store = store })

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(backend.finals) != 1 || backend.finals[0].UserMessage != defaults.FinalUserMessage {
		t.Fatalf("finals=%+v", backend.finals)
	}

	list, err := store.ListDeliverables(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("archived=%d", len(list))
	}
	d := list[0]
	if d.Title != "Questionnaire fidélité" || d.SessionID != "sess-0002-abcd" || d.Phase != "final" || d.PromptVersion != defaults.PromptVersion {
		t.Fatalf("deliverable=%+v", d)
	}

	turns, err := store.LoadTurns("sess-0002-abcd")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 4 || turns[2].Content != defaults.FinalUserMessage {
		t.Fatalf("turns=%+v", turns)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("saved file: %v", err)
	}
	if string(data) != "# Questionnaire fidélité\n\nQ1. Âge ?\n" {
		t.Fatalf("saved=%q", data)
	}
	if !strings.Contains(out.String(), target) {
		t.Fatalf("output should name the saved path: %q", out.String())
	}
}

func TestLoop_FinalWithCustomMessage(t *testing.T) {
	backend := &fakeBackend{replies: []orchestrator.Envelope{
		envelope("sess-0003-abcd", session.PhaseCollecte, "ok"),
		envelope("sess-0003-abcd", session.PhaseFinal, "pas de bloc"),
	}}
	var out bytes.Buffer
	loop := newTestLoop(backend, "Bonjour\n/final Avec les filtres\n/save\n", &out)
	if err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(backend.finals) != 1 || backend.finals[0].UserMessage != "Avec les filtres" {
		t.Fatalf("finals=%+v", backend.finals)
	}
	if !strings.Contains(out.String(), i18n.T("repl.no_deliverable")) {
		t.Fatalf("output=%q", out.String())
	}
}

func TestLoop_FinalNeedsSession(t *testing.T) {
	backend := &fakeBackend{}
	var out bytes.Buffer
	loop := newTestLoop(backend, "/final\n", &out)
	if err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(backend.finals)+len(backend.starts) != 0 {
		t.Fatal("no request expected")
	}
	if !strings.Contains(out.String(), i18n.T("repl.final_needs_session")) {
		t.Fatalf("output=%q", out.String())
	}
}

func TestLoop_ExpiredSessionRestarts(t *testing.T) {
	backend := &fakeBackend{
		replies: []orchestrator.Envelope{
			envelope("sess-old-0001", session.PhasePlan, "plan"),
			envelope("sess-new-0002", session.PhaseCollecte, "on recommence"),
		},
		errs: []error{nil, &client.APIError{Status: 404, Message: "Session inconnue"}},
	}
	var out bytes.Buffer
	loop := newTestLoop(backend, "un\ndeux\ntrois\n", &out)
	if err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(backend.starts) != 2 || len(backend.continues) != 1 {
		t.Fatalf("starts=%d continues=%d", len(backend.starts), len(backend.continues))
	}
	if loop.SessionID() != "sess-new-0002" {
		t.Fatalf("session=%q", loop.SessionID())
	}
	if !strings.Contains(out.String(), i18n.T("repl.session_expired")) {
		t.Fatalf("output=%q", out.String())
	}
}

func TestLoop_OtherErrorsKeepSession(t *testing.T) {
	backend := &fakeBackend{
		replies: []orchestrator.Envelope{envelope("sess-0004-abcd", session.PhaseCollecte, "ok")},
		errs:    []error{nil, &client.APIError{Status: 500, Message: "Erreur interne"}},
	}
	var out bytes.Buffer
	loop := newTestLoop(backend, "un\ndeux\n", &out)
	if err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if loop.SessionID() != "sess-0004-abcd" {
		t.Fatalf("session=%q", loop.SessionID())
	}
	if !strings.Contains(out.String(), "Erreur interne") {
		t.Fatalf("output=%q", out.String())
	}
}

func TestLoop_HealthBanner(t *testing.T) {
	backend := &fakeBackend{health: httpapi.HealthResponse{MissingKeys: []string{"OPENAI_API_KEY", "VECTOR_STORE_ID"}}}
	var out bytes.Buffer
	if err := newTestLoop(backend, "", &out).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "OPENAI_API_KEY, VECTOR_STORE_ID") {
		t.Fatalf("output=%q", out.String())
	}

	out.Reset()
	backend = &fakeBackend{healthErr: errors.New("connection refused")}
	if err := newTestLoop(backend, "", &out).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "connection refused") {
		t.Fatalf("output=%q", out.String())
	}
}

func TestLoop_TruncatedReplyWarns(t *testing.T) {
	env := envelope("sess-0005-abcd", session.PhaseCollecte, "début de rép")
	env.Truncated = true
	backend := &fakeBackend{replies: []orchestrator.Envelope{env}}
	var out bytes.Buffer
	if err := newTestLoop(backend, "Bonjour\n", &out).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), i18n.T("repl.truncated")) {
		t.Fatalf("output=%q", out.String())
	}
}

func TestLoop_ThemesCommand(t *testing.T) {
	backend := &fakeBackend{replies: []orchestrator.Envelope{envelope("sess-0006-abcd", session.PhaseCollecte, "ok")}}
	calls := 0
	sel := func(items []memory.Thematic) ([]memory.Thematic, bool, error) {
		calls++
		if calls == 1 {
			return nil, false, nil
		}
		items[0].Checked = false
		items = append(items, memory.Thematic{Label: "RSE", Checked: true, Custom: true})
		return items, true, nil
	}
	var out bytes.Buffer
	loop := newTestLoop(backend, "/themes\n/themes\nBonjour\n", &out, func(o *Options) { o.Select = sel })
	if err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("select calls=%d", calls)
	}
	got := memory.Thematics(backend.starts[0].MemoryDelta)
	if len(got) != 4 || got[0].Checked || got[3].Label != "RSE" || !got[3].Custom {
		t.Fatalf("selection sent=%+v", got)
	}
	if !strings.Contains(out.String(), i18n.T("repl.themes_updated", 3)) {
		t.Fatalf("output=%q", out.String())
	}
}

func TestLoop_LocalCommands(t *testing.T) {
	backend := &fakeBackend{replies: []orchestrator.Envelope{envelope("sess-0007-abcd", session.PhaseSections, "ok")}}
	var out bytes.Buffer
	loop := newTestLoop(backend, "/phase\nBonjour\n/phase\n/reset\n/nope\n/help\n", &out)
	if err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	for _, want := range []string{
		i18n.T("repl.session_none"),
		i18n.T("repl.session", "sess-0007-abcd"),
		i18n.T("repl.phase", tui.PhaseLabel(session.PhaseSections)),
		i18n.T("repl.session_reset"),
		i18n.T("repl.unknown_command", "/nope"),
		"/themes",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q", want)
		}
	}
	if loop.SessionID() != "" || loop.Phase() != session.PhaseCollecte {
		t.Fatalf("reset left session=%q phase=%s", loop.SessionID(), loop.Phase())
	}
}

func TestLoop_RequiresBackendAndInput(t *testing.T) {
	if err := NewLoop(Options{}).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestDefaultSavePath(t *testing.T) {
	if got := defaultSavePath(""); got != "questionnaire.md" {
		t.Fatalf("got %q", got)
	}
	if got := defaultSavePath("0b6c1f4e-1234-5678"); got != "questionnaire-0b6c1f4e.md" {
		t.Fatalf("got %q", got)
	}
}

func TestBasicLineInput(t *testing.T) {
	var prompt bytes.Buffer
	in := NewBasicLineInput(strings.NewReader("un\r\ndeux"), &prompt)
	if line, err := in.ReadLine("> "); err != nil || line != "un" {
		t.Fatalf("line=%q err=%v", line, err)
	}
	if line, err := in.ReadLine("> "); err != nil || line != "deux" {
		t.Fatalf("line=%q err=%v", line, err)
	}
	if _, err := in.ReadLine("> "); err == nil {
		t.Fatal("expected EOF")
	}
	if prompt.String() != "> > > " {
		t.Fatalf("prompt=%q", prompt.String())
	}
}
