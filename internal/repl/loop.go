package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"qmpie/internal/chat"
	"qmpie/internal/client"
	"qmpie/internal/defaults"
	"qmpie/internal/deliverable"
	"qmpie/internal/httpapi"
	"qmpie/internal/i18n"
	"qmpie/internal/memory"
	"qmpie/internal/orchestrator"
	"qmpie/internal/session"
	"qmpie/internal/storage"
	"qmpie/internal/tui"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

// Backend is the part of the HTTP client the loop talks to.
type Backend interface {
	Health(ctx context.Context) (httpapi.HealthResponse, error)
	Start(ctx context.Context, body httpapi.TurnBody) (orchestrator.Envelope, error)
	Continue(ctx context.Context, body httpapi.SessionTurnBody) (orchestrator.Envelope, error)
	Final(ctx context.Context, body httpapi.SessionTurnBody) (orchestrator.Envelope, error)
}

var _ Backend = (*client.Client)(nil)

// SelectFunc edits a thematic selection; ok is false when the user cancels.
type SelectFunc func(items []memory.Thematic) (out []memory.Thematic, ok bool, err error)

// Options configures a Loop.
type Options struct {
	Backend Backend
	// Store archives transcripts and deliverables. Optional.
	Store         storage.Store
	Input         LineReader
	Out           io.Writer
	Logger        *zap.Logger
	Width         int
	PromptVersion string
	Thematics     []memory.Thematic
	Select        SelectFunc
	Render        func(markdown string, width int) string
}

// Loop 持有终端会话状态：会话 ID、阶段、主题选择与最近的交付物
// Loop holds the terminal conversation state: session id, phase, thematic
// selection and the last deliverable.
type Loop struct {
	opts   Options
	theme  tui.Theme
	logger *zap.Logger

	sessionID   string
	phase       session.Phase
	thematics   []memory.Thematic
	deliverable string
}

// NewLoop builds a loop, filling defaults for optional fields.
func NewLoop(opts Options) *Loop {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if opts.PromptVersion == "" {
		opts.PromptVersion = defaults.PromptVersion
	}
	if opts.Select == nil {
		opts.Select = func(items []memory.Thematic) ([]memory.Thematic, bool, error) {
			return tui.RunSelector(items)
		}
	}
	if opts.Render == nil {
		opts.Render = tui.RenderMarkdown
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	thematics := opts.Thematics
	if thematics == nil {
		thematics = defaults.Thematics()
	}
	return &Loop{
		opts:      opts,
		theme:     tui.DarkTheme(),
		logger:    logger.Named("repl"),
		phase:     session.PhaseCollecte,
		thematics: tui.CloneSelection(thematics),
	}
}

// SessionID returns the current server session, empty before the first turn.
func (l *Loop) SessionID() string { return l.sessionID }

// Phase returns the last phase reported by the server.
func (l *Loop) Phase() session.Phase { return l.phase }

// Run 运行 REPL：健康检查横幅、读取输入、分发命令或发送消息
// Run prints the health banner then reads lines until EOF or /quit. Slash
// commands are handled locally; any other line is sent as a turn.
func (l *Loop) Run(ctx context.Context) error {
	if l.opts.Backend == nil || l.opts.Input == nil {
		return errors.New("repl: backend and input are required")
	}
	l.banner(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := l.opts.Input.ReadLine(l.prompt())
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "/") {
			if quit := l.handleCommand(ctx, text); quit {
				return nil
			}
			continue
		}
		l.send(ctx, text, false)
	}
}

func (l *Loop) banner(ctx context.Context) {
	health, err := l.opts.Backend.Health(ctx)
	if err != nil {
		l.println(l.theme.ErrorStyle.Render(i18n.T("repl.unreachable", err.Error())))
	} else if !health.OpenAIEnabled {
		l.println(l.theme.WarningStyle.Render(i18n.T("repl.disabled", strings.Join(health.MissingKeys, ", "))))
	}
	l.println(l.theme.TitleStyle.Render(i18n.T("repl.welcome")))
	l.println(tui.PhaseBanner(l.phase, l.opts.Width, l.theme))
}

func (l *Loop) prompt() string {
	return l.theme.PromptStyle.Render("["+string(l.phase)+"]") + " > "
}

// send runs one turn. The first message opens a session; /final needs one.
func (l *Loop) send(ctx context.Context, text string, final bool) {
	body := httpapi.TurnBody{
		UserMessage:   text,
		MemoryDelta:   memory.SelectionDelta(l.thematics),
		PromptVersion: l.opts.PromptVersion,
	}

	if final && l.sessionID == "" {
		l.println(i18n.T("repl.final_needs_session"))
		return
	}
	l.println(l.theme.MutedStyle.Render(i18n.T("repl.thinking")))

	var (
		env orchestrator.Envelope
		err error
	)
	switch {
	case l.sessionID == "":
		env, err = l.opts.Backend.Start(ctx, body)
	case final:
		env, err = l.opts.Backend.Final(ctx, httpapi.SessionTurnBody{SessionID: l.sessionID, TurnBody: body})
	default:
		env, err = l.opts.Backend.Continue(ctx, httpapi.SessionTurnBody{SessionID: l.sessionID, TurnBody: body})
	}
	if err != nil {
		l.turnFailed(err)
		return
	}
	l.apply(text, env)
}

func (l *Loop) turnFailed(err error) {
	if l.sessionID != "" && (client.IsStatus(err, http.StatusNotFound) || client.IsStatus(err, http.StatusConflict)) {
		l.logger.Debug("session lost", zap.String("session", l.sessionID), zap.Error(err))
		l.sessionID = ""
		l.phase = session.PhaseCollecte
		l.println(l.theme.WarningStyle.Render(i18n.T("repl.session_expired")))
		return
	}
	l.println(l.theme.ErrorStyle.Render(i18n.T("repl.error", err.Error())))
}

func (l *Loop) apply(userText string, env orchestrator.Envelope) {
	l.sessionID = env.SessionID
	if env.Phase != l.phase {
		l.phase = env.Phase
		l.println(tui.PhaseBanner(l.phase, l.opts.Width, l.theme))
	}

	l.println(l.opts.Render(env.AssistantMarkdown, l.opts.Width))
	if env.Truncated {
		l.println(l.theme.WarningStyle.Render(i18n.T("repl.truncated")))
	}
	l.archiveTurns(userText, env.AssistantMarkdown)

	if !env.FinalMarkdownPresent {
		return
	}
	doc, err := deliverable.Extract(env.AssistantMarkdown)
	if err != nil {
		return
	}
	l.deliverable = doc
	var id int64
	if l.opts.Store != nil {
		id, err = l.opts.Store.SaveDeliverable(storage.Deliverable{
			SessionID:     env.SessionID,
			Phase:         string(env.Phase),
			PromptVersion: env.PromptVersion,
			Title:         deliverable.Title(doc),
			Markdown:      doc,
		})
		if err != nil {
			l.println(l.theme.ErrorStyle.Render(i18n.T("repl.error", err.Error())))
			return
		}
	}
	l.println(l.theme.SuccessStyle.Render(i18n.T("repl.final_ready", utf8.RuneCountInString(doc), id)))
}

func (l *Loop) archiveTurns(userText, reply string) {
	if l.opts.Store == nil {
		return
	}
	for _, turn := range []chat.Turn{
		{Role: chat.RoleUser, Content: userText},
		{Role: chat.RoleAssistant, Content: reply},
	} {
		if err := l.opts.Store.AppendTurn(l.sessionID, turn); err != nil {
			l.logger.Debug("archive turn failed", zap.Error(err))
			return
		}
	}
}

func (l *Loop) println(s string) {
	if s == "" {
		return
	}
	fmt.Fprintln(l.opts.Out, s)
}

// block wraps command output to the terminal width.
func (l *Loop) block(s string) string {
	return lipgloss.NewStyle().Width(l.opts.Width).Render(s)
}
