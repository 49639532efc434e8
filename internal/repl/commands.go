package repl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"qmpie/internal/defaults"
	"qmpie/internal/i18n"
	"qmpie/internal/session"
	"qmpie/internal/tui"

	"go.uber.org/zap"
)

// handleCommand runs a slash command and reports whether the loop must stop.
func (l *Loop) handleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false
	}
	cmd := parts[0]
	arg := strings.TrimSpace(strings.TrimPrefix(input, cmd))

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		l.println(l.block(i18n.T("repl.help")))
	case "/final":
		if arg == "" {
			arg = defaults.FinalUserMessage
		}
		l.send(ctx, arg, true)
	case "/reset":
		l.sessionID = ""
		l.phase = session.PhaseCollecte
		l.deliverable = ""
		l.println(i18n.T("repl.session_reset"))
	case "/phase":
		l.println(tui.PhaseBanner(l.phase, l.opts.Width, l.theme))
		l.println(i18n.T("repl.phase", tui.PhaseLabel(l.phase)))
		if l.sessionID == "" {
			l.println(i18n.T("repl.session_none"))
		} else {
			l.println(i18n.T("repl.session", l.sessionID))
		}
	case "/save":
		l.save(arg)
	case "/themes":
		l.editThemes()
	default:
		l.println(l.theme.ErrorStyle.Render(i18n.T("repl.unknown_command", cmd)))
	}
	return false
}

func (l *Loop) save(path string) {
	if l.deliverable == "" {
		l.println(i18n.T("repl.no_deliverable"))
		return
	}
	if path == "" {
		path = defaultSavePath(l.sessionID)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			l.println(l.theme.ErrorStyle.Render(i18n.T("repl.error", err.Error())))
			return
		}
	}
	if err := os.WriteFile(path, []byte(l.deliverable+"\n"), 0o644); err != nil {
		l.println(l.theme.ErrorStyle.Render(i18n.T("repl.error", err.Error())))
		return
	}
	l.println(l.theme.SuccessStyle.Render(i18n.T("repl.saved", path)))
}

func defaultSavePath(sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	if short == "" {
		return "questionnaire.md"
	}
	return fmt.Sprintf("questionnaire-%s.md", short)
}

func (l *Loop) editThemes() {
	out, ok, err := l.opts.Select(l.thematics)
	if err != nil {
		l.logger.Debug("thematic selector failed", zap.Error(err))
		l.println(l.theme.ErrorStyle.Render(i18n.T("repl.error", err.Error())))
		return
	}
	if !ok {
		return
	}
	l.thematics = tui.CloneSelection(out)
	l.println(i18n.T("repl.themes_updated", tui.CheckedCount(l.thematics)))
}
