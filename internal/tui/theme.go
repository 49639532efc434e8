package tui

import (
	"qmpie/internal/session"

	"github.com/charmbracelet/lipgloss"
)

// Theme 定义终端色彩和样式
// Theme defines terminal colors and styles
type Theme struct {
	// 基础色 / Base colors
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Accent    lipgloss.Color
	Danger    lipgloss.Color
	Warning   lipgloss.Color
	Success   lipgloss.Color
	Muted     lipgloss.Color
	Text      lipgloss.Color
	TextDim   lipgloss.Color
	Border    lipgloss.Color

	// 预构建样式 / Pre-built styles
	TitleStyle   lipgloss.Style
	CursorStyle  lipgloss.Style
	CheckedStyle lipgloss.Style
	CustomStyle  lipgloss.Style
	InputStyle   lipgloss.Style
	PromptStyle  lipgloss.Style
	ErrorStyle   lipgloss.Style
	WarningStyle lipgloss.Style
	SuccessStyle lipgloss.Style
	MutedStyle   lipgloss.Style

	phaseColors map[session.Phase]lipgloss.Color
}

// DarkTheme 暗色主题（默认）
// DarkTheme is the default dark theme
func DarkTheme() Theme {
	t := Theme{
		Primary:   lipgloss.Color("#7C3AED"),
		Secondary: lipgloss.Color("#06B6D4"),
		Accent:    lipgloss.Color("#F59E0B"),
		Danger:    lipgloss.Color("#EF4444"),
		Warning:   lipgloss.Color("#F59E0B"),
		Success:   lipgloss.Color("#10B981"),
		Muted:     lipgloss.Color("#6B7280"),
		Text:      lipgloss.Color("#E5E7EB"),
		TextDim:   lipgloss.Color("#9CA3AF"),
		Border:    lipgloss.Color("#374151"),
	}

	t.TitleStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.CursorStyle = lipgloss.NewStyle().
		Foreground(t.Accent).
		Bold(true)

	t.CheckedStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.CustomStyle = lipgloss.NewStyle().
		Foreground(t.Secondary).
		Italic(true)

	t.InputStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)

	t.PromptStyle = lipgloss.NewStyle().
		Foreground(t.Secondary).
		Bold(true)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	t.WarningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#111827")).
		Background(t.Warning).
		Bold(true).
		Padding(0, 1)

	t.SuccessStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.MutedStyle = lipgloss.NewStyle().
		Foreground(t.Muted)

	t.phaseColors = map[session.Phase]lipgloss.Color{
		session.PhaseCollecte: t.Secondary,
		session.PhasePlan:     t.Primary,
		session.PhaseSections: t.Accent,
		session.PhaseFinal:    t.Success,
	}

	return t
}

// PhaseStyle returns the banner style for a phase; unknown phases are muted.
func (t Theme) PhaseStyle(p session.Phase) lipgloss.Style {
	bg, ok := t.phaseColors[p]
	if !ok {
		bg = t.Muted
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(bg).
		Bold(true)
}
