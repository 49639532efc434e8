package tui

import (
	"strings"

	"qmpie/internal/i18n"
	"qmpie/internal/session"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// PhaseLabel returns the localized label of a phase, or the raw value when
// the catalog has none.
func PhaseLabel(p session.Phase) string {
	key := "phase." + string(p)
	if label := i18n.T(key); label != key {
		return label
	}
	return string(p)
}

// PhaseBannerText 生成定宽阶段横幅文本（按显示宽度填充）
// PhaseBannerText lays out "● label" centered in width display cells. Labels
// wider than the banner are truncated with an ellipsis.
func PhaseBannerText(p session.Phase, width int) string {
	if width <= 0 {
		width = 60
	}
	text := " ● " + PhaseLabel(p) + " "
	if runewidth.StringWidth(text) > width {
		return runewidth.Truncate(text, width, "…")
	}
	pad := width - runewidth.StringWidth(text)
	left := pad / 2
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", pad-left)
}

// PhaseBanner renders the banner with the phase color.
func PhaseBanner(p session.Phase, width int, theme Theme) string {
	return theme.PhaseStyle(p).Render(PhaseBannerText(p, width))
}
