package tui

import (
	"strings"

	"qmpie/internal/i18n"
	"qmpie/internal/memory"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type inputMode int

const (
	inputNone inputMode = iota
	inputTheme
	inputSub
)

// SelectorModel 主题勾选器的 Bubble Tea 模型
// SelectorModel is the Bubble Tea model of the thematic selector. It edits a
// private copy of the selection; Result hands it back once confirmed.
type SelectorModel struct {
	items  []memory.Thematic
	cursor int

	keys  KeyMap
	help  help.Model
	input textinput.Model
	mode  inputMode
	// parent is the thematic receiving a new sub-thematic.
	parent int

	notice    string
	theme     Theme
	width     int
	done      bool
	confirmed bool
}

// NewSelector 创建选择器模型
// NewSelector creates a selector over a copy of items.
func NewSelector(items []memory.Thematic) SelectorModel {
	ti := textinput.New()
	ti.CharLimit = 120
	ti.Prompt = "› "

	return SelectorModel{
		items: CloneSelection(items),
		keys:  DefaultKeyMap(),
		help:  help.New(),
		input: ti,
		theme: DarkTheme(),
		width: 80,
	}
}

// Init implements tea.Model.
func (m SelectorModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m SelectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil
	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m SelectorModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	rows := flatten(m.items)
	m.notice = ""

	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.done = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Confirm):
		m.done = true
		m.confirmed = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(rows)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Toggle):
		if len(rows) > 0 {
			toggle(m.items, rows[m.cursor])
		}
	case key.Matches(msg, m.keys.Remove):
		if len(rows) == 0 {
			break
		}
		var ok bool
		if m.items, ok = remove(m.items, rows[m.cursor]); ok {
			m.cursor = clamp(m.cursor, len(flatten(m.items)))
		}
	case key.Matches(msg, m.keys.AddTheme):
		return m.openInput(inputTheme, i18n.T("tui.add_theme"))
	case key.Matches(msg, m.keys.AddSub):
		if len(rows) == 0 {
			return m.openInput(inputTheme, i18n.T("tui.add_theme"))
		}
		m.parent = rows[m.cursor].theme
		return m.openInput(inputSub, i18n.T("tui.add_sub"))
	}
	return m, nil
}

func (m SelectorModel) openInput(mode inputMode, placeholder string) (tea.Model, tea.Cmd) {
	m.mode = mode
	m.input.Placeholder = placeholder
	m.input.SetValue("")
	return m, m.input.Focus()
}

func (m SelectorModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.closeInput()
		return m, nil
	case tea.KeyEnter:
		value := m.input.Value()
		if strings.TrimSpace(value) == "" {
			m.notice = i18n.T("tui.empty_label")
			return m, nil
		}
		var at row
		if m.mode == inputTheme {
			m.items, at, _ = addThematic(m.items, value)
		} else {
			at, _ = addSub(m.items, m.parent, value)
		}
		m.closeInput()
		m.cursor = indexOf(flatten(m.items), at)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *SelectorModel) closeInput() {
	m.mode = inputNone
	m.notice = ""
	m.input.Blur()
	m.input.SetValue("")
}

// View implements tea.Model.
func (m SelectorModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.theme.TitleStyle.Render(i18n.T("tui.title")))
	b.WriteString("\n\n")

	for i, r := range flatten(m.items) {
		b.WriteString(m.renderRow(r, i == m.cursor))
		b.WriteByte('\n')
	}

	if m.mode != inputNone {
		b.WriteString(m.theme.InputStyle.Width(max(m.width-2, 20)).Render(m.input.View()))
		b.WriteByte('\n')
	}
	if m.notice != "" {
		b.WriteString(m.theme.ErrorStyle.Render(m.notice))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m SelectorModel) renderRow(r row, selected bool) string {
	label, checked, custom := "", false, false
	indent := ""
	if r.sub < 0 {
		t := m.items[r.theme]
		label, checked, custom = t.Label, t.Checked, t.Custom
	} else {
		s := m.items[r.theme].SousThematiques[r.sub]
		label, checked, custom = s.Label, s.Checked, s.Custom
		indent = "    "
	}

	cursor := "  "
	if selected {
		cursor = m.theme.CursorStyle.Render("› ")
	}
	box := "[ ]"
	if checked {
		box = m.theme.CheckedStyle.Render("[x]")
	}
	line := cursor + indent + box + " " + label
	if custom {
		line += " " + m.theme.CustomStyle.Render("("+i18n.T("tui.custom")+")")
	}
	return line
}

// Result 返回编辑后的选择及是否确认
// Result returns the edited selection and whether the user confirmed it.
func (m SelectorModel) Result() ([]memory.Thematic, bool) {
	return CloneSelection(m.items), m.confirmed
}

// RunSelector 运行交互式选择器；取消时返回原选择
// RunSelector runs the selector program and returns the confirmed selection,
// or the original one when the user cancels.
func RunSelector(items []memory.Thematic, opts ...tea.ProgramOption) ([]memory.Thematic, bool, error) {
	final, err := tea.NewProgram(NewSelector(items), opts...).Run()
	if err != nil {
		return items, false, err
	}
	m, ok := final.(SelectorModel)
	if !ok {
		return items, false, nil
	}
	out, confirmed := m.Result()
	if !confirmed {
		return items, false, nil
	}
	return out, true, nil
}

func indexOf(rows []row, r row) int {
	for i, v := range rows {
		if v == r {
			return i
		}
	}
	return 0
}

func clamp(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
