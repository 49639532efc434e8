package tui

import (
	"strings"
	"testing"

	"qmpie/internal/defaults"
	"qmpie/internal/i18n"
	"qmpie/internal/memory"

	tea "github.com/charmbracelet/bubbletea"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var (
	space = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	down  = tea.KeyMsg{Type: tea.KeyDown}
	enter = tea.KeyMsg{Type: tea.KeyEnter}
	esc   = tea.KeyMsg{Type: tea.KeyEsc}
)

func press(t *testing.T, m SelectorModel, msgs ...tea.Msg) (SelectorModel, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		m = next.(SelectorModel)
	}
	return m, cmd
}

func TestSelector_UncheckParentClearsChildren(t *testing.T) {
	m, _ := press(t, NewSelector(defaults.Thematics()), space)
	items, _ := m.Result()
	if items[0].Checked {
		t.Fatal("Satisfaction client should be unchecked")
	}
	for _, s := range items[0].SousThematiques {
		if s.Checked {
			t.Fatalf("sub %q still checked", s.Label)
		}
	}

	m, _ = press(t, m, space)
	items, _ = m.Result()
	if !items[0].Checked || items[0].SousThematiques[0].Checked {
		t.Fatalf("re-checking the parent must not re-check children: %+v", items[0])
	}
}

func TestSelector_CheckChildChecksParent(t *testing.T) {
	m := NewSelector(defaults.Thematics())
	for i := 0; i < 5; i++ {
		m, _ = press(t, m, down)
	}
	m, _ = press(t, m, space)
	items, _ := m.Result()
	if !items[1].Checked || !items[1].SousThematiques[0].Checked {
		t.Fatalf("Notoriété & image=%+v", items[1])
	}

	m, _ = press(t, m, runes("x"))
	items, _ = m.Result()
	if !items[1].Checked || items[1].SousThematiques[0].Checked {
		t.Fatalf("unchecking a child keeps the parent: %+v", items[1])
	}
}

func TestSelector_CursorStaysInBounds(t *testing.T) {
	m := NewSelector(defaults.Thematics())
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if m.cursor != 0 {
		t.Fatalf("cursor=%d", m.cursor)
	}
	for i := 0; i < 50; i++ {
		m, _ = press(t, m, down)
	}
	if m.cursor != 9 {
		t.Fatalf("cursor=%d, want 9", m.cursor)
	}
}

func TestSelector_AddAndRemoveCustomThematic(t *testing.T) {
	m, cmd := press(t, NewSelector(defaults.Thematics()), runes("A"))
	if m.mode != inputTheme || cmd == nil {
		t.Fatalf("mode=%v cmd=%v", m.mode, cmd)
	}
	m, _ = press(t, m, runes("Perso"), enter)
	if m.mode != inputNone {
		t.Fatal("input should be closed")
	}
	items, _ := m.Result()
	last := items[len(items)-1]
	if last.Label != "Perso" || !last.Checked || !last.Custom {
		t.Fatalf("added=%+v", last)
	}
	if m.cursor != 10 {
		t.Fatalf("cursor=%d, want 10", m.cursor)
	}
	if !strings.Contains(m.View(), i18n.T("tui.custom")) {
		t.Fatalf("custom marker missing:\n%s", m.View())
	}

	m, _ = press(t, m, runes("d"))
	items, _ = m.Result()
	if len(items) != 3 || m.cursor != 9 {
		t.Fatalf("len=%d cursor=%d", len(items), m.cursor)
	}
}

func TestSelector_AddSubChecksParent(t *testing.T) {
	m := NewSelector(defaults.Thematics())
	for i := 0; i < 7; i++ {
		m, _ = press(t, m, down)
	}
	m, _ = press(t, m, runes("a"), runes("Tarifs  "), enter)
	items, _ := m.Result()
	offre := items[2]
	if !offre.Checked || len(offre.SousThematiques) != 3 {
		t.Fatalf("offre=%+v", offre)
	}
	sub := offre.SousThematiques[2]
	if sub.Label != "Tarifs" || !sub.Checked || !sub.Custom {
		t.Fatalf("sub=%+v", sub)
	}
	if m.cursor != 10 {
		t.Fatalf("cursor=%d, want 10", m.cursor)
	}
}

func TestSelector_BuiltInEntriesCannotBeRemoved(t *testing.T) {
	m, _ := press(t, NewSelector(defaults.Thematics()), runes("d"), down, runes("d"))
	items, _ := m.Result()
	if len(items) != 3 || len(items[0].SousThematiques) != 3 {
		t.Fatalf("items=%+v", items)
	}
}

func TestSelector_EmptyLabelKeepsInputOpen(t *testing.T) {
	m, _ := press(t, NewSelector(defaults.Thematics()), runes("A"), runes("   "), enter)
	if m.mode != inputTheme {
		t.Fatal("input should stay open")
	}
	if m.notice != i18n.T("tui.empty_label") {
		t.Fatalf("notice=%q", m.notice)
	}

	m, _ = press(t, m, esc)
	items, _ := m.Result()
	if m.mode != inputNone || len(items) != 3 || m.done {
		t.Fatalf("esc should only close the input: mode=%v len=%d done=%v", m.mode, len(items), m.done)
	}
}

func TestSelector_ConfirmAndCancel(t *testing.T) {
	orig := defaults.Thematics()

	m, cmd := press(t, NewSelector(orig), space, enter)
	items, ok := m.Result()
	if !ok || items[0].Checked {
		t.Fatalf("confirmed=%v items=%+v", ok, items[0])
	}
	if cmd == nil {
		t.Fatal("confirm should quit")
	}
	if _, isQuit := cmd().(tea.QuitMsg); !isQuit {
		t.Fatal("confirm should return tea.Quit")
	}
	if m.View() != "" {
		t.Fatal("finished selector renders nothing")
	}
	if !orig[0].Checked || !orig[0].SousThematiques[0].Checked {
		t.Fatal("original selection was mutated")
	}

	m, _ = press(t, NewSelector(orig), space, esc)
	if _, ok := m.Result(); ok {
		t.Fatal("esc should cancel")
	}
}

func TestSelector_HelpToggle(t *testing.T) {
	m := NewSelector(defaults.Thematics())
	short := m.View()
	m, _ = press(t, m, tea.WindowSizeMsg{Width: 120, Height: 40}, runes("?"))
	if !m.help.ShowAll || m.width != 120 {
		t.Fatalf("showAll=%v width=%d", m.help.ShowAll, m.width)
	}
	if full := m.View(); len(full) <= len(short) {
		t.Fatal("full help should be longer than short help")
	}
}

func TestCheckedCount(t *testing.T) {
	if got := CheckedCount(defaults.Thematics()); got != 3 {
		t.Fatalf("CheckedCount=%d, want 3", got)
	}
	if got := CheckedCount(nil); got != 0 {
		t.Fatalf("CheckedCount(nil)=%d", got)
	}
	if CloneSelection(nil) != nil {
		t.Fatal("CloneSelection(nil) should be nil")
	}
	var _ []memory.Thematic = CloneSelection(defaults.Thematics())
}
