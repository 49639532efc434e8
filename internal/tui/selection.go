package tui

import (
	"strings"

	"qmpie/internal/memory"
)

// row addresses one visible line of the selector; sub is -1 on a thematic.
type row struct {
	theme int
	sub   int
}

func flatten(items []memory.Thematic) []row {
	rows := make([]row, 0, len(items)*3)
	for i, t := range items {
		rows = append(rows, row{theme: i, sub: -1})
		for j := range t.SousThematiques {
			rows = append(rows, row{theme: i, sub: j})
		}
	}
	return rows
}

// CloneSelection deep-copies a thematic selection.
func CloneSelection(items []memory.Thematic) []memory.Thematic {
	if items == nil {
		return nil
	}
	out := make([]memory.Thematic, len(items))
	for i, t := range items {
		out[i] = t
		out[i].SousThematiques = append([]memory.SubThematic(nil), t.SousThematiques...)
	}
	return out
}

// CheckedCount counts checked thematics and sub-thematics.
func CheckedCount(items []memory.Thematic) int {
	n := 0
	for _, t := range items {
		if t.Checked {
			n++
		}
		for _, s := range t.SousThematiques {
			if s.Checked {
				n++
			}
		}
	}
	return n
}

// toggle flips the entry at r. Unchecking a thematic unchecks its children;
// checking a child checks its parent.
func toggle(items []memory.Thematic, r row) {
	t := &items[r.theme]
	if r.sub < 0 {
		t.Checked = !t.Checked
		if !t.Checked {
			for j := range t.SousThematiques {
				t.SousThematiques[j].Checked = false
			}
		}
		return
	}
	s := &t.SousThematiques[r.sub]
	s.Checked = !s.Checked
	if s.Checked {
		t.Checked = true
	}
}

// addThematic appends a checked custom thematic and returns its row.
func addThematic(items []memory.Thematic, label string) ([]memory.Thematic, row, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return items, row{}, false
	}
	items = append(items, memory.Thematic{
		Label:           label,
		Checked:         true,
		Custom:          true,
		SousThematiques: []memory.SubThematic{},
	})
	return items, row{theme: len(items) - 1, sub: -1}, true
}

// addSub appends a checked custom sub-thematic under theme, which is checked
// as well.
func addSub(items []memory.Thematic, theme int, label string) (row, bool) {
	label = strings.TrimSpace(label)
	if label == "" || theme < 0 || theme >= len(items) {
		return row{}, false
	}
	t := &items[theme]
	t.SousThematiques = append(t.SousThematiques, memory.SubThematic{Label: label, Checked: true, Custom: true})
	t.Checked = true
	return row{theme: theme, sub: len(t.SousThematiques) - 1}, true
}

// remove deletes the custom entry at r. Built-in entries are kept.
func remove(items []memory.Thematic, r row) ([]memory.Thematic, bool) {
	if r.sub < 0 {
		if !items[r.theme].Custom {
			return items, false
		}
		return append(items[:r.theme], items[r.theme+1:]...), true
	}
	t := &items[r.theme]
	if !t.SousThematiques[r.sub].Custom {
		return items, false
	}
	t.SousThematiques = append(t.SousThematiques[:r.sub], t.SousThematiques[r.sub+1:]...)
	return items, true
}
