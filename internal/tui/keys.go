package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap 定义主题选择器的快捷键绑定
// KeyMap defines the selector keybindings
type KeyMap struct {
	Up       key.Binding
	Down     key.Binding
	Toggle   key.Binding
	AddTheme key.Binding
	AddSub   key.Binding
	Remove   key.Binding
	Confirm  key.Binding
	Cancel   key.Binding
	Help     key.Binding
}

// DefaultKeyMap 默认快捷键
// DefaultKeyMap returns default keybindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "haut"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "bas"),
		),
		Toggle: key.NewBinding(
			key.WithKeys(" ", "x"),
			key.WithHelp("espace", "cocher"),
		),
		AddTheme: key.NewBinding(
			key.WithKeys("A"),
			key.WithHelp("A", "ajouter thématique"),
		),
		AddSub: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "ajouter sous-thématique"),
		),
		Remove: key.NewBinding(
			key.WithKeys("d", "delete"),
			key.WithHelp("d", "supprimer (perso)"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("entrée", "valider"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc", "ctrl+c"),
			key.WithHelp("échap", "annuler"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "aide"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Confirm, k.Cancel, k.Help}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle},
		{k.AddTheme, k.AddSub, k.Remove},
		{k.Confirm, k.Cancel, k.Help},
	}
}
