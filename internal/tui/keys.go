package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keyboard bindings. Everything except Quit uses a
// control chord so plain keys reach the answer editor.
type KeyMap struct {
	Submit     key.Binding
	Skip       key.Binding
	End        key.Binding
	Camera     key.Binding
	Mic        key.Binding
	Minimize   key.Binding
	Dismiss    key.Binding
	Screenshot key.Binding
	Retry      key.Binding
	Help       key.Binding
	Quit       key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("ctrl+s"),
			key.WithHelp("ctrl+s", "submit answer"),
		),
		Skip: key.NewBinding(
			key.WithKeys("ctrl+x"),
			key.WithHelp("ctrl+x", "skip question"),
		),
		End: key.NewBinding(
			key.WithKeys("ctrl+g"),
			key.WithHelp("ctrl+g", "end interview"),
		),
		Camera: key.NewBinding(
			key.WithKeys("ctrl+o"),
			key.WithHelp("ctrl+o", "camera on/off"),
		),
		Mic: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("ctrl+l", "mic on/off"),
		),
		Minimize: key.NewBinding(
			key.WithKeys("ctrl+t"),
			key.WithHelp("ctrl+t", "compact view"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "dismiss tip"),
		),
		Screenshot: key.NewBinding(
			key.WithKeys("ctrl+p"),
			key.WithHelp("ctrl+p", "screenshot"),
		),
		Retry: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("ctrl+r", "retry"),
		),
		Help: key.NewBinding(
			key.WithKeys("ctrl+_", "f1"),
			key.WithHelp("f1", "more keys"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Skip, k.End, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.Skip, k.End},
		{k.Camera, k.Mic, k.Screenshot},
		{k.Minimize, k.Dismiss, k.Retry},
		{k.Help, k.Quit},
	}
}
