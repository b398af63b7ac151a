package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the dashboard.
type keyMap struct {
	start key.Binding
	stop  key.Binding
	retry key.Binding
	help  key.Binding
	quit  key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		start: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
		stop:  key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop")),
		retry: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry failed")),
		help:  key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
		quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.start, k.stop, k.retry, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.start, k.stop},
		{k.retry, k.help, k.quit},
	}
}
