package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mickamy/mysqlfaultproxy/proxy"
)

// Run blocks for the lifetime of the console program, rendering events as
// they arrive on events.
func Run(events <-chan proxy.Event) error {
	p := tea.NewProgram(New(events), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
