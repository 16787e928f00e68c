// Package tui implements a live operator console for a running proxy: a
// scrolling feed of session events (commands, intercepted writes, injected
// delays, TLS upgrades, errors) rendered with Bubble Tea and lipgloss.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/mickamy/mysqlfaultproxy/highlight"
	"github.com/mickamy/mysqlfaultproxy/proxy"
)

const maxEvents = 1000

var (
	styleCommand     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	styleIntercepted = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	styleDelay       = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	styleTLS         = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleError       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleDim         = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleHeader      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255")).Background(lipgloss.Color("236")).Padding(0, 1)
)

// Model is the Bubble Tea model driving the console: it tails a proxy's
// event channel and keeps a scrollback of the most recent activity.
type Model struct {
	events <-chan proxy.Event
	seen   []proxy.Event
	cursor int
	follow bool
	width  int
	height int
}

// New builds a console Model that reads from events until it is closed or
// the program quits.
func New(events <-chan proxy.Event) Model {
	return Model{events: events, follow: true}
}

type eventMsg proxy.Event
type streamClosedMsg struct{}

func waitForEvent(ch <-chan proxy.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.seen = append(m.seen, proxy.Event(msg))
		if len(m.seen) > maxEvents {
			m.seen = m.seen[len(m.seen)-maxEvents:]
		}
		if m.follow {
			m.cursor = len(m.seen) - 1
		}
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "j", "down":
			m.follow = false
			if m.cursor < len(m.seen)-1 {
				m.cursor++
			}
		case "k", "up":
			m.follow = false
			if m.cursor > 0 {
				m.cursor--
			}
		case "g":
			m.follow = true
			if len(m.seen) > 0 {
				m.cursor = len(m.seen) - 1
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return ""
	}

	header := styleHeader.Render(fmt.Sprintf("mysqlfaultproxyd console — %d events", len(m.seen)))
	if len(m.seen) == 0 {
		return header + "\n\nwaiting for sessions...\n\n" + styleDim.Render("q: quit")
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	rows := m.visibleRows()
	for _, ev := range rows {
		b.WriteString(renderEvent(ev, m.width))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	status := "follow"
	if !m.follow {
		status = "paused"
	}
	b.WriteString(styleDim.Render(fmt.Sprintf("j/k: scroll  g: resume follow  q: quit  [%s]", status)))
	return b.String()
}

func (m Model) visibleRows() []proxy.Event {
	height := m.height - 4
	if height < 1 {
		height = 1
	}
	start := m.cursor - height + 1
	if start < 0 {
		start = 0
	}
	end := m.cursor + 1
	if end > len(m.seen) {
		end = len(m.seen)
	}
	if end-start > height {
		start = end - height
	}
	return m.seen[start:end]
}

func renderEvent(ev proxy.Event, width int) string {
	ts := ev.Time.Format("15:04:05.000")
	sessCol := padRight(shortID(ev.SessionID), 8)

	var style lipgloss.Style
	switch ev.Kind {
	case proxy.EventIntercepted:
		style = styleIntercepted
	case proxy.EventDelay:
		style = styleDelay
	case proxy.EventTLSUpgrade:
		style = styleTLS
	case proxy.EventError:
		style = styleError
	default:
		style = styleCommand
	}

	prefix := fmt.Sprintf("%s  %s  %s  ", styleDim.Render(ts), style.Render(padRight(ev.Kind.String(), 12)), sessCol)
	budget := width - lipgloss.Width(prefix)

	detail := collapse(ev.Detail)
	switch ev.Kind {
	case proxy.EventCommand, proxy.EventIntercepted:
		detail = highlight.SQL(detail)
	}
	// Truncation runs after highlighting so the cut is measured on visible
	// cells, not on the embedded escape sequences.
	return prefix + ansi.Truncate(detail, budget, "…")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
