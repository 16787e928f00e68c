package tui

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

var reSpaces = regexp.MustCompile(`\s+`)

// collapse flattens multi-line SQL into a single whitespace-normalized line
// so one event always occupies one console row.
func collapse(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}
