package tui

import "github.com/charmbracelet/lipgloss"

var (
	// HeaderStyle styles the title and column header rows.
	HeaderStyle = lipgloss.NewStyle().Bold(true)

	statusStyles = map[string]lipgloss.Style{
		// Terminal states
		"downloaded": lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		"cached":     lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		"extracted":  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),

		// Active states
		"downloading": lipgloss.NewStyle().Foreground(lipgloss.Color("4")),

		// Error
		"error": lipgloss.NewStyle().Foreground(lipgloss.Color("1")),

		// Pending
		"pending": lipgloss.NewStyle().Faint(true),
	}
)

// StatusStyle returns the lipgloss style for the given status string.
func StatusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return lipgloss.NewStyle()
}
