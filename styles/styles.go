package styles

import "github.com/charmbracelet/lipgloss"

var (
	TITLE = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#ff7a59"))

	INFO = lipgloss.NewStyle().
		Italic(true).
		Foreground(lipgloss.Color("#888888"))

	SUCCESS = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#28a745"))

	WARNING = lipgloss.NewStyle().
		Foreground(lipgloss.Color("3"))

	ERROR = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#ee4b2b"))

	// DEVICE renders a device id next to its display name.
	DEVICE = lipgloss.NewStyle().
		Faint(true)

	TEXT = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#ff7a59")).
		Padding(0, 1)
)

// ShortID trims a uuid to something readable in a list.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
