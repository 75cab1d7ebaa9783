package monitor

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/syncdb/internal/remote"
)

var (
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	idleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	appliedStyle = lipgloss.NewStyle().Foreground(successColor)
	poisonStyle  = lipgloss.NewStyle().Foreground(errorColor)
	warnStyle    = lipgloss.NewStyle().Foreground(warningColor)
)

// formatOutcome renders a Step outcome with color.
func formatOutcome(o remote.Outcome) string {
	switch o {
	case remote.Applied:
		return appliedStyle.Render("applied")
	case remote.Poisoned:
		return poisonStyle.Render("poisoned")
	default:
		return idleStyle.Render("idle")
	}
}
