// Package output provides styled terminal output helpers (success, error,
// warning, sync-status formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/syncdb/internal/remote"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// OutputMode determines output format.
type OutputMode int

const (
	ModeShort OutputMode = iota
	ModeLong
	ModeJSON
)

// Success prints a success message.
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message.
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message.
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message.
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON.
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output.
const (
	ErrCodeJournalGap     = "journal_gap"
	ErrCodeDivergence     = "divergence"
	ErrCodeBackpressure   = "backpressure"
	ErrCodeInvalidInput   = "invalid_input"
	ErrCodeTransportError = "transport_error"
)

// JSONError outputs an error as JSON.
func JSONError(code, message string) {
	fmt.Printf(`{"error":{"code":"%s","message":"%s"}}`, code, message)
	fmt.Println()
}

// FormatOutcome renders a Step outcome with color: green for Applied, red
// for Poisoned, dim for Idle.
func FormatOutcome(o remote.Outcome) string {
	switch o {
	case remote.Applied:
		return successStyle.Render("applied")
	case remote.Poisoned:
		return errorStyle.Render("poisoned")
	default:
		return idleStyle.Render("idle")
	}
}

// FormatClientLine formats one row of a client-status listing, e.g.
// "c-phone   pending=3  applied=41".
func FormatClientLine(clientID string, pending int, applied uint64) string {
	return fmt.Sprintf("%-20s %s %s",
		titleStyle.Render(clientID),
		subtleStyle.Render(fmt.Sprintf("pending=%d", pending)),
		subtleStyle.Render(fmt.Sprintf("applied=%d", applied)))
}

// FormatPoisonLine formats a single poison notice for CLI display.
func FormatPoisonLine(clientID string, lsn uint64, reason string) string {
	return fmt.Sprintf("  %s %s: %s",
		errorStyle.Render(fmt.Sprintf("[lsn %d]", lsn)),
		titleStyle.Render(clientID),
		reason)
}

// FormatTimeAgo formats a time as a human-readable "ago" string.
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output, e.g.
// "\nCLIENTS:\n".
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentLines indents each line by the specified number of spaces.
func IndentLines(lines []string, spaces int) []string {
	indent := strings.Repeat(" ", spaces)
	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = indent + line
	}
	return result
}

// IndentString indents each line in a string by the specified number of spaces.
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	return strings.Join(IndentLines(lines, spaces), "\n")
}

// BulletList formats items as a bulleted list with optional indentation.
func BulletList(items []string, indent int) []string {
	prefix := strings.Repeat(" ", indent)
	result := make([]string, len(items))
	for i, item := range items {
		result[i] = prefix + "- " + item
	}
	return result
}
