package monitor

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

func (m Model) renderView() string {
	if m.Width > 0 && m.Width < MinWidth {
		return "terminal too narrow"
	}

	var b strings.Builder
	b.WriteString(panelTitleStyle.Render(fmt.Sprintf(" syncdb monitor — storage lsn %d ", m.Snapshot.StorageLSN)))
	b.WriteString("\n\n")
	b.WriteString(m.renderClients())
	b.WriteString("\n")
	b.WriteString(m.renderRecent())

	if m.Err != nil {
		b.WriteString("\n")
		b.WriteString(poisonStyle.Render("error: " + m.Err.Error()))
	}

	b.WriteString("\n\n")
	if m.ShowHelp {
		b.WriteString(helpStyle.Render("r refresh · ? hide help · q quit"))
	} else {
		b.WriteString(helpStyle.Render("? help · q quit"))
	}

	if !m.Snapshot.FetchedAt.IsZero() {
		b.WriteString("  ")
		b.WriteString(subtleStyle.Render("last refresh " + humanize.Time(m.Snapshot.FetchedAt)))
	}

	return panelStyle.Render(b.String())
}

func (m Model) renderClients() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("clients"))
	b.WriteString("\n")
	if len(m.Snapshot.Clients) == 0 {
		b.WriteString(subtleStyle.Render("  (none seen yet)\n"))
		return b.String()
	}
	for _, c := range m.Snapshot.Clients {
		appliedStr := subtleStyle.Render("never")
		if c.HasSeen {
			appliedStr = fmt.Sprintf("%d", c.Applied)
		}
		pending := fmt.Sprintf("%d", c.Pending)
		if c.Pending > 0 {
			pending = warnStyle.Render(pending)
		}
		b.WriteString(fmt.Sprintf("  %-24s pending=%-6s applied=%s\n", c.ClientID, pending, appliedStr))
	}
	return b.String()
}

func (m Model) renderRecent() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("recent steps"))
	b.WriteString("\n")
	if len(m.Recent) == 0 {
		b.WriteString(subtleStyle.Render("  (not driving the step loop)\n"))
		return b.String()
	}
	start := 0
	if len(m.Recent) > 10 {
		start = len(m.Recent) - 10
	}
	for _, e := range m.Recent[start:] {
		b.WriteString(fmt.Sprintf("  %s %-20s lsn=%d %s\n",
			humanize.Time(e.At), e.ClientID, e.LSN, formatOutcome(e.Outcome)))
	}
	return b.String()
}
