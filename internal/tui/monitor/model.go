// Package monitor implements a small Bubble Tea live view over a running
// Remote: per-client pending/applied counts, the storage journal's tip, and
// a scrolling feed of recent Step outcomes.
package monitor

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/syncdb/internal/remote"
)

// MinWidth is the minimum terminal width for proper display.
const MinWidth = 40

// MaxRecent bounds how many Step events the feed keeps.
const MaxRecent = 50

// TickMsg triggers a data refresh.
type TickMsg time.Time

// RefreshMsg carries a freshly polled snapshot.
type RefreshMsg Snapshot

// StepMsg carries the result of one driven Step call (only sent when the
// monitor is also driving the step loop itself).
type StepMsg struct {
	Result remote.StepResult
	Err    error
}

// Model is the Bubble Tea model for the sync monitor.
type Model struct {
	remote *remote.Remote
	// step, if set, is called once per tick after refreshing the snapshot,
	// letting the monitor double as a standalone step-loop driver for demo
	// binaries that don't run a separate server process.
	step func(ctx context.Context) (remote.StepResult, error)

	Width  int
	Height int

	Snapshot  Snapshot
	Recent    []StepEvent
	StartedAt time.Time
	ShowHelp  bool
	Err       error

	RefreshInterval time.Duration
}

// NewModel creates a monitor model polling r every interval.
func NewModel(r *remote.Remote, interval time.Duration) Model {
	return Model{
		remote:          r,
		RefreshInterval: interval,
		StartedAt:       time.Now(),
	}
}

// WithStepDriver makes the monitor call step once per tick, recording the
// outcome in the recent-activity feed.
func (m Model) WithStepDriver(step func(ctx context.Context) (remote.StepResult, error)) Model {
	m.step = step
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.scheduleTick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		cmds := []tea.Cmd{m.refresh(), m.scheduleTick()}
		if m.step != nil {
			cmds = append(cmds, m.driveStep())
		}
		return m, tea.Batch(cmds...)

	case RefreshMsg:
		m.Snapshot = Snapshot(msg)
		return m, nil

	case StepMsg:
		m.Err = msg.Err
		if msg.Err == nil {
			m.Recent = append(m.Recent, StepEvent{
				Outcome:  msg.Result.Outcome,
				ClientID: msg.Result.ClientID,
				LSN:      uint64(msg.Result.LSN),
				At:       time.Now(),
			})
			if len(m.Recent) > MaxRecent {
				m.Recent = m.Recent[len(m.Recent)-MaxRecent:]
			}
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		return m, m.refresh()
	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	return m.renderView()
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) refresh() tea.Cmd {
	r := m.remote
	return func() tea.Msg {
		return RefreshMsg(FetchSnapshot(r))
	}
}

func (m Model) driveStep() tea.Cmd {
	step := m.step
	return func() tea.Msg {
		result, err := step(context.Background())
		return StepMsg{Result: result, Err: err}
	}
}
