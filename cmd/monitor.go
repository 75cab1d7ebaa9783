package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/syncdb/internal/output"
	"github.com/marcus/syncdb/internal/remote"
	"github.com/marcus/syncdb/internal/storage"
	"github.com/marcus/syncdb/internal/tui/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the sync server with a live TUI dashboard instead of headless",
	Long: `Starts the same authoritative store and step loop as 'serve', but
drives them from inside a Bubble Tea program showing per-client
pending/applied counts, the storage journal's tip, and a feed of recent
step outcomes.

Key bindings:
  r  force refresh
  ?  toggle help
  q  quit`,
	GroupID: "system",
	RunE:    runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	dir := getBaseDir()
	serverDir := filepath.Join(dir, ".syncdb", "server")
	if err := os.MkdirAll(serverDir, 0755); err != nil {
		output.Error("%v", err)
		return err
	}
	clientsDir := filepath.Join(serverDir, "clients")
	if err := os.MkdirAll(clientsDir, 0755); err != nil {
		output.Error("%v", err)
		return err
	}

	store, err := storage.OpenAuthoritative(
		filepath.Join(serverDir, "authoritative.db"),
		filepath.Join(serverDir, "storage.journal"),
	)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer store.Close()

	if err := createNotesTable(store.Conn()); err != nil {
		output.Error("%v", err)
		return err
	}
	if err := store.TrackTable("notes"); err != nil {
		output.Error("%v", err)
		return err
	}

	r := remote.New(store, newDemoMutator(), clientsDir)
	defer r.Close()

	interval, _ := cmd.Flags().GetDuration("interval")
	if interval < 200*time.Millisecond {
		interval = time.Second
	}

	model := monitor.NewModel(r, interval).WithStepDriver(r.Step)

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running monitor: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("interval", time.Second, "refresh interval")
}
