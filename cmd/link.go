package cmd

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marcus/syncdb/internal/output"
	"github.com/marcus/syncdb/internal/syncconfig"
)

var linkCmd = &cobra.Command{
	Use:     "link",
	Short:   "Interactively confirm the server URL and client id this workspace syncs with",
	GroupID: "system",
	RunE:    runLink,
}

func runLink(cmd *cobra.Command, args []string) error {
	cfg, err := syncconfig.LoadConfig()
	if err != nil {
		output.Error("%v", err)
		return err
	}

	url := cfg.Sync.URL
	if url == "" {
		url = syncconfig.GetServerURL()
	}
	clientID, err := syncconfig.GetClientID()
	if err != nil {
		output.Error("%v", err)
		return err
	}

	var confirmRegen bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Sync server URL").
				Value(&url).
				Placeholder("http://localhost:8080").
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("server URL is required")
					}
					return nil
				}),
			huh.NewNote().
				Title("Client id").
				Description(clientID),
			huh.NewConfirm().
				Title("Generate a new client id").
				Description("Only do this if this workspace has never synced before; reusing an id across two workspaces against the same server corrupts mutation ordering.").
				Value(&confirmRegen),
		).Title("syncdb link"),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		output.Error("%v", err)
		return err
	}

	if confirmRegen {
		clientID = uuid.NewString()
	}

	cfg.Sync.URL = url
	cfg.Sync.ClientID = clientID
	if err := syncconfig.SaveConfig(cfg); err != nil {
		output.Error("%v", err)
		return err
	}

	output.Success("linked to %s as client %s", url, clientID)
	return nil
}

func init() {
	rootCmd.AddCommand(linkCmd)
}
