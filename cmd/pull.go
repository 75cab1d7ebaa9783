package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marcus/syncdb/internal/output"
)

var pullCmd = &cobra.Command{
	Use:     "pull",
	Short:   "Fetch fresh storage state and rebase local mutations onto it",
	GroupID: "core",
	RunE:    runPull,
}

func runPull(cmd *cobra.Command, args []string) error {
	dir := getBaseDir()
	local, store, _, err := openLocal(dir)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer closeLocal(store)

	if err := local.Pull(context.Background()); err != nil {
		output.Error("%v", err)
		return err
	}

	output.Success("pulled and rebased")
	return nil
}

func init() {
	rootCmd.AddCommand(pullCmd)
}
