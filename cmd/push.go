package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/marcus/syncdb/internal/output"
)

var pushCmd = &cobra.Command{
	Use:     "push",
	Short:   "Send the local mutation journal's unacknowledged tail to the server",
	GroupID: "core",
	RunE:    runPush,
}

func runPush(cmd *cobra.Command, args []string) error {
	dir := getBaseDir()
	local, store, clientID, err := openLocal(dir)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer closeLocal(store)

	if err := local.PushMutations(context.Background()); err != nil {
		output.Error("%v", err)
		return err
	}

	output.Success("pushed; server cursor now at lsn %d (client %s)", local.ServerCursor(), clientID)
	return nil
}

func init() {
	rootCmd.AddCommand(pushCmd)
}
