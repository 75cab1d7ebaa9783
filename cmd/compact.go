package cmd

import (
	"github.com/spf13/cobra"

	"github.com/marcus/syncdb/internal/journal"
	"github.com/marcus/syncdb/internal/mutation"
	"github.com/marcus/syncdb/internal/output"
)

var compactCmd = &cobra.Command{
	Use:     "compact",
	Short:   "Roll up the acknowledged prefix of the local mutation journal",
	Long:    `Replaces the journal entries the server has already confirmed (everything before ServerCursor) with nothing, keeping the journal file small.`,
	GroupID: "core",
	RunE:    runCompact,
}

func runCompact(cmd *cobra.Command, args []string) error {
	dir := getBaseDir()
	local, store, _, err := openLocal(dir)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer closeLocal(store)

	cursor := local.ServerCursor()
	j := local.Journal()

	before := j.Len()
	discard := func(entries []journal.Entry[mutation.Mutation]) (mutation.Mutation, bool) {
		return nil, false
	}
	if err := j.Rollup(cursor, discard); err != nil {
		output.Error("%v", err)
		return err
	}

	output.Success("compacted %d acknowledged entries (up to lsn %d)", before-j.Len(), cursor)
	return nil
}

func init() {
	rootCmd.AddCommand(compactCmd)
}
