package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/syncdb/internal/output"
	"github.com/marcus/syncdb/internal/timeline"
)

var explainCmd = &cobra.Command{
	Use:     "explain",
	Short:   "Pull and render a markdown report of this workspace's poisoned mutations",
	GroupID: "system",
	RunE:    runExplain,
}

func runExplain(cmd *cobra.Command, args []string) error {
	dir := getBaseDir()
	local, store, clientID, err := openLocal(dir)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer closeLocal(store)

	if err := local.Pull(context.Background()); err != nil {
		output.Error("%v", err)
		return err
	}

	report := renderPoisonReport(clientID, local.PoisonNotices())
	rendered, err := output.RenderMarkdown(report)
	if err != nil {
		output.Error("%v", err)
		return err
	}

	fmt.Println(rendered)
	return nil
}

func renderPoisonReport(clientID string, notices []timeline.PoisonNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Poison report for %s\n\n", clientID)

	if len(notices) == 0 {
		b.WriteString("No poisoned mutations. Everything this client pushed has been applied.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "The server could not apply **%d** of this client's mutations:\n\n", len(notices))
	for _, n := range notices {
		fmt.Fprintf(&b, "- lsn `%d`: %s\n", n.LSN, n.Reason)
	}
	b.WriteString("\nThese mutations were dropped from the local journal during the pull; re-run them with `syncdb run` if they should be retried.\n")
	return b.String()
}

func init() {
	rootCmd.AddCommand(explainCmd)
}
