package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/syncdb/internal/mutation"
	"github.com/marcus/syncdb/internal/output"
)

var runCmd = &cobra.Command{
	Use:   "run <op> <json-payload>",
	Short: "Append and locally apply a mutation against the demo notes table",
	Long: `Run a demo mutation locally.

Examples:
  syncdb run set '{"key":"hello","value":"world"}'
  syncdb run delete '{"key":"hello"}'`,
	Args:    cobra.ExactArgs(2),
	GroupID: "core",
	RunE:    runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	op, payload := args[0], args[1]
	if !json.Valid([]byte(payload)) {
		err := fmt.Errorf("payload is not valid JSON: %s", payload)
		output.Error("%v", err)
		return err
	}

	dir := getBaseDir()
	local, store, _, err := openLocal(dir)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer closeLocal(store)

	m := mutation.JSONMutation{Op: op, Payload: json.RawMessage(payload)}
	lsn, err := local.Run(context.Background(), m)
	if err != nil {
		output.Error("%v", err)
		return err
	}

	output.Success("applied locally at lsn %d", lsn)
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
}
