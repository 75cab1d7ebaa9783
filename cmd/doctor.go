package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/syncdb/internal/syncconfig"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Short:   "Run diagnostic checks for sync setup",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		runDoctor()
		return nil
	},
}

func runDoctor() {
	// 1. Client config
	clientID, err := syncconfig.GetClientID()
	if err != nil {
		fmt.Printf("Client id ............. FAIL (%v)\n", err)
	} else {
		fmt.Printf("Client id .............. OK (%s)\n", clientID)
	}

	// 2. Server reachable
	serverURL := syncconfig.GetServerURL()
	serverOK := checkServerHealth(serverURL)
	if serverOK {
		fmt.Printf("Server reachable ....... OK (%s)\n", serverURL)
	} else {
		fmt.Printf("Server reachable ....... FAIL (%s)\n", serverURL)
	}

	// 3. Local workspace
	dir := getBaseDir()
	dbOK := fileExists(localDBPath(dir))
	if dbOK {
		fmt.Printf("Local database ......... OK (%s)\n", localDBPath(dir))
	} else {
		fmt.Printf("Local database ......... WARN (not found, run a mutation with 'syncdb run' first)\n")
	}

	// 4. Local journal
	journalOK := fileExists(localJournalPath(dir))
	if journalOK {
		fmt.Printf("Local journal .......... OK (%s)\n", localJournalPath(dir))
	} else {
		fmt.Printf("Local journal .......... WARN (not found)\n")
	}
}

func checkServerHealth(url string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var body struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return body.Status == "ok"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func localDBPath(dir string) string      { return filepath.Join(dir, ".syncdb", "local.db") }
func localJournalPath(dir string) string { return filepath.Join(dir, ".syncdb", "local.journal") }

func init() {
	rootCmd.AddCommand(doctorCmd)
}
