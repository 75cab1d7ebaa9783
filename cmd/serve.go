package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/syncdb/internal/handler"
	"github.com/marcus/syncdb/internal/output"
	"github.com/marcus/syncdb/internal/remote"
	"github.com/marcus/syncdb/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the sync server: authoritative store + step loop + HTTP endpoints",
	GroupID: "core",
	RunE:    runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idleBackoff, _ := cmd.Flags().GetDuration("idle-backoff")
	go func() {
		if err := r.RunStepLoop(ctx, idleBackoff); err != nil && ctx.Err() == nil {
			slog.Error("step loop exited", "error", err)
		}
	}()

	addr, _ := cmd.Flags().GetString("addr")
	srv := &http.Server{Addr: addr, Handler: handler.NewServer(r).Routes()}

	errCh := make(chan error, 1)
	go func() {
		output.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			output.Error("%v", err)
			return err
		}
	case <-sigCh:
		output.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("serve: shutdown: %w", err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().Duration("idle-backoff", 50*time.Millisecond, "step loop idle backoff")
}
