package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/symregweb/internal/engine"
	"github.com/cwbudde/symregweb/internal/server"
	"github.com/cwbudde/symregweb/internal/store"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr     string
	serveDataDir  string
	serveMax      int
	serveRate     float64
	serveStepSize int
	serveSnapshot int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Serves the interactive search page, the session API and the metrics
endpoint. Results are exported to --data-dir when it is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8080)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Directory for exported results (empty = no export)")
	serveCmd.Flags().IntVar(&serveMax, "max-sessions", 0, "Maximum sessions kept in memory")
	serveCmd.Flags().Float64Var(&serveRate, "stream-rate", 0, "Snapshots per second sent to each stream client")
	serveCmd.Flags().IntVar(&serveStepSize, "step-cycles", 0, "Default cycles per step")
	serveCmd.Flags().IntVar(&serveSnapshot, "snapshot-every", 0, "Default steps between snapshots")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = serveAddr
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = serveDataDir
	}
	if flags.Changed("max-sessions") {
		cfg.MaxSessions = serveMax
	}
	if flags.Changed("stream-rate") {
		cfg.StreamRate = serveRate
	}
	if flags.Changed("step-cycles") {
		cfg.StepBudget = serveStepSize
	}
	if flags.Changed("snapshot-every") {
		cfg.SnapshotEvery = serveSnapshot
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var results *store.FSStore
	if cfg.DataDir != "" {
		var err error
		results, err = store.NewFSStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to create result store: %w", err)
		}
	}

	srv := server.NewServer(cfg, engine.NewBuiltin(), results)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	slog.Info("Server stopped")
	return err
}
