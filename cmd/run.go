package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/cwbudde/symregweb/internal/engine"
	"github.com/cwbudde/symregweb/internal/orchestrator"
	"github.com/cwbudde/symregweb/internal/present"
	"github.com/cwbudde/symregweb/internal/protocol"
	"github.com/cwbudde/symregweb/internal/server"
	"github.com/cwbudde/symregweb/internal/store"
)

var (
	dataPath      string
	operatorsText string
	runDataDir    string
	noHeader      bool
	progressEvery time.Duration

	runIterations int
	runPops       int
	runPopSize    int
	runCycles     int
	runMaxSize    int
	runTopN       int
	runSeed       int64
	runStepSize   int
	runSnapshot   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single search in the terminal",
	Long: `Runs one search over a CSV file, printing progress while it runs and
the best equation and frontier when it ends. Ctrl-C stops the run and
prints the last frontier.`,
	RunE: runSearch,
}

func init() {
	runCmd.Flags().StringVar(&dataPath, "data", "", "CSV file, last column is the target (required)")
	runCmd.Flags().StringVar(&operatorsText, "operators", "", "Comma or space separated operators (default: all built-in)")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "Export the result to this directory")
	runCmd.Flags().BoolVar(&noHeader, "no-header", false, "The CSV file has no header row")
	runCmd.Flags().DurationVar(&progressEvery, "progress-every", 500*time.Millisecond, "Minimum interval between progress lines")

	runCmd.Flags().IntVar(&runIterations, "iterations", 0, "Search iterations")
	runCmd.Flags().IntVar(&runPops, "populations", 0, "Number of populations")
	runCmd.Flags().IntVar(&runPopSize, "population-size", 0, "Members per population")
	runCmd.Flags().IntVar(&runCycles, "cycles-per-iteration", 0, "Evolution steps per population cycle")
	runCmd.Flags().IntVar(&runMaxSize, "max-complexity", 0, "Maximum equation complexity")
	runCmd.Flags().IntVar(&runTopN, "top-n", 0, "Frontier entries to keep")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Random seed")
	runCmd.Flags().IntVar(&runStepSize, "step-cycles", 0, "Cycles per step")
	runCmd.Flags().IntVar(&runSnapshot, "snapshot-every", 0, "Steps between snapshots")

	runCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(runCmd)
}

// runRequest builds the request from the loaded config and the flags set on cmd.
func runRequest(cmd *cobra.Command, data string) orchestrator.Request {
	search := cfg.Search
	run := cfg.Run()

	flags := cmd.Flags()
	if flags.Changed("iterations") {
		search.Iterations = runIterations
	}
	if flags.Changed("populations") {
		search.Populations = runPops
	}
	if flags.Changed("population-size") {
		search.PopulationSize = runPopSize
	}
	if flags.Changed("cycles-per-iteration") {
		search.CyclesPerIteration = runCycles
	}
	if flags.Changed("max-complexity") {
		search.MaxComplexity = runMaxSize
	}
	if flags.Changed("top-n") {
		search.TopN = runTopN
	}
	if flags.Changed("seed") {
		search.Seed = runSeed
	}
	if flags.Changed("no-header") {
		search.HasHeader = !noHeader
	}
	if flags.Changed("step-cycles") {
		run.StepBudget = runStepSize
	}
	if flags.Changed("snapshot-every") {
		run.SnapshotEvery = runSnapshot
	}

	return orchestrator.Request{
		Data:      data,
		Config:    search,
		Operators: orchestrator.ParseOperators(operatorsText),
		Run:       run,
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(dataPath)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	req := runRequest(cmd, string(data))

	if !cmd.Flags().Changed("data-dir") {
		runDataDir = cfg.DataDir
	}
	var results *store.FSStore
	if runDataDir != "" {
		results, err = store.NewFSStore(runDataDir)
		if err != nil {
			return fmt.Errorf("failed to create result store: %w", err)
		}
	}

	manager := server.NewManager(server.ManagerOptions{
		Engine:      engine.NewBuiltin(),
		MaxSessions: 1,
		Results:     results,
	})
	defer manager.Close()

	slog.Info("Starting search", "data", dataPath, "operators", req.Operators,
		"total_cycles", req.Config.TotalCycles())

	session, err := manager.Create(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("failed to start search: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := manager.Broadcaster().Subscribe(session.ID())
	defer manager.Broadcaster().Unsubscribe(session.ID(), events)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		printProgress(cmd.OutOrStdout(), events, progressEvery)
	}()

	go func() {
		<-ctx.Done()
		if session.State().Active() {
			slog.Info("Stopping search", "session_id", session.ID())
			session.Stop(context.Background())
		}
	}()

	state, err := session.Wait(context.Background())
	if err != nil {
		return err
	}
	manager.Broadcaster().Unsubscribe(session.ID(), events)
	<-progressDone

	status := session.Status()
	printResult(cmd.OutOrStdout(), status)
	if state == orchestrator.StateFailed {
		return fmt.Errorf("search failed: %s", status.Error)
	}
	return nil
}

// printProgress writes the status line of running snapshots, at most one per
// interval.
func printProgress(w io.Writer, events <-chan server.StreamEvent, interval time.Duration) {
	sometimes := rate.Sometimes{Interval: interval}
	for ev := range events {
		if ev.Type != protocol.KindSnapshot || ev.State != orchestrator.StateRunning {
			continue
		}
		status := ev.View.Status
		sometimes.Do(func() {
			fmt.Fprintln(w, status)
		})
	}
}

// printResult writes the final status, the best equation and the frontier,
// most complex first.
func printResult(w io.Writer, status orchestrator.Status) {
	view := present.Render(status)
	fmt.Fprintln(w, view.Status)
	if status.Snapshot == nil {
		return
	}

	fmt.Fprintf(w, "\nProgress: %s%%\n", view.Progress)
	fmt.Fprintf(w, "Best: %s\n\n", view.Best)
	fmt.Fprintln(w, "Complexity\tLoss\tEquation")
	for _, row := range view.Rows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", row.Complexity, row.Loss, row.Equation)
	}
}
