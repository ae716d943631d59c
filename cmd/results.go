package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/symregweb/internal/present"
	"github.com/cwbudde/symregweb/internal/store"
)

var (
	resultsDataDir string
	keepLast       int
	olderThanDays  int
	forceClean     bool
	showTrace      bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Manage exported search results",
	Long: `Manage the results exported by serve and run when a data directory is set.
Each result holds the final frontier of one session and its snapshot trace.`,
}

var listResultsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all exported results",
	Long:  `Display all results with session ID, outcome, end time, progress, best equation and size.`,
	RunE:  runListResults,
}

var showResultCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show the frontier of one result",
	Long: `Display the final frontier of one result.
With --trace, also prints the snapshot history recorded during the run.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runShowResult,
}

var cleanResultsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old results",
	Long: `Delete old results based on retention policy.
You can keep only the newest N results or delete results older than N days.`,
	RunE: runCleanResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.AddCommand(listResultsCmd)
	resultsCmd.AddCommand(showResultCmd)
	resultsCmd.AddCommand(cleanResultsCmd)

	resultsCmd.PersistentFlags().StringVar(&resultsDataDir, "data-dir", "", "Base directory of exported results (default from config, ./data)")

	showResultCmd.Flags().BoolVar(&showTrace, "trace", false, "Also print the snapshot trace")

	cleanResultsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N results (0 = keep all)")
	cleanResultsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete results older than N days (0 = no age limit)")
	cleanResultsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openResults() (*store.FSStore, error) {
	dir := resultsDataDir
	if dir == "" {
		dir = cfg.DataDir
	}
	if dir == "" {
		dir = "./data"
	}
	results, err := store.NewFSStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create result store: %w", err)
	}
	return results, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func runListResults(cmd *cobra.Command, args []string) error {
	results, err := openResults()
	if err != nil {
		return err
	}

	infos, err := results.ListResults()
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION ID\tOUTCOME\tENDED\tCYCLES\tBEST LOSS\tBEST EQUATION\tSIZE")
	fmt.Fprintln(w, "----------\t-------\t-----\t------\t---------\t-------------\t----")

	for _, info := range infos {
		size, err := getDirSize(store.SessionDir(results.BaseDir(), info.SessionID))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			shortID(info.SessionID),
			info.Outcome,
			info.EndTime.Format("2006-01-02 15:04:05"),
			info.CyclesCompleted,
			info.TotalCycles,
			present.FormatSci(info.Best.Loss),
			info.Best.Equation,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Printf("\nTotal results: %d\n", len(infos))
	return nil
}

func runShowResult(cmd *cobra.Command, args []string) error {
	results, err := openResults()
	if err != nil {
		return err
	}

	result, err := results.LoadResult(args[0])
	if err != nil {
		return fmt.Errorf("failed to load result: %w", err)
	}

	fmt.Printf("Session: %s\n", result.SessionID)
	fmt.Printf("Outcome: %s\n", result.Outcome)
	fmt.Printf("Duration: %s\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	if result.Error != "" {
		fmt.Printf("Error: %s\n", result.Error)
	}
	if result.Snapshot != nil {
		snap := *result.Snapshot
		fmt.Printf("%s\n", present.StatusLine(snap))
		fmt.Printf("Best: %s\n\n", present.BestLine(snap.Best))
		for _, row := range present.FrontierRows(snap) {
			fmt.Printf("%s\t%s\t%s\n", row.Complexity, row.Loss, row.Equation)
		}
	}

	if !showTrace {
		return nil
	}
	fmt.Println()
	return printTrace(os.Stdout, results.BaseDir(), result.SessionID)
}

// printTrace prints the snapshot history of a session, oldest first.
func printTrace(out io.Writer, baseDir, sessionID string) error {
	reader, err := store.NewTraceReader(baseDir, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintln(out, "No trace recorded.")
		return nil
	}
	if err != nil {
		return err
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCYCLES\tEVALS\tFRONTIER\tBEST LOSS\tBEST EQUATION")
	for _, entry := range entries {
		fmt.Fprintf(w, "%s\t%d/%d\t%d\t%d\t%s\t%s\n",
			entry.Timestamp.Format("15:04:05.000"),
			entry.CyclesCompleted,
			entry.TotalCycles,
			entry.TotalEvaluations,
			entry.FrontierSize,
			present.FormatSci(entry.Best.Loss),
			entry.Best.Equation,
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTrace entries: %d\n", len(entries))
	return nil
}

func runCleanResults(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	results, err := openResults()
	if err != nil {
		return err
	}

	infos, err := results.ListResults()
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No results to clean.")
		return nil
	}

	toDelete := selectResultsForDeletion(infos, keepLast, olderThanDays)

	if len(toDelete) == 0 {
		fmt.Println("No results match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d result(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (%s, %s)\n",
			shortID(info.SessionID),
			info.Outcome,
			info.EndTime.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := results.DeleteResult(info.SessionID); err != nil {
			slog.Error("Failed to delete result", "session_id", info.SessionID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted result", "session_id", info.SessionID)
		deleted++
	}

	fmt.Printf("\nDeleted %d result(s), %d failed.\n", deleted, failed)
	return nil
}

// selectResultsForDeletion applies the retention policy: results older than
// olderThanDays go, and beyond that only the newest keepLast are kept.
func selectResultsForDeletion(infos []store.ResultInfo, keepLast int, olderThanDays int) []store.ResultInfo {
	var toDelete []store.ResultInfo
	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.EndTime.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.SessionID] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.ResultInfo, len(infos))
		copy(sorted, infos)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].EndTime.Before(sorted[j].EndTime)
		})

		for _, info := range sorted[:len(sorted)-keepLast] {
			if !selected[info.SessionID] {
				toDelete = append(toDelete, info)
				selected[info.SessionID] = true
			}
		}
	}

	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
