package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/symregweb/internal/orchestrator"
	"github.com/cwbudde/symregweb/internal/protocol"
	"github.com/cwbudde/symregweb/internal/search"
	"github.com/cwbudde/symregweb/internal/server"
	"github.com/cwbudde/symregweb/internal/store"
)

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, orchestrator.Status{
		State: orchestrator.StateCompleted,
		Snapshot: &search.Snapshot{
			TotalCycles:     4,
			CyclesCompleted: 4,
			Best:            search.EquationSummary{Complexity: 3, Loss: 0.25, Equation: "(x1 * 2)"},
			Frontier: []search.EquationSummary{
				{Complexity: 1, Loss: 4, Equation: "x1"},
				{Complexity: 3, Loss: 0.25, Equation: "(x1 * 2)"},
			},
		},
	})

	out := buf.String()
	if !strings.HasPrefix(out, "Done.\n") {
		t.Errorf("Expected Done. first, got %q", out)
	}
	if !strings.Contains(out, "Best: 3\t2.500e-1\t(x1 * 2)") {
		t.Errorf("Expected best line, got %q", out)
	}
	// most complex entry first
	if strings.Index(out, "C=3\t") > strings.Index(out, "C=1\t") {
		t.Errorf("Expected reversed frontier, got %q", out)
	}
}

func TestPrintResult_FailedWithoutSnapshot(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, orchestrator.Status{State: orchestrator.StateFailed, Error: "no data rows"})

	if got := buf.String(); got != "Error: no data rows\n" {
		t.Errorf("Expected error line only, got %q", got)
	}
}

func TestPrintProgress_SkipsNonSnapshots(t *testing.T) {
	events := make(chan server.StreamEvent, 3)
	ready := server.StreamEvent{Type: protocol.KindReady, State: orchestrator.StateRunning}
	snap := server.StreamEvent{Type: protocol.KindSnapshot, State: orchestrator.StateRunning}
	snap.View.Status = "cycles 1/4 (25.0%), evals=10"
	done := server.StreamEvent{Type: protocol.KindSnapshot, State: orchestrator.StateCompleted}
	done.View.Status = "Done."
	events <- ready
	events <- snap
	events <- done
	close(events)

	var buf bytes.Buffer
	printProgress(&buf, events, time.Hour)

	if got := buf.String(); got != "cycles 1/4 (25.0%), evals=10\n" {
		t.Errorf("Expected one status line, got %q", got)
	}
}

func TestRunSearch(t *testing.T) {
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(dataFile, []byte("x,y\n1,2\n2,4\n3,6\n4,8\n"), 0644); err != nil {
		t.Fatalf("Failed to write data: %v", err)
	}
	exportDir := filepath.Join(dir, "results")

	flags := map[string]string{
		"data":                 dataFile,
		"data-dir":             exportDir,
		"operators":            "+,*",
		"iterations":           "2",
		"populations":          "2",
		"population-size":      "8",
		"cycles-per-iteration": "5",
		"seed":                 "1",
	}
	for name, value := range flags {
		if err := runCmd.Flags().Set(name, value); err != nil {
			t.Fatalf("Failed to set --%s: %v", name, err)
		}
	}

	var out bytes.Buffer
	runCmd.SetOut(&out)
	runCmd.SetContext(context.Background())
	defer runCmd.SetOut(nil)

	if err := runSearch(runCmd, nil); err != nil {
		t.Fatalf("runSearch failed: %v", err)
	}
	if !strings.Contains(out.String(), "Done.") {
		t.Errorf("Expected Done. in output, got %q", out.String())
	}
	if !strings.Contains(out.String(), "Best: ") {
		t.Errorf("Expected best line in output, got %q", out.String())
	}

	results, err := store.NewFSStore(exportDir)
	if err != nil {
		t.Fatalf("Failed to open result store: %v", err)
	}
	infos, err := results.ListResults()
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("Expected 1 exported result, got %d", len(infos))
	}
	if infos[0].Outcome != store.OutcomeCompleted || infos[0].CyclesCompleted != 4 {
		t.Errorf("Unexpected result: %+v", infos[0])
	}
}
