package present

import (
	"math"
	"testing"

	"github.com/cwbudde/symregweb/internal/orchestrator"
	"github.com/cwbudde/symregweb/internal/search"
)

func TestFormatProgress(t *testing.T) {
	tests := []struct {
		completed, total int
		want             string
	}{
		{50, 200, "25.0"},
		{0, 0, "0"},
		{3, 0, "0"},
		{1, 3, "33.3"},
		{200, 200, "100.0"},
	}

	for _, tt := range tests {
		snap := search.Snapshot{CyclesCompleted: tt.completed, TotalCycles: tt.total}
		if got := FormatProgress(snap); got != tt.want {
			t.Errorf("FormatProgress(%d/%d): expected %q, got %q", tt.completed, tt.total, tt.want, got)
		}
	}
}

func TestProgress_NoDivisionByZero(t *testing.T) {
	if got := Progress(search.Snapshot{CyclesCompleted: 5}); got != 0 {
		t.Errorf("Expected 0, got %f", got)
	}
}

func TestFormatSci(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.23456, "1.235e+0"},
		{0, "0.000e+0"},
		{5e-7, "5.000e-7"},
		{123456, "1.235e+5"},
		{-0.0421, "-4.210e-2"},
		{1e100, "1.000e+100"},
		{math.NaN(), "NaN"},
		{math.Inf(1), "Infinity"},
		{math.Inf(-1), "-Infinity"},
	}

	for _, tt := range tests {
		if got := FormatSci(tt.in); got != tt.want {
			t.Errorf("FormatSci(%v): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestStatusAndBestLine(t *testing.T) {
	snap := search.Snapshot{
		TotalCycles:      200,
		CyclesCompleted:  50,
		TotalEvaluations: 1234,
		Best:             search.EquationSummary{Complexity: 5, Loss: 0.25, Equation: "(x1 * 2)"},
	}

	if got, want := StatusLine(snap), "cycles 50/200 (25.0%), evals=1234"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if got, want := BestLine(snap.Best), "5\t2.500e-1\t(x1 * 2)"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestFrontierRows_Reversed(t *testing.T) {
	snap := search.Snapshot{
		Frontier: []search.EquationSummary{
			{Complexity: 3, Loss: 1, Equation: "x1"},
			{Complexity: 7, Loss: 0.5, Equation: "(x1 + 1)"},
			{Complexity: 12, Loss: 0.1, Equation: "sin(x1)"},
		},
	}

	rows := FrontierRows(snap)
	want := []string{"C=12", "C=7", "C=3"}
	if len(rows) != len(want) {
		t.Fatalf("Expected %d rows, got %d", len(want), len(rows))
	}
	for i, w := range want {
		if rows[i].Complexity != w {
			t.Errorf("Row %d: expected %s, got %s", i, w, rows[i].Complexity)
		}
	}
	if rows[0].Loss != "loss=1.000e-1" {
		t.Errorf("Expected loss=1.000e-1, got %s", rows[0].Loss)
	}

	// snapshot order is untouched
	if snap.Frontier[0].Complexity != 3 {
		t.Errorf("Snapshot frontier was reordered")
	}
}

func TestRow_CopyTextDoesNotMutate(t *testing.T) {
	snap := search.Snapshot{Frontier: []search.EquationSummary{{Complexity: 1, Equation: "x1"}}}

	rows := FrontierRows(snap)
	text := rows[0].CopyText()
	rows[0].Equation = "edited"

	if text != "x1" {
		t.Errorf("Expected x1, got %s", text)
	}
	if snap.Frontier[0].Equation != "x1" {
		t.Errorf("Copying changed the snapshot: %s", snap.Frontier[0].Equation)
	}
}

func TestRender(t *testing.T) {
	idle := Render(orchestrator.Status{State: orchestrator.StateIdle})
	if idle.Status != "Idle." || idle.Best != "(none)" || !idle.CanRun || idle.CanStop {
		t.Errorf("Unexpected idle view: %+v", idle)
	}

	snap := search.Snapshot{
		TotalCycles:     4,
		CyclesCompleted: 1,
		Best:            search.EquationSummary{Complexity: 1, Loss: 2, Equation: "x1"},
		Frontier:        []search.EquationSummary{{Complexity: 1, Loss: 2, Equation: "x1"}},
	}
	running := Render(orchestrator.Status{State: orchestrator.StateRunning, Snapshot: &snap})
	if running.Status != "cycles 1/4 (25.0%), evals=0" {
		t.Errorf("Unexpected status: %s", running.Status)
	}
	if running.CanRun || !running.CanStop {
		t.Errorf("Run must be disabled while active")
	}

	failed := Render(orchestrator.Status{State: orchestrator.StateFailed, Error: "boom", Snapshot: &snap})
	if failed.Status != "Error: boom" {
		t.Errorf("Expected error text, got %s", failed.Status)
	}
	if failed.Best != "1\t2.000e+0\tx1" {
		t.Errorf("Last good snapshot must stay displayed, got %q", failed.Best)
	}
	if len(failed.Rows) != 1 {
		t.Errorf("Expected 1 row, got %d", len(failed.Rows))
	}
}
