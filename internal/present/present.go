// Package present turns snapshots into the text an operator sees.
//
// The rules here are a compatibility contract with existing frontends:
// progress uses one decimal, losses use three-digit scientific notation and
// the frontier is shown with the most complex entry first.
package present

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cwbudde/symregweb/internal/search"
)

// Progress returns the completed share of planned work in percent, or 0 when
// no work is planned.
func Progress(snap search.Snapshot) float64 {
	if snap.TotalCycles <= 0 {
		return 0
	}
	return 100 * float64(snap.CyclesCompleted) / float64(snap.TotalCycles)
}

// FormatProgress renders Progress with one decimal; "0" when no work is planned.
func FormatProgress(snap search.Snapshot) string {
	if snap.TotalCycles <= 0 {
		return "0"
	}
	return strconv.FormatFloat(Progress(snap), 'f', 1, 64)
}

// FormatSci renders v with three decimals in scientific notation and an
// unpadded exponent, e.g. 1.234e+0 or 5.000e-7.
func FormatSci(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}

	s := strconv.FormatFloat(v, 'e', 3, 64)
	mant, exp, ok := strings.Cut(s, "e")
	if !ok {
		return s
	}
	sign := exp[:1]
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mant + "e" + sign + digits
}

// StatusLine summarizes counters, e.g. "cycles 50/200 (25.0%), evals=1234".
func StatusLine(snap search.Snapshot) string {
	return fmt.Sprintf("cycles %d/%d (%s%%), evals=%d",
		snap.CyclesCompleted, snap.TotalCycles, FormatProgress(snap), snap.TotalEvaluations)
}

// BestLine renders the best candidate as complexity, loss and equation
// separated by tabs.
func BestLine(best search.EquationSummary) string {
	return fmt.Sprintf("%d\t%s\t%s", best.Complexity, FormatSci(best.Loss), best.Equation)
}

// Row is one rendered frontier entry.
type Row struct {
	Complexity string `json:"complexity"`
	Loss       string `json:"loss"`
	Equation   string `json:"equation"`
}

// CopyText is the text placed on the clipboard for this row.
func (r Row) CopyText() string {
	return r.Equation
}

// FrontierRows renders the frontier in reverse of the engine's order, so the
// most complex entry comes first. The snapshot is not modified.
func FrontierRows(snap search.Snapshot) []Row {
	rows := make([]Row, 0, len(snap.Frontier))
	for i := len(snap.Frontier) - 1; i >= 0; i-- {
		eq := snap.Frontier[i]
		rows = append(rows, Row{
			Complexity: "C=" + strconv.Itoa(eq.Complexity),
			Loss:       "loss=" + FormatSci(eq.Loss),
			Equation:   eq.Equation,
		})
	}
	return rows
}
