package search

import (
	"encoding/json"
	"fmt"
	"math"
)

// EquationSummary describes one candidate model reported by an engine.
type EquationSummary struct {
	// Complexity is the structural size of the candidate
	Complexity int

	// Loss is the fit error (mean squared error for the built-in engine)
	Loss float64

	// Cost is the complexity/loss trade-off used to rank candidates
	Cost float64

	// Equation is the human-readable rendering of the candidate
	Equation string
}

// Snapshot is a point-in-time progress report of a run.
//
// Snapshots are values: once created they are never modified, only superseded.
// The Frontier slice belongs to the snapshot; engines must not retain it.
type Snapshot struct {
	TotalCycles      int               `json:"total_cycles"`
	CyclesCompleted  int               `json:"cycles_completed"`
	TotalEvaluations int64             `json:"total_evals"`
	Best             EquationSummary   `json:"best"`
	Frontier         []EquationSummary `json:"pareto_front"`
}

// Clone returns a deep copy that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	if s.Frontier != nil {
		frontier := make([]EquationSummary, len(s.Frontier))
		copy(frontier, s.Frontier)
		s.Frontier = frontier
	}
	return s
}

// Finished reports whether all planned cycles have been completed.
func (s Snapshot) Finished() bool {
	return s.TotalCycles > 0 && s.CyclesCompleted >= s.TotalCycles
}

// equationJSON is the wire form of EquationSummary. Loss and cost are kept raw
// so that non-finite values survive encoding/json.
type equationJSON struct {
	Complexity int             `json:"complexity"`
	Loss       json.RawMessage `json:"loss"`
	Cost       json.RawMessage `json:"cost"`
	Equation   string          `json:"equation"`
}

// MarshalJSON writes non-finite losses as the strings "NaN", "Infinity" and "-Infinity".
func (e EquationSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(equationJSON{
		Complexity: e.Complexity,
		Loss:       encodeFloat(e.Loss),
		Cost:       encodeFloat(e.Cost),
		Equation:   e.Equation,
	})
}

// UnmarshalJSON accepts both numbers and the strings written by MarshalJSON.
func (e *EquationSummary) UnmarshalJSON(data []byte) error {
	var raw equationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	loss, err := decodeFloat(raw.Loss)
	if err != nil {
		return fmt.Errorf("failed to decode loss: %w", err)
	}
	cost, err := decodeFloat(raw.Cost)
	if err != nil {
		return fmt.Errorf("failed to decode cost: %w", err)
	}
	*e = EquationSummary{
		Complexity: raw.Complexity,
		Loss:       loss,
		Cost:       cost,
		Equation:   raw.Equation,
	}
	return nil
}

func encodeFloat(v float64) json.RawMessage {
	switch {
	case math.IsNaN(v):
		return json.RawMessage(`"NaN"`)
	case math.IsInf(v, 1):
		return json.RawMessage(`"Infinity"`)
	case math.IsInf(v, -1):
		return json.RawMessage(`"-Infinity"`)
	}
	data, _ := json.Marshal(v)
	return data
}

func decodeFloat(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return 0, fmt.Errorf("unexpected number string %q", s)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}
