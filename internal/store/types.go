package store

import (
	"fmt"
	"time"

	"github.com/cwbudde/symregweb/internal/search"
)

// Result outcomes, matching the terminal run states of a session.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Result is the persisted final state of one session run.
//
// Only the last snapshot is kept. The per-snapshot progress of the run lives
// in the session's trace.jsonl, see TraceWriter.
type Result struct {
	// SessionID identifies the session that produced this result
	SessionID string `json:"sessionId"`

	// Outcome is one of completed, cancelled or failed
	Outcome string `json:"outcome"`

	// Error is the message of the error event for failed runs
	Error string `json:"error,omitempty"`

	Config    search.Configuration `json:"config"`
	Operators []string             `json:"operators"`

	// Snapshot is the last snapshot received, absent when the run failed
	// before reporting progress
	Snapshot *search.Snapshot `json:"snapshot,omitempty"`

	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// ResultInfo contains result metadata without the frontier.
// Used for listing results efficiently.
type ResultInfo struct {
	SessionID       string                 `json:"sessionId"`
	Outcome         string                 `json:"outcome"`
	CyclesCompleted int                    `json:"cyclesCompleted"`
	TotalCycles     int                    `json:"totalCycles"`
	Best            search.EquationSummary `json:"best"`
	EndTime         time.Time              `json:"endTime"`
}

// ToInfo converts a full Result to ResultInfo.
func (r *Result) ToInfo() ResultInfo {
	info := ResultInfo{
		SessionID: r.SessionID,
		Outcome:   r.Outcome,
		EndTime:   r.EndTime,
	}
	if r.Snapshot != nil {
		info.CyclesCompleted = r.Snapshot.CyclesCompleted
		info.TotalCycles = r.Snapshot.TotalCycles
		info.Best = r.Snapshot.Best
	}
	return info
}

// Validate checks if the result has valid data.
func (r *Result) Validate() error {
	if r.SessionID == "" {
		return &ValidationError{Field: "SessionID", Reason: "cannot be empty"}
	}
	switch r.Outcome {
	case OutcomeCompleted, OutcomeCancelled, OutcomeFailed:
	default:
		return &ValidationError{Field: "Outcome", Reason: fmt.Sprintf("unknown outcome %q", r.Outcome)}
	}
	if r.Outcome == OutcomeFailed && r.Error == "" {
		return &ValidationError{Field: "Error", Reason: "cannot be empty for failed runs"}
	}
	if err := r.Config.Validate(); err != nil {
		return &ValidationError{Field: "Config", Reason: err.Error()}
	}
	if r.EndTime.IsZero() {
		return &ValidationError{Field: "EndTime", Reason: "cannot be zero"}
	}
	if r.Snapshot != nil {
		if r.Snapshot.CyclesCompleted < 0 {
			return &ValidationError{Field: "Snapshot.CyclesCompleted", Reason: "cannot be negative"}
		}
		if r.Snapshot.TotalCycles > 0 && r.Snapshot.CyclesCompleted > r.Snapshot.TotalCycles {
			return &ValidationError{
				Field:  "Snapshot.CyclesCompleted",
				Reason: fmt.Sprintf("exceeds total cycles %d", r.Snapshot.TotalCycles),
			}
		}
	}
	return nil
}

// ValidationError represents a result validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
