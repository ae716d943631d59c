package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/cwbudde/symregweb/internal/search"
)

// Envelope is the JSON form of every message, tagged by Type.
type Envelope struct {
	Type Kind `json:"type"`

	// init
	CSVText   string                `json:"csvText,omitempty"`
	Options   *search.Configuration `json:"options,omitempty"`
	Operators []string              `json:"operators,omitempty"`

	// run
	StepCycles         int `json:"stepCycles,omitempty"`
	SnapshotEverySteps int `json:"snapshotEverySteps,omitempty"`

	// snapshot
	Snap *search.Snapshot `json:"snap,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// EncodeCommand converts a command to its envelope.
func EncodeCommand(c Command) Envelope {
	switch m := c.(type) {
	case Initialize:
		cfg := m.Config
		return Envelope{Type: KindInit, CSVText: m.Data, Options: &cfg, Operators: m.Operators}
	case Run:
		return Envelope{Type: KindRun, StepCycles: m.StepBudget, SnapshotEverySteps: m.SnapshotEvery}
	default:
		return Envelope{Type: c.Kind()}
	}
}

// EncodeEvent converts an event to its envelope.
func EncodeEvent(e Event) Envelope {
	switch m := e.(type) {
	case Snapshot:
		snap := m.Snap.Clone()
		return Envelope{Type: KindSnapshot, Snap: &snap}
	case Error:
		return Envelope{Type: KindError, Error: m.Message}
	default:
		return Envelope{Type: e.Kind()}
	}
}

// Command decodes the envelope as a command.
// An init envelope without options uses search.DefaultConfiguration.
func (env Envelope) Command() (Command, error) {
	switch env.Type {
	case KindInit:
		cfg := search.DefaultConfiguration()
		if env.Options != nil {
			cfg = *env.Options
		}
		return Initialize{Data: env.CSVText, Config: cfg, Operators: env.Operators}, nil
	case KindRun:
		return Run{StepBudget: env.StepCycles, SnapshotEvery: env.SnapshotEverySteps}, nil
	case KindStop:
		return Stop{}, nil
	}
	return nil, fmt.Errorf("unknown command type: %q", env.Type)
}

// Event decodes the envelope as an event.
func (env Envelope) Event() (Event, error) {
	switch env.Type {
	case KindReady:
		return Ready{}, nil
	case KindSnapshot:
		if env.Snap == nil {
			return nil, fmt.Errorf("snapshot message without snap")
		}
		return Snapshot{Snap: *env.Snap}, nil
	case KindDone:
		return Done{}, nil
	case KindStopped:
		return Stopped{}, nil
	case KindError:
		return Error{Message: env.Error}, nil
	}
	return nil, fmt.Errorf("unknown event type: %q", env.Type)
}

// UnmarshalCommand decodes a JSON command.
func UnmarshalCommand(data []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode command: %w", err)
	}
	return env.Command()
}

// UnmarshalEvent decodes a JSON event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return env.Event()
}
