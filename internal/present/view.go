package present

import "github.com/cwbudde/symregweb/internal/orchestrator"

// View is everything the interactive surface renders for one session.
type View struct {
	State    orchestrator.RunState `json:"state"`
	Status   string                `json:"status"`
	Progress string                `json:"progress"`
	Best     string                `json:"best"`
	Rows     []Row                 `json:"rows"`

	// CanRun and CanStop drive the Run and Stop controls
	CanRun  bool `json:"canRun"`
	CanStop bool `json:"canStop"`
}

// Render builds the view for a session status. While a snapshot is present,
// the status line shows its counters; terminal states replace it with a
// short message, and a failure shows the error text next to the last good
// snapshot.
func Render(st orchestrator.Status) View {
	v := View{
		State:    st.State,
		Status:   stateMessage(st),
		Progress: "0",
		Best:     "(none)",
		Rows:     []Row{},
		CanRun:   !st.State.Active(),
		CanStop:  st.State.Active(),
	}
	if st.Snapshot == nil {
		return v
	}

	snap := *st.Snapshot
	v.Progress = FormatProgress(snap)
	v.Best = BestLine(snap.Best)
	v.Rows = FrontierRows(snap)
	if st.State == orchestrator.StateRunning {
		v.Status = StatusLine(snap)
	}
	return v
}

func stateMessage(st orchestrator.Status) string {
	switch st.State {
	case orchestrator.StateInitializing:
		return "Initializing..."
	case orchestrator.StateRunning:
		return "Running..."
	case orchestrator.StateCompleted:
		return "Done."
	case orchestrator.StateCancelled:
		return "Stopped."
	case orchestrator.StateFailed:
		return "Error: " + st.Error
	}
	return "Idle."
}
