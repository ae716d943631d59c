package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/symregweb/internal/orchestrator"
	"github.com/cwbudde/symregweb/internal/present"
	"github.com/cwbudde/symregweb/internal/protocol"
	"github.com/cwbudde/symregweb/internal/search"
	"github.com/cwbudde/symregweb/internal/store"
)

// runRecord follows one session run through its events. It is what stream
// clients and the result export see, independent of the session's own lock.
type runRecord struct {
	mu     sync.Mutex
	req    orchestrator.Request
	start  time.Time
	last   *search.Snapshot
	errMsg string
}

func (r *runRecord) reset(req orchestrator.Request, start time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.req = req
	r.start = start
	r.last = nil
	r.errMsg = ""
}

func (r *runRecord) apply(ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch m := ev.(type) {
	case protocol.Snapshot:
		snap := m.Snap.Clone()
		r.last = &snap
	case protocol.Error:
		r.errMsg = m.Message
	}
}

func (r *runRecord) view(state orchestrator.RunState) present.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := orchestrator.Status{State: state, Error: r.errMsg}
	if r.last != nil {
		snap := r.last.Clone()
		st.Snapshot = &snap
	}
	return present.Render(st)
}

func (r *runRecord) result(sessionID string, state orchestrator.RunState, end time.Time) *store.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := &store.Result{
		SessionID: sessionID,
		Outcome:   string(state),
		Error:     r.errMsg,
		Config:    r.req.Config,
		Operators: append([]string(nil), r.req.Operators...),
		StartTime: r.start,
		EndTime:   end,
	}
	if r.last != nil {
		snap := r.last.Clone()
		result.Snapshot = &snap
	}
	return result
}

// Recorder exports session runs: every snapshot is appended to the session's
// trace and the final state is saved as its result. A Recorder without a
// store does nothing.
type Recorder struct {
	results *store.FSStore

	mu     sync.Mutex
	traces map[string]*store.TraceWriter
}

// NewRecorder creates a recorder writing to results, which may be nil.
func NewRecorder(results *store.FSStore) *Recorder {
	return &Recorder{
		results: results,
		traces:  make(map[string]*store.TraceWriter),
	}
}

// Enabled reports whether results are exported.
func (r *Recorder) Enabled() bool {
	return r.results != nil
}

// Begin opens a fresh trace for a new run of the session.
func (r *Recorder) Begin(sessionID string) {
	if !r.Enabled() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked(sessionID)
	writer, err := store.NewTraceWriter(r.results.BaseDir(), sessionID, false)
	if err != nil {
		slog.Error("Failed to open trace", "session_id", sessionID, "error", err)
		return
	}
	r.traces[sessionID] = writer
}

// Observe records one session event.
func (r *Recorder) Observe(sessionID string, rec *runRecord, ev protocol.Event, state orchestrator.RunState) {
	if !r.Enabled() {
		return
	}

	if snap, ok := ev.(protocol.Snapshot); ok {
		r.mu.Lock()
		writer := r.traces[sessionID]
		r.mu.Unlock()
		if writer != nil {
			if err := writer.Write(store.NewTraceEntry(snap.Snap)); err != nil {
				slog.Warn("Failed to write trace entry", "session_id", sessionID, "error", err)
			}
		}
		return
	}

	if !state.Terminal() {
		return
	}

	r.mu.Lock()
	r.closeLocked(sessionID)
	r.mu.Unlock()

	result := rec.result(sessionID, state, time.Now())
	if err := r.results.SaveResult(result); err != nil {
		slog.Error("Failed to save result", "session_id", sessionID, "error", err)
		return
	}
	switch state {
	case orchestrator.StateFailed:
		slog.Error("Session failed", "session_id", sessionID, "error", result.Error)
	case orchestrator.StateCancelled:
		slog.Info("Session cancelled", "session_id", sessionID)
	default:
		slog.Info("Session result saved", "session_id", sessionID)
	}
}

// Abort closes the session's trace without saving a result.
func (r *Recorder) Abort(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(sessionID)
}

// Close flushes and closes every open trace.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.traces {
		r.closeLocked(id)
	}
}

func (r *Recorder) closeLocked(sessionID string) {
	writer, ok := r.traces[sessionID]
	if !ok {
		return
	}
	delete(r.traces, sessionID)
	if err := writer.Close(); err != nil {
		slog.Warn("Failed to close trace", "session_id", sessionID, "error", err)
	}
}
