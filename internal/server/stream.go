package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cwbudde/symregweb/internal/metrics"
	"github.com/cwbudde/symregweb/internal/orchestrator"
	"github.com/cwbudde/symregweb/internal/present"
	"github.com/cwbudde/symregweb/internal/protocol"
)

const (
	// DefaultStreamRate is the snapshot deliveries per second to one client
	DefaultStreamRate = 10
	// DefaultStreamBurst is the number of snapshots a client may receive back to back
	DefaultStreamBurst = 1

	clientBuffer = 64
	pingInterval = 30 * time.Second
)

// StreamEvent is one session event as pushed to stream clients. Event is the
// protocol message itself; View is its rendering for the session's state.
type StreamEvent struct {
	SessionID string                `json:"sessionId"`
	Type      protocol.Kind         `json:"type"`
	State     orchestrator.RunState `json:"state"`
	View      present.View          `json:"view"`
	Event     protocol.Envelope     `json:"event"`
	Timestamp time.Time             `json:"timestamp"`
}

// Broadcaster fans session events out to stream clients
type Broadcaster struct {
	mu        sync.RWMutex
	clients   map[string]map[chan StreamEvent]bool // sessionID -> set of client channels
	lastEvent map[string]StreamEvent               // sessionID -> last event for new clients

	limit rate.Limit
	burst int
}

// NewBroadcaster creates a broadcaster whose clients receive at most
// perSecond snapshots per second.
func NewBroadcaster(perSecond float64, burst int) *Broadcaster {
	if burst < 1 {
		burst = 1
	}
	return &Broadcaster{
		clients:   make(map[string]map[chan StreamEvent]bool),
		lastEvent: make(map[string]StreamEvent),
		limit:     rate.Limit(perSecond),
		burst:     burst,
	}
}

// Subscribe adds a client to receive events for a session
func (b *Broadcaster) Subscribe(sessionID string) chan StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan StreamEvent, clientBuffer)

	if b.clients[sessionID] == nil {
		b.clients[sessionID] = make(map[chan StreamEvent]bool)
	}
	b.clients[sessionID][ch] = true

	// replay the last event for reconnecting clients
	if last, ok := b.lastEvent[sessionID]; ok {
		ch <- last
	}

	slog.Debug("Stream client subscribed", "session_id", sessionID, "total_clients", len(b.clients[sessionID]))
	return ch
}

// Unsubscribe removes a client from receiving events
func (b *Broadcaster) Unsubscribe(sessionID string, ch chan StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[sessionID]; ok {
		if clients[ch] {
			delete(clients, ch)
			close(ch)
		}
		if len(clients) == 0 {
			delete(b.clients, sessionID)
		}
	}

	slog.Debug("Stream client unsubscribed", "session_id", sessionID)
}

// Broadcast sends an event to all subscribed clients of its session. A full
// client loses its oldest queued event so the newest one, and in particular
// a terminal event, always gets through.
func (b *Broadcaster) Broadcast(event StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastEvent[event.SessionID] = event

	clients, ok := b.clients[event.SessionID]
	if !ok || len(clients) == 0 {
		return
	}

	for ch := range clients {
		select {
		case ch <- event:
			continue
		default:
		}

		select {
		case dropped := <-ch:
			if dropped.Type == protocol.KindSnapshot {
				metrics.SnapshotsDropped.Inc()
			}
			slog.Warn("Stream channel full, dropping oldest event", "session_id", event.SessionID, "type", string(dropped.Type))
		default:
		}
		select {
		case ch <- event:
		default:
			slog.Warn("Stream channel full, skipping event", "session_id", event.SessionID)
		}
	}
}

// Last returns the most recent event of a session.
func (b *Broadcaster) Last(sessionID string) (StreamEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev, ok := b.lastEvent[sessionID]
	return ev, ok
}

// CleanupSession removes all clients and cached events for a session
func (b *Broadcaster) CleanupSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[sessionID]; ok {
		for ch := range clients {
			close(ch)
		}
		delete(b.clients, sessionID)
	}

	delete(b.lastEvent, sessionID)
	slog.Debug("Cleaned up stream resources", "session_id", sessionID)
}

// throttle coalesces snapshot events for one client. A snapshot that arrives
// while the limiter has no token is held back and replaced by newer ones;
// every other event is delivered at once, after any held snapshot.
type throttle struct {
	limiter *rate.Limiter
	pending *StreamEvent
}

func (b *Broadcaster) newThrottle() *throttle {
	return &throttle{limiter: rate.NewLimiter(b.limit, b.burst)}
}

// offer returns the events to deliver now.
func (t *throttle) offer(ev StreamEvent) []StreamEvent {
	if ev.Type != protocol.KindSnapshot {
		out := t.take()
		return append(out, ev)
	}
	if t.pending == nil && t.limiter.Allow() {
		return []StreamEvent{ev}
	}
	if t.pending != nil {
		metrics.SnapshotsDropped.Inc()
	}
	t.pending = &ev
	return nil
}

// flush returns the held snapshot once the limiter allows it.
func (t *throttle) flush() []StreamEvent {
	if t.pending == nil || !t.limiter.Allow() {
		return nil
	}
	return t.take()
}

func (t *throttle) take() []StreamEvent {
	if t.pending == nil {
		return nil
	}
	ev := *t.pending
	t.pending = nil
	return []StreamEvent{ev}
}

// flushInterval is how often a held snapshot is retried.
func (t *throttle) flushInterval() time.Duration {
	limit := t.limiter.Limit()
	if limit <= 0 || limit == rate.Inf {
		return 100 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / float64(limit))
}

// handleSessionStream handles SSE connections for session events
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, exists := s.manager.Get(sessionID); !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	broadcaster := s.manager.Broadcaster()
	eventChan := broadcaster.Subscribe(sessionID)
	defer broadcaster.Unsubscribe(sessionID, eventChan)

	// headers go out before the first event
	flusher.Flush()

	th := broadcaster.newThrottle()
	flushTicker := time.NewTicker(th.flushInterval())
	defer flushTicker.Stop()
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	write := func(events []StreamEvent) bool {
		for _, ev := range events {
			if err := writeSSEEvent(w, ev); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return false
			}
		}
		if len(events) > 0 {
			flusher.Flush()
		}
		return true
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "session_id", sessionID)
			return

		case event, ok := <-eventChan:
			if !ok {
				write(th.take())
				return
			}
			if !write(th.offer(event)) {
				return
			}

		case <-flushTicker.C:
			if !write(th.flush()) {
				return
			}

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// SSE format: "event: {type}\ndata: {json}\n\n"
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
