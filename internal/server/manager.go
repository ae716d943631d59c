package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/symregweb/internal/engine"
	"github.com/cwbudde/symregweb/internal/orchestrator"
	"github.com/cwbudde/symregweb/internal/protocol"
	"github.com/cwbudde/symregweb/internal/search"
	"github.com/cwbudde/symregweb/internal/store"
)

// ErrTooManySessions is returned by Create when every slot holds an active run.
var ErrTooManySessions = errors.New("too many active sessions")

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Engine builds the handles of every session
	Engine engine.Engine

	// MaxSessions bounds the sessions kept in memory; finished sessions are
	// evicted oldest first to make room
	MaxSessions int

	// Results enables result export when set
	Results *store.FSStore

	Broadcaster *Broadcaster
	Logger      *slog.Logger
}

// Manager manages the lifecycle of sessions
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*orchestrator.Session
	records  map[string]*runRecord
	created  map[string]time.Time

	engine      engine.Engine
	maxSessions int
	broadcaster *Broadcaster
	recorder    *Recorder
	logger      *slog.Logger
}

// NewManager creates a new Manager
func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	broadcaster := opts.Broadcaster
	if broadcaster == nil {
		broadcaster = NewBroadcaster(DefaultStreamRate, DefaultStreamBurst)
	}
	maxSessions := opts.MaxSessions
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &Manager{
		sessions:    make(map[string]*orchestrator.Session),
		records:     make(map[string]*runRecord),
		created:     make(map[string]time.Time),
		engine:      opts.Engine,
		maxSessions: maxSessions,
		broadcaster: broadcaster,
		recorder:    NewRecorder(opts.Results),
		logger:      logger,
	}
}

// Broadcaster returns the event fan-out of all sessions.
func (m *Manager) Broadcaster() *Broadcaster {
	return m.broadcaster
}

// Create registers a new session and starts its first run.
func (m *Manager) Create(ctx context.Context, req orchestrator.Request) (*orchestrator.Session, error) {
	id := uuid.New().String()
	session := orchestrator.NewSession(id, m.engine, orchestrator.Options{
		Logger:   m.logger,
		Observer: m.observe,
	})

	m.mu.Lock()
	if err := m.evictLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[id] = session
	m.records[id] = &runRecord{}
	m.created[id] = time.Now()
	m.mu.Unlock()

	if err := m.Start(ctx, session, req); err != nil {
		m.remove(id)
		return nil, err
	}
	return session, nil
}

// Start begins a new run of an existing session. The session's previous run,
// if still active, is discarded.
func (m *Manager) Start(ctx context.Context, session *orchestrator.Session, req orchestrator.Request) error {
	m.mu.RLock()
	rec, ok := m.records[session.ID()]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session not found: %s", session.ID())
	}

	req, err := req.Normalize()
	if err != nil {
		return err
	}

	// stream clients see the new run before any of its events
	rec.reset(req, time.Now())
	m.recorder.Begin(session.ID())
	// the data itself stays out of the stream
	initCmd := protocol.Initialize{Config: req.Config, Operators: req.Operators}
	m.publish(session.ID(), rec, protocol.EncodeCommand(initCmd), orchestrator.StateInitializing)

	if err := session.Start(ctx, req); err != nil {
		m.recorder.Abort(session.ID())
		return err
	}
	return nil
}

// Restart re-runs a session with the parameters of its last run.
func (m *Manager) Restart(ctx context.Context, session *orchestrator.Session, run *protocol.Run) error {
	req := session.Request()
	if run != nil {
		req.Run = *run
	}
	return m.Start(ctx, session, req)
}

// Get retrieves a session by ID
func (m *Manager) Get(id string) (*orchestrator.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// List returns the status of every session, newest first
func (m *Manager) List() []orchestrator.Status {
	m.mu.RLock()
	sessions := make([]*orchestrator.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	statuses := make([]orchestrator.Status, len(sessions))
	for i, session := range sessions {
		statuses[i] = session.Status()
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].StartTime.After(statuses[j].StartTime)
	})
	return statuses
}

// Active returns all sessions with a run in progress
func (m *Manager) Active() []*orchestrator.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make([]*orchestrator.Session, 0)
	for _, session := range m.sessions {
		if session.State().Active() {
			active = append(active, session)
		}
	}
	return active
}

// Close cancels every active run and releases all stream clients.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*orchestrator.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
		m.broadcaster.CleanupSession(session.ID())
	}
	m.recorder.Close()
}

// evictLocked makes room for one more session by dropping the oldest
// session without an active run.
func (m *Manager) evictLocked() error {
	if len(m.sessions) < m.maxSessions {
		return nil
	}

	var oldestID string
	var oldest time.Time
	for id, session := range m.sessions {
		if session.State().Active() {
			continue
		}
		if created := m.created[id]; oldestID == "" || created.Before(oldest) {
			oldestID, oldest = id, created
		}
	}
	if oldestID == "" {
		return ErrTooManySessions
	}

	// inactive, so Close reports nothing to observe while m.mu is held
	m.sessions[oldestID].Close()
	m.dropLocked(oldestID)
	m.logger.Info("Session evicted", "session_id", oldestID)
	return nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(id)
}

func (m *Manager) dropLocked(id string) {
	delete(m.sessions, id)
	delete(m.records, id)
	delete(m.created, id)
	m.broadcaster.CleanupSession(id)
	m.recorder.Abort(id)
}

// observe is the orchestrator observer of every managed session.
func (m *Manager) observe(sessionID string, ev protocol.Event, state orchestrator.RunState) {
	m.mu.RLock()
	rec, ok := m.records[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	rec.apply(ev)
	m.recorder.Observe(sessionID, rec, ev, state)
	m.publish(sessionID, rec, protocol.EncodeEvent(ev), state)
}

func (m *Manager) publish(sessionID string, rec *runRecord, msg protocol.Envelope, state orchestrator.RunState) {
	m.broadcaster.Broadcast(StreamEvent{
		SessionID: sessionID,
		Type:      msg.Type,
		State:     state,
		View:      rec.view(state),
		Event:     msg,
		Timestamp: time.Now(),
	})
}

// requestFor fills a request from operator input. Unset fields take the
// given defaults.
func requestFor(data string, cfg *search.Configuration, operators string, run protocol.Run, defaults protocol.Run) orchestrator.Request {
	req := orchestrator.Request{
		Data:      data,
		Operators: orchestrator.ParseOperators(operators),
		Run:       run,
	}
	if cfg != nil {
		req.Config = *cfg
	}
	if req.Run.StepBudget == 0 {
		req.Run.StepBudget = defaults.StepBudget
	}
	if req.Run.SnapshotEvery == 0 {
		req.Run.SnapshotEvery = defaults.SnapshotEvery
	}
	return req
}
