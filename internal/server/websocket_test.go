package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwbudde/symregweb/internal/engine/enginetest"
	"github.com/cwbudde/symregweb/internal/orchestrator"
	"github.com/cwbudde/symregweb/internal/present"
	"github.com/cwbudde/symregweb/internal/protocol"
)

// wsMessage covers both stream events and rejections.
type wsMessage struct {
	Type    string                `json:"type"`
	State   orchestrator.RunState `json:"state"`
	View    present.View          `json:"view"`
	Command string                `json:"command"`
	Error   string                `json:"error"`
	Event   json.RawMessage       `json:"event"`
}

func dialSession(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + sessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed waiting for %s message: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestWebSocket_RunAndStop(t *testing.T) {
	eng := &enginetest.Engine{TotalCycles: 4}
	s := newTestServer(t, eng, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	session, err := s.manager.Create(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, session)

	conn := dialSession(t, srv, session.ID())

	// the finished run is replayed to a new client
	first := readUntil(t, conn, "done")
	if first.State != orchestrator.StateCompleted {
		t.Errorf("Expected completed state, got %s", first.State)
	}

	// stop while idle is rejected
	if err := conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		t.Fatalf("Failed to send stop: %v", err)
	}
	rej := readUntil(t, conn, "rejected")
	if rej.Command != "stop" || rej.Error != orchestrator.ErrNotActive.Error() {
		t.Errorf("Unexpected rejection: %+v", rej)
	}

	// run re-uses the last input with new parameters
	if err := conn.WriteJSON(map[string]any{"type": "run", "stepCycles": 2, "snapshotEverySteps": 1}); err != nil {
		t.Fatalf("Failed to send run: %v", err)
	}
	readUntil(t, conn, "init")
	snapMsg := readUntil(t, conn, "snapshot")
	if !strings.Contains(string(snapMsg.Event), `"pareto_front"`) {
		t.Errorf("Expected pareto_front in snapshot event, got %s", snapMsg.Event)
	}
	ev, err := protocol.UnmarshalEvent(snapMsg.Event)
	if err != nil {
		t.Fatalf("Failed to decode snapshot event: %v", err)
	}
	snap, ok := ev.(protocol.Snapshot)
	if !ok {
		t.Fatalf("Expected protocol.Snapshot, got %T", ev)
	}
	if snap.Snap.TotalCycles != 4 || len(snap.Snap.Frontier) != snap.Snap.CyclesCompleted {
		t.Errorf("Unexpected snapshot: %+v", snap.Snap)
	}
	done := readUntil(t, conn, "done")
	if done.View.Progress != "100.0" {
		t.Errorf("Expected progress 100.0, got %s", done.View.Progress)
	}
	if eng.Handles() != 2 {
		t.Errorf("Expected a second handle, got %d", eng.Handles())
	}
}

func TestWebSocket_InitStagesInput(t *testing.T) {
	eng := &enginetest.Engine{TotalCycles: 2}
	s := newTestServer(t, eng, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	session, err := s.manager.Create(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, session)
	conn := dialSession(t, srv, session.ID())
	readUntil(t, conn, "done")

	staged := map[string]any{
		"type":      "init",
		"csvText":   "a,b\n1,1\n",
		"operators": []string{"sin"},
	}
	if err := conn.WriteJSON(staged); err != nil {
		t.Fatalf("Failed to send init: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "run"}); err != nil {
		t.Fatalf("Failed to send run: %v", err)
	}
	readUntil(t, conn, "init")
	readUntil(t, conn, "done")

	req := session.Request()
	if req.Data != "a,b\n1,1\n" {
		t.Errorf("Expected staged data, got %q", req.Data)
	}
	if len(req.Operators) != 1 || req.Operators[0] != "sin" {
		t.Errorf("Expected staged operators, got %v", req.Operators)
	}
}

func TestWebSocket_RejectsUnknownCommand(t *testing.T) {
	s := newTestServer(t, &enginetest.Engine{TotalCycles: 2}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	session, err := s.manager.Create(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, session)
	conn := dialSession(t, srv, session.ID())

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"explode"}`)); err != nil {
		t.Fatalf("Failed to send command: %v", err)
	}
	rej := readUntil(t, conn, "rejected")
	if !strings.Contains(rej.Error, "unknown command type") {
		t.Errorf("Unexpected rejection: %+v", rej)
	}
}
