package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/symregweb/internal/orchestrator"
	"github.com/cwbudde/symregweb/internal/protocol"
)

const (
	wsWriteWait  = 10 * time.Second
	wsMaxMessage = 16 * 1024 * 1024 // csv payloads
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsRejection answers a client command that could not be applied.
type wsRejection struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Error   string `json:"error"`
}

// handleSessionWebSocket handles GET /api/v1/sessions/:id/ws.
//
// The server pushes the same events as the SSE stream. The client drives the
// session with protocol commands: init stages new input for the next run,
// run starts a run with the staged input (or the last run's input), and stop
// cancels the active run.
func (s *Server) handleSessionWebSocket(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, exists := s.manager.Get(sessionID)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade the websocket", "session_id", sessionID, "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(wsMaxMessage)
	slog.Info("Websocket client connected", "session_id", sessionID)

	broadcaster := s.manager.Broadcaster()
	eventChan := broadcaster.Subscribe(sessionID)
	defer broadcaster.Unsubscribe(sessionID, eventChan)

	rejections := make(chan wsRejection, 8)
	g, ctx := errgroup.WithContext(r.Context())

	// single writer: gorilla connections allow one concurrent writer
	g.Go(func() error {
		// unblocks the reader once writing stops
		defer ws.Close()

		th := broadcaster.newThrottle()
		flushTicker := time.NewTicker(th.flushInterval())
		defer flushTicker.Stop()

		write := func(v any) error {
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return ws.WriteJSON(v)
		}
		writeAll := func(events []StreamEvent) error {
			for _, ev := range events {
				if err := write(ev); err != nil {
					return err
				}
			}
			return nil
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-eventChan:
				if !ok {
					writeAll(th.take())
					ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
						time.Now().Add(wsWriteWait))
					return errSessionClosed
				}
				if err := writeAll(th.offer(ev)); err != nil {
					return err
				}
			case <-flushTicker.C:
				if err := writeAll(th.flush()); err != nil {
					return err
				}
			case rej := <-rejections:
				if err := write(rej); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		var staged *orchestrator.Request
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return err
			}

			cmd, err := protocol.UnmarshalCommand(data)
			if err != nil {
				s.reject(ctx, rejections, "", err)
				continue
			}
			slog.Debug("Websocket command received", "session_id", sessionID, "type", string(cmd.Kind()))

			switch c := cmd.(type) {
			case protocol.Initialize:
				req := session.Request()
				req.Data = c.Data
				req.Config = c.Config
				req.Operators = c.Operators
				staged = &req
			case protocol.Run:
				req := session.Request()
				if staged != nil {
					req = *staged
				}
				req.Run = s.runOrDefault(c)
				if err := s.manager.Start(context.WithoutCancel(ctx), session, req); err != nil {
					s.reject(ctx, rejections, string(cmd.Kind()), err)
					continue
				}
				staged = nil
			case protocol.Stop:
				if err := session.Stop(ctx); err != nil {
					s.reject(ctx, rejections, string(cmd.Kind()), err)
				}
			}
		}
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, errSessionClosed) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Debug("Websocket closed", "session_id", sessionID, "error", err)
	}
	slog.Info("Websocket client disconnected", "session_id", sessionID)
}

var errSessionClosed = errors.New("session closed")

func (s *Server) reject(ctx context.Context, rejections chan<- wsRejection, command string, err error) {
	select {
	case rejections <- wsRejection{Type: "rejected", Command: command, Error: err.Error()}:
	case <-ctx.Done():
	}
}

// runOrDefault fills unset run parameters from the server defaults.
func (s *Server) runOrDefault(run protocol.Run) protocol.Run {
	defaults := s.cfg.Run()
	if run.StepBudget == 0 {
		run.StepBudget = defaults.StepBudget
	}
	if run.SnapshotEvery == 0 {
		run.SnapshotEvery = defaults.SnapshotEvery
	}
	return run
}
