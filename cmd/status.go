package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/symregweb/internal/orchestrator"
	"github.com/cwbudde/symregweb/internal/present"
	"github.com/cwbudde/symregweb/internal/protocol"
)

var (
	serverURL    string
	followStream bool
)

// sessionStatus mirrors the session responses of the server API.
type sessionStatus struct {
	orchestrator.Status
	View present.View `json:"view"`
}

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Query server status or a specific session",
	Long: `Queries the server for session status information.
If no session-id is provided, lists all sessions.
If session-id is provided, shows the session's frontier.
With --follow, prints the session's progress until its run finishes.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	statusCmd.Flags().BoolVarP(&followStream, "follow", "f", false, "Follow the session's event stream")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listSessions(cmd.OutOrStdout(), fmt.Sprintf("%s/api/v1/sessions", serverURL))
	}
	sessionID := args[0]
	if followStream {
		return followSession(cmd.Context(), cmd.OutOrStdout(), fmt.Sprintf("%s/api/v1/sessions/%s/stream", serverURL, sessionID), sessionID)
	}
	return getSessionStatus(cmd.OutOrStdout(), fmt.Sprintf("%s/api/v1/sessions/%s", serverURL, sessionID), sessionID)
}

func fetchJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listSessions(w io.Writer, url string) error {
	var sessions []sessionStatus
	if _, err := fetchJSON(url, &sessions); err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found")
		return nil
	}

	fmt.Fprintf(w, "Found %d session(s):\n\n", len(sessions))
	for _, s := range sessions {
		fmt.Fprintf(w, "Session ID: %s\n", s.ID)
		fmt.Fprintf(w, "  State: %s\n", s.State)
		fmt.Fprintf(w, "  Status: %s\n", s.View.Status)
		fmt.Fprintf(w, "  Progress: %s%%\n", s.View.Progress)
		fmt.Fprintf(w, "  Best: %s\n", s.View.Best)
		fmt.Fprintln(w)
	}
	return nil
}

func getSessionStatus(w io.Writer, url, sessionID string) error {
	var s sessionStatus
	code, err := fetchJSON(url, &s)
	if code == http.StatusNotFound {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Session: %s\n", s.ID)
	fmt.Fprintf(w, "State: %s\n", s.State)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Iterations: %d\n", s.Config.Iterations)
	fmt.Fprintf(w, "  Populations: %d x %d\n", s.Config.Populations, s.Config.PopulationSize)
	fmt.Fprintf(w, "  Max complexity: %d\n", s.Config.MaxComplexity)
	fmt.Fprintf(w, "  Operators: %v\n", s.Operators)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	fmt.Fprintf(w, "  %s\n", s.View.Status)
	fmt.Fprintf(w, "  Progress: %s%%\n", s.View.Progress)
	if !s.StartTime.IsZero() {
		end := time.Now()
		if s.EndTime != nil {
			end = *s.EndTime
		}
		fmt.Fprintf(w, "  Elapsed: %s\n", end.Sub(s.StartTime).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "  Best: %s\n", s.View.Best)

	if len(s.View.Rows) > 0 {
		fmt.Fprintln(w, "\nFrontier:")
		for _, row := range s.View.Rows {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", row.Complexity, row.Loss, row.Equation)
		}
	}

	if s.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", s.Error)
	}
	return nil
}

// streamMessage is one event of the session stream.
type streamMessage struct {
	Type  protocol.Kind   `json:"type"`
	State string          `json:"state"`
	View  present.View    `json:"view"`
	Event json.RawMessage `json:"event"`
}

// followSession prints a session's stream until the run ends. A run that has
// already ended is reported from the replayed final event.
func followSession(ctx context.Context, w io.Writer, url, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg streamMessage
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			return fmt.Errorf("failed to decode stream event: %w", err)
		}
		if msg.Type == protocol.KindInit {
			fmt.Fprintln(w, "Run started")
			continue
		}

		ev, err := protocol.UnmarshalEvent(msg.Event)
		if err != nil {
			return err
		}
		switch e := ev.(type) {
		case protocol.Snapshot:
			fmt.Fprintln(w, present.StatusLine(e.Snap))
		case protocol.Error:
			return fmt.Errorf("search failed: %s", e.Message)
		case protocol.Done, protocol.Stopped:
			fmt.Fprintf(w, "%s\nBest: %s\n", msg.View.Status, msg.View.Best)
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return fmt.Errorf("stream closed before the run finished")
}
