package server

import (
	"net/http"
	"strings"

	"github.com/cwbudde/symregweb/internal/engine"
	"github.com/cwbudde/symregweb/internal/present"
	"github.com/cwbudde/symregweb/internal/ui"
)

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Only handle exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	statuses := s.manager.List()
	items := make([]ui.SessionItem, len(statuses))
	for i, st := range statuses {
		items[i] = ui.SessionItem{
			ID:        st.ID,
			View:      present.Render(st),
			StartTime: st.StartTime,
		}
	}

	run := s.cfg.Run()
	page := ui.Page{
		Defaults:      s.cfg.Search,
		Operators:     strings.Join(engine.DefaultOperators, ","),
		StepCycles:    run.StepBudget,
		SnapshotEvery: run.SnapshotEvery,
		Sessions:      items,
	}

	if err := ui.Index(page).Render(r.Context(), w); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
}
