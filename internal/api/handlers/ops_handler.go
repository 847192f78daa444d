package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	middleware "github.com/docuflow-ai/docuflow/internal/api/middlewares"
	"github.com/docuflow-ai/docuflow/internal/logging"
	"github.com/docuflow-ai/docuflow/internal/pipeline"
)

// OpsHandler exposes pipeline job status and the recent log buffer.
type OpsHandler struct {
	tracker *pipeline.Tracker
	ring    *logging.Ring
}

func NewOpsHandler(tracker *pipeline.Tracker, ring *logging.Ring) *OpsHandler {
	return &OpsHandler{tracker: tracker, ring: ring}
}

// GetJob reports the state of one pipeline job. Jobs are org-scoped: a
// caller only sees jobs for their own documents.
func (h *OpsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	status, found := h.tracker.Get(chi.URLParam(r, "id"))
	if !found || status.OrgID != orgID {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// RecentLogs returns the newest entries from the in-process log buffer,
// oldest first. The limit query parameter caps the count, default 100.
func (h *OpsHandler) RecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries := h.ring.Recent(limit)
	if entries == nil {
		entries = []logging.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"entries": entries, "count": len(entries)})
}
