package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/loghaven/loghaven/pkg/retention"
)

// errorResponse is the JSON body returned on every error path.
type errorResponse struct {
	Error string `json:"error"`
}

// handleRunCleanup triggers a synchronous manual cleanup run. An optional
// app_id query parameter scopes the run to one application. A run request
// while another run is active returns 409 Conflict.
func (s *Server) handleRunCleanup(w http.ResponseWriter, r *http.Request) {
	appID := optionalAppID(r)

	run, err := s.coordinator.Run(r.Context(), retention.TriggerManual, appID)
	if err != nil {
		var conflict *retention.ConflictError
		if errors.As(err, &conflict) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: conflict.Error()})
			return
		}
		// A failed run still carries its audit row; surface both.
		if run != nil {
			s.logger.Error("cleanup run failed", "run_id", run.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, run)
			return
		}
		s.logger.Error("cleanup run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handlePreview computes a dry-run deletion count across the same scope as
// a run, without mutating anything.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.previewer.Preview(r.Context(), optionalAppID(r))
	if err != nil {
		s.logger.Error("preview failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleListRuns lists cleanup runs, most recent first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	offset := intQuery(r, "offset", 0)

	runs, err := s.coordinator.Runs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if runs == nil {
		runs = []*retention.CleanupRun{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func optionalAppID(r *http.Request) *string {
	if val := r.URL.Query().Get("app_id"); val != "" {
		return &val
	}
	return nil
}

func intQuery(r *http.Request, key string, fallback int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
