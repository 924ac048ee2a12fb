package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/progress"
)

const (
	defaultRunLimit   = 50
	maxRunLimit       = 500
	defaultEntryLimit = 100
	maxEntryLimit     = 1000
)

type launchRequest struct {
	Mode string `json:"mode"`
}

// launchRun handles POST /v1/runs. The optional mode, taken from the body or
// the query string, selects a full pipeline run (the default) or a standalone
// distillation sweep. The run starts detached; the response carries its root
// run ID immediately.
func (s *Server) launchRun(w http.ResponseWriter, r *http.Request) {
	mode := strings.TrimSpace(r.URL.Query().Get("mode"))
	if r.ContentLength != 0 {
		var req launchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.Mode != "" {
			mode = req.Mode
		}
	}

	var runID string
	switch strings.ToLower(mode) {
	case "", "pipeline":
		mode = "pipeline"
		runID = s.pipeline.Launch(r.Context())
	case "sweep":
		mode = "sweep"
		runID = s.pipeline.LaunchSweep(r.Context())
	default:
		s.writeError(w, http.StatusBadRequest, "invalid mode")
		return
	}

	s.logger.Info("run launched", zap.String("run_id", runID), zap.String("mode", mode))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "mode": mode})
}

// listRuns handles GET /v1/runs?status=&limit=&offset=, newest first.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	statusParam := strings.TrimSpace(r.URL.Query().Get("status"))
	var status progress.RunStatus
	if statusParam != "" {
		status, err = parseRunStatus(statusParam)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	out := make([]runSummaryDTO, 0, defaultRunLimit)
	for _, snap := range s.registry.List() {
		if status != "" && snap.Status != status {
			continue
		}
		out = append(out, toRunSummary(snap))
	}
	total := len(out)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"runs":  page(out, offset, limit),
		"total": total,
	})
}

// getRun handles GET /v1/runs/{run_id} and returns the full run tree.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tracker, ok := s.registry.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": tracker.Snapshot()})
}

// listRunEntries handles GET /v1/runs/{run_id}/entries?state=&limit=&offset=.
func (s *Server) listRunEntries(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultEntryLimit, maxEntryLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stateParam := strings.TrimSpace(r.URL.Query().Get("state"))
	var state progress.EntryState
	if stateParam != "" {
		state, err = parseEntryState(stateParam)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	tracker, ok := s.registry.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	snap := tracker.Snapshot()
	entries := make([]progress.EntryTask, 0, len(snap.Entries))
	for _, entry := range snap.Entries {
		if state != "" && entry.State != state {
			continue
		}
		entries = append(entries, entry)
	}
	total := len(entries)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entries": page(entries, offset, limit),
		"total":   total,
	})
}

func parseRunID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return "", errors.New("run_id is required")
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", errors.New("invalid run_id")
	}
	return raw, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseRunStatus(input string) (progress.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return progress.RunRunning, nil
	case "completed", "done":
		return progress.RunCompleted, nil
	case "error", "failed":
		return progress.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func parseEntryState(input string) (progress.EntryState, error) {
	switch state := progress.EntryState(strings.ToLower(input)); state {
	case progress.EntryPending, progress.EntryFetching, progress.EntryFetched,
		progress.EntryDistilling, progress.EntryCompleted, progress.EntryError,
		progress.EntrySkipped:
		return state, nil
	default:
		return "", errors.New("invalid state")
	}
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

type runSummaryDTO struct {
	RunID     string         `json:"run_id"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Counts    map[string]int `json:"counts,omitempty"`
	Runs      int            `json:"runs"`
	Entries   int            `json:"entries"`
}

func toRunSummary(snap progress.Snapshot) runSummaryDTO {
	counts := make(map[string]int, len(snap.Counts))
	for state, n := range snap.Counts {
		if n != 0 {
			counts[string(state)] = n
		}
	}
	return runSummaryDTO{
		RunID:     snap.RootRunID,
		Status:    string(snap.Status),
		Message:   snap.Message,
		Error:     snap.Error,
		StartedAt: snap.StartedAt,
		UpdatedAt: snap.UpdatedAt,
		Counts:    counts,
		Runs:      len(snap.Runs),
		Entries:   len(snap.Entries),
	}
}
