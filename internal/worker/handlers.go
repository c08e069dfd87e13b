package worker

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/aura-labs/struggle/internal/apperr"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("worker: failed to encode JSON response")
	}
}

// errorEnvelope is the `{error:{message, type, status, details?, path}}`
// wire shape the external interface contract specifies for rejections.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Status  int    `json:"status"`
		Details any    `json:"details,omitempty"`
		Path    string `json:"path,omitempty"`
	} `json:"error"`
}

// writeErrorResponse writes the error envelope. kind is an apperr.Kind
// string (or any short machine-readable label, for callers like the rate
// limiter that don't construct an *apperr.Error).
func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, kind, message string, details any) {
	var env errorEnvelope
	env.Error.Message = message
	env.Error.Type = kind
	env.Error.Status = status
	env.Error.Details = details
	env.Error.Path = r.URL.Path
	writeJSON(w, status, env)
}

// writeAppError converts an apperr.Error (or generic error, defaulting to
// internal) into the wire envelope.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	var ae *apperr.Error
	if as, ok := err.(*apperr.Error); ok {
		ae = as
		status = ae.Status
	}
	writeErrorResponse(w, r, status, string(kind), err.Error(), nil)
}

// handleHealth reports liveness plus cache tier statistics, per the
// external interface contract's health endpoint.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.cache != nil {
		body["cache"] = s.cache.Stats()
	}
	if s.store != nil {
		body["store"] = s.store.HealthCheck(r.Context())
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	if err := s.store.Ping(); err != nil {
		writeErrorResponse(w, r, http.StatusServiceUnavailable, "upstream_unavailable", "store unreachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleStruggleTrigger is the trigger submission endpoint (C3): it binds
// the request JSON to trigger.Request, computes the aggregated decision's
// file key from the request body, and forwards to the struggle bridge.
func (s *Service) handleStruggleTrigger(w http.ResponseWriter, r *http.Request) {
	s.handleTrigger(w, r, s.struggleBridge)
}

func (s *Service) handleAuditTrigger(w http.ResponseWriter, r *http.Request) {
	s.handleTrigger(w, r, s.auditBridge)
}

func (s *Service) handleTrigger(w http.ResponseWriter, r *http.Request, bridge *triggerBridge) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_input", "failed to read request body", nil)
		return
	}

	var req submissionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_input", "malformed request body", nil)
		return
	}
	if req.FileKey == "" {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_input", "file_key is required", nil)
		return
	}

	if s.dedup != nil {
		hash := hashSubmission(req.FileKey, body)
		if s.dedup.IsDuplicate(hash) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate_ignored", "file_key": req.FileKey})
			return
		}
		s.dedup.Record(hash)
	}

	ws, err := bridge.submit(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": ws.ThreadID,
		"status":    ws.Status,
		"state": map[string]any{
			"is_struggling":         ws.IsStruggling,
			"lesson_recommendation": ws.Intermediate.LessonRecommendation,
			"violations":            ws.Intermediate.Violations,
		},
	})
}

// handleWorkflowGet returns the latest recorded state for one thread.
func (s *Service) handleWorkflowGet(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	ws, err := s.runtime.GetState(r.Context(), threadID)
	if err != nil {
		writeErrorResponse(w, r, http.StatusNotFound, "not_found", "unknown thread_id", nil)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// handleWorkflowList returns a page of threads in the list(page,
// page_size) envelope the external interface contract specifies.
func (s *Service) handleWorkflowList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	rows, total, err := s.store.ListThreads(r.Context(), page, pageSize)
	if err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.KindInternal, err, "list threads"))
		return
	}

	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	writeJSON(w, http.StatusOK, map[string]any{
		"items":     rows,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"pages":     pages,
	})
}
