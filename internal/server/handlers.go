package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/finquiry/finquiry/internal/memory"
	"github.com/finquiry/finquiry/internal/pipeline"
)

// Handlers serves the research API.
type Handlers struct {
	orch *pipeline.Orchestrator
	mgr  *memory.Manager
}

// NewHandlers creates the API handlers.
func NewHandlers(orch *pipeline.Orchestrator, mgr *memory.Manager) *Handlers {
	return &Handlers{orch: orch, mgr: mgr}
}

// researchRequest is the POST /api/research body.
type researchRequest struct {
	Query      string `json:"query"`
	ThreadID   string `json:"thread_id"`
	UserID     string `json:"user_id"`
	Depth      string `json:"depth"`
	CheckCache bool   `json:"check_cache"`
}

func (rr *researchRequest) normalize() error {
	rr.Query = strings.TrimSpace(rr.Query)
	if rr.Query == "" {
		return errEmptyQuery
	}
	if rr.UserID == "" {
		rr.UserID = "anonymous"
	}
	if rr.ThreadID == "" {
		rr.ThreadID = uuid.NewString()
	}
	switch rr.Depth {
	case "":
		rr.Depth = "medium"
	case "shallow", "medium", "deep":
	default:
		return errBadDepth
	}
	return nil
}

var (
	errEmptyQuery = jsonError{Code: "EMPTY_QUERY", Message: "query is required"}
	errBadDepth   = jsonError{Code: "INVALID_DEPTH", Message: "depth must be shallow, medium or deep"}
)

// jsonError is a client-facing request error.
type jsonError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e jsonError) Error() string { return e.Message }

// Research runs the full pipeline synchronously and returns the run state.
func (h *Handlers) Research(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonError{Code: "BAD_REQUEST", Message: "invalid JSON body"})
		return
	}
	if err := req.normalize(); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}

	state := h.orch.Run(r.Context(), pipeline.Input{
		Query:      req.Query,
		ThreadID:   req.ThreadID,
		UserID:     req.UserID,
		Depth:      req.Depth,
		CheckCache: req.CheckCache,
	})
	writeJSON(w, http.StatusOK, state)
}

// Health reports the memory subsystem condition.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.HealthStatus(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("warning: server: encode response: %v", err)
	}
}
