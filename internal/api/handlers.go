package api

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/carbongrid/enforcer/internal/audit"
	"github.com/carbongrid/enforcer/internal/policy"
)

// compileResponse summarizes a registered compilation. Rule predicates
// are not serializable, so only rule metadata is returned.
type compileResponse struct {
	PolicyID          string     `json:"policy_id"`
	Rules             []ruleInfo `json:"rules"`
	CompiledAt        string     `json:"compiled_at"`
	CompileDurationMs float64    `json:"compile_duration_ms"`
}

type ruleInfo struct {
	ID          string  `json:"id"`
	Action      string  `json:"action"`
	Explanation string  `json:"explanation"`
	Weight      float64 `json:"weight"`
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var artifact policy.Artifact
	if err := json.NewDecoder(r.Body).Decode(&artifact); err != nil {
		writeError(w, http.StatusBadRequest, "invalid artifact body: "+err.Error())
		return
	}
	if artifact.ID == "" {
		writeError(w, http.StatusBadRequest, "artifact id is required")
		return
	}

	compiled := s.service.CompilePolicy(artifact)
	if s.metrics != nil {
		s.metrics.RecordCompile(compiled.CompileDuration.Seconds())
	}

	resp := compileResponse{
		PolicyID:          compiled.ID,
		CompiledAt:        compiled.CompiledAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		CompileDurationMs: float64(compiled.CompileDuration.Nanoseconds()) / 1e6,
	}
	for _, rule := range compiled.Rules {
		resp.Rules = append(resp.Rules, ruleInfo{
			ID:          rule.ID,
			Action:      string(rule.Action),
			Explanation: rule.Explanation,
			Weight:      rule.Weight,
		})
	}
	writeJSON(w, http.StatusCreated, resp)
}

type enforceRequest struct {
	Context  *policy.RequestContext `json:"context"`
	PolicyID string                 `json:"policy_id"`
}

func (s *Server) handleEnforce(w http.ResponseWriter, r *http.Request) {
	var req enforceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid enforce body: "+err.Error())
		return
	}
	if req.Context == nil {
		writeError(w, http.StatusBadRequest, "request context is required")
		return
	}

	result := s.service.Enforce(r.Context(), req.Context, req.PolicyID)
	writeJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Requests []policy.BatchRequest `json:"requests"`
}

type batchResponse struct {
	Results []*policy.EnforcementResult `json:"results"`
}

func (s *Server) handleEnforceBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch body: "+err.Error())
		return
	}
	for i, item := range req.Requests {
		if item.Context == nil {
			writeError(w, http.StatusBadRequest, "requests["+strconv.Itoa(i)+"] is missing a context")
			return
		}
	}

	results := s.service.EnforceBatch(r.Context(), req.Requests)
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Stats())
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := audit.QueryOptions{
		PolicyID:  q.Get("policy_id"),
		User:      q.Get("user"),
		Action:    q.Get("action"),
		Decision:  q.Get("decision"),
		OrderBy:   "timestamp",
		OrderDesc: true,
		Limit:     100,
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}

	records, err := s.store.Query(r.Context(), opts)
	if err != nil {
		log.Error().Err(err).Msg("Audit query failed")
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
