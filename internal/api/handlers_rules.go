package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nelssec/assetsync/internal/models"
)

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	rules, err := s.store.ListRules(r.Context(), enabledOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, rules)
}

type ruleRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Enabled     *bool                `json:"enabled"`
	Priority    int                  `json:"priority"`
	RuleType    models.RuleType      `json:"rule_type"`
	Condition   models.RuleCondition `json:"condition"`
	Action      models.RuleAction    `json:"action"`
}

func (req *ruleRequest) validate() string {
	if req.Name == "" {
		return "name is required"
	}
	switch req.RuleType {
	case models.RuleTagMatch, models.RuleServiceMatch, models.RuleExposureCheck,
		models.RuleNamingPattern, models.RuleComposite:
	default:
		return "unknown rule_type"
	}
	if req.Action == (models.RuleAction{}) {
		return "action must set at least one field"
	}
	return ""
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule := &models.ClassificationRule{
		Name:        req.Name,
		Description: req.Description,
		Enabled:     enabled,
		Priority:    req.Priority,
		RuleType:    req.RuleType,
		Condition:   req.Condition,
		Action:      req.Action,
	}

	if err := s.store.CreateRule(r.Context(), rule); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid rule ID")
		return
	}

	rule, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if rule == nil {
		respondError(w, http.StatusNotFound, "not_found", "Rule not found")
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid rule ID")
		return
	}

	rule, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if rule == nil {
		respondError(w, http.StatusNotFound, "not_found", "Rule not found")
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	rule.Name = req.Name
	rule.Description = req.Description
	rule.Priority = req.Priority
	rule.RuleType = req.RuleType
	rule.Condition = req.Condition
	rule.Action = req.Action
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := s.store.UpdateRule(r.Context(), rule); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid rule ID")
		return
	}

	if err := s.store.DeleteRule(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type previewRuleRequest struct {
	IntegrationID uuid.UUID   `json:"integration_id"`
	Rule          ruleRequest `json:"rule"`
}

// previewRule evaluates a rule without saving it, persisting any changes, or
// touching applied counters.
func (s *Server) previewRule(w http.ResponseWriter, r *http.Request) {
	var req previewRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.IntegrationID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "validation_error", "integration_id is required")
		return
	}
	if msg := req.Rule.validate(); msg != "" {
		respondError(w, http.StatusBadRequest, "validation_error", msg)
		return
	}

	rule := &models.ClassificationRule{
		Name:      req.Rule.Name,
		Enabled:   true,
		Priority:  req.Rule.Priority,
		RuleType:  req.Rule.RuleType,
		Condition: req.Rule.Condition,
		Action:    req.Rule.Action,
	}

	matches, err := s.engine.Preview(r.Context(), req.IntegrationID, rule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "preview_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"matched": len(matches),
		"assets":  matches,
	})
}

type runRulesRequest struct {
	IntegrationID uuid.UUID `json:"integration_id"`
}

func (s *Server) runRules(w http.ResponseWriter, r *http.Request) {
	var req runRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.IntegrationID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "validation_error", "integration_id is required")
		return
	}

	changed, err := s.engine.ClassifyIntegration(r.Context(), req.IntegrationID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "classify_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"assets_changed": changed})
}
