// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/boxrules/internal/models"
	"github.com/autobrr/boxrules/internal/services/automations"
)

type RuleStore interface {
	ListByOwner(ctx context.Context, ownerHash string) ([]*models.AutomationRule, error)
	Get(ctx context.Context, ownerHash string, id int64) (*models.AutomationRule, error)
	CountByOwner(ctx context.Context, ownerHash string) (int, error)
	Create(ctx context.Context, rule *models.AutomationRule) (*models.AutomationRule, error)
	Update(ctx context.Context, rule *models.AutomationRule) (*models.AutomationRule, error)
	Delete(ctx context.Context, ownerHash string, id int64) error
}

type ExecutionLogReader interface {
	ListByRule(ctx context.Context, ownerHash string, ruleID int64, limit int) ([]*models.ExecutionLog, error)
}

type RuleScheduler interface {
	Reload(ctx context.Context) error
	NextRunTime(ruleID int64) (time.Time, bool)
	ForceRun(ctx context.Context, rule *models.AutomationRule, apiKey string) *automations.ExecutionResult
}

type AutomationsHandler struct {
	rules     RuleStore
	logs      ExecutionLogReader
	scheduler RuleScheduler
	maxRules  int
}

func NewAutomationsHandler(rules RuleStore, logs ExecutionLogReader, scheduler RuleScheduler, maxRules int) *AutomationsHandler {
	return &AutomationsHandler{
		rules:     rules,
		logs:      logs,
		scheduler: scheduler,
		maxRules:  maxRules,
	}
}

func (h *AutomationsHandler) Routes(r chi.Router) {
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/count", h.Count)
		r.Post("/bulk-delete", h.BulkDelete)

		r.Route("/{ruleID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
			r.Get("/logs", h.Logs)
			r.Get("/next-run", h.NextRun)
			r.Post("/run", h.Run)
		})
	})
}

type ruleRequest struct {
	Name       string               `json:"name"`
	Enabled    *bool                `json:"enabled"`
	Trigger    models.TriggerConfig `json:"trigger_config"`
	Conditions []models.Condition   `json:"conditions"`
	Action     models.ActionConfig  `json:"action_config"`
}

func (req *ruleRequest) apply(rule *models.AutomationRule) {
	rule.Name = req.Name
	rule.Trigger = req.Trigger
	rule.Conditions = req.Conditions
	rule.Action = req.Action
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
}

// validateRule runs the shape checks and then asks the scheduler's parser
// whether the trigger can actually be scheduled.
func validateRule(rule *models.AutomationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := automations.ValidateTrigger(rule.Trigger); err != nil {
		return &models.ValidationError{Field: "trigger_config", Message: err.Error()}
	}
	return nil
}

func (h *AutomationsHandler) reload(w http.ResponseWriter, r *http.Request) bool {
	if err := h.scheduler.Reload(context.WithoutCancel(r.Context())); err != nil {
		log.Error().Err(err).Msg("automations: scheduler reload failed")
		RespondError(w, http.StatusInternalServerError, "Failed to reload automation scheduler: "+err.Error())
		return false
	}
	return true
}

func (h *AutomationsHandler) loadRule(w http.ResponseWriter, r *http.Request) (*models.AutomationRule, bool) {
	owner, ok := Owner(r)
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Missing account key")
		return nil, false
	}
	ruleID, ok := ParseRuleID(w, r)
	if !ok {
		return nil, false
	}

	rule, err := h.rules.Get(r.Context(), owner, ruleID)
	if err != nil {
		if !errors.Is(err, models.ErrRuleNotFound) {
			log.Error().Err(err).Int64("ruleID", ruleID).Msg("automations: failed to load rule")
		}
		RespondDBError(w, err, "Automation rule not found", "Failed to load automation rule")
		return nil, false
	}
	return rule, true
}

func (h *AutomationsHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := Owner(r)
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Missing account key")
		return
	}

	rules, err := h.rules.ListByOwner(r.Context(), owner)
	if err != nil {
		log.Error().Err(err).Msg("automations: failed to list rules")
		RespondError(w, http.StatusInternalServerError, "Failed to list automation rules")
		return
	}
	if rules == nil {
		rules = []*models.AutomationRule{}
	}

	RespondData(w, http.StatusOK, rules)
}

func (h *AutomationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}
	RespondData(w, http.StatusOK, rule)
}

func (h *AutomationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := Owner(r)
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Missing account key")
		return
	}

	var req ruleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	rule := &models.AutomationRule{OwnerHash: owner, Enabled: true}
	req.apply(rule)
	if err := validateRule(rule); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.maxRules > 0 {
		count, err := h.rules.CountByOwner(r.Context(), owner)
		if err != nil {
			log.Error().Err(err).Msg("automations: failed to count rules")
			RespondError(w, http.StatusInternalServerError, "Failed to count automation rules")
			return
		}
		if count >= h.maxRules {
			RespondError(w, http.StatusBadRequest, fmt.Sprintf("Maximum of %d automation rules reached", h.maxRules))
			return
		}
	}

	created, err := h.rules.Create(r.Context(), rule)
	if err != nil {
		log.Error().Err(err).Msg("automations: failed to create rule")
		RespondError(w, http.StatusInternalServerError, "Failed to create automation rule")
		return
	}

	if !h.reload(w, r) {
		return
	}

	log.Info().Int64("ruleID", created.ID).Str("name", created.Name).Msg("automations: rule created")
	RespondData(w, http.StatusCreated, created)
}

func (h *AutomationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	req.apply(rule)
	if err := validateRule(rule); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.rules.Update(r.Context(), rule)
	if err != nil {
		if !errors.Is(err, models.ErrRuleNotFound) {
			log.Error().Err(err).Int64("ruleID", rule.ID).Msg("automations: failed to update rule")
		}
		RespondDBError(w, err, "Automation rule not found", "Failed to update automation rule")
		return
	}

	if !h.reload(w, r) {
		return
	}

	RespondData(w, http.StatusOK, updated)
}

func (h *AutomationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := Owner(r)
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Missing account key")
		return
	}
	ruleID, ok := ParseRuleID(w, r)
	if !ok {
		return
	}

	if err := h.rules.Delete(r.Context(), owner, ruleID); err != nil {
		if !errors.Is(err, models.ErrRuleNotFound) {
			log.Error().Err(err).Int64("ruleID", ruleID).Msg("automations: failed to delete rule")
		}
		RespondDBError(w, err, "Automation rule not found", "Failed to delete automation rule")
		return
	}

	if !h.reload(w, r) {
		return
	}

	RespondData(w, http.StatusOK, map[string]int64{"id": ruleID})
}

type bulkDeleteRequest struct {
	IDs []int64 `json:"ids"`
}

type bulkDeleteError struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

type bulkDeleteResponse struct {
	DeletedCount int               `json:"deleted_count"`
	Errors       []bulkDeleteError `json:"errors"`
}

// BulkDelete removes each listed rule owned by the caller. Rules that are
// missing or owned by someone else are reported individually.
func (h *AutomationsHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := Owner(r)
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Missing account key")
		return
	}

	var req bulkDeleteRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		RespondError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}

	resp := bulkDeleteResponse{Errors: []bulkDeleteError{}}
	for _, id := range req.IDs {
		err := h.rules.Delete(r.Context(), owner, id)
		switch {
		case err == nil:
			resp.DeletedCount++
		case errors.Is(err, models.ErrRuleNotFound):
			resp.Errors = append(resp.Errors, bulkDeleteError{ID: id, Error: "automation rule not found"})
		default:
			log.Error().Err(err).Int64("ruleID", id).Msg("automations: failed to delete rule")
			resp.Errors = append(resp.Errors, bulkDeleteError{ID: id, Error: "failed to delete automation rule"})
		}
	}

	if resp.DeletedCount > 0 && !h.reload(w, r) {
		return
	}

	RespondData(w, http.StatusOK, resp)
}

func (h *AutomationsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	limit := ParseLimit(r, models.DefaultLogLimit, models.MaxLogLimit)
	logs, err := h.logs.ListByRule(r.Context(), rule.OwnerHash, rule.ID, limit)
	if err != nil {
		log.Error().Err(err).Int64("ruleID", rule.ID).Msg("automations: failed to list execution logs")
		RespondError(w, http.StatusInternalServerError, "Failed to list execution logs")
		return
	}
	if logs == nil {
		logs = []*models.ExecutionLog{}
	}

	RespondData(w, http.StatusOK, logs)
}

type nextRunResponse struct {
	RuleID    int64      `json:"rule_id"`
	NextRunAt *time.Time `json:"next_run_at"`
}

func (h *AutomationsHandler) NextRun(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	resp := nextRunResponse{RuleID: rule.ID}
	if next, ok := h.scheduler.NextRunTime(rule.ID); ok {
		resp.NextRunAt = &next
	}

	RespondData(w, http.StatusOK, resp)
}

// Run executes the rule now with the caller's key. Execution failures are
// reported in the result rather than as an HTTP error.
func (h *AutomationsHandler) Run(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	result := h.scheduler.ForceRun(r.Context(), rule, accountKey(r))
	RespondData(w, http.StatusOK, result)
}

type countResponse struct {
	Count int `json:"count"`
	Max   int `json:"max"`
}

func (h *AutomationsHandler) Count(w http.ResponseWriter, r *http.Request) {
	owner, ok := Owner(r)
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Missing account key")
		return
	}

	count, err := h.rules.CountByOwner(r.Context(), owner)
	if err != nil {
		log.Error().Err(err).Msg("automations: failed to count rules")
		RespondError(w, http.StatusInternalServerError, "Failed to count automation rules")
		return
	}

	RespondData(w, http.StatusOK, countResponse{Count: count, Max: h.maxRules})
}
