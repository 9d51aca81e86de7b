// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/boxrules/internal/api/ctxkeys"
	"github.com/autobrr/boxrules/internal/models"
	"github.com/autobrr/boxrules/internal/services/automations"
	"github.com/autobrr/boxrules/internal/testdb"
)

type fakeScheduler struct {
	mu        sync.Mutex
	reloads   int
	reloadErr error
	next      map[int64]time.Time
	forced    []int64
	forceKeys []string
	running   bool
}

func (f *fakeScheduler) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return f.reloadErr
}

func (f *fakeScheduler) NextRunTime(ruleID int64) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, ok := f.next[ruleID]
	return next, ok
}

func (f *fakeScheduler) ForceRun(_ context.Context, rule *models.AutomationRule, apiKey string) *automations.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, rule.ID)
	f.forceKeys = append(f.forceKeys, apiKey)
	return &automations.ExecutionResult{RuleID: rule.ID, ItemsMatched: 2, ItemsProcessed: 2, TotalItems: 5, Success: true}
}

func (f *fakeScheduler) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeScheduler) Reloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

type testEnv struct {
	router    chi.Router
	rules     *models.AutomationRuleStore
	logs      *models.ExecutionLogStore
	scheduler *fakeScheduler
}

// ownerFromKey stands in for the account middleware: owner hash is "owner-<key>".
func ownerFromKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), ctxkeys.OwnerHash, "owner-"+key)
		ctx = context.WithValue(ctx, ctxkeys.AccountKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestEnv(t *testing.T, maxRules int) *testEnv {
	t.Helper()

	db := testdb.Open(t)
	env := &testEnv{
		rules:     models.NewAutomationRuleStore(db),
		logs:      models.NewExecutionLogStore(db),
		scheduler: &fakeScheduler{next: map[int64]time.Time{}, running: true},
	}

	h := NewAutomationsHandler(env.rules, env.logs, env.scheduler, maxRules)
	r := chi.NewRouter()
	r.Use(ownerFromKey)
	h.Routes(r)
	env.router = r
	return env
}

type testResponse struct {
	Success bool            `json:"success"`
	Error   *string         `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (env *testEnv) do(t *testing.T, method, path, key, body string) (int, testResponse) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var resp testResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp), "body for %s %s", method, path)
	return rec.Code, resp
}

func (env *testEnv) seedRule(t *testing.T, owner, name string) *models.AutomationRule {
	t.Helper()
	rule, err := env.rules.Create(context.Background(), &models.AutomationRule{
		OwnerHash:  owner,
		Name:       name,
		Enabled:    true,
		Trigger:    models.IntervalTrigger(60),
		Conditions: []models.Condition{{Type: models.ConditionInactive, Operator: models.OperatorEqual, Value: 1}},
		Action:     models.ActionConfig{Type: models.ActionDelete},
	})
	require.NoError(t, err)
	return rule
}

const validRuleBody = `{
	"name": "Stop stalled downloads",
	"trigger_config": {"type": "interval", "minutes": 60},
	"conditions": [{"type": "stalled_time", "operator": ">", "value": 2}],
	"action_config": {"type": "stop"}
}`

func TestAutomationsHandler_CreateAndGet(t *testing.T) {
	env := newTestEnv(t, 10)

	code, resp := env.do(t, http.MethodPost, "/rules", "key-a", validRuleBody)
	require.Equal(t, http.StatusCreated, code, "%v", resp.Error)
	require.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, 1, env.scheduler.Reloads())

	var created models.AutomationRule
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, "Stop stalled downloads", created.Name)
	assert.True(t, created.Enabled)
	assert.Equal(t, models.OperatorGreaterThan, created.Conditions[0].Operator)

	code, resp = env.do(t, http.MethodGet, fmt.Sprintf("/rules/%d", created.ID), "key-a", "")
	require.Equal(t, http.StatusOK, code)
	var fetched models.AutomationRule
	require.NoError(t, json.Unmarshal(resp.Data, &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	code, resp = env.do(t, http.MethodGet, fmt.Sprintf("/rules/%d", created.ID), "key-b", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
}

func TestAutomationsHandler_CreateValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty name", `{"name":" ","trigger_config":{"type":"interval","minutes":60},"conditions":[{"type":"seeds","operator":"eq","value":0}],"action_config":{"type":"stop"}}`},
		{"name too long", `{"name":"` + strings.Repeat("x", 201) + `","trigger_config":{"type":"interval","minutes":60},"conditions":[{"type":"seeds","operator":"eq","value":0}],"action_config":{"type":"stop"}}`},
		{"no conditions", `{"name":"r","trigger_config":{"type":"interval","minutes":60},"conditions":[],"action_config":{"type":"stop"}}`},
		{"value out of range", `{"name":"r","trigger_config":{"type":"interval","minutes":60},"conditions":[{"type":"seeds","operator":"eq","value":2e9}],"action_config":{"type":"stop"}}`},
		{"five field cron", `{"name":"r","trigger_config":{"type":"cron","expression":"0 * * * *"},"conditions":[{"type":"seeds","operator":"eq","value":0}],"action_config":{"type":"stop"}}`},
		{"unschedulable cron", `{"name":"r","trigger_config":{"type":"cron","expression":"0 61 * * * *"},"conditions":[{"type":"seeds","operator":"eq","value":0}],"action_config":{"type":"stop"}}`},
		{"interval too large", `{"name":"r","trigger_config":{"type":"interval","minutes":525601},"conditions":[{"type":"seeds","operator":"eq","value":0}],"action_config":{"type":"stop"}}`},
		{"unknown condition", `{"name":"r","trigger_config":{"type":"interval","minutes":60},"conditions":[{"type":"colour","operator":"eq","value":0}],"action_config":{"type":"stop"}}`},
		{"missing action", `{"name":"r","trigger_config":{"type":"interval","minutes":60},"conditions":[{"type":"seeds","operator":"eq","value":0}]}`},
		{"malformed json", `{"name":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 10)

			code, resp := env.do(t, http.MethodPost, "/rules", "key-a", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.NotEmpty(t, *resp.Error)
			assert.Zero(t, env.scheduler.Reloads())

			count, err := env.rules.CountByOwner(context.Background(), "owner-key-a")
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestAutomationsHandler_CreateRespectsMaxRules(t *testing.T) {
	env := newTestEnv(t, 1)

	code, _ := env.do(t, http.MethodPost, "/rules", "key-a", validRuleBody)
	require.Equal(t, http.StatusCreated, code)

	code, resp := env.do(t, http.MethodPost, "/rules", "key-a", validRuleBody)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, resp.Error)
	assert.Contains(t, *resp.Error, "Maximum of 1")

	// the limit is per owner
	code, _ = env.do(t, http.MethodPost, "/rules", "key-b", validRuleBody)
	assert.Equal(t, http.StatusCreated, code)
}

func TestAutomationsHandler_ReloadFailureIsSurfaced(t *testing.T) {
	env := newTestEnv(t, 10)
	env.scheduler.reloadErr = errors.New("cron: bad entry")

	code, resp := env.do(t, http.MethodPost, "/rules", "key-a", validRuleBody)
	assert.Equal(t, http.StatusInternalServerError, code)
	require.NotNil(t, resp.Error)
	assert.Contains(t, *resp.Error, "cron: bad entry")
}

func TestAutomationsHandler_Update(t *testing.T) {
	env := newTestEnv(t, 10)
	rule := env.seedRule(t, "owner-key-a", "original")

	body := `{"name":"renamed","enabled":false,"trigger_config":{"type":"cron","expression":"0 0 3 * * *"},"conditions":[{"type":"seeding_ratio","operator":"gte","value":2}],"action_config":{"type":"stop_seeding"}}`
	code, resp := env.do(t, http.MethodPut, fmt.Sprintf("/rules/%d", rule.ID), "key-a", body)
	require.Equal(t, http.StatusOK, code, "%v", resp.Error)

	var updated models.AutomationRule
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.Enabled)
	assert.Equal(t, models.CronTrigger("0 0 3 * * *"), updated.Trigger)
	assert.Equal(t, models.ActionStopSeeding, updated.Action.Type)
	assert.Equal(t, 1, env.scheduler.Reloads())

	code, _ = env.do(t, http.MethodPut, fmt.Sprintf("/rules/%d", rule.ID), "key-b", body)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodPut, fmt.Sprintf("/rules/%d", rule.ID), "key-a", `{"name":"","conditions":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAutomationsHandler_Delete(t *testing.T) {
	env := newTestEnv(t, 10)
	rule := env.seedRule(t, "owner-key-a", "doomed")

	code, _ := env.do(t, http.MethodDelete, fmt.Sprintf("/rules/%d", rule.ID), "key-b", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/rules/%d", rule.ID), "key-a", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.scheduler.Reloads())

	code, _ = env.do(t, http.MethodGet, fmt.Sprintf("/rules/%d", rule.ID), "key-a", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAutomationsHandler_BulkDeleteSkipsForeignRules(t *testing.T) {
	env := newTestEnv(t, 10)
	first := env.seedRule(t, "owner-key-a", "one")
	foreign := env.seedRule(t, "owner-key-b", "two")
	third := env.seedRule(t, "owner-key-a", "three")
	require.Equal(t, []int64{1, 2, 3}, []int64{first.ID, foreign.ID, third.ID})

	code, resp := env.do(t, http.MethodPost, "/rules/bulk-delete", "key-a", `{"ids":[1,2,3]}`)
	require.Equal(t, http.StatusOK, code)

	var result struct {
		DeletedCount int `json:"deleted_count"`
		Errors       []struct {
			ID    int64  `json:"id"`
			Error string `json:"error"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, 2, result.DeletedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, int64(2), result.Errors[0].ID)
	assert.NotEmpty(t, result.Errors[0].Error)
	assert.Equal(t, 1, env.scheduler.Reloads())

	_, err := env.rules.Get(context.Background(), "owner-key-b", 2)
	assert.NoError(t, err, "foreign rule survives")

	code, _ = env.do(t, http.MethodPost, "/rules/bulk-delete", "key-a", `{"ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAutomationsHandler_ListAndCount(t *testing.T) {
	env := newTestEnv(t, 7)

	code, resp := env.do(t, http.MethodGet, "/rules", "key-a", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(resp.Data))

	env.seedRule(t, "owner-key-a", "one")
	env.seedRule(t, "owner-key-a", "two")
	env.seedRule(t, "owner-key-b", "other")

	code, resp = env.do(t, http.MethodGet, "/rules", "key-a", "")
	require.Equal(t, http.StatusOK, code)
	var rules []models.AutomationRule
	require.NoError(t, json.Unmarshal(resp.Data, &rules))
	assert.Len(t, rules, 2)

	code, resp = env.do(t, http.MethodGet, "/rules/count", "key-a", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"count":2,"max":7}`, string(resp.Data))
}

func TestAutomationsHandler_Logs(t *testing.T) {
	env := newTestEnv(t, 10)
	rule := env.seedRule(t, "owner-key-a", "logged")

	for i := 0; i < 3; i++ {
		_, err := env.logs.Create(context.Background(), &models.ExecutionLog{
			RuleID:      rule.ID,
			OwnerHash:   rule.OwnerHash,
			RuleName:    rule.Name,
			TriggerKind: models.TriggerKindScheduled,
			Success:     true,
		})
		require.NoError(t, err)
	}

	code, resp := env.do(t, http.MethodGet, fmt.Sprintf("/rules/%d/logs", rule.ID), "key-a", "")
	require.Equal(t, http.StatusOK, code)
	var logs []models.ExecutionLog
	require.NoError(t, json.Unmarshal(resp.Data, &logs))
	assert.Len(t, logs, 3)

	code, resp = env.do(t, http.MethodGet, fmt.Sprintf("/rules/%d/logs?limit=1", rule.ID), "key-a", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &logs))
	assert.Len(t, logs, 1)

	code, _ = env.do(t, http.MethodGet, fmt.Sprintf("/rules/%d/logs", rule.ID), "key-b", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAutomationsHandler_NextRun(t *testing.T) {
	env := newTestEnv(t, 10)
	scheduled := env.seedRule(t, "owner-key-a", "scheduled")
	unscheduled := env.seedRule(t, "owner-key-a", "unscheduled")

	next := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	env.scheduler.next[scheduled.ID] = next

	code, resp := env.do(t, http.MethodGet, fmt.Sprintf("/rules/%d/next-run", scheduled.ID), "key-a", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, fmt.Sprintf(`{"rule_id":%d,"next_run_at":"2026-05-01T10:00:00Z"}`, scheduled.ID), string(resp.Data))

	code, resp = env.do(t, http.MethodGet, fmt.Sprintf("/rules/%d/next-run", unscheduled.ID), "key-a", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, fmt.Sprintf(`{"rule_id":%d,"next_run_at":null}`, unscheduled.ID), string(resp.Data))
}

func TestAutomationsHandler_Run(t *testing.T) {
	env := newTestEnv(t, 10)
	rule := env.seedRule(t, "owner-key-a", "manual")

	code, resp := env.do(t, http.MethodPost, fmt.Sprintf("/rules/%d/run", rule.ID), "key-a", "")
	require.Equal(t, http.StatusOK, code)

	var result automations.ExecutionResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ItemsProcessed)
	assert.Equal(t, []int64{rule.ID}, env.scheduler.forced)
	assert.Equal(t, []string{"key-a"}, env.scheduler.forceKeys)
}

func TestAutomationsHandler_RequestErrors(t *testing.T) {
	env := newTestEnv(t, 10)

	code, resp := env.do(t, http.MethodGet, "/rules", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)

	code, _ = env.do(t, http.MethodGet, "/rules/abc", "key-a", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodGet, "/rules/-4", "key-a", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodGet, "/rules/999", "key-a", "")
	assert.Equal(t, http.StatusNotFound, code)
}
