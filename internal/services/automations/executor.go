// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/boxrules/internal/metrics/collector"
	"github.com/autobrr/boxrules/internal/models"
	"github.com/autobrr/boxrules/internal/torbox"
)

// maxDetailedErrors caps the per-item failures spelled out in an error summary.
const maxDetailedErrors = 10

// ExecutionResult is the outcome of one rule run.
type ExecutionResult struct {
	RuleID         int64                  `json:"rule_id"`
	ItemsMatched   int                    `json:"items_matched"`
	ItemsProcessed int                    `json:"items_processed"`
	TotalItems     int                    `json:"total_items"`
	Success        bool                   `json:"success"`
	ErrorMessage   *string                `json:"error_message"`
	PartialSuccess *bool                  `json:"partial_success,omitempty"`
	ProcessedItems []models.ProcessedItem `json:"processed_items,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	DurationMs     int64                  `json:"duration_ms"`
}

func failedResult(ruleID int64, started time.Time, duration time.Duration, err error) *ExecutionResult {
	msg := err.Error()
	return &ExecutionResult{
		RuleID:       ruleID,
		Success:      false,
		ErrorMessage: &msg,
		StartedAt:    started,
		DurationMs:   duration.Milliseconds(),
	}
}

// RuleExecutor runs a single rule against a remote account.
type RuleExecutor struct {
	now     func() time.Time
	metrics *collector.AutomationCollector
}

func NewRuleExecutor(metrics *collector.AutomationCollector) *RuleExecutor {
	return &RuleExecutor{now: time.Now, metrics: metrics}
}

// MatchItems returns the items for which every condition of the rule holds.
func MatchItems(rule *models.AutomationRule, items []torbox.Torrent, now time.Time) []*torbox.Torrent {
	var matched []*torbox.Torrent
	for i := range items {
		if EvaluateAll(rule.Conditions, &items[i], now) {
			matched = append(matched, &items[i])
		}
	}
	return matched
}

// Execute fetches the account's items, filters them through the rule and
// applies the rule's action to each match in turn. An error is returned only
// when the item list cannot be fetched; action failures are reported in the
// result.
func (e *RuleExecutor) Execute(ctx context.Context, rule *models.AutomationRule, account RemoteAccount) (*ExecutionResult, error) {
	started := e.now()

	items, err := account.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	matched := MatchItems(rule, items, e.now())
	result := &ExecutionResult{
		RuleID:         rule.ID,
		ItemsMatched:   len(matched),
		ItemsProcessed: len(matched),
		TotalItems:     len(items),
		Success:        true,
		StartedAt:      started,
	}

	if len(matched) == 0 {
		log.Debug().Int64("ruleID", rule.ID).Int("total", len(items)).Msg("automations: no items matched")
		result.DurationMs = e.now().Sub(started).Milliseconds()
		return result, nil
	}

	var failures []string
	result.ProcessedItems = make([]models.ProcessedItem, 0, len(matched))

	for _, item := range matched {
		processed := models.ProcessedItem{ID: item.ID, Name: item.Name, Success: true}

		if err := applyAction(ctx, account, rule.Action, item); err != nil {
			processed.Success = false
			processed.Error = err.Error()
			failures = append(failures, fmt.Sprintf("item %d (%s): %v", item.ID, item.Name, err))
			log.Warn().Err(err).Int64("ruleID", rule.ID).Int64("itemID", item.ID).Str("action", string(rule.Action.Type)).Msg("automations: action failed")
		}

		e.metrics.ObserveAction(string(rule.Action.Type), processed.Success)
		result.ProcessedItems = append(result.ProcessedItems, processed)
	}

	if len(failures) > 0 {
		msg := summarizeFailures(failures, len(matched))
		partial := len(failures) < len(matched)
		result.Success = false
		result.ErrorMessage = &msg
		result.PartialSuccess = &partial
	}

	result.DurationMs = e.now().Sub(started).Milliseconds()
	return result, nil
}

func summarizeFailures(failures []string, attempted int) string {
	details := failures
	if len(details) > maxDetailedErrors {
		details = details[:maxDetailedErrors]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d actions failed: %s", len(failures), attempted, strings.Join(details, "; "))
	if extra := len(failures) - len(details); extra > 0 {
		fmt.Fprintf(&sb, "; +%d more", extra)
	}
	return sb.String()
}
