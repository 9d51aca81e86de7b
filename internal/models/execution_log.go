// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autobrr/boxrules/internal/dbinterface"
)

type TriggerKind string

const (
	TriggerKindScheduled TriggerKind = "scheduled"
	TriggerKindManual    TriggerKind = "manual"
)

// ProcessedItem is the outcome of the action applied to one matched item.
type ProcessedItem struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ExecutionLog records one rule run. Rows are never updated.
type ExecutionLog struct {
	ID             int64           `json:"id"`
	RuleID         int64           `json:"rule_id"`
	OwnerHash      string          `json:"-"`
	RuleName       string          `json:"rule_name"`
	TriggerKind    TriggerKind     `json:"trigger_kind"`
	ItemsMatched   int             `json:"items_matched"`
	ItemsProcessed int             `json:"items_processed"`
	TotalItems     int             `json:"total_items"`
	Success        bool            `json:"success"`
	ErrorMessage   *string         `json:"error_message"`
	PartialSuccess *bool           `json:"partial_success,omitempty"`
	ProcessedItems []ProcessedItem `json:"processed_items,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	DurationMs     int64           `json:"duration_ms"`
	CreatedAt      time.Time       `json:"created_at"`
}

const (
	DefaultLogLimit = 100
	MaxLogLimit     = 500
)

// sqliteTimeLayout matches CURRENT_TIMESTAMP so text comparisons order correctly.
const sqliteTimeLayout = "2006-01-02 15:04:05"

type ExecutionLogStore struct {
	db dbinterface.Querier
}

func NewExecutionLogStore(db dbinterface.Querier) *ExecutionLogStore {
	return &ExecutionLogStore{db: db}
}

func (s *ExecutionLogStore) Create(ctx context.Context, entry *ExecutionLog) (int64, error) {
	var processedJSON sql.NullString
	if len(entry.ProcessedItems) > 0 {
		data, err := json.Marshal(entry.ProcessedItems)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal processed items: %w", err)
		}
		processedJSON = sql.NullString{String: string(data), Valid: true}
	}

	var errorMessage sql.NullString
	if entry.ErrorMessage != nil {
		errorMessage = sql.NullString{String: *entry.ErrorMessage, Valid: true}
	}

	var partial sql.NullInt64
	if entry.PartialSuccess != nil {
		partial = sql.NullInt64{Int64: int64(boolToInt(*entry.PartialSuccess)), Valid: true}
	}

	startedAt := entry.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_execution_logs
			(rule_id, owner_hash, rule_name, trigger_kind, items_matched, items_processed, total_items,
			 success, error_message, partial_success, processed_items, started_at, duration_ms)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.RuleID, entry.OwnerHash, entry.RuleName, string(entry.TriggerKind), entry.ItemsMatched, entry.ItemsProcessed, entry.TotalItems,
		boolToInt(entry.Success), errorMessage, partial, processedJSON, startedAt.UTC().Format(sqliteTimeLayout), entry.DurationMs)
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

// ListByRule returns the newest logs first. limit is clamped to [1, MaxLogLimit].
func (s *ExecutionLogStore) ListByRule(ctx context.Context, ownerHash string, ruleID int64, limit int) ([]*ExecutionLog, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	if limit > MaxLogLimit {
		limit = MaxLogLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, owner_hash, rule_name, trigger_kind, items_matched, items_processed, total_items,
		       success, error_message, partial_success, processed_items, started_at, duration_ms, created_at
		FROM automation_execution_logs
		WHERE rule_id = ? AND owner_hash = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, ruleID, ownerHash, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]*ExecutionLog, 0)
	for rows.Next() {
		var entry ExecutionLog
		var triggerKind string
		var errorMessage, processedJSON sql.NullString
		var partial sql.NullInt64

		if err := rows.Scan(
			&entry.ID,
			&entry.RuleID,
			&entry.OwnerHash,
			&entry.RuleName,
			&triggerKind,
			&entry.ItemsMatched,
			&entry.ItemsProcessed,
			&entry.TotalItems,
			&entry.Success,
			&errorMessage,
			&partial,
			&processedJSON,
			&entry.StartedAt,
			&entry.DurationMs,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}

		entry.TriggerKind = TriggerKind(triggerKind)
		if errorMessage.Valid {
			msg := errorMessage.String
			entry.ErrorMessage = &msg
		}
		if partial.Valid {
			p := partial.Int64 == 1
			entry.PartialSuccess = &p
		}
		if processedJSON.Valid && processedJSON.String != "" {
			if err := json.Unmarshal([]byte(processedJSON.String), &entry.ProcessedItems); err != nil {
				return nil, fmt.Errorf("failed to unmarshal processed items for log %d: %w", entry.ID, err)
			}
		}

		logs = append(logs, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

// Prune deletes logs created before cutoff and returns how many were removed.
func (s *ExecutionLogStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automation_execution_logs WHERE created_at < ?`, cutoff.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
