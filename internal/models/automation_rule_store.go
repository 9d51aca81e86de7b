// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/autobrr/boxrules/internal/dbinterface"
)

type AutomationRuleStore struct {
	db dbinterface.Querier
}

func NewAutomationRuleStore(db dbinterface.Querier) *AutomationRuleStore {
	return &AutomationRuleStore{db: db}
}

const selectRuleColumns = `
	SELECT id, owner_hash, name, enabled, trigger_config, conditions, action_config, created_at, updated_at
	FROM automation_rules`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*AutomationRule, error) {
	var rule AutomationRule
	var triggerJSON, conditionsJSON, actionJSON string

	if err := row.Scan(
		&rule.ID,
		&rule.OwnerHash,
		&rule.Name,
		&rule.Enabled,
		&triggerJSON,
		&conditionsJSON,
		&actionJSON,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(triggerJSON), &rule.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger for rule %d: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(conditionsJSON), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions for rule %d: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actionJSON), &rule.Action); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action for rule %d: %w", rule.ID, err)
	}

	return &rule, nil
}

func (s *AutomationRuleStore) list(ctx context.Context, query string, args ...any) ([]*AutomationRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]*AutomationRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rules, nil
}

func (s *AutomationRuleStore) ListByOwner(ctx context.Context, ownerHash string) ([]*AutomationRule, error) {
	return s.list(ctx, selectRuleColumns+` WHERE owner_hash = ? ORDER BY id ASC`, ownerHash)
}

// ListEnabled returns every enabled rule across all owners.
func (s *AutomationRuleStore) ListEnabled(ctx context.Context) ([]*AutomationRule, error) {
	return s.list(ctx, selectRuleColumns+` WHERE enabled = 1 ORDER BY id ASC`)
}

// Get returns ErrRuleNotFound when the rule is missing or owned by someone else.
func (s *AutomationRuleStore) Get(ctx context.Context, ownerHash string, id int64) (*AutomationRule, error) {
	row := s.db.QueryRowContext(ctx, selectRuleColumns+` WHERE id = ? AND owner_hash = ?`, id, ownerHash)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

func (s *AutomationRuleStore) CountByOwner(ctx context.Context, ownerHash string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM automation_rules WHERE owner_hash = ?`, ownerHash).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func marshalRuleColumns(rule *AutomationRule) (trigger, conditions, action string, err error) {
	triggerJSON, err := json.Marshal(rule.Trigger)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal trigger: %w", err)
	}
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actionJSON, err := json.Marshal(rule.Action)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal action: %w", err)
	}
	return string(triggerJSON), string(conditionsJSON), string(actionJSON), nil
}

func (s *AutomationRuleStore) Create(ctx context.Context, rule *AutomationRule) (*AutomationRule, error) {
	if rule == nil {
		return nil, errors.New("rule is nil")
	}
	if rule.OwnerHash == "" {
		return nil, errors.New("rule has no owner")
	}

	trigger, conditions, action, err := marshalRuleColumns(rule)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_rules
			(owner_hash, name, enabled, trigger_config, conditions, action_config)
		VALUES
			(?, ?, ?, ?, ?, ?)
	`, rule.OwnerHash, rule.Name, boolToInt(rule.Enabled), trigger, conditions, action)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, rule.OwnerHash, id)
}

func (s *AutomationRuleStore) Update(ctx context.Context, rule *AutomationRule) (*AutomationRule, error) {
	if rule == nil {
		return nil, errors.New("rule is nil")
	}

	trigger, conditions, action, err := marshalRuleColumns(rule)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules
		SET name = ?, enabled = ?, trigger_config = ?, conditions = ?, action_config = ?
		WHERE id = ? AND owner_hash = ?
	`, rule.Name, boolToInt(rule.Enabled), trigger, conditions, action, rule.ID, rule.OwnerHash)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrRuleNotFound
	}

	return s.Get(ctx, rule.OwnerHash, rule.ID)
}

func (s *AutomationRuleStore) Delete(ctx context.Context, ownerHash string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = ? AND owner_hash = ?`, id, ownerHash)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
