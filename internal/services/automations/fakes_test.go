// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/autobrr/boxrules/internal/models"
	"github.com/autobrr/boxrules/internal/torbox"
)

type controlCall struct {
	operation string
	id        int64
	all       bool
}

type fakeAccount struct {
	mu         sync.Mutex
	items      []torbox.Torrent
	listErr    error
	listHook   func(ctx context.Context) error
	controlErr map[int64]error
	calls      []controlCall
}

func (f *fakeAccount) ListItems(ctx context.Context) ([]torbox.Torrent, error) {
	if f.listHook != nil {
		if err := f.listHook(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]torbox.Torrent(nil), f.items...), nil
}

func (f *fakeAccount) ControlItem(_ context.Context, operation string, id int64, all bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, controlCall{operation: operation, id: id, all: all})
	return f.controlErr[id]
}

func (f *fakeAccount) Calls() []controlCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]controlCall(nil), f.calls...)
}

type fakeRuleSource struct {
	mu    sync.Mutex
	rules []*models.AutomationRule
	err   error
}

func (f *fakeRuleSource) ListEnabled(context.Context) ([]*models.AutomationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.AutomationRule
	for _, r := range f.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuleSource) set(rules ...*models.AutomationRule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = rules
}

func (f *fakeRuleSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeLogSink struct {
	mu      sync.Mutex
	entries []*models.ExecutionLog
	cutoffs []time.Time
	ctxErrs []error
}

func (f *fakeLogSink) Create(ctx context.Context, entry *models.ExecutionLog) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.entries = append(f.entries, entry)
	return int64(len(f.entries)), nil
}

func (f *fakeLogSink) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 0, nil
}

func (f *fakeLogSink) Entries() []*models.ExecutionLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.ExecutionLog(nil), f.entries...)
}

func (f *fakeLogSink) PruneCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

type fakeCredentials struct {
	keys map[string]string
}

func (f fakeCredentials) GetAPIKey(_ context.Context, ownerHash string) (string, error) {
	key, ok := f.keys[ownerHash]
	if !ok {
		return "", fmt.Errorf("owner %s: %w", ownerHash, models.ErrCredentialNotFound)
	}
	return key, nil
}

func testRule(id int64, trigger models.TriggerConfig, conditions ...models.Condition) *models.AutomationRule {
	if len(conditions) == 0 {
		conditions = []models.Condition{{Type: models.ConditionSeeds, Operator: models.OperatorEqual, Value: 0}}
	}
	return &models.AutomationRule{
		ID:         id,
		OwnerHash:  "owner-a",
		Name:       fmt.Sprintf("rule %d", id),
		Enabled:    true,
		Trigger:    trigger,
		Conditions: conditions,
		Action:     models.ActionConfig{Type: models.ActionStopSeeding},
	}
}
