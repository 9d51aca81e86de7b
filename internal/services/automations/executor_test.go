// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/boxrules/internal/models"
	"github.com/autobrr/boxrules/internal/torbox"
)

func newTestExecutor() *RuleExecutor {
	e := NewRuleExecutor(nil)
	e.now = func() time.Time { return evalNow }
	return e
}

func TestOperationFor(t *testing.T) {
	tests := map[models.ActionType]string{
		models.ActionStopSeeding: "stop_seeding",
		models.ActionDelete:      "delete",
		models.ActionStop:        "stop",
		models.ActionResume:      "resume",
		models.ActionRestart:     "restart",
		models.ActionReannounce:  "reannounce",
		models.ActionForceStart:  "start",
	}
	for action, want := range tests {
		got, err := operationFor(action)
		require.NoError(t, err)
		assert.Equal(t, want, got, string(action))
	}

	_, err := operationFor("pause_forever")
	assert.Error(t, err)
}

func TestRuleExecutor_NoMatches(t *testing.T) {
	account := &fakeAccount{items: []torbox.Torrent{
		{ID: 1, Seeds: 4},
		{ID: 2, Seeds: 9},
	}}

	result, err := newTestExecutor().Execute(context.Background(), testRule(7, models.IntervalTrigger(60)), account)
	require.NoError(t, err)

	assert.Equal(t, int64(7), result.RuleID)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ItemsMatched)
	assert.Equal(t, 0, result.ItemsProcessed)
	assert.Equal(t, 2, result.TotalItems)
	assert.Nil(t, result.ErrorMessage)
	assert.Nil(t, result.PartialSuccess)
	assert.Empty(t, account.Calls())
}

func TestRuleExecutor_AppliesActionToMatches(t *testing.T) {
	account := &fakeAccount{items: []torbox.Torrent{
		{ID: 1, Name: "a", Seeds: 0},
		{ID: 2, Name: "b", Seeds: 3},
		{ID: 3, Name: "c", Seeds: 0},
	}}
	rule := testRule(1, models.IntervalTrigger(60))
	rule.Action.Type = models.ActionForceStart

	result, err := newTestExecutor().Execute(context.Background(), rule, account)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ItemsMatched)
	assert.Equal(t, 2, result.ItemsProcessed)
	assert.Equal(t, 3, result.TotalItems)
	assert.Equal(t, []controlCall{
		{operation: "start", id: 1, all: false},
		{operation: "start", id: 3, all: false},
	}, account.Calls())
	assert.Equal(t, []models.ProcessedItem{
		{ID: 1, Name: "a", Success: true},
		{ID: 3, Name: "c", Success: true},
	}, result.ProcessedItems)
}

func TestRuleExecutor_PartialFailure(t *testing.T) {
	account := &fakeAccount{
		items: []torbox.Torrent{
			{ID: 1, Name: "a"},
			{ID: 2, Name: "b"},
			{ID: 3, Name: "c"},
		},
		controlErr: map[int64]error{2: errors.New("boom")},
	}

	result, err := newTestExecutor().Execute(context.Background(), testRule(1, models.IntervalTrigger(60)), account)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.ItemsProcessed)
	require.NotNil(t, result.ErrorMessage)
	assert.Equal(t, "1 of 3 actions failed: item 2 (b): boom", *result.ErrorMessage)
	require.NotNil(t, result.PartialSuccess)
	assert.True(t, *result.PartialSuccess)
	assert.Len(t, account.Calls(), 3, "a failed action does not stop the batch")

	assert.False(t, result.ProcessedItems[1].Success)
	assert.Equal(t, "boom", result.ProcessedItems[1].Error)
}

func TestRuleExecutor_AllFailed(t *testing.T) {
	account := &fakeAccount{
		items:      []torbox.Torrent{{ID: 1, Name: "a"}},
		controlErr: map[int64]error{1: &torbox.APIError{StatusCode: 404, Message: "not found"}},
	}

	result, err := newTestExecutor().Execute(context.Background(), testRule(1, models.IntervalTrigger(60)), account)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.NotNil(t, result.PartialSuccess)
	assert.False(t, *result.PartialSuccess)
}

func TestRuleExecutor_CapsDetailedErrors(t *testing.T) {
	account := &fakeAccount{controlErr: map[int64]error{}}
	for i := int64(1); i <= 12; i++ {
		account.items = append(account.items, torbox.Torrent{ID: i, Name: fmt.Sprintf("item-%d", i)})
		account.controlErr[i] = errors.New("rejected")
	}

	result, err := newTestExecutor().Execute(context.Background(), testRule(1, models.IntervalTrigger(60)), account)
	require.NoError(t, err)
	require.NotNil(t, result.ErrorMessage)

	msg := *result.ErrorMessage
	assert.Contains(t, msg, "12 of 12 actions failed: ")
	assert.Contains(t, msg, "item 10 (item-10): rejected")
	assert.NotContains(t, msg, "item 11 (item-11)")
	assert.True(t, strings.HasSuffix(msg, "; +2 more"), msg)
}

func TestRuleExecutor_ListFailure(t *testing.T) {
	account := &fakeAccount{listErr: &torbox.APIError{StatusCode: 503, Message: "maintenance"}}

	result, err := newTestExecutor().Execute(context.Background(), testRule(1, models.IntervalTrigger(60)), account)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, IsTransientError(err))

	var apiErr *torbox.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.StatusCode)
}

func TestSummarizeFailures(t *testing.T) {
	assert.Equal(t, "2 of 5 actions failed: x; y", summarizeFailures([]string{"x", "y"}, 5))
}
