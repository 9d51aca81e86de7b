// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"runtime"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	manager := NewManager()

	assert.NotNil(t, manager)
	assert.NotNil(t, manager.registry)
	assert.NotNil(t, manager.Automation())
}

func TestManager_GetRegistry(t *testing.T) {
	manager := NewManager()

	registry := manager.GetRegistry()

	assert.NotNil(t, registry)
	assert.IsType(t, &prometheus.Registry{}, registry)

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)

	foundGoMetrics := false
	foundProcessMetrics := false

	for _, mf := range metricFamilies {
		name := mf.GetName()
		if strings.HasPrefix(name, "go_") {
			foundGoMetrics = true
		}
		if strings.HasPrefix(name, "process_") {
			foundProcessMetrics = true
		}
	}

	assert.True(t, foundGoMetrics, "Go runtime metrics should be registered (go_* metrics)")
	if runtime.GOOS == "darwin" {
		assert.False(t, foundProcessMetrics, "Process metrics should NOT be available on macOS")
	} else {
		assert.True(t, foundProcessMetrics, "Process metrics should be registered on Linux/Windows")
	}
}

func TestManager_RegistryIsolation(t *testing.T) {
	manager1 := NewManager()
	manager2 := NewManager()

	assert.NotSame(t, manager1.registry, manager2.registry, "Each manager should have its own registry")
	assert.NotSame(t, manager1.Automation(), manager2.Automation(), "Each manager should have its own collector")
}

func TestManager_AutomationMetricsExposed(t *testing.T) {
	manager := NewManager()
	manager.Automation().ObserveRun("scheduled", "success", 2, 0.5)
	manager.Automation().SetScheduledJobs(3)

	metricFamilies, err := manager.registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range metricFamilies {
		names[mf.GetName()] = true
	}

	assert.True(t, names["boxrules_automation_rule_run_total"])
	assert.True(t, names["boxrules_automation_scheduled_jobs"])
	assert.Greater(t, testutil.CollectAndCount(manager.GetRegistry()), 0)
}

func TestNilManagerAutomation(t *testing.T) {
	var manager *Manager
	assert.Nil(t, manager.Automation())
}
