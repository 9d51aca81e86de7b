// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/boxrules/internal/metrics/collector"
)

type Manager struct {
	registry            *prometheus.Registry
	automationCollector *collector.AutomationCollector
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	automationCollector := collector.NewAutomationCollector(registry)

	log.Info().Msg("Metrics manager initialized with automation collector")

	return &Manager{
		registry:            registry,
		automationCollector: automationCollector,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) Automation() *collector.AutomationCollector {
	if m == nil {
		return nil
	}
	return m.automationCollector
}
