// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeTransient = "transient"
)

type AutomationCollector struct {
	RuleRunTotal             *prometheus.CounterVec
	RuleRunItemsMatchedTotal *prometheus.CounterVec
	RuleRunActionTotal       *prometheus.CounterVec
	RuleRunDuration          *prometheus.HistogramVec
	ScheduledJobs            prometheus.Gauge
}

func NewAutomationCollector(r prometheus.Registerer) *AutomationCollector {
	m := &AutomationCollector{
		RuleRunTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boxrules",
			Subsystem: "automation",
			Name:      "rule_run_total",
			Help:      "Total number of automation rule runs by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		RuleRunItemsMatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boxrules",
			Subsystem: "automation",
			Name:      "rule_run_items_matched_total",
			Help:      "Total number of items that matched every condition of a rule",
		}, []string{"trigger"}),
		RuleRunActionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boxrules",
			Subsystem: "automation",
			Name:      "rule_run_action_total",
			Help:      "Total number of item control actions by action and outcome",
		}, []string{"action", "outcome"}),
		RuleRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "boxrules",
			Subsystem: "automation",
			Name:      "rule_run_duration_seconds",
			Help:      "Duration of automation rule runs",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"trigger"}),
		ScheduledJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "boxrules",
			Subsystem: "automation",
			Name:      "scheduled_jobs",
			Help:      "Number of rules currently registered with the scheduler",
		}),
	}

	r.MustRegister(m.RuleRunTotal)
	r.MustRegister(m.RuleRunItemsMatchedTotal)
	r.MustRegister(m.RuleRunActionTotal)
	r.MustRegister(m.RuleRunDuration)
	r.MustRegister(m.ScheduledJobs)
	return m
}

// ObserveRun records one finished run. A nil collector is a no-op.
func (m *AutomationCollector) ObserveRun(trigger, outcome string, matched int, seconds float64) {
	if m == nil {
		return
	}
	m.RuleRunTotal.WithLabelValues(trigger, outcome).Inc()
	if matched > 0 {
		m.RuleRunItemsMatchedTotal.WithLabelValues(trigger).Add(float64(matched))
	}
	m.RuleRunDuration.WithLabelValues(trigger).Observe(seconds)
}

func (m *AutomationCollector) ObserveAction(action string, success bool) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailed
	}
	m.RuleRunActionTotal.WithLabelValues(action, outcome).Inc()
}

func (m *AutomationCollector) SetScheduledJobs(n int) {
	if m == nil {
		return
	}
	m.ScheduledJobs.Set(float64(n))
}
