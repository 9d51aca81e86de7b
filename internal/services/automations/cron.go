// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/autobrr/boxrules/internal/models"
)

// MinIntervalMinutes is the polling floor applied to interval triggers.
const MinIntervalMinutes = 30

var (
	ErrEmptyCronExpression = errors.New("cron expression must not be empty")
	ErrInvalidTrigger      = errors.New("invalid trigger")
)

// six fields, seconds first
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// TranslateTrigger converts a trigger into the 6-field cron expression used
// to schedule it.
func TranslateTrigger(trigger models.TriggerConfig) (string, error) {
	switch trigger.Type {
	case models.TriggerCron:
		expr := strings.TrimSpace(trigger.Expression)
		if expr == "" {
			return "", ErrEmptyCronExpression
		}
		return expr, nil

	case models.TriggerInterval:
		return intervalExpression(trigger.Minutes), nil

	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidTrigger, trigger.Type)
	}
}

// intervalExpression keeps the hour/remainder split for intervals that are
// not whole hours: 90 minutes becomes "0 30 */1 * * *", which fires hourly at
// :30. Existing rules depend on that schedule.
func intervalExpression(minutes int) string {
	minutes = max(minutes, MinIntervalMinutes)

	if minutes < 60 {
		return fmt.Sprintf("0 */%d * * * *", minutes)
	}

	hours, rem := minutes/60, minutes%60
	if rem == 0 {
		if hours == 1 {
			return "0 0 * * * *"
		}
		return fmt.Sprintf("0 0 */%d * * *", hours)
	}
	return fmt.Sprintf("0 %d */%d * * *", rem, hours)
}

// ParseSchedule translates and parses a trigger in one step.
func ParseSchedule(trigger models.TriggerConfig) (cron.Schedule, string, error) {
	expr, err := TranslateTrigger(trigger)
	if err != nil {
		return nil, "", err
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, expr, fmt.Errorf("%w: %q: %w", ErrInvalidTrigger, expr, err)
	}
	return schedule, expr, nil
}

// ValidateTrigger reports whether the scheduler would accept the trigger.
func ValidateTrigger(trigger models.TriggerConfig) error {
	_, _, err := ParseSchedule(trigger)
	return err
}
