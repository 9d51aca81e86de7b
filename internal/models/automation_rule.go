// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// ConditionType identifies the item attribute a condition inspects.
type ConditionType string

const (
	ConditionSeedingTime     ConditionType = "seeding_time"
	ConditionSeedingRatio    ConditionType = "seeding_ratio"
	ConditionAge             ConditionType = "age"
	ConditionDownloadSpeed   ConditionType = "download_speed"
	ConditionUploadSpeed     ConditionType = "upload_speed"
	ConditionFileSize        ConditionType = "file_size"
	ConditionProgress        ConditionType = "progress"
	ConditionSeeds           ConditionType = "seeds"
	ConditionPeers           ConditionType = "peers"
	ConditionETA             ConditionType = "eta"
	ConditionAvailability    ConditionType = "availability"
	ConditionTotalUploaded   ConditionType = "total_uploaded"
	ConditionTotalDownloaded ConditionType = "total_downloaded"
	ConditionExpiresAt       ConditionType = "expires_at"
	ConditionDownloadState   ConditionType = "download_state"
	ConditionStalledTime     ConditionType = "stalled_time"
	ConditionInactive        ConditionType = "inactive"

	// Flag conditions compare an encoded 1/0 against the value.
	ConditionDownloadFinished ConditionType = "download_finished"
	ConditionCached           ConditionType = "cached"
	ConditionPrivate          ConditionType = "private"
	ConditionLongTermSeeding  ConditionType = "long_term_seeding"
	ConditionSeedTorrent      ConditionType = "seed_torrent"
	ConditionDownloadPresent  ConditionType = "download_present"
	ConditionTorrentFile      ConditionType = "torrent_file"
	ConditionAllowZipped      ConditionType = "allow_zipped"
	ConditionHasMagnet        ConditionType = "has_magnet"
)

var conditionTypes = map[ConditionType]struct{}{
	ConditionSeedingTime:      {},
	ConditionSeedingRatio:     {},
	ConditionAge:              {},
	ConditionDownloadSpeed:    {},
	ConditionUploadSpeed:      {},
	ConditionFileSize:         {},
	ConditionProgress:         {},
	ConditionSeeds:            {},
	ConditionPeers:            {},
	ConditionETA:              {},
	ConditionAvailability:     {},
	ConditionTotalUploaded:    {},
	ConditionTotalDownloaded:  {},
	ConditionExpiresAt:        {},
	ConditionDownloadState:    {},
	ConditionStalledTime:      {},
	ConditionInactive:         {},
	ConditionDownloadFinished: {},
	ConditionCached:           {},
	ConditionPrivate:          {},
	ConditionLongTermSeeding:  {},
	ConditionSeedTorrent:      {},
	ConditionDownloadPresent:  {},
	ConditionTorrentFile:      {},
	ConditionAllowZipped:      {},
	ConditionHasMagnet:        {},
}

func (t ConditionType) Valid() bool {
	_, ok := conditionTypes[t]
	return ok
}

func (t *ConditionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ct := ConditionType(strings.ToLower(strings.TrimSpace(s)))
	if !ct.Valid() {
		return fmt.Errorf("unknown condition type %q", s)
	}
	*t = ct
	return nil
}

// Operator is the comparison applied between the derived value and the threshold.
type Operator string

const (
	OperatorGreaterThan        Operator = "gt"
	OperatorLessThan           Operator = "lt"
	OperatorGreaterThanOrEqual Operator = "gte"
	OperatorLessThanOrEqual    Operator = "lte"
	OperatorEqual              Operator = "eq"
)

var operatorAliases = map[string]Operator{
	"gt":  OperatorGreaterThan,
	">":   OperatorGreaterThan,
	"lt":  OperatorLessThan,
	"<":   OperatorLessThan,
	"gte": OperatorGreaterThanOrEqual,
	">=":  OperatorGreaterThanOrEqual,
	"lte": OperatorLessThanOrEqual,
	"<=":  OperatorLessThanOrEqual,
	"eq":  OperatorEqual,
	"==":  OperatorEqual,
}

// ParseOperator accepts both the named and the symbolic spelling.
func ParseOperator(s string) (Operator, error) {
	if op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return op, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

func (o *Operator) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	op, err := ParseOperator(s)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

type Condition struct {
	Type     ConditionType `json:"type"`
	Operator Operator      `json:"operator"`
	Value    float64       `json:"value"`
}

type TriggerType string

const (
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
)

// TriggerConfig is either a cron expression or a polling interval, selected by Type.
type TriggerConfig struct {
	Type       TriggerType `json:"type"`
	Expression string      `json:"expression,omitempty"`
	Minutes    int         `json:"minutes,omitempty"`
}

func CronTrigger(expression string) TriggerConfig {
	return TriggerConfig{Type: TriggerCron, Expression: expression}
}

func IntervalTrigger(minutes int) TriggerConfig {
	return TriggerConfig{Type: TriggerInterval, Minutes: minutes}
}

func (t *TriggerConfig) UnmarshalJSON(data []byte) error {
	type rawTrigger TriggerConfig
	var raw rawTrigger
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	raw.Type = TriggerType(strings.ToLower(strings.TrimSpace(string(raw.Type))))
	switch raw.Type {
	case TriggerCron:
		raw.Minutes = 0
	case TriggerInterval:
		raw.Expression = ""
	default:
		return fmt.Errorf("unknown trigger type %q", raw.Type)
	}

	*t = TriggerConfig(raw)
	return nil
}

type ActionType string

const (
	ActionStopSeeding ActionType = "stop_seeding"
	ActionDelete      ActionType = "delete"
	ActionStop        ActionType = "stop"
	ActionResume      ActionType = "resume"
	ActionRestart     ActionType = "restart"
	ActionReannounce  ActionType = "reannounce"
	ActionForceStart  ActionType = "force_start"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionStopSeeding, ActionDelete, ActionStop, ActionResume, ActionRestart, ActionReannounce, ActionForceStart:
		return true
	}
	return false
}

func (a *ActionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	at := ActionType(strings.ToLower(strings.TrimSpace(s)))
	if !at.Valid() {
		return fmt.Errorf("unknown action type %q", s)
	}
	*a = at
	return nil
}

type ActionConfig struct {
	Type ActionType `json:"type"`
	// Params is accepted and stored but no action reads it yet.
	Params map[string]any `json:"params,omitempty"`
}

type AutomationRule struct {
	ID         int64         `json:"id"`
	OwnerHash  string        `json:"-"`
	Name       string        `json:"name"`
	Enabled    bool          `json:"enabled"`
	Trigger    TriggerConfig `json:"trigger_config"`
	Conditions []Condition   `json:"conditions"`
	Action     ActionConfig  `json:"action_config"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

const (
	MaxRuleNameLength  = 200
	MinRuleConditions  = 1
	MaxRuleConditions  = 20
	MaxConditionValue  = 1e9
	MaxIntervalMinutes = 525600
	CronFieldCount     = 6
)

// Validate checks the rule shape accepted by the management API. Cron
// expressions are only checked for field count here.
func (r *AutomationRule) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if len(name) > MaxRuleNameLength {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", MaxRuleNameLength)}
	}

	if err := r.Trigger.Validate(); err != nil {
		return err
	}

	if n := len(r.Conditions); n < MinRuleConditions || n > MaxRuleConditions {
		return &ValidationError{Field: "conditions", Message: fmt.Sprintf("must contain between %d and %d conditions", MinRuleConditions, MaxRuleConditions)}
	}
	for i, c := range r.Conditions {
		field := fmt.Sprintf("conditions[%d]", i)
		if !c.Type.Valid() {
			return &ValidationError{Field: field, Message: fmt.Sprintf("unknown condition type %q", c.Type)}
		}
		if _, err := ParseOperator(string(c.Operator)); err != nil {
			return &ValidationError{Field: field, Message: err.Error()}
		}
		if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			return &ValidationError{Field: field, Message: "value must be a finite number"}
		}
		if math.Abs(c.Value) > MaxConditionValue {
			return &ValidationError{Field: field, Message: "value must be within ±1e9"}
		}
	}

	if !r.Action.Type.Valid() {
		return &ValidationError{Field: "action_config", Message: fmt.Sprintf("unknown action type %q", r.Action.Type)}
	}

	return nil
}

func (t TriggerConfig) Validate() error {
	switch t.Type {
	case TriggerCron:
		if len(strings.Fields(t.Expression)) != CronFieldCount {
			return &ValidationError{Field: "trigger_config.expression", Message: "cron expression must have exactly 6 fields (seconds minutes hours day month weekday)"}
		}
	case TriggerInterval:
		if t.Minutes < 1 || t.Minutes > MaxIntervalMinutes {
			return &ValidationError{Field: "trigger_config.minutes", Message: fmt.Sprintf("interval must be between 1 and %d minutes", MaxIntervalMinutes)}
		}
	default:
		return &ValidationError{Field: "trigger_config.type", Message: fmt.Sprintf("unknown trigger type %q", t.Type)}
	}
	return nil
}
