// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"math"
	"strings"
	"time"

	"github.com/autobrr/boxrules/internal/models"
	"github.com/autobrr/boxrules/internal/torbox"
)

const (
	equalityTolerance = 0.001
	bytesPerGiB       = 1024 * 1024 * 1024

	stalledCheckingAfterHours = 6
	stalledDownloadSpeedFloor = 1024
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts RFC 3339 and zoneless layouts; zoneless values are UTC.
func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func hoursSince(raw string, now time.Time) (float64, bool) {
	t, ok := parseTimestamp(raw)
	if !ok {
		return 0, false
	}
	return now.Sub(t).Hours(), true
}

func compare(op models.Operator, computed, threshold float64) bool {
	switch op {
	case models.OperatorGreaterThan:
		return computed > threshold
	case models.OperatorLessThan:
		return computed < threshold
	case models.OperatorGreaterThanOrEqual:
		return computed >= threshold
	case models.OperatorLessThanOrEqual:
		return computed <= threshold
	case models.OperatorEqual:
		return flagEquals(computed, threshold)
	default:
		return false
	}
}

func flagEquals(computed, threshold float64) bool {
	return math.Abs(computed-threshold) < equalityTolerance
}

func encodeFlag(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// EvaluateCondition reports whether item satisfies cond at now. Malformed
// timestamps make the condition false.
func EvaluateCondition(cond models.Condition, item *torbox.Torrent, now time.Time) bool {
	if item == nil {
		return false
	}

	switch cond.Type {
	case models.ConditionSeedingTime:
		if !item.Active || !item.DownloadFinished {
			return false
		}
		since := item.UpdatedAt
		if item.CachedAt != nil && strings.TrimSpace(*item.CachedAt) != "" {
			since = *item.CachedAt
		}
		hours, ok := hoursSince(since, now)
		return ok && compare(cond.Operator, hours, cond.Value)

	case models.ConditionSeedingRatio:
		return item.Active && compare(cond.Operator, item.Ratio, cond.Value)

	case models.ConditionAge:
		hours, ok := hoursSince(item.CreatedAt, now)
		return ok && compare(cond.Operator, hours, cond.Value)

	case models.ConditionDownloadSpeed:
		return compare(cond.Operator, float64(item.DownloadSpeed), cond.Value)
	case models.ConditionUploadSpeed:
		return compare(cond.Operator, float64(item.UploadSpeed), cond.Value)
	case models.ConditionFileSize:
		return compare(cond.Operator, float64(item.Size)/bytesPerGiB, cond.Value)
	case models.ConditionProgress:
		return compare(cond.Operator, item.Progress, cond.Value)
	case models.ConditionSeeds:
		return compare(cond.Operator, float64(item.Seeds), cond.Value)
	case models.ConditionPeers:
		return compare(cond.Operator, float64(item.Peers), cond.Value)
	case models.ConditionETA:
		return compare(cond.Operator, float64(item.ETA)/3600, cond.Value)
	case models.ConditionAvailability:
		return compare(cond.Operator, item.Availability, cond.Value)
	case models.ConditionTotalUploaded:
		return compare(cond.Operator, float64(item.TotalUploaded)/bytesPerGiB, cond.Value)
	case models.ConditionTotalDownloaded:
		return compare(cond.Operator, float64(item.TotalDownloaded)/bytesPerGiB, cond.Value)

	case models.ConditionExpiresAt:
		remaining, ok := hoursUntilExpiry(item, now)
		return ok && compare(cond.Operator, remaining, cond.Value)

	case models.ConditionDownloadState:
		return matchesDownloadState(item.DownloadState, cond.Value)

	// flag conditions ignore the operator
	case models.ConditionDownloadFinished:
		return flagEquals(encodeFlag(item.DownloadFinished), cond.Value)
	case models.ConditionCached:
		return flagEquals(encodeFlag(item.Cached), cond.Value)
	case models.ConditionPrivate:
		return flagEquals(encodeFlag(item.Private), cond.Value)
	case models.ConditionLongTermSeeding:
		return flagEquals(encodeFlag(item.LongTermSeeding), cond.Value)
	case models.ConditionSeedTorrent:
		return flagEquals(encodeFlag(item.SeedTorrent), cond.Value)
	case models.ConditionDownloadPresent:
		return flagEquals(encodeFlag(item.DownloadPresent), cond.Value)
	case models.ConditionTorrentFile:
		return flagEquals(encodeFlag(item.TorrentFile), cond.Value)
	case models.ConditionAllowZipped:
		return flagEquals(encodeFlag(item.AllowZipped), cond.Value)
	case models.ConditionHasMagnet:
		return flagEquals(encodeFlag(item.Magnet != nil && *item.Magnet != ""), cond.Value)

	case models.ConditionStalledTime:
		hours, ok := stalledHours(item, now)
		return ok && compare(cond.Operator, hours, cond.Value)

	case models.ConditionInactive:
		return flagEquals(inactiveValue(item, now), cond.Value)

	default:
		return false
	}
}

// EvaluateAll reports whether every condition holds. An empty list never matches.
func EvaluateAll(conditions []models.Condition, item *torbox.Torrent, now time.Time) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, cond := range conditions {
		if !EvaluateCondition(cond, item, now) {
			return false
		}
	}
	return true
}

// hoursUntilExpiry is clamped to zero once the item has expired.
func hoursUntilExpiry(item *torbox.Torrent, now time.Time) (float64, bool) {
	if item.ExpiresAt == nil {
		return 0, false
	}
	expires, ok := parseTimestamp(*item.ExpiresAt)
	if !ok {
		return 0, false
	}
	return math.Max(expires.Sub(now).Hours(), 0), true
}

var downloadStateLabels = map[int][]string{
	0: {"downloading"},
	1: {"uploading", "uploading (no peers)"},
	2: {"stopped seeding", "stopped"},
	3: {"cached"},
}

func matchesDownloadState(label string, threshold float64) bool {
	if threshold != math.Trunc(threshold) {
		return false
	}
	wanted, ok := downloadStateLabels[int(threshold)]
	if !ok {
		return false
	}

	label = strings.ToLower(label)
	for _, w := range wanted {
		if strings.Contains(label, w) {
			return true
		}
	}
	return false
}

func normalizedState(item *torbox.Torrent) string {
	return strings.ToLower(strings.TrimSpace(item.DownloadState))
}

func isDownloadingState(state string) bool {
	return strings.Contains(state, "downloading") || strings.Contains(state, "metadl") || state == "active"
}

// isStalled applies the stalled heuristic without computing a duration.
func isStalled(item *torbox.Torrent, now time.Time) bool {
	state := normalizedState(item)

	switch {
	case strings.Contains(state, "stalled"):
		return true
	case strings.HasPrefix(state, "checking"):
		hours, ok := hoursSince(item.UpdatedAt, now)
		return ok && hours > stalledCheckingAfterHours
	case isDownloadingState(state):
		noSwarm := item.Seeds == 0 && item.Peers == 0
		return item.DownloadSpeed < stalledDownloadSpeedFloor && item.UploadSpeed == 0 && (noSwarm || !item.Active)
	default:
		return false
	}
}

// stalledHours returns how long the item has been stalled, or false if it is not.
func stalledHours(item *torbox.Torrent, now time.Time) (float64, bool) {
	if !isStalled(item, now) {
		return 0, false
	}
	if strings.Contains(normalizedState(item), "stalled") {
		return hoursSince(item.CreatedAt, now)
	}
	return hoursSince(item.UpdatedAt, now)
}

var (
	brokenStates           = []string{"reported missing", "missingfiles", "error", "failed"}
	stoppedStates          = []string{"stopped seeding", "stopped", "error", "failed"}
	inactiveExemptPrefixes = []string{"expired", "cached", "completed", "uploading", "seeding", "stalled"}
)

func inStates(state string, states []string) bool {
	for _, s := range states {
		if state == s {
			return true
		}
	}
	return false
}

func hasAnyPrefix(state string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(state, p) {
			return true
		}
	}
	return false
}

// inactiveValue returns 1 for inactive items and 0 otherwise. Branches are
// checked in priority order.
func inactiveValue(item *torbox.Torrent, now time.Time) float64 {
	state := normalizedState(item)

	if inStates(state, brokenStates) || strings.HasPrefix(state, "failed") {
		return 1
	}
	if item.DownloadFinished {
		return 0
	}
	if isStalled(item, now) && !item.Active {
		return 1
	}
	if item.ExpiresAt != nil {
		if expires, ok := parseTimestamp(*item.ExpiresAt); ok && expires.Before(now) {
			return 1
		}
	}
	if state == "expired" {
		return 1
	}
	if !item.Active && !hasAnyPrefix(state, inactiveExemptPrefixes) {
		return 1
	}
	if inStates(state, stoppedStates) {
		return 1
	}
	return 0
}
