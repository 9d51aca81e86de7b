// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import "strings"

var transientMarkers = []string{"502", "503", "504", "530", "Network error"}

// IsTransientMessage reports whether an execution failure looks temporary.
// Transient failures are retried on the next tick.
func IsTransientMessage(msg string) bool {
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func IsTransientError(err error) bool {
	return err != nil && IsTransientMessage(err.Error())
}
