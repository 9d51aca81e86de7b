// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package httphelpers

import "strings"

// NormalizeBasePath returns "" for the root, otherwise a path with a leading
// slash and no trailing slash.
func NormalizeBasePath(basePath string) string {
	trimmed := strings.Trim(strings.TrimSpace(basePath), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}

// JoinBasePath appends suffix to an already normalized base path.
func JoinBasePath(basePath, suffix string) string {
	suffix = strings.TrimPrefix(suffix, "/")
	if suffix == "" {
		if basePath == "" {
			return "/"
		}
		return basePath
	}
	return basePath + "/" + suffix
}
