// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb opens isolated, migrated databases for tests.
package testdb

import (
	"path/filepath"
	"testing"

	"github.com/autobrr/boxrules/internal/database"
)

// Open returns a migrated database in the test's temp dir, closed on cleanup.
func Open(tb testing.TB) *database.DB {
	tb.Helper()

	db, err := database.New(filepath.Join(tb.TempDir(), "boxrules-test.db"))
	if err != nil {
		tb.Fatalf("open test database: %v", err)
	}
	tb.Cleanup(func() {
		if err := db.Close(); err != nil {
			tb.Errorf("close test database: %v", err)
		}
	})

	return db
}
