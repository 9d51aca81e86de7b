// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface holds the database interfaces shared by the database
// package and the stores in models, so neither has to import the other.
package dbinterface

import (
	"context"
	"database/sql"
)

// Querier is implemented by *sql.DB, *sql.Tx and *database.DB.
// Stores accept it so they work inside and outside transactions.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TxBeginner is a Querier that can open transactions.
type TxBeginner interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Pinger reports database liveness for health checks.
type Pinger interface {
	PingContext(ctx context.Context) error
}
