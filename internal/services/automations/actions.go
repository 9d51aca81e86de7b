// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"context"
	"fmt"

	"github.com/autobrr/boxrules/internal/models"
	"github.com/autobrr/boxrules/internal/torbox"
)

// RemoteAccount is the part of the TorBox API the engine needs.
type RemoteAccount interface {
	ListItems(ctx context.Context) ([]torbox.Torrent, error)
	ControlItem(ctx context.Context, operation string, id int64, all bool) error
}

// ClientFactory builds a remote client for a decrypted api key.
type ClientFactory func(apiKey string) RemoteAccount

func operationFor(action models.ActionType) (string, error) {
	switch action {
	case models.ActionStopSeeding:
		return torbox.OperationStopSeeding, nil
	case models.ActionDelete:
		return torbox.OperationDelete, nil
	case models.ActionStop:
		return torbox.OperationStop, nil
	case models.ActionResume:
		return torbox.OperationResume, nil
	case models.ActionRestart:
		return torbox.OperationRestart, nil
	case models.ActionReannounce:
		return torbox.OperationReannounce, nil
	case models.ActionForceStart:
		return torbox.OperationStart, nil
	default:
		return "", fmt.Errorf("unsupported action %q", action)
	}
}

// applyAction issues a single control call for one item. The whole-account
// flag is never set.
func applyAction(ctx context.Context, account RemoteAccount, action models.ActionConfig, item *torbox.Torrent) error {
	op, err := operationFor(action.Type)
	if err != nil {
		return err
	}
	return account.ControlItem(ctx, op, item.ID, false)
}
