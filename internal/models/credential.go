// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/autobrr/boxrules/internal/dbinterface"
)

// Sealer encrypts and decrypts credentials at rest.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(ciphertext string) (string, error)
}

// CredentialStore keeps one encrypted TorBox API key per owner hash so
// scheduled runs can act on the owner's account.
type CredentialStore struct {
	db     dbinterface.Querier
	sealer Sealer
}

func NewCredentialStore(db dbinterface.Querier, sealer Sealer) *CredentialStore {
	return &CredentialStore{db: db, sealer: sealer}
}

// Upsert stores apiKey for ownerHash. An unchanged key is not rewritten.
func (s *CredentialStore) Upsert(ctx context.Context, ownerHash, apiKey string) error {
	current, err := s.GetAPIKey(ctx, ownerHash)
	switch {
	case err == nil && current == apiKey:
		return nil
	case err != nil && !errors.Is(err, ErrCredentialNotFound):
		// an undecryptable row (rotated key) is simply replaced
		if !isDecryptError(err) {
			return err
		}
	}

	sealed, err := s.sealer.Seal(apiKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO account_credentials (owner_hash, encrypted_api_key)
		VALUES (?, ?)
		ON CONFLICT(owner_hash) DO UPDATE SET
			encrypted_api_key = excluded.encrypted_api_key,
			updated_at = CURRENT_TIMESTAMP
	`, ownerHash, sealed)
	return err
}

type decryptError struct{ err error }

func (e *decryptError) Error() string { return "failed to decrypt api key: " + e.err.Error() }
func (e *decryptError) Unwrap() error { return e.err }

func isDecryptError(err error) bool {
	var de *decryptError
	return errors.As(err, &de)
}

// GetAPIKey returns the decrypted key for ownerHash or ErrCredentialNotFound.
func (s *CredentialStore) GetAPIKey(ctx context.Context, ownerHash string) (string, error) {
	var sealed string
	err := s.db.QueryRowContext(ctx, `SELECT encrypted_api_key FROM account_credentials WHERE owner_hash = ?`, ownerHash).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", err
	}

	apiKey, err := s.sealer.Open(sealed)
	if err != nil {
		return "", &decryptError{err: err}
	}
	return apiKey, nil
}
