// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/boxrules/internal/api/ctxkeys"
	"github.com/autobrr/boxrules/internal/api/handlers"
	"github.com/autobrr/boxrules/internal/crypto"
)

// CredentialSaver stores the caller's key so scheduled runs can use it.
type CredentialSaver interface {
	Upsert(ctx context.Context, ownerHash, apiKey string) error
}

// AccountKeyFromRequest reads the TorBox api key from X-API-Key or a bearer
// Authorization header.
func AccountKeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}

	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

// RequireAccountKey identifies the caller by the hash of their api key and
// keeps the encrypted key on file for scheduled runs.
func RequireAccountKey(credentials CredentialSaver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := AccountKeyFromRequest(r)
			if key == "" {
				handlers.RespondError(w, http.StatusUnauthorized, "Missing account key")
				return
			}

			owner, err := crypto.OwnerHash(key)
			if err != nil {
				handlers.RespondError(w, http.StatusUnauthorized, "Invalid account key")
				return
			}

			if err := credentials.Upsert(r.Context(), owner, key); err != nil {
				log.Error().Err(err).Msg("Failed to store account credential")
				handlers.RespondError(w, http.StatusInternalServerError, "Failed to store account credential")
				return
			}

			ctx := context.WithValue(r.Context(), ctxkeys.OwnerHash, owner)
			ctx = context.WithValue(ctx, ctxkeys.AccountKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
