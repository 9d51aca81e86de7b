// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package crypto seals stored account credentials and derives owner identities.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const KeySize = 32

var (
	ErrInvalidKeySize      = errors.New("encryption key must be 32 bytes")
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	ErrEmptyAPIKey         = errors.New("api key is empty")
)

// GenerateKey returns a random hex-encoded key suitable for NewCredentialCipher.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// OwnerHash maps an API key to the stable opaque identity used to scope rules.
// Surrounding whitespace is ignored so header formatting does not split accounts.
func OwnerHash(apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", ErrEmptyAPIKey
	}

	sum := blake2b.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:]), nil
}

// CredentialCipher encrypts API keys at rest with AES-256-GCM.
type CredentialCipher struct {
	aead cipher.AEAD
}

// NewCredentialCipher builds a cipher from a hex-encoded 32 byte key.
func NewCredentialCipher(hexKey string) (*CredentialCipher, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &CredentialCipher{aead: aead}, nil
}

// Seal returns base64(nonce || ciphertext) for plaintext.
func (c *CredentialCipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (c *CredentialCipher) Open(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrMalformedCiphertext
	}

	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
