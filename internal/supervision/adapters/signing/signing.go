// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package signing implements the SigningAdapter contract: signing and
// verifying audit-entry payloads and computing content hashes. The
// dev-mode implementation here is an HMAC-SHA256 signer keyed by a
// process-local random key, so the supervision core runs without a
// real Vault deployment; a production deployment swaps this for a
// Vault Transit-backed signer without changing the adapter contract.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Signer is the SigningAdapter contract every audit-signing caller
// depends on.
type Signer interface {
	Sign(keyID, data string) (string, error)
	Verify(data, signature, keyID string) (bool, error)
	ComputeHash(data string) string
	Algorithm() string
	HealthCheck() map[string]any
}

// DevSigner is a process-local HMAC-SHA256 signer used when no Vault
// URL is configured. It never persists its key past process
// lifetime — restarting the process invalidates prior signatures,
// which is acceptable for the dev-mode contract it implements.
type DevSigner struct {
	mu  sync.RWMutex
	key []byte
}

// NewDevSigner returns a DevSigner with a freshly generated key.
func NewDevSigner() (*DevSigner, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating signer key: %w", err)
	}
	return &DevSigner{key: key}, nil
}

func (s *DevSigner) Sign(keyID, data string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(keyID + ":" + data))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (s *DevSigner) Verify(data, signature, keyID string) (bool, error) {
	expected, err := s.Sign(keyID, data)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

func (s *DevSigner) ComputeHash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func (s *DevSigner) Algorithm() string { return "HMAC-SHA256" }

func (s *DevSigner) HealthCheck() map[string]any {
	return map[string]any{
		"status":    "healthy",
		"dev_mode":  true,
		"algorithm": s.Algorithm(),
	}
}
