// Package scar defines resolution records and the factory that builds them
// from collapse decisions.
package scar

import (
	"errors"
	"time"
)

// Common errors for SCAR operations.
var (
	ErrNotFound      = errors.New("scar not found")
	ErrTooFewGeoids  = errors.New("scar requires at least two geoid refs")
	ErrInvalidWeight = errors.New("scar weight cannot be negative")
)

// Vault partition identifiers. Exactly two vaults exist.
const (
	VaultA = "vault_a"
	VaultB = "vault_b"
)

// SCAR is a persisted record of a resolved contradiction.
//
// Content is immutable after creation except through three mutations:
// decay (weight), fusion (merge/absorb), and crystallization (one-shot
// latch on Crystallized).
type SCAR struct {
	ID            string    `json:"id"`
	GeoidRefs     []string  `json:"geoid_refs"`
	Reason        string    `json:"reason"`
	PreEntropy    float64   `json:"pre_entropy"`
	PostEntropy   float64   `json:"post_entropy"`
	DeltaEntropy  float64   `json:"delta_entropy"`
	Weight        float64   `json:"weight"`
	VaultID       string    `json:"vault_id,omitempty"`
	Vector        []float64 `json:"vector"`
	CreatedAt     time.Time `json:"created_at"`
	LastTouchedAt time.Time `json:"last_touched_at"`
	Crystallized  bool      `json:"crystallized"`
}

// Validate checks structural invariants.
func (s *SCAR) Validate() error {
	if s.ID == "" {
		return errors.New("scar ID cannot be empty")
	}
	if len(s.GeoidRefs) < 2 {
		return ErrTooFewGeoids
	}
	if s.Weight < 0 {
		return ErrInvalidWeight
	}
	if s.VaultID != "" && s.VaultID != VaultA && s.VaultID != VaultB {
		return errors.New("scar vault ID must be vault_a or vault_b")
	}
	return nil
}

// Age returns how long the SCAR has existed at the given time.
func (s *SCAR) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}
