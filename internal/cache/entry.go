// Package cache stores computed embeddings under content fingerprints in a
// shared Redis store with a bounded in-process fallback.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"maps"
	"slices"
	"time"
)

var (
	// ErrMiss is returned by stores when a key is absent.
	ErrMiss = errors.New("cache miss")
	// ErrDegraded marks log lines and metrics emitted when the shared store is bypassed.
	// It is never returned from Get or Put.
	ErrDegraded = errors.New("cache degraded to local store")
)

// Entry is one cached embedding.
type Entry struct {
	Fingerprint string         `json:"fingerprint"`
	Vector      []float32      `json:"vector"`
	Model       string         `json:"model"`
	Provider    string         `json:"provider"`
	Dimensions  int            `json:"dimensions"`
	Tokens      *int           `json:"tokens,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Clone returns a copy that shares no slices or maps with e.
func (e Entry) Clone() Entry {
	out := e
	out.Vector = slices.Clone(e.Vector)
	if e.Tokens != nil {
		t := *e.Tokens
		out.Tokens = &t
	}
	if e.Metadata != nil {
		out.Metadata = maps.Clone(e.Metadata)
	}
	return out
}

// Fingerprint returns the hex sha256 of "provider:model:text".
func Fingerprint(provider, model, text string) string {
	sum := sha256.Sum256([]byte(provider + ":" + model + ":" + text))
	return hex.EncodeToString(sum[:])
}
