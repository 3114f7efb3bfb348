// Package utils provides shared helpers for logging, identities, text and vectors.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ServiceName is reported in logs and the health endpoint.
const ServiceName = "embedgate"

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// HashIdentity returns a short stable digest of a caller identity so that API keys
// never appear in logs.
func HashIdentity(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])[:8]
}

// HashString returns a non-negative polynomial hash of s. It is stable across
// runs and is used to derive deterministic vectors.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
