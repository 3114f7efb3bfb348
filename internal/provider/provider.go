// Package provider defines embedding backends and a registry that routes
// calls to them with single-alternate failover.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Provider is an upstream embedding backend. Implementations must be safe
// for concurrent use. An empty model means the provider's default model.
type Provider interface {
	Name() string
	Embed(ctx context.Context, text, model string) (*Result, error)
	EmbedBatch(ctx context.Context, texts []string, model string) ([]*Result, error)
	HealthCheck(ctx context.Context) bool
	Models() []ModelInfo
	DefaultModel() string
	Close() error
}

// Result is one embedding produced by a provider.
type Result struct {
	Vector     []float32      `json:"embedding"`
	Model      string         `json:"model"`
	Provider   string         `json:"provider"`
	Dimensions int            `json:"dimensions"`
	Tokens     *int           `json:"tokens,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ModelInfo describes a model a provider can serve.
type ModelInfo struct {
	Name        string `json:"name"`
	Dimensions  int    `json:"dimensions"`
	Description string `json:"description"`
}

// Metadata keys stamped on results served by the alternate provider.
const (
	MetaFallback        = "fallback"
	MetaPrimaryProvider = "primary_provider"
	MetaPrimaryError    = "primary_error"
)

// ErrNotFound is matched by NotFoundError.
var ErrNotFound = errors.New("provider not found")

// NotFoundError is returned when a named provider is not registered.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("provider %q not available", e.Name)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// CallError is a transport or upstream failure of one provider.
type CallError struct {
	Provider string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Provider, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// AllFailedError is returned when both the primary and the alternate provider failed.
type AllFailedError struct {
	Primary  *CallError
	Fallback *CallError
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("primary provider failed: %v; fallback also failed: %v", e.Primary, e.Fallback)
}

func (e *AllFailedError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

func newResult(provider, model string, vector []float32) *Result {
	return &Result{
		Vector:     vector,
		Model:      model,
		Provider:   provider,
		Dimensions: len(vector),
		Metadata:   map[string]any{},
	}
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
