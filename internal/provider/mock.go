package provider

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/embedgate/pkg/utils"
)

// MockName is the default registry name of the mock backend.
const MockName = "mock"

// MockProvider is an in-process backend for development and tests. It returns
// a fixed-dimension unit vector derived from the model and text hash, so the
// same input always gets the same embedding.
type MockProvider struct {
	name         string
	dimensions   int
	defaultModel string

	calls      atomic.Int64
	batchCalls atomic.Int64

	mu      sync.RWMutex
	err     error
	delay   time.Duration
	healthy bool
}

// NewMockProvider returns a healthy mock provider.
func NewMockProvider(name string, dimensions int, defaultModel string) *MockProvider {
	if name == "" {
		name = MockName
	}
	if dimensions <= 0 {
		dimensions = 384
	}
	if defaultModel == "" {
		defaultModel = "mock-embed"
	}
	return &MockProvider{name: name, dimensions: dimensions, defaultModel: defaultModel, healthy: true}
}

// SetError makes every subsequent call fail with err; nil restores success.
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes every call block for d or until its context is done.
func (m *MockProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetHealthy sets the HealthCheck answer.
func (m *MockProvider) SetHealthy(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = ok
}

// Calls returns the number of Embed calls, including failed ones.
func (m *MockProvider) Calls() int { return int(m.calls.Load()) }

// BatchCalls returns the number of EmbedBatch calls, including failed ones.
func (m *MockProvider) BatchCalls() int { return int(m.batchCalls.Load()) }

// Name returns the registry name.
func (m *MockProvider) Name() string { return m.name }

// DefaultModel returns the model used when none is requested.
func (m *MockProvider) DefaultModel() string { return m.defaultModel }

// Models returns the single mock model.
func (m *MockProvider) Models() []ModelInfo {
	return []ModelInfo{{Name: m.defaultModel, Dimensions: m.dimensions, Description: "Deterministic vectors for development"}}
}

// Embed returns a deterministic embedding for text.
func (m *MockProvider) Embed(ctx context.Context, text, model string) (*Result, error) {
	m.calls.Add(1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if model == "" {
		model = m.defaultModel
	}
	tokens := len(text)/4 + 1
	res := newResult(m.name, model, m.vector(model, text))
	res.Tokens = &tokens
	return res, nil
}

// EmbedBatch embeds every text in one call.
func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string, model string) ([]*Result, error) {
	m.batchCalls.Add(1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if model == "" {
		model = m.defaultModel
	}
	results := make([]*Result, len(texts))
	for i, text := range texts {
		tokens := len(text)/4 + 1
		results[i] = newResult(m.name, model, m.vector(model, text))
		results[i].Tokens = &tokens
	}
	return results, nil
}

// HealthCheck returns the value set by SetHealthy.
func (m *MockProvider) HealthCheck(ctx context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy
}

// Close is a no-op.
func (m *MockProvider) Close() error {
	return nil
}

func (m *MockProvider) wait(ctx context.Context) error {
	m.mu.RLock()
	err, delay := m.err, m.delay
	m.mu.RUnlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("mock provider %s: %w", m.name, ctx.Err())
		case <-t.C:
		}
	}
	return err
}

func (m *MockProvider) vector(model, text string) []float32 {
	h := utils.HashString(model + ":" + text)
	v := make([]float32, m.dimensions)
	for i := range v {
		v[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	unitScale(v)
	return v
}

// unitScale scales v in place to unit length. A zero vector is left as is.
func unitScale(v []float32) {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	if sq == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sq))
	for i := range v {
		v[i] *= inv
	}
}
