package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/embedgate/pkg/utils"
)

// HuggingFaceName is the registry name of the HuggingFace backend.
const HuggingFaceName = "huggingface"

var huggingFaceModels = []ModelInfo{
	{Name: "sentence-transformers/all-MiniLM-L6-v2", Dimensions: 384, Description: "Fast and efficient, good for most tasks"},
	{Name: "sentence-transformers/all-mpnet-base-v2", Dimensions: 768, Description: "High quality, balanced performance"},
	{Name: "BAAI/bge-small-en-v1.5", Dimensions: 384, Description: "Optimized for retrieval tasks"},
	{Name: "BAAI/bge-base-en-v1.5", Dimensions: 768, Description: "Larger retrieval model"},
}

// HuggingFaceProvider calls the hosted feature-extraction pipeline, which
// accepts a whole batch in one request.
type HuggingFaceProvider struct {
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
}

// NewHuggingFaceProvider creates a provider for the inference API at baseURL.
func NewHuggingFaceProvider(baseURL, apiKey, defaultModel string, timeout time.Duration) *HuggingFaceProvider {
	return &HuggingFaceProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: timeout},
	}
}

// Name returns "huggingface".
func (p *HuggingFaceProvider) Name() string { return HuggingFaceName }

// DefaultModel returns the model used when none is requested.
func (p *HuggingFaceProvider) DefaultModel() string { return p.defaultModel }

// Models returns the supported sentence-transformer models.
func (p *HuggingFaceProvider) Models() []ModelInfo { return huggingFaceModels }

// Embed generates an embedding for text. The API answers either with a bare
// vector or with a one-element list of vectors.
func (p *HuggingFaceProvider) Embed(ctx context.Context, text, model string) (*Result, error) {
	if model == "" {
		model = p.defaultModel
	}
	raw, err := p.post(ctx, model, text)
	if err != nil {
		return nil, err
	}

	var nested [][]float64
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 {
		return p.result(model, nested[0])
	}
	var flat []float64
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("unexpected response format from huggingface: %w", err)
	}
	return p.result(model, flat)
}

// EmbedBatch embeds all texts in one request.
func (p *HuggingFaceProvider) EmbedBatch(ctx context.Context, texts []string, model string) ([]*Result, error) {
	if model == "" {
		model = p.defaultModel
	}
	raw, err := p.post(ctx, model, texts)
	if err != nil {
		return nil, err
	}
	var vectors [][]float64
	if err := json.Unmarshal(raw, &vectors); err != nil {
		return nil, fmt.Errorf("unexpected batch response format from huggingface: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("huggingface returned %d embeddings for %d texts", len(vectors), len(texts))
	}
	results := make([]*Result, len(vectors))
	for i, v := range vectors {
		res, err := p.result(model, v)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text at index %d: %w", i, err)
		}
		results[i] = res
	}
	return results, nil
}

// HealthCheck embeds a probe string. Without an API key the provider is never healthy.
func (p *HuggingFaceProvider) HealthCheck(ctx context.Context) bool {
	if p.apiKey == "" {
		return false
	}
	_, err := p.Embed(ctx, "test", p.defaultModel)
	return err == nil
}

// Close releases idle connections.
func (p *HuggingFaceProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *HuggingFaceProvider) result(model string, v []float64) (*Result, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("empty embedding returned from huggingface")
	}
	return newResult(HuggingFaceName, model, toFloat32(v)), nil
}

func (p *HuggingFaceProvider) post(ctx context.Context, model string, inputs any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{"inputs": inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("huggingface API error (status %d): %s", resp.StatusCode, utils.Truncate(string(data), 200))
	}
	return data, nil
}
