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

// OllamaName is the registry name of the Ollama backend.
const OllamaName = "ollama"

var ollamaModels = []ModelInfo{
	{Name: "nomic-embed-text", Dimensions: 768, Description: "High-quality text embeddings"},
	{Name: "mxbai-embed-large", Dimensions: 1024, Description: "Large embedding model"},
	{Name: "all-minilm", Dimensions: 384, Description: "Fast and efficient"},
}

// OllamaProvider calls a self-hosted Ollama server. It has no batch endpoint,
// so batches are embedded one text at a time.
type OllamaProvider struct {
	baseURL      string
	defaultModel string
	client       *http.Client
}

// NewOllamaProvider creates a provider for the Ollama server at baseURL.
func NewOllamaProvider(baseURL, defaultModel string, timeout time.Duration) *OllamaProvider {
	return &OllamaProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: timeout},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Name returns "ollama".
func (p *OllamaProvider) Name() string { return OllamaName }

// DefaultModel returns the model used when none is requested.
func (p *OllamaProvider) DefaultModel() string { return p.defaultModel }

// Models returns the common Ollama embedding models.
func (p *OllamaProvider) Models() []ModelInfo { return ollamaModels }

// Embed generates an embedding for text.
func (p *OllamaProvider) Embed(ctx context.Context, text, model string) (*Result, error) {
	if model == "" {
		model = p.defaultModel
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, utils.Truncate(string(b), 200))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned from ollama")
	}

	res := newResult(OllamaName, model, toFloat32(out.Embedding))
	res.Metadata["base_url"] = p.baseURL
	return res, nil
}

// EmbedBatch embeds each text sequentially. The first failure aborts the batch.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string, model string) ([]*Result, error) {
	results := make([]*Result, len(texts))
	for i, text := range texts {
		res, err := p.Embed(ctx, text, model)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text at index %d: %w", i, err)
		}
		results[i] = res
	}
	return results, nil
}

// HealthCheck reports whether GET /api/tags answers 200.
func (p *OllamaProvider) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (p *OllamaProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
