package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHFServer(t *testing.T, respond func(inputs any) any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer hf-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/sentence-transformers/all-MiniLM-L6-v2", r.URL.Path)
		var body struct {
			Inputs any `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(respond(body.Inputs))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHuggingFaceProvider_EmbedFlatAndNested(t *testing.T) {
	for name, payload := range map[string]any{
		"flat":   []float64{0.5, 0.25},
		"nested": [][]float64{{0.5, 0.25}},
	} {
		t.Run(name, func(t *testing.T) {
			server := newHFServer(t, func(any) any { return payload })
			p := NewHuggingFaceProvider(server.URL, "hf-key", "sentence-transformers/all-MiniLM-L6-v2", time.Second)

			res, err := p.Embed(context.Background(), "hello", "")
			require.NoError(t, err)
			assert.Equal(t, []float32{0.5, 0.25}, res.Vector)
			assert.Equal(t, HuggingFaceName, res.Provider)
			assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", res.Model)
		})
	}
}

func TestHuggingFaceProvider_EmbedBatchIsNative(t *testing.T) {
	var requests atomic.Int32
	server := newHFServer(t, func(inputs any) any {
		requests.Add(1)
		texts, ok := inputs.([]any)
		require.True(t, ok, "batch inputs should be a list")
		out := make([][]float64, len(texts))
		for i := range texts {
			out[i] = []float64{float64(i), 1}
		}
		return out
	})
	p := NewHuggingFaceProvider(server.URL, "hf-key", "sentence-transformers/all-MiniLM-L6-v2", time.Second)

	results, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"}, "")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, []float32{2, 1}, results[2].Vector)
}

func TestHuggingFaceProvider_BatchCountMismatch(t *testing.T) {
	server := newHFServer(t, func(any) any { return [][]float64{{1}} })
	p := NewHuggingFaceProvider(server.URL, "hf-key", "sentence-transformers/all-MiniLM-L6-v2", time.Second)

	_, err := p.EmbedBatch(context.Background(), []string{"a", "b"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 embeddings for 2 texts")
}

func TestHuggingFaceProvider_AuthAndHealth(t *testing.T) {
	server := newHFServer(t, func(any) any { return []float64{1} })

	bad := NewHuggingFaceProvider(server.URL, "wrong", "sentence-transformers/all-MiniLM-L6-v2", time.Second)
	_, err := bad.Embed(context.Background(), "x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.False(t, bad.HealthCheck(context.Background()))

	none := NewHuggingFaceProvider(server.URL, "", "sentence-transformers/all-MiniLM-L6-v2", time.Second)
	assert.False(t, none.HealthCheck(context.Background()))

	good := NewHuggingFaceProvider(server.URL, "hf-key", "sentence-transformers/all-MiniLM-L6-v2", time.Second)
	assert.True(t, good.HealthCheck(context.Background()))
	assert.Len(t, good.Models(), 4)
}
