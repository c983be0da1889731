// Package embedding turns sanitized message text into fixed-dimension
// unit vectors, compares them with cosine similarity, and optionally
// mirrors published embeddings into Qdrant for accelerated search. The
// in-process cosine math in similarity.go is always the source of truth;
// Qdrant is an acceleration path that degrades to a logged warning, never
// a hard failure, when it is disabled or unreachable.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Provider turns text into embeddings. OllamaClient is the concrete
// implementation used in production; a zero-vector Fallback backs local
// development and tests.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// OllamaClient talks to an Ollama-compatible /api/embeddings endpoint:
// {model, prompt} in, {embedding} out.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaClient creates a client against baseURL (e.g.
// "http://localhost:11434") using model for every request.
func NewOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{baseURL: baseURL, model: model, client: &http.Client{}}
}

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed requests a single embedding.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: status %d", resp.StatusCode)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// EmbedBatch requests one embedding per text, sequentially: Ollama's
// /api/embeddings endpoint accepts a single prompt per call.
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding: batch item %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Fallback returns a deterministic zero vector of the configured
// dimensionality. Strictly for development and tests, selected only when
// no local or remote provider is configured and enable_fallback is set.
type Fallback struct {
	Dims int
}

func (f Fallback) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, f.Dims), nil
}

func (f Fallback) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.Dims)
	}
	return out, nil
}
