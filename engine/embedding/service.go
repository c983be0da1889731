package embedding

import (
	"context"
	"fmt"

	"github.com/lifeexplorer230/newsdigest/pkg/fn"
)

// Config selects and configures the embedding provider. Loading
// precedence: a local endpoint if configured, otherwise a remote
// endpoint if explicitly allowed, otherwise a deterministic zero-vector
// fallback iff enabled.
type Config struct {
	Model               string
	LocalEndpoint       string
	RemoteEndpoint      string
	AllowRemoteDownload bool
	EnableFallback      bool
	Dimensions          int
	Normalize           NormalizeOptions
}

// New selects a Provider per Config's precedence and wraps it in a
// Service. It returns an error only when no provider can be constructed:
// no local endpoint, no allowed remote endpoint, and fallback disabled.
func New(cfg Config) (*Service, error) {
	provider, err := selectProvider(cfg)
	if err != nil {
		return nil, err
	}
	return &Service{provider: provider, normalize: cfg.Normalize}, nil
}

func selectProvider(cfg Config) (Provider, error) {
	if cfg.LocalEndpoint != "" {
		return NewOllamaClient(cfg.LocalEndpoint, cfg.Model), nil
	}
	if cfg.AllowRemoteDownload && cfg.RemoteEndpoint != "" {
		return NewOllamaClient(cfg.RemoteEndpoint, cfg.Model), nil
	}
	if cfg.EnableFallback {
		return Fallback{Dims: cfg.Dimensions}, nil
	}
	return nil, fmt.Errorf("embedding: no local endpoint, no allowed remote endpoint, and fallback disabled")
}

// Service is the deterministic text -> fixed-dim vector contract: encode
// a single text, encode a batch, or compare vectors.
type Service struct {
	provider  Provider
	normalize NormalizeOptions
}

// Encode normalizes text and returns its embedding.
func (s *Service) Encode(ctx context.Context, text string) ([]float32, error) {
	v, err := s.provider.Embed(ctx, Normalize(text, s.normalize))
	if err != nil {
		return nil, fmt.Errorf("embedding: encode: %w", err)
	}
	return v, nil
}

// EncodeBatch normalizes and encodes texts in chunks of at most
// batchSize, preserving input order.
func (s *Service) EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	if batchSize <= 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	start := 0
	for _, chunk := range fn.Chunk(texts, batchSize) {
		normalized := fn.Map(chunk, func(t string) string { return Normalize(t, s.normalize) })
		vecs, err := s.provider.EmbedBatch(ctx, normalized)
		if err != nil {
			return nil, fmt.Errorf("embedding: encode batch [%d:%d]: %w", start, start+len(chunk), err)
		}
		out = append(out, vecs...)
		start += len(chunk)
	}
	return out, nil
}
