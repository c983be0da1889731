package embedding

import (
	"context"
	"testing"
)

type stubProvider struct {
	batchErr error
}

func (s stubProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func (s stubProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestNew_SelectsLocalEndpointFirst(t *testing.T) {
	svc, err := New(Config{LocalEndpoint: "http://localhost:11434", AllowRemoteDownload: true, RemoteEndpoint: "http://remote"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := svc.provider.(*OllamaClient); !ok {
		t.Fatalf("expected OllamaClient provider, got %T", svc.provider)
	}
}

func TestNew_FallsBackToFallbackProvider(t *testing.T) {
	svc, err := New(Config{EnableFallback: true, Dimensions: 8})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := svc.provider.(Fallback); !ok {
		t.Fatalf("expected Fallback provider, got %T", svc.provider)
	}
}

func TestNew_ErrorsWithNoProviderAvailable(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error with no local/remote/fallback configured")
	}
}

func TestEncodeBatch_PreservesOrderAcrossChunks(t *testing.T) {
	svc := &Service{provider: stubProvider{}}
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	got, err := svc.EncodeBatch(context.Background(), texts, 2)
	if err != nil {
		t.Fatalf("encode batch: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(got))
	}
	for i, text := range texts {
		if got[i][0] != float32(len(text)) {
			t.Fatalf("order mismatch at %d: want len %d, got %v", i, len(text), got[i])
		}
	}
}

func TestEncodeBatch_DefaultsToSingleChunk(t *testing.T) {
	svc := &Service{provider: stubProvider{}}
	got, err := svc.EncodeBatch(context.Background(), []string{"x", "yy"}, 0)
	if err != nil {
		t.Fatalf("encode batch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(got))
	}
}
