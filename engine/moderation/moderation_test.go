package moderation

import (
	"context"
	"testing"

	"github.com/lifeexplorer230/newsdigest/engine/domain"
	"github.com/rs/zerolog"
)

type fakeEncoder struct {
	vectors map[string][]float32
}

func (f fakeEncoder) EncodeBatch(_ context.Context, texts []string, _ int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{1, 0, 0}
		}
		out[i] = v
	}
	return out, nil
}

func TestAutoModerate_RejectsMissingFields(t *testing.T) {
	items := []domain.SelectedItem{
		{SourceMessageID: 1, Title: "", Description: "d", OriginalText: "t", Score: 9},
		{SourceMessageID: 2, Title: "t", Description: "", OriginalText: "", Score: 8},
	}
	enc := fakeEncoder{}
	res, err := AutoModerate(context.Background(), items, enc, Options{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Approved) != 0 {
		t.Fatalf("expected no approvals, got %+v", res.Approved)
	}
	if res.Rejected[1] != domain.RejectedMissingTitle {
		t.Fatalf("expected id 1 rejected for missing title, got %+v", res.Rejected)
	}
	if res.Rejected[2] != domain.RejectedMissingDescription {
		t.Fatalf("expected id 2 rejected for missing description, got %+v", res.Rejected)
	}
}

func TestAutoModerate_SortsByScoreDescending(t *testing.T) {
	items := []domain.SelectedItem{
		{SourceMessageID: 1, Title: "a", Description: "d", OriginalText: "low", Score: 3},
		{SourceMessageID: 2, Title: "b", Description: "d", OriginalText: "high", Score: 9},
	}
	enc := fakeEncoder{vectors: map[string][]float32{
		"low":  {1, 0, 0},
		"high": {0, 1, 0},
	}}
	res, err := AutoModerate(context.Background(), items, enc, Options{FinalTopN: 10}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Approved) != 2 || res.Approved[0].SourceMessageID != 2 {
		t.Fatalf("expected id 2 (score 9) first, got %+v", res.Approved)
	}
}

func TestAutoModerate_DeduplicatesAndTagsFinalDuplicate(t *testing.T) {
	items := []domain.SelectedItem{
		{SourceMessageID: 1, Title: "a", Description: "d", OriginalText: "same", Score: 9},
		{SourceMessageID: 2, Title: "b", Description: "d", OriginalText: "same-ish", Score: 8},
	}
	enc := fakeEncoder{vectors: map[string][]float32{
		"same":     {1, 0, 0},
		"same-ish": {0.99, 0.01, 0},
	}}
	res, err := AutoModerate(context.Background(), items, enc, Options{FinalTopN: 10, DuplicateThreshold: 0.85}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Approved) != 1 || res.Approved[0].SourceMessageID != 1 {
		t.Fatalf("expected only id 1 (higher score) to survive dedup, got %+v", res.Approved)
	}
	if res.Rejected[2] != domain.RejectedDuplicateInFinal {
		t.Fatalf("expected id 2 tagged duplicate_in_final, got %+v", res.Rejected)
	}
}

func TestAutoModerate_TruncatesToTopN(t *testing.T) {
	items := []domain.SelectedItem{
		{SourceMessageID: 1, Title: "a", Description: "d", OriginalText: "t1", Score: 9},
		{SourceMessageID: 2, Title: "b", Description: "d", OriginalText: "t2", Score: 8},
		{SourceMessageID: 3, Title: "c", Description: "d", OriginalText: "t3", Score: 7},
	}
	enc := fakeEncoder{vectors: map[string][]float32{
		"t1": {1, 0, 0}, "t2": {0, 1, 0}, "t3": {0, 0, 1},
	}}
	res, err := AutoModerate(context.Background(), items, enc, Options{FinalTopN: 2}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Approved) != 2 {
		t.Fatalf("expected top-2 cutoff, got %+v", res.Approved)
	}
	if res.Rejected[3] != domain.RejectedExceededTopN {
		t.Fatalf("expected id 3 rejected for exceeding top-n, got %+v", res.Rejected)
	}
}
