package embedding

import "testing"

func approxEqual(a, b, eps float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestCosineSimilarity_IdenticalVectors(t *testing.T) {
	got := CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0})
	if !approxEqual(got, 1, 1e-6) {
		t.Fatalf("expected ~1.0, got %v", got)
	}
}

func TestCosineSimilarity_OrthogonalVectors(t *testing.T) {
	got := CosineSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0})
	if !approxEqual(got, 0, 1e-6) {
		t.Fatalf("expected ~0.0, got %v", got)
	}
}

func TestCosineSimilarity_OppositeVectors(t *testing.T) {
	got := CosineSimilarity([]float32{1, 0, 0}, []float32{-1, 0, 0})
	if !approxEqual(got, -1, 1e-6) {
		t.Fatalf("expected ~-1.0, got %v", got)
	}
}

func TestCosineSimilarity_ZeroNormNeverNaN(t *testing.T) {
	cases := [][2][]float32{
		{{0, 0, 0}, {0, 0, 0}},
		{{0, 0, 0}, {1, 2, 3}},
		{{1, 2, 3}, {0, 0, 0}},
	}
	for _, c := range cases {
		got := CosineSimilarity(c[0], c[1])
		if got != 0 {
			t.Fatalf("expected 0 for zero-norm input, got %v", got)
		}
		if got != got {
			t.Fatalf("got NaN for %v, %v", c[0], c[1])
		}
	}
}

func TestBatchCosineSimilarity_HandlesZeroNormRows(t *testing.T) {
	query := []float32{1, 2, 3}
	matrix := [][]float32{
		{0, 0, 0},
		{1, 0, 0},
		{0, 1, 0},
	}
	got := BatchCosineSimilarity(query, matrix)
	if got[0] != 0 {
		t.Fatalf("expected zero-norm row to yield 0, got %v", got[0])
	}
	for _, v := range got {
		if v != v {
			t.Fatal("unexpected NaN in batch result")
		}
	}
}
