package dedup

import (
	"context"
	"fmt"
	"sort"

	"github.com/lifeexplorer230/newsdigest/engine/domain"
	"github.com/lifeexplorer230/newsdigest/engine/embedding"
	"github.com/lifeexplorer230/newsdigest/pkg/fn"
)

// Candidate is one item a caller wants checked against the dedup cache.
// Both the pre-selection ingestion path (RawMessage) and the
// post-selection moderation path (SelectedItem) reduce to this shape, so
// the same matching algorithm serves both the main dedup engine and
// moderation's final pass.
type Candidate struct {
	ID    int64
	Text  string
	Score int // used only to pick a cluster representative in DBSCAN mode
}

// Encoder is the subset of embedding.Service that FilterDuplicates needs.
// Declaring it narrowly here (rather than depending on *embedding.Service
// directly) keeps this package unit-testable with a fake.
type Encoder interface {
	EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// Options configures one FilterDuplicates pass.
type Options struct {
	// Threshold is the pairwise-mode minimum cosine similarity that marks
	// a candidate a duplicate. Defaults to 0.78: paraphrased items
	// cluster around 0.80-0.83, so 0.85 misses them.
	Threshold float64
	// BatchSize bounds the single batch-encode call. Defaults to 32.
	BatchSize int
	// UseDBSCAN switches to density-based clustering instead of pairwise
	// thresholding.
	UseDBSCAN bool
	// DBSCANEps is the clustering neighborhood radius in cosine-distance
	// space. Defaults to 1 - Threshold.
	DBSCANEps float64
	// DBSCANMinSamples is the minimum cluster size. Defaults to 2.
	DBSCANMinSamples int
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 0.78
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.DBSCANEps <= 0 {
		o.DBSCANEps = 1 - o.Threshold
	}
	if o.DBSCANMinSamples <= 0 {
		o.DBSCANMinSamples = 2
	}
	return o
}

// FilterDuplicates encodes every candidate once (batched), then marks each
// one a duplicate of the published window (plus any earlier-in-this-call
// unique candidate) per Options. It never mutates cache; callers append
// newly published items to cache themselves once publication actually
// succeeds.
func FilterDuplicates(ctx context.Context, cache *Cache, candidates []Candidate, enc Encoder, opts Options) ([]Candidate, map[int64]domain.RejectionTag, error) {
	opts = opts.withDefaults()
	rejections := make(map[int64]domain.RejectionTag)
	if len(candidates) == 0 {
		return nil, rejections, nil
	}

	texts := fn.Map(candidates, func(c Candidate) string { return c.Text })
	vectors, err := enc.EncodeBatch(ctx, texts, opts.BatchSize)
	if err != nil {
		return nil, nil, fmt.Errorf("dedup: encode batch: %w", err)
	}

	if opts.UseDBSCAN {
		return filterDBSCAN(cache, candidates, vectors, opts)
	}
	unique := filterPairwise(cache, candidates, vectors, opts, rejections)
	return unique, rejections, nil
}

func filterPairwise(cache *Cache, candidates []Candidate, vectors [][]float32, opts Options, rejections map[int64]domain.RejectionTag) []Candidate {
	_, published := cache.snapshot()
	seen := make([][]float32, len(published))
	copy(seen, published)

	var unique []Candidate
	for i, cand := range candidates {
		v := vectors[i]
		scores := embedding.BatchCosineSimilarity(v, seen)
		if maxOf(scores) >= float32(opts.Threshold) {
			rejections[cand.ID] = domain.RejectedDuplicate
			continue
		}
		unique = append(unique, cand)
		seen = append(seen, v)
	}
	return unique
}

func maxOf(scores []float32) float32 {
	var max float32
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	return max
}

// filterDBSCAN clusters published ∪ candidate vectors with cosine-metric
// density clustering. A candidate is a duplicate if its cluster label
// matches any published item's label; noise (-1) candidates are unique;
// candidates that collapse into a brand-new cluster among themselves keep
// only the highest-scoring representative.
func filterDBSCAN(cache *Cache, candidates []Candidate, vectors [][]float32, opts Options) ([]Candidate, map[int64]domain.RejectionTag, error) {
	rejections := make(map[int64]domain.RejectionTag)
	_, published := cache.snapshot()

	combined := make([][]float32, 0, len(published)+len(vectors))
	combined = append(combined, published...)
	combined = append(combined, vectors...)

	labels := dbscan(combined, opts.DBSCANEps, opts.DBSCANMinSamples)

	publishedLabels := make(map[int]bool)
	for i := range published {
		lbl := labels[i]
		if lbl != noiseLabel {
			publishedLabels[lbl] = true
		}
	}

	candidateLabels := labels[len(published):]

	// Group candidates sharing a cluster label that is NOT already a
	// published cluster, so the best-scoring one survives as the
	// representative and the rest are marked duplicates of it.
	newClusters := make(map[int][]int) // label -> candidate indices
	var unique []Candidate
	for i, cand := range candidates {
		lbl := candidateLabels[i]
		switch {
		case lbl == noiseLabel:
			unique = append(unique, cand)
		case publishedLabels[lbl]:
			rejections[cand.ID] = domain.RejectedDuplicate
		default:
			newClusters[lbl] = append(newClusters[lbl], i)
		}
	}

	for _, idxs := range newClusters {
		rep := idxs[0]
		for _, idx := range idxs[1:] {
			if candidates[idx].Score > candidates[rep].Score {
				rep = idx
			}
		}
		unique = append(unique, candidates[rep])
		for _, idx := range idxs {
			if idx != rep {
				rejections[candidates[idx].ID] = domain.RejectedDuplicate
			}
		}
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return indexOfCandidate(candidates, unique[i].ID) < indexOfCandidate(candidates, unique[j].ID)
	})

	return unique, rejections, nil
}

func indexOfCandidate(all []Candidate, id int64) int {
	for i, c := range all {
		if c.ID == id {
			return i
		}
	}
	return -1
}
