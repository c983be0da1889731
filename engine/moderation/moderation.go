// Package moderation implements the final gate before publication: field
// validation, a last dedup pass within the selected set, and a hard
// top-N cutoff, either fully automatic or mediated by an operator
// conversation. Filling in missing titles and descriptions is not done
// here: that fallback belongs to publish time (engine/publish), never to
// moderation's own field validation.
package moderation

import (
	"context"
	"sort"

	"github.com/lifeexplorer230/newsdigest/engine/dedup"
	"github.com/lifeexplorer230/newsdigest/engine/domain"
	"github.com/lifeexplorer230/newsdigest/pkg/fn"
	"github.com/rs/zerolog"
)

// Result carries the approved set in publish order and a reason per
// rejected source message id.
type Result struct {
	Approved []domain.SelectedItem
	Rejected map[int64]domain.RejectionTag
}

// Options configures AutoModerate.
type Options struct {
	FinalTopN          int
	DuplicateThreshold float64
	BatchSize          int
}

func (o Options) withDefaults() Options {
	if o.FinalTopN <= 0 {
		o.FinalTopN = 10
	}
	if o.DuplicateThreshold <= 0 {
		o.DuplicateThreshold = 0.85
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	return o
}

// AutoModerate runs the fully automatic path: field validation, descending
// score sort, a final embedding-based dedup pass, and a hard top-N cutoff.
func AutoModerate(ctx context.Context, items []domain.SelectedItem, enc dedup.Encoder, opts Options, log zerolog.Logger) (Result, error) {
	opts = opts.withDefaults()
	rejected := make(map[int64]domain.RejectionTag)

	if len(items) == 0 {
		log.Warn().Msg("auto moderation: received empty candidate list")
		return Result{Rejected: rejected}, nil
	}

	var valid []domain.SelectedItem
	for _, it := range items {
		switch {
		case it.Title == "":
			rejected[it.SourceMessageID] = domain.RejectedMissingTitle
		case it.Description == "":
			rejected[it.SourceMessageID] = domain.RejectedMissingDescription
		case it.OriginalText == "":
			rejected[it.SourceMessageID] = domain.RejectedMissingText
		default:
			valid = append(valid, it)
		}
	}
	if len(valid) == 0 {
		log.Warn().Msg("auto moderation: every candidate was rejected at field validation")
		return Result{Rejected: rejected}, nil
	}

	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Score > valid[j].Score })

	unique, dupReasons, err := deduplicateFinal(ctx, valid, enc, opts, log)
	if err != nil {
		return Result{}, err
	}
	for id, tag := range dupReasons {
		rejected[id] = tag
	}

	approved := unique
	if len(unique) > opts.FinalTopN {
		approved = unique[:opts.FinalTopN]
		for _, it := range unique[opts.FinalTopN:] {
			rejected[it.SourceMessageID] = domain.RejectedExceededTopN
		}
	}

	log.Info().
		Int("candidates", len(items)).
		Int("approved", len(approved)).
		Int("rejected", len(rejected)).
		Msg("auto moderation complete")

	return Result{Approved: approved, Rejected: rejected}, nil
}

// deduplicateFinal reuses engine/dedup's candidate-vs-growing-cache
// algorithm, seeded empty: the final pass compares the approved set only
// against itself, not against the published-history cache
// engine/dedup.Cache otherwise tracks.
func deduplicateFinal(ctx context.Context, items []domain.SelectedItem, enc dedup.Encoder, opts Options, log zerolog.Logger) ([]domain.SelectedItem, map[int64]domain.RejectionTag, error) {
	candidates := make([]dedup.Candidate, len(items))
	byID := make(map[int64]domain.SelectedItem, len(items))
	for i, it := range items {
		text := it.OriginalText
		if text == "" {
			text = it.Title + " " + it.Description
		}
		candidates[i] = dedup.Candidate{ID: it.SourceMessageID, Text: text, Score: it.Score}
		byID[it.SourceMessageID] = it
	}

	cache := dedup.NewCache(nil, nil)
	uniqueCandidates, rejections, err := dedup.FilterDuplicates(ctx, cache, candidates, enc, dedup.Options{
		Threshold: opts.DuplicateThreshold,
		BatchSize: opts.BatchSize,
	})
	if err != nil {
		return nil, nil, err
	}

	finalReasons := make(map[int64]domain.RejectionTag, len(rejections))
	for id, tag := range rejections {
		if tag == domain.RejectedDuplicate {
			finalReasons[id] = domain.RejectedDuplicateInFinal
		} else {
			finalReasons[id] = tag
		}
	}

	unique := fn.Map(uniqueCandidates, func(c dedup.Candidate) domain.SelectedItem { return byID[c.ID] })
	return unique, finalReasons, nil
}
