package publish

import (
	"context"
	"fmt"

	"github.com/lifeexplorer230/newsdigest/engine/dedup"
	"github.com/lifeexplorer230/newsdigest/engine/domain"
	"github.com/lifeexplorer230/newsdigest/pkg/fn"
	"github.com/rs/zerolog"
)

// Sender delivers one rendered message to a named destination: a
// channel handle, a preview channel, or a personal account.
type Sender interface {
	Send(ctx context.Context, destination, text string) error
}

// Encoder is the subset of engine/embedding.Service Publisher needs for
// the post-publish batch encode step.
type Encoder interface {
	EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// Saver is the subset of engine/storage.Storage Publisher writes
// through.
type Saver interface {
	SavePublished(ctx context.Context, text string, embedding []float32, sourceMessageID *int64, sourceChannelID int64) (int64, error)
}

// Options configures one Publish run.
type Options struct {
	Channel         string
	PreviewChannel  string // empty disables the preview send
	NotifyAccount   string // empty disables the personal notification
	HeaderTemplate  string
	FooterTemplate  string
	TemplateParams  TemplateParams
	EncodeBatchSize int
}

// Publisher wires a Sender, an Encoder and a Saver together to run the
// publication stage end to end.
type Publisher struct {
	sender Sender
	enc    Encoder
	store  Saver
	log    zerolog.Logger
}

// NewPublisher builds a Publisher.
func NewPublisher(sender Sender, enc Encoder, store Saver, log zerolog.Logger) *Publisher {
	return &Publisher{sender: sender, enc: enc, store: store, log: log}
}

// Outcome reports what a Publish run actually persisted, so the caller
// can feed the dedup cache only the items that made it into storage.
type Outcome struct {
	PublishedIDs     []int64
	PublishedVectors [][]float32
	FailedSourceIDs  []int64
}

// Publish runs the publication stage end to end: field fallback, digest
// composition, optional preview send, the real send, optional
// personal-account notify, batch encode, and a best-effort SavePublished
// per item. Each
// item's own ChannelID (the channel the source message was ingested
// from, not the destination) is persisted as Published.source_channel_id.
func (p *Publisher) Publish(ctx context.Context, items []domain.SelectedItem, opts Options) (Outcome, error) {
	if len(items) == 0 {
		return Outcome{}, nil
	}
	if opts.EncodeBatchSize <= 0 {
		opts.EncodeBatchSize = 32
	}

	filled := fn.Map(items, ensurePostFields)

	digest := FormatDigest(filled, opts.TemplateParams, opts.HeaderTemplate, opts.FooterTemplate)

	if opts.PreviewChannel != "" {
		if err := p.sender.Send(ctx, opts.PreviewChannel, digest); err != nil {
			p.log.Warn().Err(err).Msg("publish: preview send failed, continuing")
		}
	}

	if err := p.sender.Send(ctx, opts.Channel, digest); err != nil {
		return Outcome{}, fmt.Errorf("publish: send to %s: %w", opts.Channel, err)
	}

	if opts.NotifyAccount != "" {
		msg := fmt.Sprintf("✅ Дайджест опубликован в %s (%d новостей).", opts.Channel, len(filled))
		if err := p.sender.Send(ctx, opts.NotifyAccount, msg); err != nil {
			p.log.Warn().Err(err).Msg("publish: personal notify failed")
		}
	}

	texts := fn.Map(filled, func(it domain.SelectedItem) string { return it.Title + "\n" + it.Description })
	vectors, err := p.enc.EncodeBatch(ctx, texts, opts.EncodeBatchSize)
	if err != nil {
		return Outcome{}, fmt.Errorf("publish: encode batch: %w", err)
	}

	var out Outcome
	for i, it := range filled {
		sourceID := it.SourceMessageID
		id, err := p.store.SavePublished(ctx, texts[i], vectors[i], &sourceID, it.ChannelID)
		if err != nil {
			p.log.Error().Err(err).Int64("source_message_id", it.SourceMessageID).Msg("publish: save published failed, item omitted from dedup cache")
			out.FailedSourceIDs = append(out.FailedSourceIDs, it.SourceMessageID)
			continue
		}
		out.PublishedIDs = append(out.PublishedIDs, id)
		out.PublishedVectors = append(out.PublishedVectors, vectors[i])
	}

	return out, nil
}

// UpdateDedupCache appends a run's freshly published items to cache so
// later categories in the same run see them.
func UpdateDedupCache(cache *dedup.Cache, out Outcome) {
	cache.AppendAll(out.PublishedIDs, out.PublishedVectors)
}
