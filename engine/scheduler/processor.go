package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lifeexplorer230/newsdigest/engine/dedup"
	"github.com/lifeexplorer230/newsdigest/engine/domain"
	"github.com/lifeexplorer230/newsdigest/engine/moderation"
	"github.com/lifeexplorer230/newsdigest/engine/publish"
	"github.com/lifeexplorer230/newsdigest/engine/selection"
	"github.com/lifeexplorer230/newsdigest/engine/storage"
	"github.com/lifeexplorer230/newsdigest/pkg/fn"
)

// Summary reports what one processor run actually did, returned to the
// caller and folded into ProcessorCompletedEvent.
type Summary struct {
	Candidates int
	Selected   int
	Approved   int
	Published  int
}

// RunProcessorOnce runs one full processor pass: load the unprocessed
// backlog, filter it against the published-embedding dedup cache, run the
// combined categorized LLM selection, moderate (auto or interactive), and
// publish each category's approved group sequentially, updating the dedup
// cache after each group completes before the next group starts. One
// category publishes fully before the next; selection stays a single
// combined call and the sequential-publish guarantee is enforced here.
// Every raw message considered is marked processed at most once, in a
// single batch at the end; the items of a category whose publish fails
// are left unmarked so the next run picks them up again.
func (s *Scheduler) RunProcessorOnce(ctx context.Context) (Summary, error) {
	startedAt := time.Now().UTC()
	s.publish(SubjectProcessorStarted, ProcessorStartedEvent{StartedAt: startedAt})

	summary, err := s.runProcessorOnceInner(ctx)

	completed := ProcessorCompletedEvent{
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
		Candidates:  summary.Candidates,
		Selected:    summary.Selected,
		Approved:    summary.Approved,
		Published:   summary.Published,
	}
	if err != nil {
		completed.Err = err.Error()
	}
	s.publish(SubjectProcessorCompleted, completed)

	return summary, err
}

func (s *Scheduler) runProcessorOnceInner(ctx context.Context) (Summary, error) {
	log := s.deps.Log

	unprocessed, err := s.deps.Store.GetUnprocessed(ctx, s.cfg.WithinHours)
	if err != nil {
		return Summary{}, fmt.Errorf("scheduler: get unprocessed: %w", err)
	}
	if len(unprocessed) == 0 {
		log.Info().Msg("scheduler: no unprocessed messages, nothing to do")
		return Summary{}, nil
	}

	byID := make(map[int64]domain.RawMessage, len(unprocessed))
	for _, m := range unprocessed {
		byID[m.ID] = m
	}

	updates := make(map[int64]storage.ProcessedUpdate, len(unprocessed))
	markRejected := func(id int64, tag domain.RejectionTag, isDuplicate bool) {
		updates[id] = storage.ProcessedUpdate{MessageID: id, IsDuplicate: isDuplicate, RejectionReason: &tag}
	}

	published, err := s.deps.Store.GetPublishedEmbeddings(ctx, s.cfg.DuplicateWindowDays)
	if err != nil {
		return Summary{}, fmt.Errorf("scheduler: get published embeddings: %w", err)
	}
	cacheIDs := make([]int64, len(published))
	cacheVectors := make([][]float32, len(published))
	for i, p := range published {
		cacheIDs[i] = p.ID
		cacheVectors[i] = p.Embedding
	}
	cache := dedup.NewCache(cacheIDs, cacheVectors)
	if s.deps.Metrics != nil {
		s.deps.Metrics.DedupCacheSize.Set(float64(cache.Len()))
	}

	candidates := make([]dedup.Candidate, len(unprocessed))
	for i, m := range unprocessed {
		candidates[i] = dedup.Candidate{ID: m.ID, Text: m.Text}
	}

	unique, dedupRejections, err := dedup.FilterDuplicates(ctx, cache, candidates, s.deps.Encoder, s.cfg.DedupOptions)
	if err != nil {
		return Summary{}, fmt.Errorf("scheduler: filter duplicates: %w", err)
	}
	for id, tag := range dedupRejections {
		markRejected(id, tag, true)
		if s.deps.Metrics != nil {
			s.deps.Metrics.MessagesDuplicate.Inc()
		}
	}

	messages := make([]selection.Message, len(unique))
	for i, c := range unique {
		m := byID[c.ID]
		messages[i] = selection.Message{
			ID:            m.ID,
			ChannelID:     m.ChannelID,
			ChannelHandle: m.ChannelHandle,
			ExternalID:    m.ExternalMessageID,
			Text:          m.Text,
		}
	}

	selected, err := s.deps.Selector.Select(ctx, selection.Request{
		Messages:             messages,
		CategoryCounts:       s.cfg.CategoryCounts,
		CategoryDescriptions: s.cfg.CategoryDescriptions,
		ChunkSize:            s.cfg.ChunkSize,
		PromptTemplate:       s.cfg.PromptTemplate,
		MaxTokens:            s.cfg.MaxTokens,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("scheduler: select: %w", err)
	}

	selectedIDs := make(map[int64]bool, len(selected))
	for _, it := range selected {
		selectedIDs[it.SourceMessageID] = true
	}
	for _, c := range unique {
		if !selectedIDs[c.ID] {
			markRejected(c.ID, domain.RejectedByLLM, false)
		}
	}

	result, err := s.moderate(ctx, selected)
	if err != nil {
		return Summary{}, fmt.Errorf("scheduler: moderate: %w", err)
	}
	for id, tag := range result.Rejected {
		markRejected(id, tag, false)
	}

	publishedCount := s.publishApproved(ctx, result.Approved, cache, updates)

	finalUpdates := make([]storage.ProcessedUpdate, 0, len(updates))
	for _, u := range updates {
		finalUpdates = append(finalUpdates, u)
	}
	if err := s.deps.Store.MarkProcessedBatch(ctx, finalUpdates); err != nil {
		return Summary{}, fmt.Errorf("scheduler: mark processed batch: %w", err)
	}

	summary := Summary{
		Candidates: len(unprocessed),
		Selected:   len(selected),
		Approved:   len(result.Approved),
		Published:  publishedCount,
	}
	log.Info().
		Int("candidates", summary.Candidates).
		Int("selected", summary.Selected).
		Int("approved", summary.Approved).
		Int("published", summary.Published).
		Msg("scheduler: processor run complete")
	return summary, nil
}

// moderate runs the interactive conversation when configured and
// available, falling back to AutoModerate otherwise.
func (s *Scheduler) moderate(ctx context.Context, selected []domain.SelectedItem) (moderation.Result, error) {
	if !s.cfg.ModerationAuto && s.deps.Conversation != nil {
		kept, err := moderation.WaitForModerationResponse(ctx, s.deps.Conversation, selected, s.cfg.InteractiveOptions, s.deps.Log)
		if err != nil {
			return moderation.Result{}, err
		}
		return interactiveResult(selected, kept), nil
	}
	return moderation.AutoModerate(ctx, selected, s.deps.Encoder, s.cfg.ModerationOptions, s.deps.Log)
}

// interactiveResult reconciles WaitForModerationResponse's return shape
// (kept items, or nil for cancel/exhausted-retries) against the full
// candidate set, tagging every excluded item rejected_by_moderator.
func interactiveResult(selected []domain.SelectedItem, kept []domain.SelectedItem) moderation.Result {
	rejected := make(map[int64]domain.RejectionTag)
	if kept == nil {
		for _, it := range selected {
			rejected[it.SourceMessageID] = domain.RejectedByModerator
		}
		return moderation.Result{Rejected: rejected}
	}
	keptIDs := make(map[int64]bool, len(kept))
	for _, it := range kept {
		keptIDs[it.SourceMessageID] = true
	}
	for _, it := range selected {
		if !keptIDs[it.SourceMessageID] {
			rejected[it.SourceMessageID] = domain.RejectedByModerator
		}
	}
	return moderation.Result{Approved: kept, Rejected: rejected}
}

// publishApproved groups approved items by category and publishes each
// group strictly sequentially, updating the dedup cache after each group
// completes so later categories in the same run see the items earlier
// categories just published.
func (s *Scheduler) publishApproved(ctx context.Context, approved []domain.SelectedItem, cache *dedup.Cache, updates map[int64]storage.ProcessedUpdate) int {
	byCategory := fn.GroupBy(approved, func(it domain.SelectedItem) string { return it.Category })

	order := s.cfg.CategoryOrder
	if len(order) == 0 {
		for cat := range byCategory {
			order = append(order, cat)
		}
		sort.Strings(order)
	}

	published := 0
	for _, cat := range order {
		group := byCategory[cat]
		if len(group) == 0 {
			continue
		}
		opts := s.cfg.PublishOptions
		opts.TemplateParams.Marketplace = cat
		opts.TemplateParams.Date = time.Now()

		out, err := s.deps.Publisher.Publish(ctx, group, opts)
		if err != nil {
			// Leave the group unmarked: the next run retries it, and the
			// dedup cache filters out anything that did get through.
			s.deps.Log.Error().Err(err).Str("category", cat).Msg("scheduler: publish failed, category left for next run")
			for _, it := range group {
				delete(updates, it.SourceMessageID)
			}
			continue
		}

		publish.UpdateDedupCache(cache, out)

		// A failed SavePublished still means the item went out in the
		// digest; it is only invisible to cross-category dedup this run.
		for _, it := range group {
			tag := domain.Published_
			updates[it.SourceMessageID] = storage.ProcessedUpdate{MessageID: it.SourceMessageID, LLMScore: scorePtr(it.Score), RejectionReason: &tag}
		}

		published += len(out.PublishedIDs)
		if s.deps.Metrics != nil {
			s.deps.Metrics.DigestPublished.Inc()
			s.deps.Metrics.DigestItemsByCat.WithLabelValues(cat).Add(float64(len(out.PublishedIDs)))
		}
		s.publish(SubjectDigestPublished, DigestPublishedEvent{Category: cat, Count: len(out.PublishedIDs), PublishedAt: time.Now().UTC()})
	}
	return published
}

func scorePtr(n int) *int {
	return &n
}
