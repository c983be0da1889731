package selection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lifeexplorer230/newsdigest/engine/domain"
	"github.com/lifeexplorer230/newsdigest/pkg/fn"
	"github.com/rs/zerolog"
)

// InterChunkCooldown is the fixed pause between chunk requests, so a
// run of several chunks doesn't hammer the provider's rate limit.
const InterChunkCooldown = 5 * time.Second

// defaultChunkSize is the default number of messages sent in one
// categorized-selection request.
const defaultChunkSize = 40

// Request is everything one select-by-categories run needs.
type Request struct {
	Messages                []Message
	CategoryCounts          map[string]int
	CategoryDescriptions    map[string]string
	RecentlyPublishedTopics []string
	ChunkSize               int
	PromptTemplate          string // empty uses DefaultSelectionPrompt
	MaxTokens               int    // 0 disables the size-warning log
}

// Selector runs the categorized LLM selection stage against one provider.
type Selector struct {
	client LLMClient
	log    zerolog.Logger
	sleep  func(time.Duration) // overridable for tests
}

// NewSelector builds a Selector bound to client.
func NewSelector(client LLMClient, log zerolog.Logger) *Selector {
	return &Selector{client: client, log: log, sleep: time.Sleep}
}

// Select chunks req.Messages, asks the provider to categorize each chunk,
// merges the results, deduplicates by source message id across chunks,
// and finally enforces req.CategoryCounts as a hard per-category quota.
// A chunk whose response fails to parse is logged and skipped rather than
// aborting the whole run.
func (s *Selector) Select(ctx context.Context, req Request) ([]domain.SelectedItem, error) {
	if len(req.Messages) == 0 {
		return nil, nil
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	template := req.PromptTemplate
	if template == "" {
		template = DefaultSelectionPrompt
	}
	order := sortedCategoryNames(req.CategoryCounts)
	description, jsonStructure := categoryPlan(order, req.CategoryCounts, req.CategoryDescriptions)
	recent := recentlyPublishedSection(req.RecentlyPublishedTopics)

	byID := make(map[int64]Message, len(req.Messages))
	for _, m := range req.Messages {
		byID[m.ID] = m
	}

	chunks := fn.Chunk(req.Messages, chunkSize)
	var merged []Item

	for i, chunk := range chunks {
		if i > 0 {
			s.sleep(InterChunkCooldown)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rendered := renderTemplate(template, renderParams{
			CategoriesDescription:    description,
			MessagesBlock:            buildMessagesBlock(chunk),
			JSONStructure:            jsonStructure,
			RecentlyPublishedSection: recent,
		})
		system, user := splitPrompt(rendered, "Ты — эксперт-редактор новостного дайджеста.")
		requestID := generateRequestID()

		if req.MaxTokens > 0 {
			s.logPromptSize(rendered, req.MaxTokens, requestID)
		}

		reply, err := s.client.Complete(ctx, system, user, requestID)
		if err != nil {
			s.log.Warn().Err(err).Str("request_id", requestID).Int("chunk", i).Msg("selection chunk failed, skipping")
			continue
		}

		fallback := "general"
		if len(order) > 0 {
			fallback = order[0]
		}
		parsed, err := parseResponse(reply, fallback)
		if err != nil {
			s.log.Warn().Err(err).Str("request_id", requestID).Int("chunk", i).Msg("selection chunk response invalid, skipping")
			continue
		}

		for cat, rawItems := range parsed {
			for _, r := range rawItems {
				msg, ok := byID[r.ID]
				if !ok {
					continue // model hallucinated an id not in this request
				}
				merged = append(merged, Item{
					SourceMessageID: msg.ID,
					ChannelID:       msg.ChannelID,
					Category:        cat,
					Title:           r.Title,
					Description:     r.Description,
					Score:           r.Score,
					Reason:          r.Reason,
				})
			}
		}
	}

	deduped := deduplicateBySourceID(merged)
	quotaed := applyCategoryQuotas(deduped, req.CategoryCounts, order)

	result := make([]domain.SelectedItem, 0, len(quotaed))
	for _, it := range quotaed {
		msg := byID[it.SourceMessageID]
		result = append(result, domain.SelectedItem{
			SourceMessageID: it.SourceMessageID,
			ChannelID:       it.ChannelID,
			Category:        it.Category,
			Title:           it.Title,
			Description:     it.Description,
			Score:           it.Score,
			Reason:          it.Reason,
			SourceLink:      messageLink(msg),
			OriginalText:    msg.Text,
		})
	}
	return result, nil
}

func generateRequestID() string {
	return uuid.New().String()[:8]
}

func messageLink(m Message) string {
	if m.ChannelHandle == "" || m.ExternalID == "" {
		return ""
	}
	return "https://t.me/" + m.ChannelHandle + "/" + m.ExternalID
}

// logPromptSize warns when the rendered prompt approaches or exceeds
// maxTokens, using a chars/4 token estimate: info at >=80% of budget,
// warn at >100%.
func (s *Selector) logPromptSize(rendered string, maxTokens int, requestID string) {
	est := estimatedTokens(rendered)
	ratio := float64(est) / float64(maxTokens)
	ev := s.log.Info()
	if ratio > 1.0 {
		ev = s.log.Warn()
	} else if ratio < 0.8 {
		return
	}
	ev.Str("request_id", requestID).Int("estimated_tokens", est).Int("max_tokens", maxTokens).Float64("ratio", ratio).Msg("prompt size")
}
