// Package domain defines the core entities, tags, and validation gate shared
// by every stage of the digest pipeline: channels, raw ingested messages, and
// published digest items.
package domain

import "time"

// Channel is a subscribed broadcast source. Handle is unique and
// case-insensitive, and immutable once assigned.
type Channel struct {
	ID        int64     `json:"id"`
	Handle    string    `json:"handle"`
	Title     string    `json:"title"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// RawMessage is a single ingested message awaiting processing. It is mutated
// exactly once, by the processor, to set Processed true.
type RawMessage struct {
	ID                int64         `json:"id"`
	ChannelID         int64         `json:"channel_id"`
	ChannelHandle     string        `json:"channel_handle,omitempty"`
	ExternalMessageID string        `json:"external_message_id"`
	Text              string        `json:"text"`
	OccurredAt        time.Time     `json:"occurred_at"`
	HasMedia          bool          `json:"has_media"`
	Processed         bool          `json:"processed"`
	IsDuplicate       bool          `json:"is_duplicate"`
	LLMScore          *int          `json:"llm_score,omitempty"`
	RejectionReason   *RejectionTag `json:"rejection_reason,omitempty"`
	IngestedAt        time.Time     `json:"ingested_at"`
}

// MaxTextLength is the maximum allowed length, in runes, of sanitized
// RawMessage and Published text.
const MaxTextLength = 100000

// Published is a digest item persisted atomically once its source message
// has cleared moderation and been delivered. Embedding is always present and
// always uniform-dimensional within a table.
type Published struct {
	ID              int64     `json:"id"`
	Text            string    `json:"text"`
	Embedding       []float32 `json:"-"`
	SourceMessageID *int64    `json:"source_message_id,omitempty"`
	SourceChannelID int64     `json:"source_channel_id"`
	PublishedAt     time.Time `json:"published_at"`
}

// RejectionTag is a closed-set reason a RawMessage was not selected for
// publication. Kept as a string tag rather than a typed error so it round
// trips through storage and JSON unchanged.
type RejectionTag string

const (
	RejectedByExcludeKeywords  RejectionTag = "rejected_by_exclude_keywords"
	RejectedByKeywordsMismatch RejectionTag = "rejected_by_keywords_mismatch"
	RejectedDuplicate          RejectionTag = "is_duplicate"
	RejectedByLLM              RejectionTag = "rejected_by_llm"
	RejectedByModerator        RejectionTag = "rejected_by_moderator"
	RejectedMissingTitle       RejectionTag = "missing_title"
	RejectedMissingDescription RejectionTag = "missing_description"
	RejectedMissingText        RejectionTag = "missing_text"
	RejectedDuplicateInFinal   RejectionTag = "duplicate_in_final"
	RejectedExceededTopN       RejectionTag = "exceeded_top_n_limit"
	Published_                 RejectionTag = "published"
)

// SelectedItem is one LLM-picked candidate awaiting moderation, carrying the
// enrichment the selection stage adds on top of the source RawMessage.
type SelectedItem struct {
	SourceMessageID int64  `json:"source_message_id"`
	ChannelID       int64  `json:"channel_id"`
	Category        string `json:"category"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Score           int    `json:"score"`
	Reason          string `json:"reason"`
	SourceLink      string `json:"source_link"`
	OriginalText    string `json:"original_text"`
}
