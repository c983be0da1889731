// Package selection implements the categorized LLM selection stage: it
// takes hundreds of raw candidate messages and returns a structured
// {category -> ordered items} mapping satisfying per-category quotas,
// chunking large inputs, validating the model's structured response, and
// deduplicating across chunks by source message id. Two providers
// implement the LLMClient contract: a chat-completion client and a
// generative-model client.
package selection

// Message is one candidate a caller wants considered for selection. It is
// a flattened, provider-agnostic view over a domain.RawMessage plus the
// channel fields the prompt and enrichment step need.
type Message struct {
	ID            int64
	ChannelID     int64
	ChannelHandle string
	ExternalID    string
	Text          string
}
