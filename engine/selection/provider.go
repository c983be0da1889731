package selection

import "context"

// LLMClient is the common contract both concrete providers (a
// "generative"/Gemini-style client and a "chat"/Claude-style client)
// satisfy. Complete returns the raw model reply text for one chunk's
// rendered (system, user) prompt pair; callers are responsible for
// extracting and validating JSON from the reply.
type LLMClient interface {
	// Complete sends one chunk's prompt and returns the model's raw text
	// reply. requestID is attached to logs/traces only; providers don't
	// need to echo it back.
	Complete(ctx context.Context, system, user string, requestID string) (string, error)

	// Name identifies the provider for logging ("generative", "chat", ...).
	Name() string
}
