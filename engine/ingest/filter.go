package ingest

import (
	"strings"
	"time"

	"github.com/lifeexplorer230/newsdigest/internal/sanitize"
)

// DropReason explains why Evaluate rejected an inbound message before it
// ever reached storage. Distinct from domain.RejectionTag, which classifies
// RawMessage rows the processor already persisted and later excluded from
// the digest.
type DropReason string

const (
	DropTooShort        DropReason = "too_short"
	DropTooLarge        DropReason = "payload_too_large"
	DropExcludedKeyword DropReason = "excluded_keyword"
	DropStale           DropReason = "stale"
	DropChannelFiltered DropReason = "channel_filtered"
)

// InboundMessage is the platform-agnostic shape a PlatformClient adapts a
// raw update into before it reaches the filter pipeline.
type InboundMessage struct {
	ChannelHandle string
	ChannelTitle  string
	ExternalID    string
	RawText       string
	OccurredAt    time.Time
	HasMedia      bool
}

// Decision is the outcome of running one InboundMessage through the
// per-event filter pipeline.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Text     string // sanitized text, only meaningful when Accepted
	RawSize  int    // byte length of the original payload, for DoS logging
}

// Evaluate is a pure function of msg and cfg, aside from comparing
// msg.OccurredAt against the current instant for the staleness check.
func Evaluate(msg InboundMessage, cfg FilterConfig) Decision {
	return evaluateAt(msg, cfg, time.Now().UTC())
}

func evaluateAt(msg InboundMessage, cfg FilterConfig, now time.Time) Decision {
	rawSize := len([]byte(msg.RawText))

	// 1. absent or too-short text.
	trimmed := strings.TrimSpace(msg.RawText)
	minLen := cfg.MinMessageLength
	if minLen <= 0 {
		minLen = 50
	}
	if trimmed == "" || len([]rune(trimmed)) < minLen {
		return Decision{Reason: DropTooShort, RawSize: rawSize}
	}

	// 2. DoS protection: reject oversized payloads before any further work.
	if rawSize > sanitize.MaxMessageSize {
		return Decision{Reason: DropTooLarge, RawSize: rawSize}
	}

	// 3. exclude-keyword gate, case-insensitive substring match.
	lower := strings.ToLower(trimmed)
	for _, kw := range cfg.ExcludeKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return Decision{Reason: DropExcludedKeyword, RawSize: rawSize}
		}
	}

	// 4. sanitize.
	sanitized := sanitize.Text(trimmed, sanitize.DefaultOptions())

	// 5. reject late delivery after a reconnect.
	if msg.OccurredAt.Before(now.Add(-24 * time.Hour)) {
		return Decision{Reason: DropStale, RawSize: rawSize}
	}

	// 6. channel whitelist/blacklist gate.
	if !channelAllowed(msg.ChannelHandle, cfg) {
		return Decision{Reason: DropChannelFiltered, RawSize: rawSize}
	}

	return Decision{Accepted: true, Text: sanitized, RawSize: rawSize}
}

// FilterConfig is the subset of listener configuration the pure per-event
// decision function needs.
type FilterConfig struct {
	MinMessageLength int
	ExcludeKeywords  []string
	ChannelWhitelist []string
	ChannelBlacklist []string
}

func channelAllowed(handle string, cfg FilterConfig) bool {
	handle = normalizeHandle(handle)
	for _, b := range cfg.ChannelBlacklist {
		if normalizeHandle(b) == handle {
			return false
		}
	}
	if len(cfg.ChannelWhitelist) == 0 {
		return true
	}
	for _, w := range cfg.ChannelWhitelist {
		if normalizeHandle(w) == handle {
			return true
		}
	}
	return false
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(h, "@"))
}
