package embedding

import (
	"regexp"

	"github.com/lifeexplorer230/newsdigest/internal/sanitize"
)

// NormalizeOptions controls the text normalization pipeline applied
// before encoding, so the same source text always produces the same
// embedding regardless of incidental formatting differences between
// occurrences (e.g. attribution prefixes added by different channels).
type NormalizeOptions struct {
	ReplaceURLs       bool
	StripEmoji        bool
	AttributionPrefix []*regexp.Regexp
}

// DefaultAttributionPrefixes matches the source-attribution patterns
// channels prepend to reposted items: "X сообщает:", "По данным X,",
// "Источник: X", "X заявил:", "Согласно X,". Case-insensitive, anchored
// to line start.
var DefaultAttributionPrefixes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\S+\s+сообщает:\s*`),
	regexp.MustCompile(`(?i)^по\s+данным\s+\S+,\s*`),
	regexp.MustCompile(`(?i)^источник:\s*\S+\s*`),
	regexp.MustCompile(`(?i)^\S+\s+заявил:\s*`),
	regexp.MustCompile(`(?i)^согласно\s+\S+,\s*`),
}

// Normalize collapses whitespace, trims, and applies the optional steps
// in opts. It must run before encoding: unnormalized attribution
// prefixes make otherwise-identical text embed differently.
func Normalize(text string, opts NormalizeOptions) string {
	return sanitize.Text(text, sanitize.Options{
		MaxLength:     0,
		AllowNewlines: false,
		ReplaceURLs:   opts.ReplaceURLs,
		StripEmoji:    opts.StripEmoji,
		StripPrefixes: opts.AttributionPrefix,
	})
}
