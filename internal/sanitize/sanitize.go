// Package sanitize strips hazardous and invisible Unicode from text before
// it is persisted or sent to an LLM: null bytes, control characters,
// zero-width characters, and bidirectional-override characters. Sanitize is
// idempotent (running it twice produces the same output as running it
// once) and phone numbers are masked before they ever reach a log line.
package sanitize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MaxMessageSize bounds a sanitized message body.
const MaxMessageSize = 100000

var (
	nullBytes      = regexp.MustCompile("\x00")
	controlKeepNL  = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]")
	controlDropAll = regexp.MustCompile("[\x00-\x1F\x7F]")
	zeroWidth      = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}]`)
	bidiOverride   = regexp.MustCompile(`[\x{202A}-\x{202E}\x{2066}-\x{2069}]`)
	collapseSpace  = regexp.MustCompile(`[ \t]+`)
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	emojiPattern   = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}\x{2600}-\x{27BF}]`)
	phonePattern   = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	nonPhoneChar   = regexp.MustCompile(`[^+0-9]`)
)

// Options controls the optional normalization steps applied by Text.
type Options struct {
	MaxLength     int
	AllowNewlines bool
	ReplaceURLs   bool
	StripEmoji    bool
	StripPrefixes []*regexp.Regexp // source-attribution prefixes/infixes
}

// DefaultOptions mirrors the listener's default message sanitization.
func DefaultOptions() Options {
	return Options{MaxLength: MaxMessageSize, AllowNewlines: true}
}

// Text sanitizes s according to opts. It is idempotent: Text(Text(s, o), o)
// == Text(s, o) for any fixed o.
func Text(s string, opts Options) string {
	if s == "" {
		return ""
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = MaxMessageSize
	}

	text := nullBytes.ReplaceAllString(s, "")

	if opts.AllowNewlines {
		text = controlKeepNL.ReplaceAllString(text, "")
	} else {
		text = controlDropAll.ReplaceAllString(text, "")
	}

	// NFKC normalization guards against homograph lookalikes before the
	// zero-width/bidi passes run, so a combining sequence can't reassemble
	// into one of the stripped code points afterward.
	text = norm.NFKC.String(text)

	text = zeroWidth.ReplaceAllString(text, "")
	text = bidiOverride.ReplaceAllString(text, "")

	for _, prefix := range opts.StripPrefixes {
		text = prefix.ReplaceAllString(text, "")
	}

	if opts.ReplaceURLs {
		text = urlPattern.ReplaceAllString(text, "[URL]")
	}
	if opts.StripEmoji {
		text = emojiPattern.ReplaceAllString(text, "")
	}

	if opts.AllowNewlines {
		text = collapseSpace.ReplaceAllString(text, " ")
	} else {
		text = collapseWhitespace(text)
	}

	text = strings.TrimSpace(text)

	if len([]rune(text)) > opts.MaxLength {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:opts.MaxLength]))
	}

	return text
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Username sanitizes a platform username: no newlines, bounded length.
func Username(s string) string {
	return Text(s, Options{MaxLength: 256, AllowNewlines: false})
}

// ChannelName sanitizes a channel display name.
func ChannelName(s string) string {
	return Text(s, Options{MaxLength: 256, AllowNewlines: false})
}

// Phone strips everything but digits and a leading +, and validates the
// result against the platform's 10-15 digit phone format.
func Phone(s string) (string, bool) {
	cleaned := nonPhoneChar.ReplaceAllString(s, "")
	return cleaned, phonePattern.MatchString(cleaned)
}

// MaskPhone renders a phone number safe to place in a log line: the first
// four and last four characters survive, the middle is replaced with
// exactly four asterisks. Inputs shorter than 8 characters mask entirely.
func MaskPhone(phone string) string {
	if len(phone) < 8 {
		return "***"
	}
	return phone[:4] + "****" + phone[len(phone)-4:]
}
