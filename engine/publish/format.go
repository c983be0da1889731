// Package publish implements the final delivery stage: digest
// formatting, optional preview/personal-account notification, ordered
// send to the target channel, and the post-publish embedding persistence
// that feeds the dedup cache for the rest of the run.
package publish

import (
	"fmt"
	"strings"
	"time"

	"github.com/lifeexplorer230/newsdigest/engine/domain"
)

// numberEmojis is the keycap-digit prefix set for items 1-10, plus the
// two-keycap combinations for 11-15. Items beyond 15 fall back to a
// plain "n." prefix.
var numberEmojis = map[int]string{
	1: "1️⃣", 2: "2️⃣", 3: "3️⃣", 4: "4️⃣", 5: "5️⃣",
	6: "6️⃣", 7: "7️⃣", 8: "8️⃣", 9: "9️⃣", 10: "\U0001f51f",
	11: "1️⃣1️⃣", 12: "1️⃣2️⃣", 13: "1️⃣3️⃣",
	14: "1️⃣4️⃣", 15: "1️⃣5️⃣",
}

func numberPrefix(n int) string {
	if e, ok := numberEmojis[n]; ok {
		return e
	}
	return fmt.Sprintf("%d.", n)
}

// TemplateParams is the named-substitution set header/footer templates
// draw from.
type TemplateParams struct {
	Date        time.Time
	DisplayName string
	Marketplace string
	Channel     string
	Profile     string
}

// fallbackHeader is used whenever the configured template references a
// placeholder not in TemplateParams, or when no template is configured
// at all.
func fallbackHeader(p TemplateParams) string {
	return fmt.Sprintf("📌 Главные новости за %s", p.Date.Format("02-01-2006"))
}

// renderTemplate substitutes {date, display_name, marketplace, channel,
// profile} into template. An unresolvable placeholder (one the template
// references that isn't in this set) discards the template and returns
// fallback entirely rather than leaving a raw {token} in the digest.
func renderTemplate(template string, p TemplateParams, fallback string) string {
	if template == "" {
		return fallback
	}
	if strings.Contains(template, "{") {
		for _, token := range extractPlaceholders(template) {
			switch token {
			case "date", "display_name", "marketplace", "channel", "profile":
			default:
				return fallback
			}
		}
	}
	replacer := strings.NewReplacer(
		"{date}", p.Date.Format("02-01-2006"),
		"{display_name}", p.DisplayName,
		"{marketplace}", p.Marketplace,
		"{channel}", p.Channel,
		"{profile}", p.Profile,
	)
	return replacer.Replace(template)
}

// extractPlaceholders returns the {name} tokens (without braces) found in
// s, in order of first appearance.
func extractPlaceholders(s string) []string {
	var out []string
	for {
		start := strings.IndexByte(s, '{')
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		out = append(out, s[start+1:start+end])
		s = s[start+end+1:]
	}
	return out
}

// FormatDigest composes the full outbound message: header, numbered
// items (bold title, description, optional source link), footer.
func FormatDigest(items []domain.SelectedItem, p TemplateParams, headerTemplate, footerTemplate string) string {
	var b strings.Builder
	b.WriteString(renderTemplate(headerTemplate, p, fallbackHeader(p)))
	b.WriteString("\n\n")

	for i, it := range items {
		fmt.Fprintf(&b, "%s **%s**\n", numberPrefix(i+1), it.Title)
		fmt.Fprintf(&b, "%s\n", it.Description)
		if it.SourceLink != "" {
			fmt.Fprintf(&b, "%s\n", it.SourceLink)
		}
		b.WriteString("\n")
	}

	footer := renderTemplate(footerTemplate, p, "")
	if footer != "" {
		b.WriteString(footer)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ensurePostFields fills a missing title or description from the
// original text and caps the description at 250 chars on a word
// boundary.
func ensurePostFields(it domain.SelectedItem) domain.SelectedItem {
	if it.Title == "" {
		it.Title = deriveTitle(it.OriginalText)
	}
	if it.Description == "" {
		it.Description = deriveDescription(it.OriginalText)
	}
	const maxDescriptionLength = 250
	if len([]rune(it.Description)) > maxDescriptionLength {
		r := []rune(it.Description)[:maxDescriptionLength]
		cut := strings.LastIndexByte(string(r), ' ')
		if cut > 0 {
			it.Description = string(r)[:cut] + "..."
		} else {
			it.Description = string(r) + "..."
		}
	}
	return it
}

func deriveTitle(text string) string {
	if text == "" {
		return "Без заголовка"
	}
	firstLine, _, _ := strings.Cut(text, "\n")
	firstLine = strings.TrimSpace(firstLine)
	words := strings.Fields(firstLine)
	if len(words) > 7 {
		return strings.Join(words[:7], " ")
	}
	return firstLine
}

func deriveDescription(text string) string {
	if text == "" {
		return "Описание отсутствует"
	}
	firstLine, rest, hasRest := strings.Cut(text, "\n")
	if hasRest {
		return strings.TrimSpace(rest)
	}
	words := strings.Fields(firstLine)
	if len(words) > 7 {
		return strings.Join(words[7:], " ")
	}
	return firstLine
}
