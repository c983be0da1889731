package selection

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawItem is the wire shape of one LLM-returned news item: id, title,
// description and a score in [1, 10] are required; the rest is optional
// and filled in by enrichment.
type rawItem struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Score       int    `json:"score"`
	Reason      string `json:"reason"`
	Category    string `json:"category,omitempty"`
}

func (r rawItem) validate() error {
	if r.Title == "" {
		return fmt.Errorf("missing title")
	}
	if r.Description == "" {
		return fmt.Errorf("missing description")
	}
	if r.Score < 1 || r.Score > 10 {
		return fmt.Errorf("score %d out of [1,10]", r.Score)
	}
	return nil
}

// extractJSON strips markdown code fences and, failing a direct parse,
// finds the first balanced top-level JSON object or array in text. It
// returns "" if nothing resembling JSON is found.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimPrefix(text, "json")
		text = strings.TrimPrefix(text, "\n")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return text
	}
	return firstBalancedJSON(text)
}

// firstBalancedJSON scans for the first top-level {...} or [...] span,
// tracking string/escape state so braces inside string literals don't
// confuse the bracket count.
func firstBalancedJSON(text string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			if text[i] == '{' {
				open, close = '{', '}'
			} else {
				open, close = '[', ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// parseResponse parses a model reply into per-category raw items,
// trying the response shapes in order: a fixed/dynamic-category object
// first, then a flat list (each item's own Category field, or
// fallbackCategory when absent, decides its bucket). Returns an error only
// when no variant validates at all; callers treat that as "drop this
// chunk, keep going".
func parseResponse(reply string, fallbackCategory string) (map[string][]rawItem, error) {
	jsonText := extractJSON(reply)
	if jsonText == "" {
		return nil, fmt.Errorf("selection: no JSON object or array found in response")
	}

	if strings.HasPrefix(jsonText, "{") {
		var asObject map[string][]rawItem
		if err := json.Unmarshal([]byte(jsonText), &asObject); err == nil {
			if err := validateAll(asObject); err != nil {
				return nil, err
			}
			return asObject, nil
		}
	}

	var asList []rawItem
	if err := json.Unmarshal([]byte(jsonText), &asList); err != nil {
		return nil, fmt.Errorf("selection: response matched neither category-object nor flat-list shape: %w", err)
	}
	if err := validateList(asList); err != nil {
		return nil, err
	}
	grouped := make(map[string][]rawItem)
	for _, item := range asList {
		cat := item.Category
		if cat == "" {
			cat = fallbackCategory
		}
		grouped[cat] = append(grouped[cat], item)
	}
	return grouped, nil
}

func validateAll(categories map[string][]rawItem) error {
	for cat, items := range categories {
		if err := validateList(items); err != nil {
			return fmt.Errorf("category %q: %w", cat, err)
		}
	}
	return nil
}

func validateList(items []rawItem) error {
	for i, item := range items {
		if err := item.validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}
