package selection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lifeexplorer230/newsdigest/internal/sanitize"
)

// PromptSplitMarker separates the system and user portions of a rendered
// prompt template. A template without the marker falls back to a short
// generic system prompt with the whole template as the user prompt.
const PromptSplitMarker = "---SPLIT---"

// categoryEmojis cycles through a small fixed set to decorate each
// category heading in the rendered prompt.
var categoryEmojis = []string{"📦", "🔔", "📊", "🎮", "🎬", "🪙", "🤖", "💻"}

// messageTextLimit bounds each message's text before it is inserted into
// the prompt.
const messageTextLimit = 1500

// escapeBraces doubles curly braces so the text survives Go's
// strings.NewReplacer-based template substitution without being mistaken
// for a placeholder.
func escapeBraces(s string) string {
	s = strings.ReplaceAll(s, "{", "{{")
	s = strings.ReplaceAll(s, "}", "}}")
	return s
}

// buildMessagesBlock renders every message as "ID / channel / text",
// sanitized for prompt injection and truncated, then escapes braces in the
// combined block.
func buildMessagesBlock(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		snippet := sanitize.Text(m.Text, sanitize.Options{MaxLength: messageTextLimit, AllowNewlines: true})
		parts = append(parts, fmt.Sprintf("ID: %d\nКанал: @%s\nТекст:\n%s", m.ID, m.ChannelHandle, snippet))
	}
	return escapeBraces(strings.Join(parts, "\n\n"))
}

// categoryPlan renders the category description block and the JSON
// structure skeleton the model is asked to fill in, in a stable order
// (category_counts iteration order is not guaranteed, so callers should
// pass an ordered slice of category names alongside the quota map).
func categoryPlan(order []string, counts map[string]int, descriptions map[string]string) (description, jsonStructure string) {
	var descLines, jsonLines []string
	for i, name := range order {
		emoji := categoryEmojis[(i+1)%len(categoryEmojis)]
		desc := descriptions[name]
		if desc == "" {
			desc = fmt.Sprintf("новости категории '%s'", name)
		}
		descLines = append(descLines, fmt.Sprintf("%s %s (%d) — %s", emoji, strings.ToUpper(name), counts[name], desc))
		jsonLines = append(jsonLines, fmt.Sprintf(`  "%s": [{"id": ..., "title": "...", "description": "...", "score": ..., "reason": "..."}]`, name))
	}
	return strings.Join(descLines, "\n"), strings.Join(jsonLines, ",\n")
}

// recentlyPublishedSection renders the "thematic memory" block the prompt
// includes so the model avoids re-selecting recently covered topics. Empty
// when topics is empty.
func recentlyPublishedSection(topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	capped := topics
	if len(capped) > 30 {
		capped = capped[:30]
	}
	lines := make([]string, len(capped))
	for i, t := range capped {
		lines[i] = "- " + t
	}
	return "\n\n## РАНЕЕ ОПУБЛИКОВАННЫЕ ТЕМЫ (избегай тематических повторов)\n" +
		"За последние 7 дней уже были опубликованы следующие новости. " +
		"НЕ выбирай новости, покрывающие те же темы/события:\n\n" + strings.Join(lines, "\n")
}

// sortedCategoryNames returns category_counts' keys in a stable,
// deterministic order for prompt rendering.
func sortedCategoryNames(counts map[string]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// renderParams is the named-parameter substitution set the template
// placeholders draw from.
type renderParams struct {
	CategoriesDescription    string
	MessagesBlock            string
	JSONStructure            string
	RecentlyPublishedSection string
}

// renderTemplate substitutes {categories_description}, {messages_block},
// {json_structure}, {recently_published_section} into template.
func renderTemplate(template string, p renderParams) string {
	replacer := strings.NewReplacer(
		"{categories_description}", p.CategoriesDescription,
		"{messages_block}", p.MessagesBlock,
		"{json_structure}", p.JSONStructure,
		"{recently_published_section}", p.RecentlyPublishedSection,
	)
	return replacer.Replace(template)
}

// splitPrompt divides a rendered template into (system, user) around
// PromptSplitMarker, falling back to a generic system prompt when absent.
func splitPrompt(rendered, fallbackSystem string) (system, user string) {
	if idx := strings.Index(rendered, PromptSplitMarker); idx >= 0 {
		return strings.TrimSpace(rendered[:idx]), strings.TrimSpace(rendered[idx+len(PromptSplitMarker):])
	}
	return fallbackSystem, strings.TrimSpace(rendered)
}

// DefaultSelectionPrompt is used when no "select_by_categories" template
// is configured. The instruction text is Russian because the digest's
// audience is Russian-speaking.
const DefaultSelectionPrompt = `Ты — эксперт-редактор новостного дайджеста. Отбери самые важные новости и разложи их по категориям.

{categories_description}

## ДЕДУПЛИКАЦИЯ
Выбирай МАКСИМАЛЬНО РАЗНЫЕ новости. Одно событие = одна новость.
{recently_published_section}

---SPLIT---

## СООБЩЕНИЯ ДЛЯ АНАЛИЗА:

{messages_block}

## ФОРМАТ ОТВЕТА
Верни JSON-объект:
{
{json_structure}
}

Верни ТОЛЬКО JSON без дополнительного текста.`

// DefaultRewritePrompt is used when no "rewrite_digest" template is
// configured.
const DefaultRewritePrompt = `Ты — редактор дайджеста. Перепиши набор новостей в единый связный пост.

---SPLIT---

{header}

{news_block}

{footer}`

// estimatedTokens approximates the prompt's token count as chars/4.
func estimatedTokens(prompt string) int {
	return len(prompt) / 4
}
