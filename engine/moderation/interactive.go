package moderation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lifeexplorer230/newsdigest/engine/domain"
	"github.com/rs/zerolog"
)

// Conversation is the operator-facing side channel interactive moderation
// sends its listing to and reads a reply from, narrowed to the two
// methods this package needs.
type Conversation interface {
	SendMessage(ctx context.Context, text string) error
	// GetResponse blocks until a reply arrives or timeout elapses,
	// returning a non-nil error on timeout.
	GetResponse(ctx context.Context, timeout time.Duration) (string, error)
}

// InteractiveOptions configures WaitForModerationResponse.
type InteractiveOptions struct {
	Timeout            time.Duration
	MaxRetries         int
	CancelKeywords     []string
	PublishAllKeywords []string
}

func (o InteractiveOptions) withDefaults() InteractiveOptions {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Hour
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if len(o.CancelKeywords) == 0 {
		o.CancelKeywords = []string{"отмена", "cancel"}
	}
	if len(o.PublishAllKeywords) == 0 {
		o.PublishAllKeywords = []string{"0", "все", "all"}
	}
	return o
}

// BuildListingMessage renders the single message sent to the operator:
// candidates numbered 1..N across every category, grouped by category,
// with score and a truncated description, plus the response-grammar
// footer.
func BuildListingMessage(items []domain.SelectedItem) string {
	var b strings.Builder
	b.WriteString("📋 Кандидаты на публикацию:\n\n")

	byCategory := make(map[string][]int)
	var order []string
	for i, it := range items {
		if _, ok := byCategory[it.Category]; !ok {
			order = append(order, it.Category)
		}
		byCategory[it.Category] = append(byCategory[it.Category], i)
	}
	sort.Strings(order)

	for _, cat := range order {
		fmt.Fprintf(&b, "## %s\n", strings.ToUpper(cat))
		for _, idx := range byCategory[cat] {
			it := items[idx]
			desc := it.Description
			if len(desc) > 120 {
				desc = desc[:120] + "…"
			}
			fmt.Fprintf(&b, "%d. [%d/10] %s — %s\n", idx+1, it.Score, it.Title, desc)
		}
		b.WriteString("\n")
	}

	b.WriteString("Ответьте числами через пробел, чтобы ИСКЛЮЧИТЬ посты из публикации.\n")
	b.WriteString("\"0\" / \"все\" — опубликовать всё. \"отмена\" — отменить публикацию.")
	return b.String()
}

// WaitForModerationResponse sends the listing, then waits for an
// operator reply with a bounded number of retries on unparseable input:
//   - timeout elapses  -> nil error, all candidates approved
//   - cancel keyword   -> (nil, nil); caller treats nil slice as abort
//   - publish-all keyword -> (items, nil) unchanged
//   - N valid, in-range, whitespace-separated integers -> those items
//     excluded from the returned slice
//   - anything else -> re-prompt, bounded by MaxRetries; exhausting it
//     aborts (nil, nil) same as cancel
func WaitForModerationResponse(ctx context.Context, conv Conversation, items []domain.SelectedItem, opts InteractiveOptions, log zerolog.Logger) ([]domain.SelectedItem, error) {
	opts = opts.withDefaults()

	if err := conv.SendMessage(ctx, BuildListingMessage(items)); err != nil {
		return nil, fmt.Errorf("moderation: send listing: %w", err)
	}

	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		reply, err := conv.GetResponse(ctx, opts.Timeout)
		if err != nil {
			log.Warn().Err(err).Msg("interactive moderation: no response within timeout, auto-approving all")
			return items, nil
		}

		excluded, ok := parseModerationReply(reply, len(items), opts)
		if !ok {
			if attempt == opts.MaxRetries-1 {
				break
			}
			_ = conv.SendMessage(ctx, "Не удалось распознать ответ. Попробуйте ещё раз.")
			continue
		}
		if excluded == nil {
			return nil, nil // cancel
		}
		if len(excluded) == 0 {
			return items, nil // publish all
		}

		exclude := make(map[int]bool, len(excluded))
		for _, n := range excluded {
			exclude[n] = true
		}
		kept := make([]domain.SelectedItem, 0, len(items))
		for i, it := range items {
			if !exclude[i+1] {
				kept = append(kept, it)
			}
		}
		_ = conv.SendMessage(ctx, fmt.Sprintf("Будет опубликовано: %d из %d.", len(kept), len(items)))
		return kept, nil
	}

	_ = conv.SendMessage(ctx, "Превышено количество попыток. Публикация отменена.")
	return nil, nil
}

// parseModerationReply recognizes the three reply shapes. ok is false
// when the reply is neither a recognized keyword nor a set of in-range
// integers, signaling "retry". excluded is nil (not empty) specifically
// for the cancel keyword, distinguishing it from an empty exclude list
// (publish all).
func parseModerationReply(reply string, total int, opts InteractiveOptions) (excluded []int, ok bool) {
	normalized := strings.ToLower(strings.TrimSpace(reply))
	for _, kw := range opts.CancelKeywords {
		if normalized == kw {
			return nil, true
		}
	}
	for _, kw := range opts.PublishAllKeywords {
		if normalized == kw {
			return []int{}, true
		}
	}

	fields := strings.Fields(normalized)
	nums := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > total {
			continue
		}
		nums = append(nums, n)
	}
	if len(nums) == 0 {
		return nil, false
	}
	return nums, true
}
