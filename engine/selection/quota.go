package selection

import (
	"sort"

	"github.com/lifeexplorer230/newsdigest/pkg/fn"
)

// Item is one selected, categorized news item ready for enrichment into a
// domain.SelectedItem.
type Item struct {
	SourceMessageID int64
	ChannelID       int64
	Category        string
	Title           string
	Description     string
	Score           int
	Reason          string
}

// deduplicateBySourceID keeps the first occurrence of each
// SourceMessageID, in order. Applied once after all chunks are merged, so
// a message picked for two categories across chunks only counts once.
func deduplicateBySourceID(items []Item) []Item {
	return fn.UniqueBy(items, func(it Item) int64 { return it.SourceMessageID })
}

// applyCategoryQuotas enforces quotas[cat] as a hard cap per category:
// within each category items are sorted by score descending; the top
// `quota` are kept and the rest become "surplus" candidates. Any category
// that ended up under quota is then refilled from the highest-scoring
// surplus items across all categories, relabeling each refill item to the
// category it fills.
func applyCategoryQuotas(items []Item, quotas map[string]int, order []string) []Item {
	byCategory := fn.GroupBy(items, func(it Item) string { return it.Category })
	for cat := range byCategory {
		sort.SliceStable(byCategory[cat], func(i, j int) bool {
			return byCategory[cat][i].Score > byCategory[cat][j].Score
		})
	}

	kept := make(map[string][]Item, len(order))
	var surplus []Item
	for _, cat := range order {
		pool := byCategory[cat]
		quota := quotas[cat]
		if quota < 0 {
			quota = 0
		}
		take := quota
		if take > len(pool) {
			take = len(pool)
		}
		kept[cat] = append([]Item{}, pool[:take]...)
		surplus = append(surplus, pool[take:]...)
	}

	sort.SliceStable(surplus, func(i, j int) bool { return surplus[i].Score > surplus[j].Score })

	for _, cat := range order {
		quota := quotas[cat]
		for len(kept[cat]) < quota && len(surplus) > 0 {
			next := surplus[0]
			surplus = surplus[1:]
			next.Category = cat
			kept[cat] = append(kept[cat], next)
		}
	}

	return fn.FlatMap(order, func(cat string) []Item { return kept[cat] })
}
