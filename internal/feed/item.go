// Package feed turns channel feed documents into items and selects the fresh ones.
package feed

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// Item is a single published entry of a channel feed.
type Item struct {
	Channel     string    // channel display name, shared by every item of one feed
	Handle      string    // configured channel handle, may be empty
	Title       string    // entry title
	Link        string    // canonical entry URL
	PublishedAt time.Time // publication time, UTC
}

// Fresh returns the items published strictly after watermark, in input order.
func Fresh(items []Item, watermark time.Time) []Item {
	return lo.Filter(items, func(it Item, _ int) bool {
		return it.PublishedAt.After(watermark)
	})
}

// SortNewestFirst orders items by publication time, most recent first.
// Items published at the same instant keep their relative order.
func SortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
}
