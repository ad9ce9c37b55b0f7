package feed

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"
)

// ErrMalformed reports a feed document that cannot be turned into items.
var ErrMalformed = errors.New("malformed feed")

// Zoned layouts accepted for RSS pubDate. Atom requires RFC 3339.
var rssDateLayouts = []string{
	time.RFC1123Z,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
}

// entry is the format-neutral view of one feed entry.
type entry struct {
	title     string
	link      string
	published string
}

// Parse decodes one channel's Atom/RSS document. Every item carries the feed's
// channel name and the given handle. A feed without entries yields no items.
//
// Parsing is strict: a single entry without a title, a canonical link or a
// zoned published time fails the whole document. Atom entries must carry
// <published>; <updated> is not a substitute.
func Parse(raw string, handle string) ([]Item, error) {
	var (
		channel string
		entries []entry
		parseAt func(string) (time.Time, error)
	)

	switch gofeed.DetectFeedType(strings.NewReader(raw)) {
	case gofeed.FeedTypeAtom:
		doc, err := (&atom.Parser{}).Parse(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		channel = atomChannel(doc)
		entries = atomEntries(doc)
		parseAt = parseAtomTime
	case gofeed.FeedTypeRSS:
		doc, err := (&rss.Parser{}).Parse(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		channel = strings.TrimSpace(doc.Title)
		entries = rssEntries(doc)
		parseAt = parseRSSTime
	default:
		return nil, fmt.Errorf("%w: %v", ErrMalformed, gofeed.ErrFeedTypeNotDetected)
	}

	if len(entries) == 0 {
		return []Item{}, nil
	}
	if channel == "" {
		return nil, fmt.Errorf("%w: feed has no channel name", ErrMalformed)
	}

	handle = strings.TrimSpace(handle)
	items := make([]Item, 0, len(entries))
	for i, e := range entries {
		item, err := itemFromEntry(e, channel, handle, parseAt)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformed, i, err)
		}
		items = append(items, item)
	}

	return items, nil
}

func itemFromEntry(e entry, channel, handle string, parseAt func(string) (time.Time, error)) (Item, error) {
	if e.title == "" {
		return Item{}, errors.New("missing title")
	}
	if e.link == "" {
		return Item{}, errors.New("missing link")
	}
	if e.published == "" {
		return Item{}, errors.New("missing published time")
	}

	published, err := parseAt(e.published)
	if err != nil {
		return Item{}, fmt.Errorf("unparseable published time %q", e.published)
	}

	return Item{
		Channel:     channel,
		Handle:      handle,
		Title:       e.title,
		Link:        e.link,
		PublishedAt: published.UTC(),
	}, nil
}

// atomChannel prefers the feed author (the channel name on YouTube feeds)
// and falls back to the feed title.
func atomChannel(doc *atom.Feed) string {
	for _, a := range doc.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	return strings.TrimSpace(doc.Title)
}

func atomEntries(doc *atom.Feed) []entry {
	entries := make([]entry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		if e == nil {
			continue
		}
		entries = append(entries, entry{
			title:     strings.TrimSpace(e.Title),
			link:      alternateLink(e.Links),
			published: strings.TrimSpace(e.Published),
		})
	}
	return entries
}

// alternateLink returns the first rel="alternate" href. A link without rel
// is alternate per RFC 4287.
func alternateLink(links []*atom.Link) string {
	for _, l := range links {
		if l == nil {
			continue
		}
		rel := strings.TrimSpace(l.Rel)
		if rel != "" && rel != "alternate" {
			continue
		}
		if href := strings.TrimSpace(l.Href); href != "" {
			return href
		}
	}
	return ""
}

func rssEntries(doc *rss.Feed) []entry {
	entries := make([]entry, 0, len(doc.Items))
	for _, it := range doc.Items {
		if it == nil {
			continue
		}
		entries = append(entries, entry{
			title:     strings.TrimSpace(it.Title),
			link:      strings.TrimSpace(it.Link),
			published: strings.TrimSpace(it.PubDate),
		})
	}
	return entries
}

func parseAtomTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseRSSTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range rssDateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
