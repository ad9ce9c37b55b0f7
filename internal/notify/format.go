package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/subwatch/internal/feed"
)

// Text renders one item for the given sink kind. now is the reference time
// for the relative "time ago" phrase.
func Text(item feed.Item, kind Kind, now time.Time) (string, error) {
	switch kind {
	case KindLog:
		return logText(item, now), nil
	case KindSlack:
		return fmt.Sprintf("*New video - %s* <%s|%s>", item.Channel, item.Link, item.Title), nil
	case KindTelegram:
		return "", fmt.Errorf("format for %s: %w", kind, ErrUnsupported)
	default:
		return "", fmt.Errorf("format for %q: unknown notifier kind", kind)
	}
}

// logText renders "- @handle [title](link) - 2 hours ago", dropping empty parts.
func logText(item feed.Item, now time.Time) string {
	parts := []string{"-"}
	if h := strings.TrimSpace(item.Handle); h != "" {
		parts = append(parts, h)
	}
	parts = append(parts, fmt.Sprintf("[%s](%s)", item.Title, item.Link))
	if ago := TimeAgo(item.PublishedAt, now); ago != "" {
		parts = append(parts, "- "+ago)
	}
	return strings.Join(parts, " ")
}

// TimeAgo phrases the elapsed time between published and now. Whole hours
// are used from two hours on; below that minutes are kept unless the elapsed
// time is exactly one hour. Under a minute is "just now".
func TimeAgo(published, now time.Time) string {
	elapsed := now.Sub(published)
	hours := int64(elapsed / time.Hour)
	minutes := int64(elapsed / time.Minute)

	switch {
	case hours >= 2:
		return fmt.Sprintf("%d hours ago", hours)
	case hours == 1 && minutes == 60:
		return "1 hour ago"
	case minutes == 1:
		return "1 minute ago"
	case minutes > 1:
		return fmt.Sprintf("%d minutes ago", minutes)
	default:
		return "just now"
	}
}
