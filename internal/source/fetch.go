// Package source downloads channel feed documents.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (compatible; subwatch/1.0; +https://github.com/ppiankov/subwatch)"
	youtubeFeedBase  = "https://www.youtube.com/feeds/videos.xml"
	maxFeedBytes     = 10 << 20
)

// ErrTimeout reports a fetch that did not finish before its deadline.
var ErrTimeout = errors.New("fetch timed out")

// ChannelFeedURL returns the public Atom feed URL of a YouTube channel.
func ChannelFeedURL(channelID string) string {
	return youtubeFeedBase + "?channel_id=" + url.QueryEscape(strings.TrimSpace(channelID))
}

// HTTPFetcher fetches raw feed documents over HTTP. Deadlines come from the
// caller's context.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTP creates a fetcher that identifies itself with userAgent.
func NewHTTP(userAgent string) *HTTPFetcher {
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPFetcher{
		client: &http.Client{
			Transport: &userAgentTransport{base: http.DefaultTransport, userAgent: userAgent},
		},
	}
}

// userAgentTransport injects a User-Agent header into every request.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// Fetch returns the body of feedURL. Non-2xx responses are errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, feedURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", feedURL, err)
	}
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", wrapFetchErr(ctx, feedURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: HTTP %d %s", feedURL, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return "", wrapFetchErr(ctx, feedURL, err)
	}
	if len(body) > maxFeedBytes {
		return "", fmt.Errorf("fetch %s: body exceeds %d bytes", feedURL, maxFeedBytes)
	}

	return string(body), nil
}

func wrapFetchErr(ctx context.Context, feedURL string, err error) error {
	if isTimeout(ctx, err) {
		return fmt.Errorf("fetch %s: %w", feedURL, ErrTimeout)
	}
	return fmt.Errorf("fetch %s: %w", feedURL, err)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
