package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/subwatch/internal/feed"
	"github.com/ppiankov/subwatch/internal/notify"
	"github.com/ppiankov/subwatch/internal/source"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var (
	testNow   = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	testClock = func() time.Time { return testNow }
)

type fetchResult struct {
	body  string
	err   error
	block bool
}

type fakeFetcher struct {
	responses map[string]fetchResult
	calls     atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, feedURL string) (string, error) {
	f.calls.Add(1)
	r, ok := f.responses[feedURL]
	if !ok {
		return "", fmt.Errorf("fetch %s: HTTP 404 Not Found", feedURL)
	}
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.body, r.err
}

type recordingNotifier struct {
	kind notify.Kind
	err  error

	mu      sync.Mutex
	batches [][]string
	modes   []bool
}

func (n *recordingNotifier) Kind() notify.Kind { return n.kind }

func (n *recordingNotifier) Notify(_ context.Context, texts []string, batch bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, append([]string(nil), texts...))
	n.modes = append(n.modes, batch)
	return n.err
}

// atomFeed renders a channel feed whose entries are published at the given
// offsets before testNow, in the given order.
func atomFeed(channel string, offsets ...time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>%s</title>
  <author><name>%s</name></author>
`, channel, channel)
	for i, off := range offsets {
		fmt.Fprintf(&b, `  <entry>
    <title>%s %d</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=%s-%d"/>
    <published>%s</published>
  </entry>
`, channel, i, strings.ReplaceAll(channel, " ", ""), i, testNow.Add(-off).Format(time.RFC3339))
	}
	b.WriteString("</feed>")
	return b.String()
}

func newTestOrchestrator(fetcher Fetcher, notifiers ...notify.Notifier) (*Orchestrator, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	return New(fetcher, notifiers, logger, Options{Workers: 3, FetchTimeout: time.Second, Now: testClock}), hook
}

func hasMessage(hook *test.Hook, level log.Level, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

func TestRun_FifteenEntries(t *testing.T) {
	offsets := make([]time.Duration, 15)
	for i := range offsets {
		offsets[i] = time.Duration(i+1) * time.Hour
	}

	fetcher := &fakeFetcher{responses: map[string]fetchResult{
		"https://feeds/test": {body: atomFeed("Test Channel", offsets...)},
	}}
	logSink := &recordingNotifier{kind: notify.KindLog}
	slackSink := &recordingNotifier{kind: notify.KindSlack}
	o, _ := newTestOrchestrator(fetcher, logSink, slackSink)

	channels := []Channel{{Name: "@TestChannel", Handle: "@TestChannel", FeedURL: "https://feeds/test"}}
	report, err := o.Run(context.Background(), channels, testNow.Add(-30*24*time.Hour), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(report.Items) != 15 {
		t.Fatalf("got %d items, want 15", len(report.Items))
	}
	if report.Notified != 2 {
		t.Errorf("notified = %d, want 2", report.Notified)
	}

	for _, sink := range []*recordingNotifier{logSink, slackSink} {
		if len(sink.batches) != 1 {
			t.Fatalf("%s: got %d notify calls, want 1", sink.kind, len(sink.batches))
		}
		if len(sink.batches[0]) != 15 {
			t.Fatalf("%s: got %d lines, want 15", sink.kind, len(sink.batches[0]))
		}
		if !sink.modes[0] {
			t.Errorf("%s: batch flag not passed through", sink.kind)
		}
	}

	if got := logSink.batches[0][0]; got != "- @TestChannel [Test Channel 0](https://www.youtube.com/watch?v=TestChannel-0) - 1 hour ago" {
		t.Errorf("first log line = %q", got)
	}
	if got := logSink.batches[0][14]; !strings.HasSuffix(got, "- 15 hours ago") {
		t.Errorf("last log line = %q", got)
	}
	if got := slackSink.batches[0][0]; got != "*New video - Test Channel* <https://www.youtube.com/watch?v=TestChannel-0|Test Channel 0>" {
		t.Errorf("first slack line = %q", got)
	}

	for i := 1; i < len(report.Items); i++ {
		if report.Items[i].PublishedAt.After(report.Items[i-1].PublishedAt) {
			t.Fatalf("items not newest first at %d", i)
		}
	}
}

func TestRun_NoEntries(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string]fetchResult{
		"https://feeds/empty": {body: atomFeed("Empty Channel")},
	}}
	sink := &recordingNotifier{kind: notify.KindLog}
	o, hook := newTestOrchestrator(fetcher, sink)

	report, err := o.Run(context.Background(), []Channel{{Name: "empty", FeedURL: "https://feeds/empty"}}, testNow.Add(-time.Hour), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.batches) != 0 {
		t.Errorf("sink called %d times, want 0", len(sink.batches))
	}
	if len(report.Items) != 0 {
		t.Errorf("got %d items, want 0", len(report.Items))
	}
	if !hasMessage(hook, log.InfoLevel, "No new videos found.") {
		t.Errorf("missing info line, got %v", hook.AllEntries())
	}
}

func TestRun_NothingFresh(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string]fetchResult{
		"https://feeds/a": {body: atomFeed("A", 5*time.Hour, 6*time.Hour)},
	}}
	sink := &recordingNotifier{kind: notify.KindLog}
	o, hook := newTestOrchestrator(fetcher, sink)

	_, err := o.Run(context.Background(), []Channel{{Name: "a", FeedURL: "https://feeds/a"}}, testNow.Add(-5*time.Hour), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.batches) != 0 {
		t.Errorf("sink called for items at or before the watermark")
	}
	if !hasMessage(hook, log.InfoLevel, "No new videos found.") {
		t.Error("missing info line")
	}
}

func TestRun_GlobalOrderAcrossChannels(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string]fetchResult{
		"https://feeds/a": {body: atomFeed("A", 10*time.Hour, 2*time.Hour)},
		"https://feeds/b": {body: atomFeed("B", 1*time.Hour, 8*time.Hour)},
		"https://feeds/c": {body: atomFeed("C", 4*time.Hour)},
	}}
	sink := &recordingNotifier{kind: notify.KindSlack}
	o, _ := newTestOrchestrator(fetcher, sink)

	channels := []Channel{
		{Name: "a", FeedURL: "https://feeds/a"},
		{Name: "b", FeedURL: "https://feeds/b"},
		{Name: "c", FeedURL: "https://feeds/c"},
	}
	report, err := o.Run(context.Background(), channels, testNow.Add(-24*time.Hour), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"B 0", "A 1", "C 0", "B 1", "A 0"}
	if len(report.Items) != len(want) {
		t.Fatalf("got %d items, want %d", len(report.Items), len(want))
	}
	for i, w := range want {
		if report.Items[i].Title != w {
			t.Errorf("items[%d] = %q, want %q", i, report.Items[i].Title, w)
		}
	}
	for i, text := range sink.batches[0] {
		if !strings.Contains(text, "|"+want[i]+">") {
			t.Errorf("text[%d] = %q, want title %q", i, text, want[i])
		}
	}
}

func TestRun_TiesKeepChannelOrder(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string]fetchResult{
		"https://feeds/a": {body: atomFeed("A", time.Hour)},
		"https://feeds/b": {body: atomFeed("B", time.Hour)},
	}}
	o, _ := newTestOrchestrator(fetcher, &recordingNotifier{kind: notify.KindLog})

	channels := []Channel{{Name: "a", FeedURL: "https://feeds/a"}, {Name: "b", FeedURL: "https://feeds/b"}}
	report, err := o.Run(context.Background(), channels, testNow.Add(-24*time.Hour), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Items[0].Channel != "A" || report.Items[1].Channel != "B" {
		t.Errorf("tie order = [%s %s], want [A B]", report.Items[0].Channel, report.Items[1].Channel)
	}
}

func TestRun_ChannelFailuresIsolated(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string]fetchResult{
		"https://feeds/good":    {body: atomFeed("Good", time.Hour)},
		"https://feeds/network": {err: errors.New("connection refused")},
		"https://feeds/broken":  {body: "<html>not a feed</html>"},
	}}
	sink := &recordingNotifier{kind: notify.KindLog}
	o, hook := newTestOrchestrator(fetcher, sink)

	channels := []Channel{
		{Name: "network", FeedURL: "https://feeds/network"},
		{Name: "good", FeedURL: "https://feeds/good"},
		{Name: "broken", FeedURL: "https://feeds/broken"},
	}
	report, err := o.Run(context.Background(), channels, testNow.Add(-24*time.Hour), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(report.Items) != 1 || report.Items[0].Channel != "Good" {
		t.Fatalf("items = %v, want the single Good item", report.Items)
	}
	if len(sink.batches) != 1 {
		t.Fatalf("sink called %d times, want 1", len(sink.batches))
	}

	if len(report.ChannelErrors) != 2 {
		t.Fatalf("channel errors = %v, want 2", report.ChannelErrors)
	}
	if report.ChannelErrors[0].Channel != "network" || report.ChannelErrors[1].Channel != "broken" {
		t.Errorf("channel error order = %v", report.ChannelErrors)
	}
	if !errors.Is(report.ChannelErrors[1].Err, feed.ErrMalformed) {
		t.Errorf("broken channel err = %v, want ErrMalformed", report.ChannelErrors[1].Err)
	}

	errorLines := 0
	for _, e := range hook.AllEntries() {
		if e.Level == log.ErrorLevel {
			errorLines++
		}
	}
	if errorLines != 2 {
		t.Errorf("error lines = %d, want 2", errorLines)
	}
}

func TestRun_FetchTimeout(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string]fetchResult{
		"https://feeds/slow": {block: true},
		"https://feeds/fast": {body: atomFeed("Fast", time.Minute)},
	}}
	sink := &recordingNotifier{kind: notify.KindLog}
	logger, _ := test.NewNullLogger()
	o := New(fetcher, []notify.Notifier{sink}, logger, Options{Workers: 2, FetchTimeout: 20 * time.Millisecond, Now: testClock})

	channels := []Channel{{Name: "slow", FeedURL: "https://feeds/slow"}, {Name: "fast", FeedURL: "https://feeds/fast"}}
	report, err := o.Run(context.Background(), channels, testNow.Add(-time.Hour), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(report.ChannelErrors) != 1 || !errors.Is(report.ChannelErrors[0].Err, source.ErrTimeout) {
		t.Fatalf("channel errors = %v, want one ErrTimeout", report.ChannelErrors)
	}
	if len(report.Items) != 1 {
		t.Errorf("got %d items, want 1 from the fast channel", len(report.Items))
	}
	if len(sink.batches) != 1 {
		t.Errorf("sink called %d times, want 1", len(sink.batches))
	}
}

func TestRun_SinkFailuresIsolated(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string]fetchResult{
		"https://feeds/a": {body: atomFeed("A", time.Hour, 2*time.Hour)},
	}}
	failing := &recordingNotifier{kind: notify.KindSlack, err: fmt.Errorf("%w: status 500", notify.ErrTransport)}
	deferred := notify.NewTelegram()
	healthy := &recordingNotifier{kind: notify.KindLog}
	o, hook := newTestOrchestrator(fetcher, failing, deferred, healthy)

	report, err := o.Run(context.Background(), []Channel{{Name: "a", FeedURL: "https://feeds/a"}}, testNow.Add(-24*time.Hour), false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Notified != 1 {
		t.Errorf("notified = %d, want 1", report.Notified)
	}
	if len(report.SinkErrors) != 2 {
		t.Fatalf("sink errors = %v, want 2", report.SinkErrors)
	}
	if !errors.Is(report.SinkErrors[0].Err, notify.ErrTransport) || report.SinkErrors[0].Index != 0 {
		t.Errorf("sink error 0 = %+v", report.SinkErrors[0])
	}
	if !errors.Is(report.SinkErrors[1].Err, notify.ErrUnsupported) || report.SinkErrors[1].Kind != notify.KindTelegram {
		t.Errorf("sink error 1 = %+v", report.SinkErrors[1])
	}

	if len(healthy.batches) != 1 || len(healthy.batches[0]) != 2 {
		t.Errorf("healthy sink batches = %v, want one batch of 2", healthy.batches)
	}
	if len(failing.batches) != 1 {
		t.Errorf("failing sink attempted %d times, want exactly 1", len(failing.batches))
	}
	if !hasMessage(hook, log.ErrorLevel, "notifier failed") {
		t.Error("missing notifier failure log line")
	}
}

func TestRun_CancelledBeforeDelivery(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string]fetchResult{
		"https://feeds/a": {body: atomFeed("A", time.Hour)},
	}}
	sink := &recordingNotifier{kind: notify.KindLog}
	o, _ := newTestOrchestrator(fetcher, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, []Channel{{Name: "a", FeedURL: "https://feeds/a"}}, testNow.Add(-24*time.Hour), false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(sink.batches) != 0 {
		t.Errorf("sink received a partial batch")
	}
}

func TestRun_NoChannels(t *testing.T) {
	fetcher := &fakeFetcher{}
	sink := &recordingNotifier{kind: notify.KindLog}
	o, hook := newTestOrchestrator(fetcher, sink)

	if _, err := o.Run(context.Background(), nil, testNow, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fetcher.calls.Load() != 0 {
		t.Errorf("fetcher called %d times", fetcher.calls.Load())
	}
	if !hasMessage(hook, log.InfoLevel, "No new videos found.") {
		t.Error("missing info line")
	}
}

func TestNew_Defaults(t *testing.T) {
	o := New(&fakeFetcher{}, nil, nil, Options{})
	if o.workers != DefaultWorkers {
		t.Errorf("workers = %d, want %d", o.workers, DefaultWorkers)
	}
	if o.timeout != DefaultFetchTimeout {
		t.Errorf("timeout = %v, want %v", o.timeout, DefaultFetchTimeout)
	}
	if o.now == nil || o.log == nil {
		t.Error("clock and logger must default")
	}
}
