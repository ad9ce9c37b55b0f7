// Package dispatch runs one notification pass: it fetches every channel,
// keeps the items newer than the watermark and fans them out to every sink.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/subwatch/internal/feed"
	"github.com/ppiankov/subwatch/internal/notify"
	"github.com/ppiankov/subwatch/internal/source"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultWorkers      = 4
	DefaultFetchTimeout = 30 * time.Second
)

// Channel is one subscribed feed.
type Channel struct {
	Name    string // label used in logs
	Handle  string // attached to every item of the channel, may be empty
	FeedURL string
}

// Fetcher returns the raw feed document at feedURL.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) (string, error)
}

// Options tune an Orchestrator. Zero values select the defaults.
type Options struct {
	Workers      int
	FetchTimeout time.Duration
	Now          func() time.Time
}

// Orchestrator performs notification runs. It holds no state between runs.
type Orchestrator struct {
	fetcher   Fetcher
	notifiers []notify.Notifier
	log       log.FieldLogger
	workers   int
	timeout   time.Duration
	now       func() time.Time
}

// New creates an orchestrator delivering to notifiers in the given order.
func New(fetcher Fetcher, notifiers []notify.Notifier, logger log.FieldLogger, opts Options) *Orchestrator {
	if logger == nil {
		logger = log.StandardLogger()
	}
	o := &Orchestrator{
		fetcher:   fetcher,
		notifiers: notifiers,
		log:       logger,
		workers:   opts.Workers,
		timeout:   opts.FetchTimeout,
		now:       opts.Now,
	}
	if o.workers <= 0 {
		o.workers = DefaultWorkers
	}
	if o.timeout <= 0 {
		o.timeout = DefaultFetchTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// ChannelError records a channel that contributed no items.
type ChannelError struct {
	Channel string
	Err     error
}

// SinkError records a sink that did not receive the batch.
type SinkError struct {
	Index int
	Kind  notify.Kind
	Err   error
}

// Report is the outcome of one run.
type Report struct {
	Items         []feed.Item // fresh items, newest first
	ChannelErrors []ChannelError
	SinkErrors    []SinkError
	Notified      int // sinks that accepted the batch
}

type channelResult struct {
	items []feed.Item
	err   error
}

// Run fetches all channels, then delivers the fresh items to every sink.
// Channel and sink failures are logged and recorded in the report; they never
// stop the run. The returned error is non-nil only when ctx ends before
// delivery starts, in which case no sink was called.
func (o *Orchestrator) Run(ctx context.Context, channels []Channel, watermark time.Time, batch bool) (*Report, error) {
	report := &Report{}

	results := o.collect(ctx, channels, watermark)

	for i, r := range results {
		if r.err == nil {
			o.log.WithField("channel", channels[i].Name).Debugf("%d fresh items", len(r.items))
			continue
		}
		o.log.WithField("channel", channels[i].Name).WithError(r.err).Error("channel skipped")
		report.ChannelErrors = append(report.ChannelErrors, ChannelError{Channel: channels[i].Name, Err: r.err})
	}

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run interrupted before delivery: %w", err)
	}

	report.Items = lo.Flatten(lo.Map(results, func(r channelResult, _ int) []feed.Item {
		return r.items
	}))

	if len(report.Items) == 0 {
		o.log.Info("No new videos found.")
		return report, nil
	}

	feed.SortNewestFirst(report.Items)

	for i, n := range o.notifiers {
		sinkLog := o.log.WithField("sink", string(n.Kind()))

		if err := o.deliver(ctx, n, report.Items, batch); err != nil {
			sinkLog.WithError(err).Error("notifier failed")
			report.SinkErrors = append(report.SinkErrors, SinkError{Index: i, Kind: n.Kind(), Err: err})
			continue
		}
		report.Notified++
		sinkLog.Debugf("delivered %d notifications", len(report.Items))
	}

	return report, nil
}

// collect fetches channels on a bounded worker pool. Each worker writes only
// its own result slot, so the slice needs no locking.
func (o *Orchestrator) collect(ctx context.Context, channels []Channel, watermark time.Time) []channelResult {
	results := make([]channelResult, len(channels))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for n := min(o.workers, len(channels)); n > 0; n-- {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = o.fetchChannel(ctx, channels[i], watermark)
			}
		}()
	}

	for i := range channels {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

func (o *Orchestrator) fetchChannel(ctx context.Context, ch Channel, watermark time.Time) channelResult {
	fetchCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	raw, err := o.fetcher.Fetch(fetchCtx, ch.FeedURL)
	if err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, source.ErrTimeout) {
			err = fmt.Errorf("%w after %s: %v", source.ErrTimeout, o.timeout, err)
		}
		return channelResult{err: err}
	}

	items, err := feed.Parse(raw, ch.Handle)
	if err != nil {
		return channelResult{err: fmt.Errorf("parse %s: %w", ch.FeedURL, err)}
	}

	return channelResult{items: feed.Fresh(items, watermark)}
}

// deliver renders every item for the sink, then hands over the whole batch.
// A rendering failure means the sink gets nothing.
func (o *Orchestrator) deliver(ctx context.Context, n notify.Notifier, items []feed.Item, batch bool) error {
	now := o.now()
	texts := make([]string, 0, len(items))
	for _, item := range items {
		text, err := notify.Text(item, n.Kind(), now)
		if err != nil {
			return err
		}
		texts = append(texts, text)
	}
	return n.Notify(ctx, texts, batch)
}
