package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/subwatch/internal/config"
	"github.com/ppiankov/subwatch/internal/dispatch"
	"github.com/ppiankov/subwatch/internal/logging"
	"github.com/ppiankov/subwatch/internal/metrics"
	"github.com/ppiankov/subwatch/internal/notify"
	"github.com/ppiankov/subwatch/internal/privacy"
	"github.com/ppiankov/subwatch/internal/source"
	"github.com/ppiankov/subwatch/internal/store"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	runCron        bool
	runHoursOffset int
)

// Overridable in tests.
var (
	runNow                 = time.Now
	runOutput    io.Writer = os.Stdout
	runLogOutput io.Writer = os.Stderr
	newFetcher             = func(userAgent string) dispatch.Fetcher { return source.NewHTTP(userAgent) }
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check channels for new videos and send notifications",
	Long: `Check every configured channel for videos published since the last run
and deliver them to all notifiers, newest first.

--hours-offset N looks back N hours instead of using the stored last run time;
such runs leave the stored time untouched.`,
	RunE: runAction,
}

func init() {
	runCmd.Flags().BoolVar(&runCron, "cron", false, "non-interactive mode: timestamped logs, batched notifications")
	runCmd.Flags().IntVar(&runHoursOffset, "hours-offset", 0, "look back N hours instead of using the last run time")
}

type lastRunReader interface {
	LastRunAt(ctx context.Context) (time.Time, bool, error)
}

func runAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var offset *int
	if cmd.Flags().Changed("hours-offset") {
		if runHoursOffset < 0 {
			return fmt.Errorf("--hours-offset must not be negative, got %d", runHoursOffset)
		}
		offset = &runHoursOffset
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	logger := logging.New(runLogOutput, runCron)
	redactor, err := privacy.New(webhookSecrets(cfg.Notifiers), cfg.Privacy.Redact)
	if err != nil {
		return err
	}
	logger.AddHook(redactor.Hook())

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	startedAt := runNow().UTC()
	watermark, err := resolveWatermark(ctx, db, startedAt, cfg.Run.DefaultLookback.Duration, offset)
	if err != nil {
		return err
	}

	notifiers, err := notify.FromConfig(notifierConfigs(cfg.Notifiers), runOutput)
	if err != nil {
		return fmt.Errorf("build notifiers: %w", err)
	}

	orch := dispatch.New(newFetcher(cfg.Fetch.UserAgent), notifiers, logger, dispatch.Options{
		Workers:      cfg.Fetch.Workers,
		FetchTimeout: cfg.Fetch.Timeout.Duration,
		Now:          runNow,
	})

	channels := dispatchChannels(cfg.Channels)
	logger.WithFields(log.Fields{
		"channels":  len(channels),
		"notifiers": len(notifiers),
		"since":     watermark.Format(time.RFC3339),
	}).Debug("run started")

	report, err := orch.Run(ctx, channels, watermark, runCron)
	if err != nil {
		return err
	}
	finishedAt := runNow().UTC()

	if offset == nil {
		if err := db.SetLastRunAt(ctx, startedAt); err != nil {
			return err
		}
	}

	run, err := db.RecordRun(ctx, store.RunInput{
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		Watermark:     watermark,
		Items:         len(report.Items),
		Channels:      len(channels),
		ChannelErrors: len(report.ChannelErrors),
		Sinks:         len(notifiers),
		SinkErrors:    len(report.SinkErrors),
	})
	if err != nil {
		return err
	}

	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile, run); err != nil {
			logger.WithError(err).Warn("metrics not written")
		}
	}

	if removed, err := db.PruneRuns(ctx, startedAt, cfg.Storage.RetainDays); err != nil {
		logger.WithError(err).Warn("prune run history failed")
	} else if removed > 0 {
		logger.WithField("removed", removed).Debug("pruned run history")
	}

	entry := logger.WithField("run", run.ID)
	if len(report.Items) > 0 {
		entry.Infof("Delivered %d new videos to %d of %d notifiers.", len(report.Items), report.Notified, len(notifiers))
	} else {
		entry.Debug("run finished")
	}
	return nil
}

// resolveWatermark picks the cutoff for this run: an explicit hour offset
// wins, then the stored last run time, then now minus the default lookback.
func resolveWatermark(ctx context.Context, st lastRunReader, now time.Time, lookback time.Duration, hoursOffset *int) (time.Time, error) {
	if hoursOffset != nil {
		return now.Add(-time.Duration(*hoursOffset) * time.Hour).UTC(), nil
	}
	if st == nil {
		return time.Time{}, errors.New("store is not initialized")
	}

	last, ok, err := st.LastRunAt(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("read last run: %w", err)
	}
	if ok {
		return last.UTC(), nil
	}
	return now.Add(-lookback).UTC(), nil
}

func notifierConfigs(cfgs []config.NotifierConfig) []notify.Config {
	out := make([]notify.Config, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, notify.Config{
			Type:       c.Type,
			WebhookURL: c.WebhookURL,
			Channel:    c.Channel,
		})
	}
	return out
}

func webhookSecrets(cfgs []config.NotifierConfig) []string {
	return lo.FilterMap(cfgs, func(c config.NotifierConfig, _ int) (string, bool) {
		return c.WebhookURL, c.WebhookURL != ""
	})
}

func dispatchChannels(cfgs []config.ChannelConfig) []dispatch.Channel {
	out := make([]dispatch.Channel, 0, len(cfgs))
	for _, c := range cfgs {
		feedURL := strings.TrimSpace(c.FeedURL)
		if feedURL == "" {
			feedURL = source.ChannelFeedURL(c.ID)
		}
		out = append(out, dispatch.Channel{
			Name:    c.Name(),
			Handle:  c.Handle,
			FeedURL: feedURL,
		})
	}
	return out
}
