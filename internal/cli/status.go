package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ppiankov/subwatch/internal/config"
	"github.com/ppiankov/subwatch/internal/store"
	"github.com/spf13/cobra"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last run time and recent run history",
	RunE:  statusAction,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of recent runs to show")
}

func statusAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	last, ok, err := db.LastRunAt(ctx)
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("Last run: %s (%s)\n", last.Format(time.RFC3339), humanize.Time(last))
	} else {
		fmt.Printf("Last run: never (first run looks back %s)\n", cfg.Run.DefaultLookback.Duration)
	}

	runs, err := db.RecentRuns(ctx, statusLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}

	fmt.Printf("\nRecent runs:\n")
	for _, r := range runs {
		fmt.Printf("  %s  %-14s  %3d videos  channels %d/%d  notifiers %d/%d  took %s\n",
			r.StartedAt.Format(time.RFC3339),
			humanize.Time(r.StartedAt),
			r.Items,
			r.Channels-r.ChannelErrors, r.Channels,
			r.Sinks-r.SinkErrors, r.Sinks,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		)
	}
	return nil
}
