package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ppiankov/subwatch/internal/config"
	"github.com/ppiankov/subwatch/internal/notify"
	"github.com/ppiankov/subwatch/internal/store"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, storage and notifiers",
	RunE:  doctorAction,
}

func doctorAction(_ *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		ok = false
	} else {
		printCheck(true, "config.yaml (%d channels, %d notifiers)", len(cfg.Channels), len(cfg.Notifiers))
	}

	// Notifiers
	if cfg != nil {
		notifiers, err := notify.FromConfig(notifierConfigs(cfg.Notifiers), os.Stdout)
		if err != nil {
			printCheck(false, "notifiers: %v", err)
			ok = false
		} else {
			kinds := lo.Map(notifiers, func(n notify.Notifier, _ int) string { return string(n.Kind()) })
			printCheck(true, "notifiers: %s", strings.Join(kinds, ", "))
			if lo.Contains(kinds, string(notify.KindTelegram)) {
				printInfo("telegram delivery is not implemented yet, that notifier will report an error on every run")
			}
		}
	}

	// Database
	if cfg != nil {
		db, err := store.Open(cfg.Storage.Path)
		if err != nil {
			printCheck(false, "database: %v", err)
			ok = false
		} else {
			defer func() { _ = db.Close() }()
			printCheck(true, "database %s", cfg.Storage.Path)
			checkLastRun(db, cfg)
		}
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

// checkLastRun reports on run history. Informational only.
func checkLastRun(db *store.Store, cfg *config.Config) {
	ctx := context.Background()

	last, found, err := db.LastRunAt(ctx)
	if err != nil {
		printInfo("last run: %v", err)
		return
	}
	if !found {
		printInfo("no runs yet, the first run looks back %s", cfg.Run.DefaultLookback.Duration)
		return
	}
	if time.Since(last) > 7*24*time.Hour {
		printInfo("stale: last run %s, is the scheduler still running?", humanize.Time(last))
	}

	runs, err := db.RecentRuns(ctx, 1)
	if err != nil || len(runs) == 0 {
		return
	}
	if r := runs[0]; r.Channels > 0 && r.ChannelErrors == r.Channels {
		printInfo("last run could not read any of %d channels", r.Channels)
	}
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
