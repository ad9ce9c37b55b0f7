package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	_ "modernc.org/sqlite"
)

const lastRunKey = "last_run_at"

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var runColumns = []string{
	"id", "started_at", "finished_at", "watermark",
	"items", "channels", "channel_errors", "sinks", "sink_errors",
}

// Store persists the run watermark and the run history.
type Store struct {
	db *sql.DB
}

// Run is one recorded notification pass.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Watermark     time.Time
	Items         int
	Channels      int
	ChannelErrors int
	Sinks         int
	SinkErrors    int
}

type RunInput struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	Watermark     time.Time
	Items         int
	Channels      int
	ChannelErrors int
	Sinks         int
	SinkErrors    int
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LastRunAt returns the persisted watermark. ok is false when no run has
// completed yet.
func (s *Store) LastRunAt(ctx context.Context) (t time.Time, ok bool, err error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var value string
	err = s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", lastRunKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last run: %w", err)
	}

	t, err = parseTime(value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last run: %w", err)
	}
	return t, true, nil
}

// SetLastRunAt persists the watermark for the next run.
func (s *Store) SetLastRunAt(ctx context.Context, t time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if t.IsZero() {
		return errors.New("last run time is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, lastRunKey, formatTime(t))
	if err != nil {
		return fmt.Errorf("save last run: %w", err)
	}
	return nil
}

// RecordRun appends a run to the history and returns it with its new ID.
func (s *Store) RecordRun(ctx context.Context, in RunInput) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if in.StartedAt.IsZero() {
		return Run{}, errors.New("started_at is required")
	}
	if in.FinishedAt.IsZero() {
		return Run{}, errors.New("finished_at is required")
	}

	run := Run{
		ID:            uuid.NewString(),
		StartedAt:     in.StartedAt.UTC(),
		FinishedAt:    in.FinishedAt.UTC(),
		Watermark:     in.Watermark.UTC(),
		Items:         in.Items,
		Channels:      in.Channels,
		ChannelErrors: in.ChannelErrors,
		Sinks:         in.Sinks,
		SinkErrors:    in.SinkErrors,
	}

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("runs").
		Cols(runColumns...).
		Values(
			run.ID,
			formatTime(run.StartedAt),
			formatTime(run.FinishedAt),
			formatTime(run.Watermark),
			run.Items,
			run.Channels,
			run.ChannelErrors,
			run.Sinks,
			run.SinkErrors,
		)
	query, args := ib.Build()

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Run{}, fmt.Errorf("record run: %w", err)
	}

	return run, nil
}

// RecentRuns returns up to limit runs, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		return nil, nil
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(runColumns...).
		From("runs").
		OrderBy("started_at").Desc().
		Limit(limit)
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get runs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// PruneRuns deletes runs started more than retainDays before now. Returns the
// number of runs removed.
func (s *Store) PruneRuns(ctx context.Context, now time.Time, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(now.AddDate(0, 0, -retainDays))
	del := sqlbuilder.SQLite.NewDeleteBuilder()
	del.DeleteFrom("runs").Where(del.LessThan("started_at", cutoff))
	query, args := del.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner rowScanner) (Run, error) {
	var (
		run                             Run
		startedAt, finishedAt, watermark string
	)

	if err := scanner.Scan(
		&run.ID,
		&startedAt,
		&finishedAt,
		&watermark,
		&run.Items,
		&run.Channels,
		&run.ChannelErrors,
		&run.Sinks,
		&run.SinkErrors,
	); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finishedAt); err != nil {
		return Run{}, fmt.Errorf("parse finished_at: %w", err)
	}
	if run.Watermark, err = parseTime(watermark); err != nil {
		return Run{}, fmt.Errorf("parse watermark: %w", err)
	}

	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(timeLayout, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}
