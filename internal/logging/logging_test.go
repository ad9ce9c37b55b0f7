package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNew_Interactive(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false)

	logger.Info("No new videos found.")
	logger.WithField("channel", "@Test Channel").WithError(errors.New("boom")).Error("fetch failed")
	logger.Warn("careful")

	want := "No new videos found.\n" +
		"error: fetch failed channel=\"@Test Channel\" error=boom\n" +
		"warning: careful\n"
	if got := buf.String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestNew_Cron(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, true)

	logger.Info("No new videos found.")

	got := buf.String()
	if !strings.Contains(got, "level=info") {
		t.Errorf("cron output missing level: %q", got)
	}
	if !strings.Contains(got, "time=") {
		t.Errorf("cron output missing timestamp: %q", got)
	}
	if !strings.Contains(got, `msg="No new videos found."`) {
		t.Errorf("cron output missing message: %q", got)
	}
	if strings.Contains(got, "\x1b[") {
		t.Errorf("cron output contains ANSI colors: %q", got)
	}
}

func TestNew_DebugSuppressed(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug line written: %q", buf.String())
	}
}
