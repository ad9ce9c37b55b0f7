// Package metrics writes run outcomes in the Prometheus text format, for the
// node_exporter textfile collector.
package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/subwatch/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "subwatch"

type runMetrics struct {
	lastRun       prometheus.Gauge
	duration      prometheus.Gauge
	videos        prometheus.Gauge
	channels      *prometheus.GaugeVec
	notifiers     *prometheus.GaugeVec
	watermarkTime prometheus.Gauge
}

func newRunMetrics(reg prometheus.Registerer) *runMetrics {
	m := &runMetrics{
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run started",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		videos: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_videos",
			Help:      "New videos found by the last run",
		}),
		channels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_channels",
			Help:      "Channels checked by the last run, by outcome",
		}, []string{"outcome"}),
		notifiers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_notifiers",
			Help:      "Notifiers used by the last run, by outcome",
		}, []string{"outcome"}),
		watermarkTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_watermark_timestamp_seconds",
			Help:      "Unix time videos had to be newer than",
		}),
	}
	reg.MustRegister(m.lastRun, m.duration, m.videos, m.channels, m.notifiers, m.watermarkTime)
	return m
}

func (m *runMetrics) observe(run store.Run) {
	m.lastRun.Set(float64(run.StartedAt.Unix()))
	m.duration.Set(run.FinishedAt.Sub(run.StartedAt).Seconds())
	m.videos.Set(float64(run.Items))
	m.channels.WithLabelValues("ok").Set(float64(run.Channels - run.ChannelErrors))
	m.channels.WithLabelValues("failed").Set(float64(run.ChannelErrors))
	m.notifiers.WithLabelValues("ok").Set(float64(run.Sinks - run.SinkErrors))
	m.notifiers.WithLabelValues("failed").Set(float64(run.SinkErrors))
	m.watermarkTime.Set(float64(run.Watermark.Unix()))
}

// WriteTextfile replaces the file at path with the metrics of run.
func WriteTextfile(path string, run store.Run) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("metrics path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics dir: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	newRunMetrics(reg).observe(run)

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
