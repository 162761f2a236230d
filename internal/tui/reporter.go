package tui

import (
	"context"
	"log/slog"
	"time"

	"github.com/astrobak/astrobak/internal/sync"
)

// PlainReporter periodically logs progress for non-interactive runs
// (cron jobs, redirected output).
type PlainReporter struct {
	tracker  *sync.Tracker
	interval time.Duration
}

func NewPlainReporter(tracker *sync.Tracker, interval time.Duration) *PlainReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &PlainReporter{tracker: tracker, interval: interval}
}

// Run logs a progress line every interval until ctx is canceled.
func (r *PlainReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *PlainReporter) report() {
	s := r.tracker.Snapshot()
	slog.Info("progress",
		"processed", s.Processed,
		"total", s.TotalFiles,
		"uploaded", s.Uploaded,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"speedMbps", formatMbps(s.SmoothedSpeedMbps),
		"eta", formatETA(s),
	)
}
