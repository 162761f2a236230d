package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"

	"github.com/astrobak/astrobak/internal/blob"
	"github.com/astrobak/astrobak/internal/config"
	"github.com/astrobak/astrobak/internal/journal"
	"github.com/astrobak/astrobak/internal/sync"
	"github.com/astrobak/astrobak/internal/tui"
	"github.com/astrobak/astrobak/internal/utils"
)

// digestCacheSize bounds the memoized local-file digests across a run.
const digestCacheSize = 4096

// app wires the journal, the S3 client and the sync engine for one CLI
// invocation. A file lock next to the journal keeps concurrent invocations
// from racing the same run history.
type app struct {
	cfg     *config.Config
	journal *journal.Journal
	lock    *flock.Flock
}

func newApp(cfg *config.Config) (*app, error) {
	if err := utils.EnsureParent(cfg.JournalPath); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}

	lock := flock.New(cfg.JournalPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another astrobak instance is already running (lock: %s)", lock.Path())
	}

	j := journal.New(cfg.JournalPath)
	if err := j.Open(); err != nil {
		lock.Unlock()
		return nil, err
	}

	return &app{cfg: cfg, journal: j, lock: lock}, nil
}

func (a *app) Close() {
	if err := a.journal.Close(); err != nil {
		slog.Error("journal close", "error", err)
	}
	if err := a.lock.Unlock(); err != nil {
		slog.Error("release lock", "error", err)
	}
}

func (a *app) newEngine(ctx context.Context, recorder sync.Recorder) (*sync.Engine, error) {
	client, err := blob.NewClientFromConfig(ctx, a.cfg.BlobConfig())
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	hasher, err := sync.NewCachingHasher(sync.MD5Hasher{}, digestCacheSize)
	if err != nil {
		return nil, err
	}
	return sync.NewEngine(a.cfg.EngineConfig(), client, sync.NewDetector(hasher), sync.NewTracker(), recorder), nil
}

// Sync runs a full discover-compare-upload pass over the configured root.
func (a *app) Sync(ctx context.Context) error {
	return a.run(ctx, nil)
}

// Retry re-drives the failed files of a previous run. An empty runID means
// the most recent run in the journal.
func (a *app) Retry(ctx context.Context, runID string) error {
	if runID == "" {
		id, err := a.journal.LastRunID()
		if err != nil {
			return fmt.Errorf("last run: %w", err)
		}
		runID = id
	}
	if runID == "" {
		return fmt.Errorf("journal has no previous runs")
	}

	failed, err := a.journal.FailedFiles(runID)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		fmt.Printf("%s no failed files in run %s\n", green("OK"), runID)
		return nil
	}
	slog.Info("retry", "run", runID, "failed", len(failed))

	items := make([]sync.WorkItem, 0, len(failed))
	for _, f := range failed {
		info, err := os.Stat(f.Path)
		if err != nil {
			slog.Warn("retry", "op", "SKIP_MISSING", "path", f.Path, "error", err)
			continue
		}
		items = append(items, sync.WorkItem{
			Path:    f.Path,
			Key:     f.Key,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	if len(items) == 0 {
		return fmt.Errorf("none of the %d failed files still exist locally", len(failed))
	}

	return a.run(ctx, items)
}

// run executes the engine over items (nil = discover the root) with a live
// dashboard on a terminal and periodic log lines otherwise. Each execution
// is journaled as its own run.
func (a *app) run(ctx context.Context, items []sync.WorkItem) error {
	run, err := a.journal.StartRun(a.cfg.Root, a.cfg.Bucket)
	if err != nil {
		return err
	}

	engine, err := a.newEngine(ctx, run)
	if err != nil {
		return err
	}

	snap, runErr := a.drive(ctx, engine, items)

	if err := run.Finish(); err != nil {
		slog.Error("journal finish", "run", run.ID, "error", err)
	}
	if snap != nil {
		a.printSummary(snap, run.ID)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if snap != nil && snap.Failed > 0 {
		return fmt.Errorf("%d files failed, run 'astrobak retry' to re-drive them", snap.Failed)
	}
	return nil
}

func (a *app) drive(ctx context.Context, engine *sync.Engine, items []sync.WorkItem) (*sync.Snapshot, error) {
	runEngine := func(ctx context.Context) (*sync.Snapshot, error) {
		if items != nil {
			return engine.RunItems(ctx, items)
		}
		return engine.Run(ctx)
	}

	if !tui.Interactive() {
		reporterCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go tui.NewPlainReporter(engine.Tracker(), 10*time.Second).Run(reporterCtx)
		return runEngine(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dashboard := tui.NewDashboard(engine.Tracker())

	var snap *sync.Snapshot
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		snap, runErr = runEngine(ctx)
		dashboard.Done()
	}()

	uiErr := dashboard.Run()
	if uiErr != nil {
		// Stop the engine on quit or on a renderer failure.
		cancel()
	}
	<-done

	if uiErr != nil && !errors.Is(uiErr, tui.ErrCanceled) {
		return snap, uiErr
	}
	return snap, runErr
}

func (a *app) printSummary(snap *sync.Snapshot, runID string) {
	fmt.Println()
	fmt.Printf("%s %d files in %s\n", gray("Processed"), snap.Processed, snap.Elapsed.Round(time.Second))
	fmt.Printf("%s %s uploaded, %s skipped, %s sent\n",
		gray("         "),
		green(snap.Uploaded), green(snap.Skipped),
		green(humanize.Bytes(uint64(snap.BytesUploaded))),
	)
	if snap.VerifyPassed+snap.VerifyFailed > 0 {
		fmt.Printf("%s %s verified, %s failed verification\n",
			gray("         "), green(snap.VerifyPassed), colorCount(snap.VerifyFailed))
	}
	if snap.Failed > 0 {
		fmt.Printf("%s %s failed (journal run %s)\n", gray("         "), red(snap.Failed), runID)
	}
}

func colorCount(n int64) string {
	if n > 0 {
		return red(n)
	}
	return green(n)
}
