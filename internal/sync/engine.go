package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

// RemoteStore is the blob-side collaborator. HeadObject returns (nil, nil)
// when the object does not exist; any other failure is a transport error and
// must not be interpreted as absence.
type RemoteStore interface {
	HeadObject(ctx context.Context, key string) (*FileMetadata, error)
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
}

// UploadRequest describes one object transfer.
type UploadRequest struct {
	Key      string
	FilePath string
	Size     int64
}

// UploadResult reports the stored object as the remote saw it.
type UploadResult struct {
	ETag string
	Size int64
}

// Recorder persists per-file terminal outcomes. A nil Recorder disables
// journaling; recorder failures are logged, never fatal to the run.
type Recorder interface {
	RecordOutcome(rec *OutcomeRecord) error
}

// OutcomeRecord is one journal row.
type OutcomeRecord struct {
	Path     string
	Key      string
	Size     int64
	ETag     string
	Outcome  Outcome
	Uploaded bool
	Error    string
}

// WorkItem is one discovered file with its synthesized remote key.
type WorkItem struct {
	Path    string
	Key     string
	Size    int64
	ModTime time.Time
}

// CheckResult pairs a work item with its comparison outcome, for dry runs.
type CheckResult struct {
	Item    WorkItem
	Outcome Outcome
	Err     error
}

// EngineConfig carries the knobs the driver needs. Zero worker counts are
// auto-tuned from the host at construction.
type EngineConfig struct {
	Root          string
	Include       []string
	Exclude       []string
	CheckWorkers  int
	UploadWorkers int
	ChunkSizeMB   int
	Verify        bool
}

// Engine walks the sync root, asks the detector whether each file needs
// upload, performs the transfers and reports exactly one terminal outcome
// per file to the tracker.
type Engine struct {
	cfg      EngineConfig
	store    RemoteStore
	detector *Detector
	tracker  *Tracker
	recorder Recorder
}

func NewEngine(cfg EngineConfig, store RemoteStore, detector *Detector, tracker *Tracker, recorder Recorder) *Engine {
	if cfg.CheckWorkers <= 0 || cfg.UploadWorkers <= 0 {
		sys := CaptureSystem()
		if cfg.CheckWorkers <= 0 {
			cfg.CheckWorkers = EstimateCheckWorkers(sys)
		}
		if cfg.UploadWorkers <= 0 {
			cfg.UploadWorkers = EstimateUploadWorkers(cfg.ChunkSizeMB, sys)
		}
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		detector: detector,
		tracker:  tracker,
		recorder: recorder,
	}
}

// Tracker exposes the progress aggregator for renderers.
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// Discover walks the sync root and returns the files eligible for syncing,
// include/exclude patterns applied against the slash-relative path.
func (e *Engine) Discover(ctx context.Context) ([]WorkItem, error) {
	var items []WorkItem

	err := filepath.WalkDir(e.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(e.cfg.Root, path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)
		if !e.matchPatterns(relSlash) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		items = append(items, WorkItem{
			Path:    path,
			Key:     SynthesizeKey(path, e.cfg.Root),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", e.cfg.Root, err)
	}

	slog.Debug("sync", "op", "DISCOVER", "root", e.cfg.Root, "files", len(items))
	return items, nil
}

func (e *Engine) matchPatterns(relSlash string) bool {
	included := len(e.cfg.Include) == 0
	for _, pattern := range e.cfg.Include {
		if ok, _ := doublestar.Match(pattern, relSlash); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, pattern := range e.cfg.Exclude {
		if ok, _ := doublestar.Match(pattern, relSlash); ok {
			return false
		}
	}
	return true
}

// Run discovers the tree and syncs it. The tracker is started and stopped
// here; the caller renders its snapshots while Run is in flight.
func (e *Engine) Run(ctx context.Context) (*Snapshot, error) {
	items, err := e.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return e.RunItems(ctx, items)
}

// RunItems syncs a pre-built item list. Used by Run and by the retry path,
// which re-drives the failed rows of a previous journal.
func (e *Engine) RunItems(ctx context.Context, items []WorkItem) (*Snapshot, error) {
	e.tracker.Start()
	e.tracker.SetTotalFiles(int64(len(items)))

	uploads := make(chan *pendingUpload, e.cfg.UploadWorkers)

	var uploadWg sync.WaitGroup
	uploadWg.Add(e.cfg.UploadWorkers)
	for range e.cfg.UploadWorkers {
		go func() {
			defer uploadWg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case pending, ok := <-uploads:
					if !ok {
						return
					}
					e.processUpload(ctx, pending)
				}
			}
		}()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.CheckWorkers)
	for _, item := range items {
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}
			if pending := e.processCheck(groupCtx, item); pending != nil {
				select {
				case uploads <- pending:
				case <-groupCtx.Done():
					return groupCtx.Err()
				}
			}
			return nil
		})
	}

	checkErr := group.Wait()
	close(uploads)
	uploadWg.Wait()

	// Stop before snapshotting so the returned snapshot is the frozen
	// terminal state of the run.
	e.tracker.Stop()

	if checkErr != nil && !errors.Is(checkErr, context.Canceled) {
		return e.tracker.Snapshot(), checkErr
	}
	return e.tracker.Snapshot(), ctx.Err()
}

type pendingUpload struct {
	item    WorkItem
	local   *LocalFile
	outcome Outcome
}

// processCheck decides one file. It either reports a terminal outcome to the
// tracker (skip/fail) or hands the file to the upload workers.
func (e *Engine) processCheck(ctx context.Context, item WorkItem) *pendingUpload {
	local, err := NewLocalFile(item.Path)
	if err != nil {
		e.fail(item, fmt.Errorf("stat: %w", err))
		return nil
	}

	remote, err := e.store.HeadObject(ctx, item.Key)
	if err != nil {
		e.fail(item, fmt.Errorf("head object: %w", err))
		return nil
	}

	outcome, err := e.detector.Compare(local, remote)
	if err != nil {
		e.fail(item, fmt.Errorf("compare: %w", err))
		return nil
	}

	if !outcome.NeedsUpload() {
		slog.Debug("sync", "op", "SKIPPED", "path", item.Key, "reason", outcome.String())
		e.tracker.IncSkipped()
		e.tracker.IncProcessed()
		e.record(&OutcomeRecord{Path: item.Path, Key: item.Key, Size: item.Size, Outcome: outcome})
		return nil
	}

	return &pendingUpload{item: item, local: local, outcome: outcome}
}

// processUpload transfers one file and reports its terminal outcome.
func (e *Engine) processUpload(ctx context.Context, pending *pendingUpload) {
	item := pending.item
	e.tracker.SetActiveFile(item.Key)

	started := time.Now()
	res, err := e.store.Upload(ctx, &UploadRequest{
		Key:      item.Key,
		FilePath: item.Path,
		Size:     item.Size,
	})
	if err != nil {
		e.fail(item, fmt.Errorf("upload: %w", err))
		return
	}

	if secs := time.Since(started).Seconds(); secs > 0 {
		e.tracker.UpdateSpeed(float64(item.Size) * 8 / 1e6 / secs)
	}

	if e.cfg.Verify {
		if err := e.verifyUpload(ctx, pending); err != nil {
			e.tracker.AddVerification(false)
			e.fail(item, fmt.Errorf("verify: %w", err))
			return
		}
		e.tracker.AddVerification(true)
	}

	slog.Info("sync", "op", "UPLOADED", "path", item.Key, "size", item.Size, "etag", res.ETag, "reason", pending.outcome.String())
	e.tracker.IncUploaded(item.Size)
	e.tracker.IncProcessed()
	e.record(&OutcomeRecord{Path: item.Path, Key: item.Key, Size: item.Size, ETag: res.ETag, Outcome: pending.outcome, Uploaded: true})
}

// verifyUpload re-reads the remote metadata and runs the detector against it.
// A multipart result degrades to size-only matching, same as the check phase.
func (e *Engine) verifyUpload(ctx context.Context, pending *pendingUpload) error {
	remote, err := e.store.HeadObject(ctx, pending.item.Key)
	if err != nil {
		return err
	}
	outcome, err := e.detector.Compare(pending.local, remote)
	if err != nil {
		return err
	}
	if outcome.NeedsUpload() {
		return fmt.Errorf("remote object does not match after upload: %s", outcome)
	}
	return nil
}

// Plan runs the check phase only and returns what would be uploaded and why.
func (e *Engine) Plan(ctx context.Context) ([]CheckResult, error) {
	items, err := e.Discover(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]CheckResult, len(items))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.CheckWorkers)
	for i, item := range items {
		group.Go(func() error {
			local, err := NewLocalFile(item.Path)
			if err != nil {
				results[i] = CheckResult{Item: item, Err: err}
				return nil
			}
			remote, err := e.store.HeadObject(groupCtx, item.Key)
			if err != nil {
				results[i] = CheckResult{Item: item, Err: err}
				return nil
			}
			outcome, err := e.detector.Compare(local, remote)
			results[i] = CheckResult{Item: item, Outcome: outcome, Err: err}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) fail(item WorkItem, err error) {
	slog.Error("sync", "op", "FAILED", "path", item.Key, "error", err)
	e.tracker.AddError(err.Error(), item.Key)
	e.tracker.IncFailed()
	e.tracker.IncProcessed()
	e.record(&OutcomeRecord{Path: item.Path, Key: item.Key, Size: item.Size, Outcome: OutcomeUnknown, Error: err.Error()})
}

func (e *Engine) record(rec *OutcomeRecord) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordOutcome(rec); err != nil {
		slog.Warn("journal", "op", "RECORD", "path", rec.Key, "error", err)
	}
}
