package sync

import (
	"sync"
	"time"
)

const (
	// recentBufferCap bounds the recent-errors and recent-warnings feeds.
	recentBufferCap = 50

	// speedTau is the time constant for the smoothed upload speed.
	speedTau = 5.0
)

// TrackerState is the lifecycle of one sync run.
type TrackerState int

const (
	TrackerNotStarted TrackerState = iota
	TrackerRunning
	TrackerStopped
)

func (s TrackerState) String() string {
	switch s {
	case TrackerNotStarted:
		return "not_started"
	case TrackerRunning:
		return "running"
	case TrackerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrorEntry is one captured per-file error.
type ErrorEntry struct {
	Message string
	File    string
	Time    time.Time
}

// WarningEntry is one captured warning.
type WarningEntry struct {
	Message string
	Time    time.Time
}

// Tracker aggregates progress for a single sync run. Many workers mutate it
// concurrently through the event methods; the renderer reads consistent
// point-in-time copies through Snapshot. One Tracker instance covers exactly
// one run. All state lives behind a single mutex that is never held across
// I/O.
type Tracker struct {
	mu sync.Mutex

	state     TrackerState
	startTime time.Time
	stopTime  time.Time

	totalFiles    int64
	processed     int64
	uploaded      int64
	skipped       int64
	failed        int64
	bytesUploaded int64

	currentSpeed float64
	peakSpeed    float64
	speedSum     float64
	speedSamples int64
	smoothed     *ewma

	verifyPassed int64
	verifyFailed int64

	activeFile string

	errors   *ringBuffer[ErrorEntry]
	warnings *ringBuffer[WarningEntry]

	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		smoothed: newEWMA(speedTau),
		errors:   newRingBuffer[ErrorEntry](recentBufferCap),
		warnings: newRingBuffer[WarningEntry](recentBufferCap),
		now:      time.Now,
	}
}

// Start transitions the tracker to running and records the start time.
// Starting twice, or after Stop, is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerNotStarted {
		return
	}
	t.state = TrackerRunning
	t.startTime = t.now()
}

// Stop freezes the run. Event calls after Stop are no-ops and snapshots
// report the final state.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerRunning {
		return
	}
	t.state = TrackerStopped
	t.stopTime = t.now()
}

func (t *Tracker) SetTotalFiles(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerRunning || n < 0 {
		return
	}
	t.totalFiles = n
}

func (t *Tracker) IncProcessed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerRunning {
		return
	}
	t.processed++
}

func (t *Tracker) IncUploaded(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerRunning {
		return
	}
	t.uploaded++
	if bytes > 0 {
		t.bytesUploaded += bytes
	}
}

func (t *Tracker) IncSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerRunning {
		return
	}
	t.skipped++
}

func (t *Tracker) IncFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerRunning {
		return
	}
	t.failed++
}

// AddError captures a per-file error for the recent-errors feed. The oldest
// entry is dropped once the feed is at capacity.
func (t *Tracker) AddError(message, file string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerRunning {
		return
	}
	t.errors.Push(ErrorEntry{Message: message, File: file, Time: t.now()})
}

func (t *Tracker) AddWarning(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerRunning {
		return
	}
	t.warnings.Push(WarningEntry{Message: message, Time: t.now()})
}

// UpdateSpeed records a momentary upload speed sample in Mbps. It feeds the
// current, smoothed, peak and average speed figures on the snapshot.
func (t *Tracker) UpdateSpeed(mbps float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerRunning || mbps < 0 {
		return
	}
	t.currentSpeed = mbps
	t.speedSum += mbps
	t.speedSamples++
	if mbps > t.peakSpeed {
		t.peakSpeed = mbps
	}
	t.smoothed.Update(mbps, t.now())
}

// SetActiveFile records the most recent file being worked on, display only.
func (t *Tracker) SetActiveFile(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerRunning {
		return
	}
	t.activeFile = path
}

// AddVerification records the outcome of one post-upload verification.
func (t *Tracker) AddVerification(passed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TrackerRunning {
		return
	}
	if passed {
		t.verifyPassed++
	} else {
		t.verifyFailed++
	}
}

// Snapshot is an immutable consistent view of the run at one instant.
// Derived metrics are computed at snapshot time, never stored stale.
type Snapshot struct {
	State TrackerState

	TotalFiles    int64
	Processed     int64
	Uploaded      int64
	Skipped       int64
	Failed        int64
	BytesUploaded int64

	CurrentSpeedMbps  float64
	SmoothedSpeedMbps float64
	AverageSpeedMbps  float64
	PeakSpeedMbps     float64

	VerifyPassed int64
	VerifyFailed int64

	ActiveFile string

	Elapsed time.Duration
	ETA     time.Duration

	RecentErrors   []ErrorEntry
	RecentWarnings []WarningEntry
}

// Percent returns overall progress in [0,1].
func (s *Snapshot) Percent() float64 {
	if s.TotalFiles <= 0 {
		return 0
	}
	return float64(s.Processed) / float64(s.TotalFiles)
}

// AvgThroughputMbps derives the whole-run throughput from bytes uploaded.
func (s *Snapshot) AvgThroughputMbps() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.BytesUploaded) * 8 / 1e6 / secs
}

// Snapshot returns a consistent copy of the current progress state. Readers
// never observe a torn update, and monotonic counters never regress between
// successive snapshots.
func (t *Tracker) Snapshot() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := &Snapshot{
		State:             t.state,
		TotalFiles:        t.totalFiles,
		Processed:         t.processed,
		Uploaded:          t.uploaded,
		Skipped:           t.skipped,
		Failed:            t.failed,
		BytesUploaded:     t.bytesUploaded,
		CurrentSpeedMbps:  t.currentSpeed,
		SmoothedSpeedMbps: t.smoothed.Value(),
		PeakSpeedMbps:     t.peakSpeed,
		VerifyPassed:      t.verifyPassed,
		VerifyFailed:      t.verifyFailed,
		ActiveFile:        t.activeFile,
		RecentErrors:      t.errors.Items(),
		RecentWarnings:    t.warnings.Items(),
	}

	if t.speedSamples > 0 {
		snap.AverageSpeedMbps = t.speedSum / float64(t.speedSamples)
	}

	switch t.state {
	case TrackerRunning:
		snap.Elapsed = t.now().Sub(t.startTime)
	case TrackerStopped:
		snap.Elapsed = t.stopTime.Sub(t.startTime)
	}

	if t.processed > 0 && t.totalFiles > 0 && t.processed < t.totalFiles {
		perFile := snap.Elapsed / time.Duration(t.processed)
		snap.ETA = perFile * time.Duration(t.totalFiles-t.processed)
	}

	return snap
}
