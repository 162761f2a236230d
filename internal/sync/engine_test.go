package sync

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory RemoteStore. Keys map to remote metadata; nil
// metadata is not stored, absence is absence.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]*FileMetadata
	headErr map[string]error
	upErr   map[string]error
	uploads []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string]*FileMetadata),
		headErr: make(map[string]error),
		upErr:   make(map[string]error),
	}
}

func (s *fakeStore) HeadObject(_ context.Context, key string) (*FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.headErr[key]; ok {
		return nil, err
	}
	return s.objects[key], nil
}

func (s *fakeStore) Upload(_ context.Context, req *UploadRequest) (*UploadResult, error) {
	s.mu.Lock()
	if err, ok := s.upErr[req.Key]; ok {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	body, err := os.ReadFile(req.FilePath)
	if err != nil {
		return nil, err
	}
	etag := fmt.Sprintf("%x", md5.Sum(body))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[req.Key] = &FileMetadata{
		Key:          req.Key,
		Size:         int64(len(body)),
		ETag:         etag,
		LastModified: time.Now(),
	}
	s.uploads = append(s.uploads, req.Key)
	return &UploadResult{ETag: etag, Size: int64(len(body))}, nil
}

func (s *fakeStore) uploadedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := append([]string(nil), s.uploads...)
	sort.Strings(keys)
	return keys
}

type memRecorder struct {
	mu      sync.Mutex
	records []*OutcomeRecord
}

func (r *memRecorder) RecordOutcome(rec *OutcomeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func newTestEngine(t *testing.T, root string, store *fakeStore, recorder Recorder, mutate func(*EngineConfig)) *Engine {
	t.Helper()
	cfg := EngineConfig{
		Root:          root,
		CheckWorkers:  4,
		UploadWorkers: 2,
		Verify:        true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEngine(cfg, store, NewDetector(MD5Hasher{}), NewTracker(), recorder)
}

func seedTree(t *testing.T, root string) {
	t.Helper()
	writeTestFile(t, root, "sessions/m31/light_001.fits", []byte("light one"))
	writeTestFile(t, root, "sessions/m31/light_002.fits", []byte("light two"))
	writeTestFile(t, root, "sessions/m42/dark_001.fits", []byte("dark frame"))
	writeTestFile(t, root, "notes.txt", []byte("observing log"))
}

func TestEngineRun(t *testing.T) {
	t.Run("uploads everything into an empty bucket", func(t *testing.T) {
		root := t.TempDir()
		seedTree(t, root)
		store := newFakeStore()
		recorder := &memRecorder{}
		engine := newTestEngine(t, root, store, recorder, nil)

		snap, err := engine.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, int64(4), snap.TotalFiles)
		assert.Equal(t, int64(4), snap.Processed)
		assert.Equal(t, int64(4), snap.Uploaded)
		assert.Zero(t, snap.Skipped)
		assert.Zero(t, snap.Failed)
		assert.Equal(t, int64(4), snap.VerifyPassed)
		assert.Equal(t, TrackerStopped, snap.State)
		assert.Equal(t, []string{
			"notes.txt",
			"sessions/m31/light_001.fits",
			"sessions/m31/light_002.fits",
			"sessions/m42/dark_001.fits",
		}, store.uploadedKeys())
		assert.Len(t, recorder.records, 4)
	})

	t.Run("terminal snapshot is stopped and frozen", func(t *testing.T) {
		engine := newTestEngine(t, t.TempDir(), newFakeStore(), nil, nil)

		snap, err := engine.RunItems(context.Background(), nil)
		require.NoError(t, err)

		assert.Equal(t, TrackerStopped, snap.State)
		assert.Equal(t, snap.Elapsed, engine.Tracker().Snapshot().Elapsed)
	})

	t.Run("second run skips unchanged files", func(t *testing.T) {
		root := t.TempDir()
		seedTree(t, root)
		store := newFakeStore()

		_, err := newTestEngine(t, root, store, nil, nil).Run(context.Background())
		require.NoError(t, err)

		snap, err := newTestEngine(t, root, store, nil, nil).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, int64(4), snap.Processed)
		assert.Equal(t, int64(4), snap.Skipped)
		assert.Zero(t, snap.Uploaded)
		assert.Len(t, store.uploadedKeys(), 4)
	})

	t.Run("modified file is re-uploaded", func(t *testing.T) {
		root := t.TempDir()
		seedTree(t, root)
		store := newFakeStore()

		_, err := newTestEngine(t, root, store, nil, nil).Run(context.Background())
		require.NoError(t, err)

		writeTestFile(t, root, "notes.txt", []byte("observing log, amended"))

		snap, err := newTestEngine(t, root, store, nil, nil).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, int64(1), snap.Uploaded)
		assert.Equal(t, int64(3), snap.Skipped)
	})

	t.Run("multipart remote skips on size match", func(t *testing.T) {
		root := t.TempDir()
		path := writeTestFile(t, root, "big.fits", []byte("0123456789"))
		info, err := os.Stat(path)
		require.NoError(t, err)

		store := newFakeStore()
		store.objects["big.fits"] = &FileMetadata{
			Key:  "big.fits",
			Size: info.Size(),
			ETag: "abc123-3",
		}

		snap, err := newTestEngine(t, root, store, nil, nil).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Skipped)
		assert.Zero(t, snap.Uploaded)
	})

	t.Run("head failure is terminal for that file only", func(t *testing.T) {
		root := t.TempDir()
		seedTree(t, root)
		store := newFakeStore()
		store.headErr["notes.txt"] = fmt.Errorf("throttled")
		recorder := &memRecorder{}

		snap, err := newTestEngine(t, root, store, recorder, nil).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, int64(4), snap.Processed)
		assert.Equal(t, int64(3), snap.Uploaded)
		assert.Equal(t, int64(1), snap.Failed)
		require.Len(t, snap.RecentErrors, 1)
		assert.Equal(t, "notes.txt", snap.RecentErrors[0].File)
		assert.Contains(t, snap.RecentErrors[0].Message, "throttled")

		// The failure row must not read as a match verdict.
		for _, rec := range recorder.records {
			if rec.Key == "notes.txt" {
				assert.Equal(t, OutcomeUnknown, rec.Outcome)
				assert.NotEmpty(t, rec.Error)
			}
		}
	})

	t.Run("upload failure counts once", func(t *testing.T) {
		root := t.TempDir()
		seedTree(t, root)
		store := newFakeStore()
		store.upErr["sessions/m42/dark_001.fits"] = fmt.Errorf("connection reset")

		snap, err := newTestEngine(t, root, store, nil, nil).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, int64(4), snap.Processed)
		assert.Equal(t, int64(3), snap.Uploaded)
		assert.Equal(t, int64(1), snap.Failed)
	})
}

func TestEngineDiscover(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)

	t.Run("no patterns takes everything", func(t *testing.T) {
		engine := newTestEngine(t, root, newFakeStore(), nil, nil)
		items, err := engine.Discover(context.Background())
		require.NoError(t, err)
		assert.Len(t, items, 4)
	})

	t.Run("include patterns", func(t *testing.T) {
		engine := newTestEngine(t, root, newFakeStore(), nil, func(cfg *EngineConfig) {
			cfg.Include = []string{"**/*.fits"}
		})
		items, err := engine.Discover(context.Background())
		require.NoError(t, err)
		assert.Len(t, items, 3)
		for _, item := range items {
			assert.Contains(t, item.Key, ".fits")
		}
	})

	t.Run("exclude patterns", func(t *testing.T) {
		engine := newTestEngine(t, root, newFakeStore(), nil, func(cfg *EngineConfig) {
			cfg.Exclude = []string{"sessions/m42/**"}
		})
		items, err := engine.Discover(context.Background())
		require.NoError(t, err)
		assert.Len(t, items, 3)
		for _, item := range items {
			assert.NotContains(t, item.Key, "m42")
		}
	})

	t.Run("keys are slash separated without leading slash", func(t *testing.T) {
		engine := newTestEngine(t, root, newFakeStore(), nil, nil)
		items, err := engine.Discover(context.Background())
		require.NoError(t, err)
		for _, item := range items {
			assert.NotContains(t, item.Key, `\`)
			assert.False(t, item.Key[0] == '/')
		}
	})
}

func TestEnginePlan(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	store := newFakeStore()

	// Upload one file out of band so the plan sees a mix.
	engine := newTestEngine(t, root, store, nil, func(cfg *EngineConfig) {
		cfg.Include = []string{"notes.txt"}
	})
	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	plan, err := newTestEngine(t, root, store, nil, nil).Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan, 4)

	byKey := make(map[string]CheckResult, len(plan))
	for _, res := range plan {
		byKey[res.Item.Key] = res
	}
	assert.Equal(t, OutcomeMatch, byKey["notes.txt"].Outcome)
	assert.Equal(t, OutcomeMissing, byKey["sessions/m31/light_001.fits"].Outcome)
	assert.True(t, byKey["sessions/m31/light_001.fits"].Outcome.NeedsUpload())

	// A plan never mutates the remote side.
	assert.Equal(t, []string{"notes.txt"}, store.uploadedKeys())
}

func TestEngineCancellation(t *testing.T) {
	root := t.TempDir()
	seedTree(t, root)
	store := newFakeStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newTestEngine(t, root, store, nil, nil)
	_, err := engine.Run(ctx)
	assert.Error(t, err)
}
