package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestCompare(t *testing.T) {
	detector := NewDetector(MD5Hasher{})
	tempDir := t.TempDir()

	content := make([]byte, 1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := writeTestFile(t, tempDir, "frame.fits", content)

	digest, err := MD5Hasher{}.Sum(path)
	require.NoError(t, err)

	t.Run("remote absent", func(t *testing.T) {
		local, err := NewLocalFile(path)
		require.NoError(t, err)

		outcome, err := detector.Compare(local, nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeMissing, outcome)
		assert.True(t, outcome.NeedsUpload())
	})

	t.Run("size mismatch wins over etag shape", func(t *testing.T) {
		local, err := NewLocalFile(path)
		require.NoError(t, err)

		for _, etag := range []string{digest, "abc123-3", "deadbeef"} {
			outcome, err := detector.Compare(local, &FileMetadata{Size: 2048, ETag: etag})
			require.NoError(t, err)
			assert.Equal(t, OutcomeSizeMismatch, outcome)
			assert.True(t, outcome.NeedsUpload())
		}
	})

	t.Run("matching digest", func(t *testing.T) {
		local, err := NewLocalFile(path)
		require.NoError(t, err)

		outcome, err := detector.Compare(local, &FileMetadata{Size: 1024, ETag: digest})
		require.NoError(t, err)
		assert.Equal(t, OutcomeMatch, outcome)
		assert.False(t, outcome.NeedsUpload())
	})

	t.Run("differing digest", func(t *testing.T) {
		local, err := NewLocalFile(path)
		require.NoError(t, err)

		outcome, err := detector.Compare(local, &FileMetadata{
			Size: 1024,
			ETag: "d41d8cd98f00b204e9800998ecf8427e",
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeHashMismatch, outcome)
		assert.True(t, outcome.NeedsUpload())
	})

	t.Run("multipart etag never yields hash mismatch", func(t *testing.T) {
		local, err := NewLocalFile(path)
		require.NoError(t, err)

		outcome, err := detector.Compare(local, &FileMetadata{Size: 1024, ETag: "abc123-3"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeMatchSizeOnly, outcome)
		assert.False(t, outcome.NeedsUpload())
	})

	t.Run("unreadable file surfaces FileAccessError", func(t *testing.T) {
		local := &LocalFile{Path: filepath.Join(tempDir, "gone.fits"), Size: 1024}

		_, err := detector.Compare(local, &FileMetadata{Size: 1024, ETag: "deadbeef"})
		require.Error(t, err)
		var accessErr *FileAccessError
		assert.ErrorAs(t, err, &accessErr)
	})

	t.Run("digest computed once per descriptor", func(t *testing.T) {
		local, err := NewLocalFile(path)
		require.NoError(t, err)

		counter := &countingHasher{inner: MD5Hasher{}}
		counting := NewDetector(counter)

		for range 3 {
			outcome, err := counting.Compare(local, &FileMetadata{Size: 1024, ETag: digest})
			require.NoError(t, err)
			assert.Equal(t, OutcomeMatch, outcome)
		}
		assert.Equal(t, 1, counter.calls)
	})
}

type countingHasher struct {
	inner Hasher
	calls int
}

func (c *countingHasher) Sum(path string) (string, error) {
	c.calls++
	return c.inner.Sum(path)
}

func TestSynthesizeKey(t *testing.T) {
	t.Run("relative under root", func(t *testing.T) {
		root := filepath.Join("data", "astro")
		path := filepath.Join(root, "sessions", "m31", "frame.fits")
		assert.Equal(t, "sessions/m31/frame.fits", SynthesizeKey(path, root))
	})

	t.Run("strips backslashes and leading slashes", func(t *testing.T) {
		key := SynthesizeKey(`root/sub/dir\file.txt`, "root")
		assert.Equal(t, "sub/dir/file.txt", key)
	})

	t.Run("idempotent", func(t *testing.T) {
		root := "root"
		path := filepath.Join(root, "a", "b.txt")
		first := SynthesizeKey(path, root)
		second := SynthesizeKey(path, root)
		assert.Equal(t, first, second)
	})

	t.Run("round trips under root", func(t *testing.T) {
		root := t.TempDir()
		path := filepath.Join(root, "sub", "file.bin")
		key := SynthesizeKey(path, root)
		assert.Equal(t, path, filepath.Join(root, filepath.FromSlash(key)))
	})

	t.Run("falls back to trailing components outside root", func(t *testing.T) {
		key := SynthesizeKey("/mnt/other/archive/session/frame.fits", "/data/astro")
		assert.Equal(t, "archive/session/frame.fits", key)
	})

	t.Run("short path outside root uses base name", func(t *testing.T) {
		key := SynthesizeKey("frame.fits", "/data/astro")
		assert.Equal(t, "frame.fits", key)
	})
}

func TestCachingHasher(t *testing.T) {
	tempDir := t.TempDir()
	path := writeTestFile(t, tempDir, "light.fits", []byte("starlight"))

	counter := &countingHasher{inner: MD5Hasher{}}
	hasher, err := NewCachingHasher(counter, 16)
	require.NoError(t, err)

	first, err := hasher.Sum(path)
	require.NoError(t, err)
	second, err := hasher.Sum(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, counter.calls)

	// Rewriting the file invalidates the cache entry.
	require.NoError(t, os.WriteFile(path, []byte("darkframe!"), 0o644))
	third, err := hasher.Sum(path)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, 2, counter.calls)

	t.Run("missing file", func(t *testing.T) {
		_, err := hasher.Sum(filepath.Join(tempDir, "nope.fits"))
		var accessErr *FileAccessError
		assert.ErrorAs(t, err, &accessErr)
	})
}
