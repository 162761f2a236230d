package sync

import (
	"os"
	"time"
)

// FileMetadata describes a remote object as reported by the blob store.
// A nil *FileMetadata means the object does not exist remotely.
type FileMetadata struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// LocalFile describes one file on disk queued for comparison. The content
// digest is computed lazily through ContentDigest and cached on the
// descriptor, so repeated comparisons of the same descriptor hash at most once.
type LocalFile struct {
	Path    string
	Size    int64
	ModTime time.Time

	digest string
}

// NewLocalFile stats the file at path and returns its descriptor.
func NewLocalFile(path string) (*LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	return &LocalFile{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// ContentDigest returns the hex content digest of the file, computing it
// through the given hasher on first use.
func (f *LocalFile) ContentDigest(h Hasher) (string, error) {
	if f.digest != "" {
		return f.digest, nil
	}
	sum, err := h.Sum(f.Path)
	if err != nil {
		return "", err
	}
	f.digest = sum
	return sum, nil
}
