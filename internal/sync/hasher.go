package sync

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FileAccessError wraps a local I/O failure so callers can tell it apart
// from a comparison verdict.
type FileAccessError struct {
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("file access %s: %v", e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error {
	return e.Err
}

// Hasher computes a hex content digest for a local file.
type Hasher interface {
	Sum(path string) (string, error)
}

// MD5Hasher streams the file through crypto/md5. S3 ETags for simple
// (non-multipart) uploads are the MD5 of the object body, so this is the
// digest the change detector compares against.
type MD5Hasher struct{}

func (MD5Hasher) Sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &FileAccessError{Path: path, Err: err}
	}
	defer f.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", &FileAccessError{Path: path, Err: err}
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

type digestEntry struct {
	sum   string
	size  int64
	mtime int64
}

// CachingHasher memoizes digests across runs of the check phase. Entries are
// keyed by path and invalidated when size or mtime change, so an unmodified
// file is hashed once no matter how many times it is compared.
type CachingHasher struct {
	inner Hasher
	cache *lru.Cache[string, digestEntry]
}

func NewCachingHasher(inner Hasher, capacity int) (*CachingHasher, error) {
	cache, err := lru.New[string, digestEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &CachingHasher{inner: inner, cache: cache}, nil
}

func (c *CachingHasher) Sum(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &FileAccessError{Path: path, Err: err}
	}

	if entry, ok := c.cache.Get(path); ok {
		if entry.size == info.Size() && entry.mtime == info.ModTime().UnixNano() {
			return entry.sum, nil
		}
	}

	sum, err := c.inner.Sum(path)
	if err != nil {
		return "", err
	}
	c.cache.Add(path, digestEntry{
		sum:   sum,
		size:  info.Size(),
		mtime: info.ModTime().UnixNano(),
	})
	return sum, nil
}
