package sync

import (
	"path/filepath"
	"strings"
)

// Outcome classifies one local/remote comparison. Exactly one outcome is
// produced per comparison.
type Outcome int

const (
	// OutcomeUnknown is the zero value: no verdict was produced, because
	// comparison failed before reaching one.
	OutcomeUnknown Outcome = iota
	// OutcomeMatch means size and content digest both match.
	OutcomeMatch
	// OutcomeMatchSizeOnly means the remote object was a multipart upload,
	// so its ETag is not a content digest and size equality is the only
	// usable signal.
	OutcomeMatchSizeOnly
	// OutcomeMissing means the object does not exist remotely.
	OutcomeMissing
	// OutcomeSizeMismatch means local and remote byte sizes differ.
	OutcomeSizeMismatch
	// OutcomeHashMismatch means sizes match but content digests differ.
	OutcomeHashMismatch
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeMatchSizeOnly:
		return "match_size_only"
	case OutcomeMissing:
		return "missing"
	case OutcomeSizeMismatch:
		return "size_mismatch"
	case OutcomeHashMismatch:
		return "hash_mismatch"
	default:
		return "unknown"
	}
}

// NeedsUpload reports whether the outcome requires a (re)upload.
func (o Outcome) NeedsUpload() bool {
	return o != OutcomeMatch && o != OutcomeMatchSizeOnly
}

// Detector decides whether a remote object is stale or missing relative to a
// local file. It performs no I/O beyond hashing the local file, and is safe
// for concurrent use as long as each call gets its own descriptors.
type Detector struct {
	hasher Hasher
}

func NewDetector(hasher Hasher) *Detector {
	return &Detector{hasher: hasher}
}

// Compare returns the outcome for one local/remote pair. remote == nil means
// the object is absent. Hashing failures surface as *FileAccessError, never
// as a verdict.
//
// Multipart ETags (the ones with a "-" suffix) are a hash of part hashes,
// not of the object body, so comparing them against a local MD5 would flag
// every multipart object as changed. Those degrade to size-only matching.
// The dash check is an AWS convention rather than a contract; it is kept
// here so a better multipart signal can replace it in one place.
func (d *Detector) Compare(local *LocalFile, remote *FileMetadata) (Outcome, error) {
	if remote == nil {
		return OutcomeMissing, nil
	}

	if local.Size != remote.Size {
		return OutcomeSizeMismatch, nil
	}

	if strings.Contains(remote.ETag, "-") {
		return OutcomeMatchSizeOnly, nil
	}

	digest, err := local.ContentDigest(d.hasher)
	if err != nil {
		return OutcomeUnknown, err
	}
	if digest != remote.ETag {
		return OutcomeHashMismatch, nil
	}
	return OutcomeMatch, nil
}

// SynthesizeKey derives the remote object key for path relative to root.
// Keys always use forward slashes and carry no leading slash. When the path
// does not sit under root (symlinks, absolute-path edge cases) the key falls
// back to the trailing path components, matching what a re-run over the same
// tree would produce.
func SynthesizeKey(path, root string) string {
	rel, err := filepath.Rel(root, path)
	if err == nil && !strings.HasPrefix(rel, "..") {
		return normalizeKey(rel)
	}

	// Best-effort fallback: keep the last three components so the key stays
	// stable across invocations even when Rel fails.
	cleaned := normalizeKey(path)
	parts := strings.Split(cleaned, "/")
	if len(parts) >= 3 {
		return strings.Join(parts[len(parts)-3:], "/")
	}
	return parts[len(parts)-1]
}

func normalizeKey(p string) string {
	key := filepath.ToSlash(p)
	key = strings.ReplaceAll(key, "\\", "/")
	return strings.TrimLeft(key, "/")
}
