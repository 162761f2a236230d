package blob

// S3Config selects the bucket and how to authenticate against it. Profile
// takes precedence over static keys; both empty falls through to the default
// AWS credential chain.
type S3Config struct {
	Bucket        string
	Region        string
	Profile       string
	AccessKey     string
	SecretKey     string
	Endpoint      string
	StorageClass  string
	UseAccelerate bool

	// MultipartThresholdMB is the object size above which uploads switch to
	// the multipart API. ChunkSizeMB is the part size for those uploads.
	MultipartThresholdMB int
	ChunkSizeMB          int
}

const (
	defaultMultipartThresholdMB = 100
	defaultChunkSizeMB          = 100
	minChunkSizeMB              = 5 // S3 minimum part size
)

func (c *S3Config) multipartThreshold() int64 {
	mb := c.MultipartThresholdMB
	if mb <= 0 {
		mb = defaultMultipartThresholdMB
	}
	return int64(mb) * 1024 * 1024
}

func (c *S3Config) chunkSize() int64 {
	mb := c.ChunkSizeMB
	if mb <= 0 {
		mb = defaultChunkSizeMB
	}
	if mb < minChunkSizeMB {
		mb = minChunkSizeMB
	}
	return int64(mb) * 1024 * 1024
}
