package blob

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	t.Run("typed not found", func(t *testing.T) {
		assert.True(t, isNotFound(&types.NotFound{}))
		assert.True(t, isNotFound(&types.NoSuchKey{}))
	})

	t.Run("wrapped", func(t *testing.T) {
		err := fmt.Errorf("head object: %w", &types.NotFound{})
		assert.True(t, isNotFound(err))
	})

	t.Run("404 response", func(t *testing.T) {
		err := &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{
				Response: &http.Response{StatusCode: http.StatusNotFound},
			},
			Err: errors.New("not found"),
		}
		assert.True(t, isNotFound(err))
	})

	t.Run("generic api error code", func(t *testing.T) {
		err := &smithy.GenericAPIError{Code: "NotFound", Message: "no such object"}
		assert.True(t, isNotFound(err))
	})

	t.Run("other failures are not absence", func(t *testing.T) {
		assert.False(t, isNotFound(errors.New("connection reset")))
		assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "SlowDown"}))
		assert.False(t, isNotFound(&smithyhttp.ResponseError{
			Response: &smithyhttp.Response{
				Response: &http.Response{StatusCode: http.StatusForbidden},
			},
			Err: errors.New("denied"),
		}))
	})
}

func TestRemoteAccessError(t *testing.T) {
	cause := errors.New("throttled")
	err := &RemoteAccessError{Op: "head", Key: "a/b.fits", Err: cause}

	assert.Contains(t, err.Error(), "head")
	assert.Contains(t, err.Error(), "a/b.fits")
	assert.ErrorIs(t, err, cause)

	var remoteErr *RemoteAccessError
	assert.ErrorAs(t, fmt.Errorf("check: %w", err), &remoteErr)
}

func TestS3ConfigSizes(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := &S3Config{}
		assert.Equal(t, int64(100)<<20, cfg.multipartThreshold())
		assert.Equal(t, int64(100)<<20, cfg.chunkSize())
	})

	t.Run("chunk size floor", func(t *testing.T) {
		cfg := &S3Config{ChunkSizeMB: 1}
		assert.Equal(t, int64(5)<<20, cfg.chunkSize())
	})

	t.Run("explicit values", func(t *testing.T) {
		cfg := &S3Config{MultipartThresholdMB: 64, ChunkSizeMB: 16}
		assert.Equal(t, int64(64)<<20, cfg.multipartThreshold())
		assert.Equal(t, int64(16)<<20, cfg.chunkSize())
	})
}
