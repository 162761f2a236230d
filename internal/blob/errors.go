package blob

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// RemoteAccessError is any blob-store failure other than not-found: auth,
// throttling, network. It must never be read as "object absent".
type RemoteAccessError struct {
	Op  string
	Key string
	Err error
}

func (e *RemoteAccessError) Error() string {
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *RemoteAccessError) Unwrap() error {
	return e.Err
}

// isNotFound reports whether err means the object does not exist. HeadObject
// surfaces 404 as a generic API error rather than types.NoSuchKey, so the
// response status code is checked as well.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}
