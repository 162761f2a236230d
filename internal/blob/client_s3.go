package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/astrobak/astrobak/internal/sync"
)

// Client talks to one S3 bucket. It implements sync.RemoteStore.
type Client struct {
	s3Client *s3.Client
	config   *S3Config
}

func NewClient(s3Client *s3.Client, cfg *S3Config) *Client {
	return &Client{
		s3Client: s3Client,
		config:   cfg,
	}
}

// NewClientFromConfig builds the AWS SDK client from the blob config. A
// named profile wins over static keys; with neither, the default credential
// chain applies.
func NewClientFromConfig(ctx context.Context, cfg *S3Config) (*Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          200,
			MaxIdleConnsPerHost:   100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(httpClient),
	}
	switch {
	case cfg.Profile != "":
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	case cfg.AccessKey != "":
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	awsClient := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.UseAccelerate {
			o.UseAccelerate = true
		}
	})

	return NewClient(awsClient, cfg), nil
}

// HeadObject fetches remote metadata for key. Returns (nil, nil) when the
// object does not exist; any other failure is a *RemoteAccessError. The ETag
// is stripped of its quotes here, at the boundary.
func (c *Client) HeadObject(ctx context.Context, key string) (*sync.FileMetadata, error) {
	resp, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &c.config.Bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, &RemoteAccessError{Op: "head", Key: key, Err: err}
	}

	return &sync.FileMetadata{
		Key:          key,
		Size:         aws.ToInt64(resp.ContentLength),
		ETag:         strings.ReplaceAll(aws.ToString(resp.ETag), "\"", ""),
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

// Upload stores the file at the given key, switching to the multipart API
// above the configured threshold.
func (c *Client) Upload(ctx context.Context, req *sync.UploadRequest) (*sync.UploadResult, error) {
	if req.Size > c.config.multipartThreshold() {
		return c.putObjectMultipart(ctx, req)
	}
	return c.putObject(ctx, req)
}

func (c *Client) putObject(ctx context.Context, req *sync.UploadRequest) (*sync.UploadResult, error) {
	file, err := os.Open(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", req.FilePath, err)
	}
	defer file.Close()

	input := &s3.PutObjectInput{
		Bucket:        &c.config.Bucket,
		Key:           &req.Key,
		Body:          file,
		ContentLength: aws.Int64(req.Size),
	}
	if c.config.StorageClass != "" {
		input.StorageClass = types.StorageClass(c.config.StorageClass)
	}

	resp, err := c.s3Client.PutObject(ctx, input)
	if err != nil {
		return nil, &RemoteAccessError{Op: "put", Key: req.Key, Err: err}
	}

	return &sync.UploadResult{
		ETag: strings.ReplaceAll(aws.ToString(resp.ETag), "\"", ""),
		Size: req.Size,
	}, nil
}

func (c *Client) putObjectMultipart(ctx context.Context, req *sync.UploadRequest) (*sync.UploadResult, error) {
	file, err := os.Open(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", req.FilePath, err)
	}
	defer file.Close()

	createInput := &s3.CreateMultipartUploadInput{
		Bucket: &c.config.Bucket,
		Key:    &req.Key,
	}
	if c.config.StorageClass != "" {
		createInput.StorageClass = types.StorageClass(c.config.StorageClass)
	}

	created, err := c.s3Client.CreateMultipartUpload(ctx, createInput)
	if err != nil {
		return nil, &RemoteAccessError{Op: "create multipart", Key: req.Key, Err: err}
	}
	uploadID := created.UploadId

	completed := false
	defer func() {
		if completed {
			return
		}
		// Abort with a fresh context so cancellation does not leak parts.
		abortCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := c.s3Client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
			Bucket:   &c.config.Bucket,
			Key:      &req.Key,
			UploadId: uploadID,
		}); err != nil {
			slog.Warn("blob", "op", "ABORT_MULTIPART", "key", req.Key, "error", err)
		}
	}()

	chunk := make([]byte, c.config.chunkSize())
	var parts []types.CompletedPart
	partNumber := int32(1)

	for {
		n, readErr := io.ReadFull(file, chunk)
		if readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("read %s: %w", req.FilePath, readErr)
		}

		resp, err := c.s3Client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     &c.config.Bucket,
			Key:        &req.Key,
			UploadId:   uploadID,
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(chunk[:n]),
		})
		if err != nil {
			return nil, &RemoteAccessError{Op: "upload part", Key: req.Key, Err: err}
		}

		parts = append(parts, types.CompletedPart{
			ETag:       resp.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		partNumber++

		if readErr == io.ErrUnexpectedEOF {
			break
		}
	}

	resp, err := c.s3Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   &c.config.Bucket,
		Key:      &req.Key,
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		return nil, &RemoteAccessError{Op: "complete multipart", Key: req.Key, Err: err}
	}
	completed = true

	return &sync.UploadResult{
		ETag: strings.ReplaceAll(aws.ToString(resp.ETag), "\"", ""),
		Size: req.Size,
	}, nil
}
