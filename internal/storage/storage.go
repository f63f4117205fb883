package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
}

// ObjectStore is the blob interface the pipeline depends on. The production
// implementation is MinIO/S3; tests use the in-memory fake.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Upload(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	SignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}
