package transport

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/daddykev/stardust-dsp/internal/storage"
)

// S3 copies the artifact into a distributor-owned bucket on the shared
// object store.
type S3 struct {
	store storage.ObjectStore
}

func NewS3(store storage.ObjectStore) *S3 {
	return &S3{store: store}
}

func (s *S3) Name() string { return "s3" }

func (s *S3) Send(ctx context.Context, a Artifact) error {
	dest := a.Report.DestinationSpec()
	bucket := dest.Settings["bucket"]
	if bucket == "" {
		return fmt.Errorf("s3 transport: destination has no bucket")
	}

	key := path.Base(a.Report.ObjectKey)
	if prefix := dest.Settings["prefix"]; prefix != "" {
		key = path.Join(prefix, key)
	}
	if err := s.store.EnsureBucket(ctx, bucket); err != nil {
		return fmt.Errorf("s3 transport: ensure bucket %s: %w", bucket, err)
	}
	if err := s.store.Upload(ctx, bucket, key, bytes.NewReader(a.Payload), int64(len(a.Payload)), a.ContentType); err != nil {
		return fmt.Errorf("s3 transport: upload %s/%s: %w", bucket, key, err)
	}
	return nil
}
