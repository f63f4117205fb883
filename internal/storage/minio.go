package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/daddykev/stardust-dsp/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/notification"
	"go.uber.org/zap"
)

// MinioStore implements ObjectStore over a MinIO/S3 endpoint.
type MinioStore struct {
	client *minio.Client
	log    *zap.Logger
}

func NewMinio(cfg config.Config, log *zap.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
		Region: cfg.Storage.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{
		client: client,
		log:    log.Named("storage.minio"),
	}, nil
}

func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	s.log.Info("bucket created", zap.String("bucket", bucket))
	return nil
}

func (s *MinioStore) Upload(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *MinioStore) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

func (s *MinioStore) Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}
	return &ObjectInfo{
		Bucket:      bucket,
		Key:         info.Key,
		Size:        info.Size,
		ContentType: info.ContentType,
	}, nil
}

func (s *MinioStore) SignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

// ListenFinalized streams object-created events for the given bucket prefix
// and suffix. The returned channel closes when ctx is canceled.
func (s *MinioStore) ListenFinalized(ctx context.Context, bucket, prefix, suffix string) <-chan ObjectInfo {
	out := make(chan ObjectInfo)
	events := s.client.ListenBucketNotification(ctx, bucket, prefix, suffix, []string{
		string(notification.ObjectCreatedAll),
	})
	go func() {
		defer close(out)
		for info := range events {
			if info.Err != nil {
				s.log.Warn("bucket notification error", zap.Error(info.Err))
				continue
			}
			for _, record := range info.Records {
				key, err := url.QueryUnescape(record.S3.Object.Key)
				if err != nil {
					key = record.S3.Object.Key
				}
				select {
				case out <- ObjectInfo{
					Bucket:      record.S3.Bucket.Name,
					Key:         key,
					Size:        record.S3.Object.Size,
					ContentType: record.S3.Object.ContentType,
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
