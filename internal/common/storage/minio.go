package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
}

// MinIOStorage implements ObjectStorage using MinIO S3-compatible APIs.
type MinIOStorage struct {
	core *minio.Core
}

func NewMinIOStorage(cfg MinIOConfig) (*MinIOStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("minio accessKey is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio secretKey is required")
	}
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio core failed: %w", err)
	}
	return &MinIOStorage{core: core}, nil
}

func (s *MinIOStorage) GetObject(ctx context.Context, bucket, objectKey string) (ObjectReader, error) {
	obj, _, _, err := s.core.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get object failed: %w", err)
	}
	return obj, nil
}

func (s *MinIOStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	if reader == nil {
		return fmt.Errorf("reader is required")
	}
	if objectKey == "" {
		return fmt.Errorf("objectKey is required")
	}
	opts := minio.PutObjectOptions{}
	if contentType != "" {
		opts.ContentType = contentType
	}
	_, err := s.core.PutObject(ctx, bucket, objectKey, reader, sizeBytes, "", "", opts)
	if err != nil {
		return fmt.Errorf("minio put object failed: %w", err)
	}
	return nil
}

func (s *MinIOStorage) StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error) {
	info, err := s.core.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ObjectStat{}, fmt.Errorf("minio stat object failed: %w", err)
	}
	return ObjectStat{
		SizeBytes:   info.Size,
		ETag:        info.ETag,
		ContentType: info.ContentType,
	}, nil
}

func (s *MinIOStorage) ListObjects(ctx context.Context, bucket, prefix string) <-chan ObjectInfo {
	out := make(chan ObjectInfo, 1)
	if s.core == nil {
		out <- ObjectInfo{Err: fmt.Errorf("minio core is nil")}
		close(out)
		return out
	}

	objCh := s.core.Client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	go func() {
		defer close(out)
		for obj := range objCh {
			if obj.Err != nil {
				out <- ObjectInfo{Err: fmt.Errorf("minio list objects failed: %w", obj.Err)}
				continue
			}
			out <- ObjectInfo{Key: obj.Key, SizeBytes: obj.Size}
		}
	}()
	return out
}

func (s *MinIOStorage) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if s.core == nil {
		return fmt.Errorf("minio core is nil")
	}
	objCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		objCh <- minio.ObjectInfo{Key: key}
	}
	close(objCh)

	errCh := s.core.RemoveObjects(ctx, bucket, objCh, minio.RemoveObjectsOptions{})
	for err := range errCh {
		if err.Err != nil {
			return fmt.Errorf("minio remove object failed: %w", err.Err)
		}
	}
	return nil
}

var _ ObjectStorage = (*MinIOStorage)(nil)
