package storage

import (
	"context"
	"io"
)

// ObjectStorage defines minimal object storage operations required by the
// submission source store and the problem bundle store. It is intentionally
// small so we can swap MinIO/AWS-S3 implementations without touching business logic.
type ObjectStorage interface {
	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (ObjectReader, error)

	// PutObject stores an object. sizeBytes must match the number of bytes
	// the reader yields.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)

	// ListObjects streams object metadata under a prefix.
	// The channel is closed when enumeration finishes.
	ListObjects(ctx context.Context, bucket, prefix string) <-chan ObjectInfo

	// RemoveObjects deletes the given keys. Missing keys are not an error.
	RemoveObjects(ctx context.Context, bucket string, keys []string) error
}

// ObjectReader is a streaming reader for object data.
type ObjectReader interface {
	Read(p []byte) (int, error)
	Close() error
}

// ObjectStat contains object metadata used for validation.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}

// ObjectInfo describes one object during listing.
// Err is set when enumeration fails mid-stream.
type ObjectInfo struct {
	Key       string
	SizeBytes int64
	Err       error
}
