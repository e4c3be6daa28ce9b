// Package storage implements the blob store used for uploaded media,
// against a B2-compatible HTTP API.
package storage

import (
	"context"
	"io"
	"time"
)

// BlobStore is the narrow surface the intake service and stage workers
// consume.
type BlobStore interface {
	// UploadFile stores data under a key derived from owner and name and
	// returns the key.
	UploadFile(ctx context.Context, data []byte, name, owner string) (string, error)
	GetFileStream(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, key string) error
	GetPresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// StartMultipartUpload begins a large-file upload and returns the
	// provider file ID the parts are attached to.
	StartMultipartUpload(ctx context.Context, key string) (string, error)
	CompleteMultipartUpload(ctx context.Context, fileID string, partHashes []string) error
}
