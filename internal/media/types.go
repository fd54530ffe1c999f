package media

import (
	"context"
	"time"
)

// MediaType classifies the kind of media asset.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeAudio MediaType = "audio"
)

// StoredObject records an uploaded file.
type StoredObject struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	LocalPath string `json:"local_path"`
}

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	// Bucket returns the target bucket name.
	Bucket() string
	// EnsureBucket creates the bucket if it does not exist.
	EnsureBucket(ctx context.Context) error
	// BucketExists reports whether the bucket is reachable.
	BucketExists(ctx context.Context) (bool, error)
	// Upload writes the local file to storage under key.
	Upload(ctx context.Context, key, localPath, contentType string) error
	// SignedURL returns a time-limited retrieval URL for key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
