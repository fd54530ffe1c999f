// Package s3 implements media.StorageProvider on any S3-compatible object
// store (MinIO, AWS S3) through the minio-go client.
package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/memohai/assistbot/internal/media"
)

// maxPresignTTL is the longest validity S3 signature v4 accepts.
const maxPresignTTL = 7 * 24 * time.Hour

// Config holds connection settings for the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Provider stores objects in one bucket.
type Provider struct {
	client *minio.Client
	bucket string
	region string
	logger *slog.Logger
}

// New creates a provider. It performs no network I/O.
func New(log *slog.Logger, cfg Config) (*Provider, error) {
	if log == nil {
		log = slog.Default()
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", media.ErrProviderUnavailable)
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", media.ErrProviderUnavailable)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Provider{
		client: client,
		bucket: bucket,
		region: cfg.Region,
		logger: log.With(slog.String("provider", "s3"), slog.String("bucket", bucket)),
	}, nil
}

// Bucket returns the bucket name.
func (p *Provider) Bucket() string {
	return p.bucket
}

// BucketExists reports whether the bucket exists.
func (p *Provider) BucketExists(ctx context.Context) (bool, error) {
	return p.client.BucketExists(ctx, p.bucket)
}

// EnsureBucket creates the bucket when absent. Losing a creation race to
// another process counts as success.
func (p *Provider) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("make bucket: %w", err)
	}
	p.logger.Info("bucket created")
	return nil
}

// Upload writes the local file at localPath under key.
func (p *Provider) Upload(ctx context.Context, key, localPath, contentType string) error {
	clean, err := cleanKey(key)
	if err != nil {
		return err
	}
	info, err := p.client.FPutObject(ctx, p.bucket, clean, localPath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	p.logger.Debug("object uploaded", slog.String("key", clean), slog.Int64("size", info.Size))
	return nil
}

// SignedURL presigns a GET for key valid for ttl, capped at seven days.
func (p *Provider) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if ttl <= 0 || ttl > maxPresignTTL {
		ttl = maxPresignTTL
	}
	u, err := p.client.PresignedGetObject(ctx, p.bucket, clean, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage key is required")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("absolute key is forbidden: %s", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
		}
	}
	return path.Clean(key), nil
}
