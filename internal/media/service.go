package media

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
)

// DefaultURLTTL is the validity of issued retrieval URLs.
const DefaultURLTTL = 7 * 24 * time.Hour

// Service stores inbound images and issues signed URLs for them.
type Service struct {
	provider  StorageProvider
	logger    *slog.Logger
	keyPrefix string
	urlTTL    time.Duration
}

// NewService creates a media service backed by provider.
func NewService(log *slog.Logger, provider StorageProvider, keyPrefix string, urlTTL time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	if urlTTL <= 0 {
		urlTTL = DefaultURLTTL
	}
	return &Service{
		provider:  provider,
		logger:    log.With(slog.String("service", "media")),
		keyPrefix: strings.Trim(strings.TrimSpace(keyPrefix), "/"),
		urlTTL:    urlTTL,
	}
}

// EnsureBucket creates the bucket at startup if needed.
func (s *Service) EnsureBucket(ctx context.Context) error {
	if s.provider == nil {
		return ErrProviderUnavailable
	}
	if err := s.provider.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", s.provider.Bucket(), err)
	}
	return nil
}

// Ping reports whether the bucket is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if s.provider == nil {
		return ErrProviderUnavailable
	}
	ok, err := s.provider.BucketExists(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: bucket %s does not exist", ErrObjectNotFound, s.provider.Bucket())
	}
	return nil
}

// Bucket returns the configured bucket, or "" without a provider.
func (s *Service) Bucket() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Bucket()
}

// ObjectKey derives the storage key for a platform attachment id. The same
// id always maps to the same key.
func (s *Service) ObjectKey(attachmentID, ext string) (string, error) {
	id := sanitizeKeyPart(attachmentID)
	if id == "" {
		return "", fmt.Errorf("attachment id is required")
	}
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	key := id + ext
	if s.keyPrefix != "" {
		key = path.Join(s.keyPrefix, key)
	}
	return key, nil
}

func sanitizeKeyPart(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// StoreImage uploads the image at localPath under a key derived from
// attachmentID and returns a freshly signed URL. URLs are never cached.
func (s *Service) StoreImage(ctx context.Context, localPath, attachmentID, contentType string) (StoredObject, string, error) {
	if s.provider == nil {
		return StoredObject{}, "", ErrProviderUnavailable
	}
	ext := path.Ext(localPath)
	if ext == "" {
		ext = ".jpg"
	}
	key, err := s.ObjectKey(attachmentID, ext)
	if err != nil {
		return StoredObject{}, "", err
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "image/jpeg"
	}
	if err := s.provider.Upload(ctx, key, localPath, contentType); err != nil {
		return StoredObject{}, "", fmt.Errorf("upload %s: %w", key, err)
	}
	obj := StoredObject{Bucket: s.provider.Bucket(), Key: key, LocalPath: localPath}
	url, err := s.provider.SignedURL(ctx, key, s.urlTTL)
	if err != nil {
		return obj, "", fmt.Errorf("sign %s: %w", key, err)
	}
	s.logger.Info("image stored",
		slog.String("bucket", obj.Bucket),
		slog.String("key", key),
		slog.Duration("url_ttl", s.urlTTL),
	)
	return obj, url, nil
}
