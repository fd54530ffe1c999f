package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeProvider struct {
	bucket    string
	uploads   []string
	signs     int
	lastTTL   time.Duration
	uploadErr error
	signErr   error
	exists    bool
}

func (f *fakeProvider) Bucket() string                        { return f.bucket }
func (f *fakeProvider) EnsureBucket(ctx context.Context) error { return nil }
func (f *fakeProvider) BucketExists(ctx context.Context) (bool, error) {
	return f.exists, nil
}

func (f *fakeProvider) Upload(ctx context.Context, key, localPath, contentType string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, key+"|"+localPath+"|"+contentType)
	return nil
}

func (f *fakeProvider) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	f.signs++
	f.lastTTL = ttl
	return fmt.Sprintf("https://store/%s?sig=%d", key, f.signs), nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestObjectKeyIsDeterministic(t *testing.T) {
	t.Parallel()

	svc := NewService(newTestLogger(), &fakeProvider{bucket: "media"}, "/images/", 0)
	cases := []struct {
		id   string
		ext  string
		want string
	}{
		{id: "AQADabc", ext: ".jpg", want: "images/AQADabc.jpg"},
		{id: "AQADabc", ext: "jpg", want: "images/AQADabc.jpg"},
		{id: "../etc/passwd", ext: ".jpg", want: "images/___etc_passwd.jpg"},
	}
	for _, tc := range cases {
		got, err := svc.ObjectKey(tc.id, tc.ext)
		if err != nil {
			t.Fatalf("id=%q unexpected error: %v", tc.id, err)
		}
		if got != tc.want {
			t.Fatalf("id=%q want=%q got=%q", tc.id, tc.want, got)
		}
	}
	if _, err := svc.ObjectKey("  ", ".jpg"); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestStoreImageUploadsAndSignsEveryTime(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{bucket: "media"}
	svc := NewService(newTestLogger(), provider, "images", 0)

	obj, url, err := svc.StoreImage(context.Background(), "/tmp/x.jpg", "abc", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.Bucket != "media" || obj.Key != "images/abc.jpg" || obj.LocalPath != "/tmp/x.jpg" {
		t.Fatalf("unexpected object: %#v", obj)
	}
	if url != "https://store/images/abc.jpg?sig=1" {
		t.Fatalf("unexpected url: %s", url)
	}
	if provider.lastTTL != 7*24*time.Hour {
		t.Fatalf("expected 7 day ttl, got %s", provider.lastTTL)
	}
	if provider.uploads[0] != "images/abc.jpg|/tmp/x.jpg|image/jpeg" {
		t.Fatalf("unexpected upload: %s", provider.uploads[0])
	}

	_, second, err := svc.StoreImage(context.Background(), "/tmp/x.jpg", "abc", "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second == url || provider.signs != 2 {
		t.Fatalf("expected a fresh signature per call, got %s after %s", second, url)
	}
}

func TestStoreImageErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("access denied")
	svc := NewService(newTestLogger(), &fakeProvider{bucket: "media", uploadErr: boom}, "images", time.Hour)
	if _, _, err := svc.StoreImage(context.Background(), "/tmp/x.jpg", "abc", ""); !errors.Is(err, boom) {
		t.Fatalf("expected upload error, got %v", err)
	}

	svc = NewService(newTestLogger(), &fakeProvider{bucket: "media", signErr: boom}, "images", time.Hour)
	obj, url, err := svc.StoreImage(context.Background(), "/tmp/x.jpg", "abc", "")
	if !errors.Is(err, boom) || url != "" || obj.Key != "images/abc.jpg" {
		t.Fatalf("expected sign error with stored object, got %#v %q %v", obj, url, err)
	}

	svc = NewService(newTestLogger(), nil, "images", time.Hour)
	if _, _, err := svc.StoreImage(context.Background(), "/tmp/x.jpg", "abc", ""); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	if err := NewService(nil, &fakeProvider{bucket: "m", exists: true}, "", 0).Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := NewService(nil, &fakeProvider{bucket: "m"}, "", 0).Ping(context.Background())
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}
