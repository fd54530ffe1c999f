package media

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxAssetBytes is the global max accepted payload size. Telegram bots
	// cannot download files larger than 20 MB.
	MaxAssetBytes int64 = 20 * 1024 * 1024
	// MaxSpeechBytes bounds synthesized voice replies.
	MaxSpeechBytes int64 = 10 * 1024 * 1024
)

// ReadAllWithLimit reads from reader and rejects payloads larger than maxBytes.
func ReadAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be greater than 0")
	}
	limited := &io.LimitedReader{
		R: reader,
		N: maxBytes + 1,
	}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	return data, nil
}

// SpoolToTemp copies reader into a uniquely named temp file ending in ext and
// returns its path and size. On any error the file is already removed; on
// success the caller owns it.
func SpoolToTemp(dir string, reader io.Reader, ext string, maxBytes int64) (string, int64, error) {
	if reader == nil {
		return "", 0, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return "", 0, fmt.Errorf("max bytes must be greater than 0")
	}
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	tempFile, err := os.CreateTemp(dir, "assistbot-"+uuid.NewString()+"-*"+ext)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	keepFile := false
	defer func() {
		_ = tempFile.Close()
		if !keepFile {
			_ = os.Remove(tempPath)
		}
	}()

	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	written, err := io.Copy(tempFile, limited)
	if err != nil {
		return "", 0, fmt.Errorf("copy to temp file: %w", err)
	}
	if written > maxBytes {
		return "", 0, fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	if err := tempFile.Sync(); err != nil {
		return "", 0, fmt.Errorf("sync temp file: %w", err)
	}
	keepFile = true
	return tempPath, written, nil
}
