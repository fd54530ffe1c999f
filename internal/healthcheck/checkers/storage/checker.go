package storagechecker

import (
	"context"
	"log/slog"
	"time"

	"github.com/memohai/assistbot/internal/healthcheck"
)

const (
	checkTypeStorageBucket = "storage.bucket"
	defaultCheckTimeout    = 8 * time.Second
)

// Pinger probes the object store.
type Pinger interface {
	Ping(ctx context.Context) error
	Bucket() string
}

// Checker evaluates object storage reachability.
type Checker struct {
	logger  *slog.Logger
	pinger  Pinger
	timeout time.Duration
}

// NewChecker creates a storage health checker. A nil pinger means image
// storage is disabled and produces no checks.
func NewChecker(log *slog.Logger, pinger Pinger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:  log.With(slog.String("checker", "healthcheck_storage")),
		pinger:  pinger,
		timeout: defaultCheckTimeout,
	}
}

// ListChecks probes the bucket with a bounded timeout.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.pinger == nil {
		return []healthcheck.CheckResult{}
	}
	bucket := c.pinger.Bucket()
	item := healthcheck.CheckResult{
		ID:       checkTypeStorageBucket,
		Type:     checkTypeStorageBucket,
		Subtitle: bucket,
		Status:   healthcheck.StatusOK,
		Summary:  "Bucket is reachable.",
		Metadata: map[string]any{"bucket": bucket},
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	started := time.Now()
	err := c.pinger.Ping(probeCtx)
	item.Metadata["latency_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		c.logger.Warn("storage healthcheck failed", slog.String("bucket", bucket), slog.Any("error", err))
		item.Status = healthcheck.StatusError
		item.Summary = "Bucket is not reachable."
		item.Detail = err.Error()
	}
	return []healthcheck.CheckResult{item}
}
