package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/kilupskalvis/geoconv/internal/models"
	"github.com/kilupskalvis/geoconv/internal/schema"
)

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
	// Logger receives one debug line per retried attempt. Nil discards.
	Logger *slog.Logger
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps an ObjectService and retries transient failures:
// network errors, 5xx responses and rate limiting. Every ObjectService call
// is safe to repeat: artifacts are content addressed and the service
// answers a repeated identical CreateObject with the version it already
// stored.
type RetryClient struct {
	inner  ObjectService
	config *RetryConfig
	logger *slog.Logger
}

func NewRetryClient(inner ObjectService, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RetryClient{inner: inner, config: cfg, logger: logger}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	return true
}

// backoff is the exponential delay before retry attempt+1, with jitter.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	base := float64(rc.config.InitialBackoff) * math.Pow(2, float64(attempt))
	base = math.Min(base, float64(rc.config.MaxBackoff))
	jitter := base * rc.config.JitterFraction * (rand.Float64()*2 - 1)
	return max(time.Duration(base+jitter), 0)
}

// delay honors a server's Retry-After when it asks for longer than the
// computed backoff, up to MaxBackoff.
func (rc *RetryClient) delay(attempt int, err error) time.Duration {
	d := rc.backoff(attempt)
	var re *RemoteError
	if errors.As(err, &re) && re.RetryAfter > d {
		d = min(re.RetryAfter, rc.config.MaxBackoff)
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); !isTransient(err) {
			return err
		}
		if attempt == rc.config.MaxRetries {
			return fmt.Errorf("%s: %w (after %d retries)", operation, err, rc.config.MaxRetries)
		}
		d := rc.delay(attempt, err)
		rc.logger.Debug("retrying", "operation", operation, "attempt", attempt+1, "delay", d, "error", err)
		if sleep(ctx, d) != nil {
			return fmt.Errorf("%s: %w (retry cancelled)", operation, err)
		}
	}
}

func call[T any](rc *RetryClient, ctx context.Context, operation string, fn func() (T, error)) (T, error) {
	var out T
	err := rc.retry(ctx, operation, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (rc *RetryClient) CheckArtifacts(ctx context.Context, hashes []string) (*ArtifactCheckResponse, error) {
	return call(rc, ctx, "check artifacts", func() (*ArtifactCheckResponse, error) {
		return rc.inner.CheckArtifacts(ctx, hashes)
	})
}

func (rc *RetryClient) UploadArtifact(ctx context.Context, hash string, data []byte) error {
	return rc.retry(ctx, "upload artifact "+hash, func() error {
		return rc.inner.UploadArtifact(ctx, hash, data)
	})
}

func (rc *RetryClient) DownloadArtifact(ctx context.Context, hash string) ([]byte, error) {
	return call(rc, ctx, "download artifact "+hash, func() ([]byte, error) {
		return rc.inner.DownloadArtifact(ctx, hash)
	})
}

func (rc *RetryClient) CreateObject(ctx context.Context, path string, obj schema.Object, mode IfExists) (*models.ObjectMetadata, error) {
	return call(rc, ctx, "create object "+path, func() (*models.ObjectMetadata, error) {
		return rc.inner.CreateObject(ctx, path, obj, mode)
	})
}

func (rc *RetryClient) GetObject(ctx context.Context, objectID, versionID string) (*ObjectResponse, error) {
	ref := models.ObjectRef{ObjectID: objectID, VersionID: versionID}
	return call(rc, ctx, "get object "+ref.String(), func() (*ObjectResponse, error) {
		return rc.inner.GetObject(ctx, objectID, versionID)
	})
}

func (rc *RetryClient) ListObjects(ctx context.Context, prefix string) ([]models.ObjectMetadata, error) {
	return call(rc, ctx, "list objects", func() ([]models.ObjectMetadata, error) {
		return rc.inner.ListObjects(ctx, prefix)
	})
}

func (rc *RetryClient) GetInfo(ctx context.Context) (*WorkspaceInfo, error) {
	return call(rc, ctx, "get workspace info", func() (*WorkspaceInfo, error) {
		return rc.inner.GetInfo(ctx)
	})
}
