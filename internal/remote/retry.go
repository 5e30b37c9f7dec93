package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/kilupskalvis/oreg/internal/models"
)

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps a RegistryClient with automatic retry on transient errors.
type RetryClient struct {
	inner  RegistryClient
	config *RetryConfig
}

// NewRetryClient creates a RetryClient that wraps the given RegistryClient.
func NewRetryClient(inner RegistryClient, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryClient{inner: inner, config: cfg}
}

// isTransient returns true for errors that are worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	base := float64(rc.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rc.config.MaxBackoff) {
		base = float64(rc.config.MaxBackoff)
	}
	jitter := base * rc.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
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

// retry executes fn with retry logic. Only retries transient errors.
func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= rc.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < rc.config.MaxRetries {
			d := rc.backoff(attempt)
			if err := sleep(ctx, d); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rc.config.MaxRetries)
}

// --- Delegate all RegistryClient methods through retry logic ---

func (rc *RetryClient) CreateEnvironment(ctx context.Context, name, env string) error {
	return rc.retry(ctx, "create environment", func() error {
		return rc.inner.CreateEnvironment(ctx, name, env)
	})
}

func (rc *RetryClient) CreateAlias(ctx context.Context, name, alias, env string) error {
	return rc.retry(ctx, "create alias", func() error {
		return rc.inner.CreateAlias(ctx, name, alias, env)
	})
}

func (rc *RetryClient) ListEnvironments(ctx context.Context, name string) (envs []*models.Environment, err error) {
	err = rc.retry(ctx, "list environments", func() error {
		envs, err = rc.inner.ListEnvironments(ctx, name)
		return err
	})
	return
}

func (rc *RetryClient) Publish(ctx context.Context, name, env, version, variant string, req *PublishRequest) (*models.Variant, error) {
	// Publishing races against the latest-version check on the server.
	// Conflicts must surface to the caller, so no automatic retry.
	return rc.inner.Publish(ctx, name, env, version, variant, req)
}

func (rc *RetryClient) GetVariant(ctx context.Context, name, env, version, variant string) (v *models.Variant, err error) {
	err = rc.retry(ctx, "get variant", func() error {
		v, err = rc.inner.GetVariant(ctx, name, env, version, variant)
		return err
	})
	return
}

func (rc *RetryClient) GetVariants(ctx context.Context, name, env, version string, variants []string) (vs []*models.Variant, err error) {
	err = rc.retry(ctx, "get variants", func() error {
		vs, err = rc.inner.GetVariants(ctx, name, env, version, variants)
		return err
	})
	return
}

func (rc *RetryClient) ListVersions(ctx context.Context, name, env string) (versions []string, err error) {
	err = rc.retry(ctx, "list versions", func() error {
		versions, err = rc.inner.ListVersions(ctx, name, env)
		return err
	})
	return
}

func (rc *RetryClient) GetHead(ctx context.Context, name, env string) (head *models.HeadInfo, err error) {
	err = rc.retry(ctx, "get head", func() error {
		head, err = rc.inner.GetHead(ctx, name, env)
		return err
	})
	return
}

func (rc *RetryClient) GetHeads(ctx context.Context, name string) (heads []*models.EnvironmentHead, err error) {
	err = rc.retry(ctx, "get heads", func() error {
		heads, err = rc.inner.GetHeads(ctx, name)
		return err
	})
	return
}

func (rc *RetryClient) SetHead(ctx context.Context, name, env, version string, prevTimestamp *int64) (int64, error) {
	// CAS operations are NOT retried — conflict errors are not transient,
	// and a lost response would replay a stale token.
	return rc.inner.SetHead(ctx, name, env, version, prevTimestamp)
}

func (rc *RetryClient) Rollback(ctx context.Context, name, env string, hops int) (*models.HeadInfo, error) {
	// Rollback re-issues a CAS update under the hood; same rule as SetHead.
	return rc.inner.Rollback(ctx, name, env, hops)
}

func (rc *RetryClient) History(ctx context.Context, name, env string) (records []*models.HistoryRecord, err error) {
	err = rc.retry(ctx, "get history", func() error {
		records, err = rc.inner.History(ctx, name, env)
		return err
	})
	return
}

func (rc *RetryClient) DeleteVariant(ctx context.Context, name, env, version, variant string) error {
	return rc.retry(ctx, "delete variant", func() error {
		return rc.inner.DeleteVariant(ctx, name, env, version, variant)
	})
}

func (rc *RetryClient) DeleteVersion(ctx context.Context, name, env, version string) error {
	return rc.retry(ctx, "delete version", func() error {
		return rc.inner.DeleteVersion(ctx, name, env, version)
	})
}

func (rc *RetryClient) DeleteObject(ctx context.Context, name, env string) error {
	return rc.retry(ctx, "delete object", func() error {
		return rc.inner.DeleteObject(ctx, name, env)
	})
}

func (rc *RetryClient) Audit(ctx context.Context, name string) (resp *AuditResponse, err error) {
	err = rc.retry(ctx, "audit", func() error {
		resp, err = rc.inner.Audit(ctx, name)
		return err
	})
	return
}
