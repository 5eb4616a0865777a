package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryConfig bounds retries and request rate against a store.
type RetryConfig struct {
	MaxAttempts       uint          `mapstructure:"max-attempts"`
	InitialInterval   time.Duration `mapstructure:"initial-interval"`
	MaxInterval       time.Duration `mapstructure:"max-interval"`
	RequestsPerSecond float64       `mapstructure:"requests-per-second"`
}

// DefaultRetryConfig returns the retry policy used when nothing is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

type resilient struct {
	next    Store
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Resilient wraps a store with rate limiting and exponential backoff on
// transient failures. Permanent failures are returned after the first attempt.
func Resilient(next Store, cfg RetryConfig, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultRetryConfig().InitialInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	return &resilient{
		next:    next,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

func (r *resilient) List(ctx context.Context, containerID string) ([]Entry, error) {
	return retry(ctx, r, "list", containerID, func() ([]Entry, error) {
		return r.next.List(ctx, containerID)
	})
}

func (r *resilient) Fetch(ctx context.Context, id string) ([]byte, error) {
	return retry(ctx, r, "fetch", id, func() ([]byte, error) {
		return r.next.Fetch(ctx, id)
	})
}

func retry[T any](ctx context.Context, r *resilient, op, id string, call func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		var zero T
		if err := r.limiter.Wait(ctx); err != nil {
			return zero, backoff.Permanent(err)
		}

		res, err := call()
		if err == nil {
			return res, nil
		}
		if !IsTemporary(err) || ctx.Err() != nil {
			return zero, backoff.Permanent(err)
		}

		r.logger.Debug("transient store error",
			zap.String("op", op),
			zap.String("id", id),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return zero, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxAttempts),
	)
}
