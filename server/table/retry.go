package table

import (
	"context"
	"strconv"
	"time"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/config"
	"github.com/gear6io/stratum/server/metadata"
	"github.com/rs/zerolog"
)

// RetryConfig bounds the commit loop
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"`
	BaseDelay     time.Duration `json:"base_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
}

// NewRetryConfig starts from the configured defaults and applies the
// table's commit.retry.* properties.
func NewRetryConfig(base config.CommitConfig, m *metadata.Metadata) RetryConfig {
	cfg := RetryConfig{
		MaxAttempts:   base.MaxAttempts,
		BaseDelay:     base.BaseDelay,
		MaxDelay:      base.MaxDelay,
		BackoffFactor: base.BackoffFactor,
	}
	if m != nil {
		cfg.MaxAttempts = int(m.PropertyInt(metadata.PropertyCommitNumRetries, int64(cfg.MaxAttempts-1))) + 1
		cfg.BaseDelay = time.Duration(m.PropertyInt(metadata.PropertyCommitMinWaitMs, cfg.BaseDelay.Milliseconds())) * time.Millisecond
		cfg.MaxDelay = time.Duration(m.PropertyInt(metadata.PropertyCommitMaxWaitMs, cfg.MaxDelay.Milliseconds())) * time.Millisecond
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return cfg
}

// RetryableOperation is one attempt of a commit, numbered from 1
type RetryableOperation func(ctx context.Context, attempt int) error

// RetryWithBackoff runs operation until it succeeds, fails with an error
// that is not retryable, or runs out of attempts. Only commit conflicts and
// storage unavailability are retried.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, operation RetryableOperation, logger zerolog.Logger) error {
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return errors.New(errors.CommonCanceled, "commit canceled", ctx.Err())
		default:
		}

		err := operation(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Commit succeeded after retry")
			}
			return nil
		}
		if !errors.IsRetryable(err) {
			return err
		}

		lastErr = err
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("delay", delay).
			Msg("Commit failed, retrying")

		select {
		case <-ctx.Done():
			return errors.New(errors.CommonCanceled, "commit canceled", ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return errors.New(errors.CommitConflict, "commit failed after retry attempts", lastErr).
		AddContext("max_attempts", strconv.Itoa(cfg.MaxAttempts))
}
