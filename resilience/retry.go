package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/tidemark/conflux/config"
	"github.com/tidemark/conflux/errors"
)

// Policy describes retry-with-exponential-backoff behavior for a class
// of operations. An operation is attempted at most MaxRetries+1 times.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool

	// Retryable classifies errors worth retrying. Errors outside the
	// class propagate immediately. Defaults to errors.IsTransient.
	Retryable func(error) bool

	logger *zap.SugaredLogger
}

// DefaultPolicy matches the shipped configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// PolicyFromConfig builds a Policy from the retry section of the
// loaded configuration.
func PolicyFromConfig(cfg config.RetryConfig, logger *zap.SugaredLogger) Policy {
	return Policy{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: time.Duration(cfg.InitialBackoffSec * float64(time.Second)),
		MaxBackoff:     time.Duration(cfg.MaxBackoffSec * float64(time.Second)),
		Multiplier:     cfg.BackoffMultiplier,
		Jitter:         cfg.Jitter,
		logger:         logger,
	}
}

// WithLogger returns a copy of the policy that logs retry attempts.
func (p Policy) WithLogger(logger *zap.SugaredLogger) Policy {
	p.logger = logger
	return p
}

// Backoff returns the delay before retry attempt k (0-based). Without
// jitter the delay is min(initial * multiplier^k, max); with jitter it
// is scaled by a random factor in [0.75, 1.25].
func (p Policy) Backoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	if p.Jitter {
		backoff *= 0.75 + rand.Float64()*0.5
	}
	return time.Duration(backoff)
}

// Do runs op, retrying on retryable errors with exponential backoff.
// The backoff sleep is cancellable through ctx; cancellation returns
// ctx.Err(). The last attempt's error is returned on exhaustion.
func (p Policy) Do(ctx context.Context, name string, op func() error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = errors.IsTransient
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Backoff(attempt - 1)
			if p.logger != nil {
				p.logger.Warnw("Retrying after transient failure",
					"operation", name,
					"attempt", attempt,
					"max_retries", p.MaxRetries,
					"backoff", delay,
					"error", lastErr,
				)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}

	return errors.Wrapf(lastErr, "%s failed after %d attempts", name, p.MaxRetries+1)
}
