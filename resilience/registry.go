package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tidemark/conflux/config"
)

// Registry holds one Limiter per source key. It is explicitly
// constructed and passed by reference so tests control their own
// instance; there is no package-level singleton. Sources not
// configured fall back to the default quota on first use.
type Registry struct {
	mu            sync.Mutex
	limiters      map[string]*Limiter
	defaultCalls  int
	defaultPeriod time.Duration
	logger        *zap.SugaredLogger
}

// NewRegistry creates a registry with the fallback quota for
// unconfigured sources.
func NewRegistry(defaultCalls int, defaultPeriod time.Duration, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		limiters:      make(map[string]*Limiter),
		defaultCalls:  defaultCalls,
		defaultPeriod: defaultPeriod,
		logger:        logger,
	}
}

// NewRegistryFromConfig builds a registry from the rate-limit section
// of the loaded configuration.
func NewRegistryFromConfig(cfg config.RateLimitConfig, logger *zap.SugaredLogger) *Registry {
	r := NewRegistry(cfg.DefaultCallsPerPeriod,
		time.Duration(cfg.DefaultPeriodSeconds)*time.Second, logger)
	for source, quota := range cfg.Quotas {
		r.Configure(source, quota.CallsPerPeriod,
			time.Duration(quota.PeriodSeconds)*time.Second)
	}
	return r
}

// Configure sets an explicit quota for a source, replacing any limiter
// created earlier for it.
func (r *Registry) Configure(source string, callsPerPeriod int, period time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.limiters[source] = NewLimiter(callsPerPeriod, period)
	if r.logger != nil {
		r.logger.Infow("Configured rate limit",
			"source", source,
			"calls_per_period", callsPerPeriod,
			"period", period,
		)
	}
}

// Get returns the limiter for a source, lazily creating one with the
// default quota when the source was never configured.
func (r *Registry) Get(source string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.limiters[source]
	if !ok {
		if r.logger != nil {
			r.logger.Warnw("No rate limit configured for source, using default",
				"source", source,
				"calls_per_period", r.defaultCalls,
				"period", r.defaultPeriod,
			)
		}
		limiter = NewLimiter(r.defaultCalls, r.defaultPeriod)
		r.limiters[source] = limiter
	}
	return limiter
}

// Wait blocks on the source's limiter until a call is allowed.
func (r *Registry) Wait(ctx context.Context, source string) error {
	return r.Get(source).Wait(ctx)
}

// SourceStats is the current window state for one source.
type SourceStats struct {
	CallsInWindow int `json:"calls_in_window"`
	Remaining     int `json:"remaining"`
}

// Stats returns per-source window statistics.
func (r *Registry) Stats() map[string]SourceStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[string]SourceStats, len(r.limiters))
	for source, limiter := range r.limiters {
		calls, remaining := limiter.Stats()
		stats[source] = SourceStats{CallsInWindow: calls, Remaining: remaining}
	}
	return stats
}
