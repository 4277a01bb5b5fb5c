// Package ratelimit spaces out marketplace submissions with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/listing-publisher/internal/metrics"
	"github.com/JakeFAU/listing-publisher/internal/publish"
)

// Config holds pacing configuration.
type Config struct {
	// MinInterval is the minimum spacing between submissions; zero disables pacing.
	MinInterval time.Duration `mapstructure:"min_interval"`
	Burst       int           `mapstructure:"burst"`
	// Site labels the pacing delay metric.
	Site string `mapstructure:"-"`
}

// Pacer is a single submission limiter shared by the worker.
type Pacer struct {
	limiter *rate.Limiter
	site    string
}

var _ publish.Pacer = (*Pacer)(nil)

// New creates a Pacer.
func New(cfg Config) *Pacer {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	site := cfg.Site
	if site == "" {
		site = "unknown"
	}
	return &Pacer{limiter: rate.NewLimiter(limit, burst), site: site}
}

// Wait blocks until the next submission may start, respecting the context.
func (p *Pacer) Wait(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}
	// An immediately available token is not a delay worth recording.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObservePacingDelay(p.site, d)
	}
	return nil
}
