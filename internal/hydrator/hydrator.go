// Package hydrator implements the Remote Hydrator of SPEC_FULL.md §4.C: a
// thin, rate-limited fetcher treated as opaque from the rest of the core.
package hydrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"futurescore/internal/core"
)

// Fetcher is the one contract the core depends on; internal/feedvendor
// implements it against the concrete upstream.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time, timeframe string) ([]core.Bar, error)
}

// Hydrator wraps a Fetcher with a timeout and an outbound rate limiter so a
// symbol storm (warm cache preWarm across many symbols) never floods the vendor.
type Hydrator struct {
	fetcher Fetcher
	limiter *rate.Limiter
	timeout time.Duration
}

// New builds a Hydrator. ratePerSecond bounds outbound fetch calls.
func New(fetcher Fetcher, ratePerSecond float64, burst int, timeout time.Duration) *Hydrator {
	return &Hydrator{
		fetcher: fetcher,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		timeout: timeout,
	}
}

// Fetch waits for rate-limiter admission then calls through with a timeout.
// Errors are wrapped but never retried here; callers (Warm Cache refresh)
// decide whether to retry.
func (h *Hydrator) Fetch(ctx context.Context, symbol string, start, end time.Time, timeframe string) ([]core.Bar, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("hydrator: rate limit wait: %w", err)
	}

	fctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	bars, err := h.fetcher.Fetch(fctx, symbol, start, end, timeframe)
	if err != nil {
		return nil, fmt.Errorf("hydrator: fetch %s/%s: %w", symbol, timeframe, err)
	}
	return bars, nil
}
