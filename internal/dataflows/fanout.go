package dataflows

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dyike/t0quant/internal/models"
)

type FanOutOptions struct {
	Concurrency int
	// Timeout bounds every unit of work, retries included. Zero means no limit.
	Timeout time.Duration
	Retry   RetryConfig
}

// FetchResult is the outcome of one BarRequest. Exactly one of Bars or Err is set.
type FetchResult struct {
	Request BarRequest
	Bars    []models.PriceBar
	Err     error
}

// FetchAll runs every request against src with bounded concurrency. A failed
// request is reported in its own FetchResult and does not cancel the others.
// Results keep the order of reqs.
func FetchAll(ctx context.Context, src BarSource, reqs []BarRequest, opts FanOutOptions) []FetchResult {
	results := make([]FetchResult, len(reqs))
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, req := range reqs {
		results[i].Request = req
		g.Go(func() error {
			unitCtx := ctx
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				unitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
				defer cancel()
			}

			var bars []models.PriceBar
			err := WithRetry(unitCtx, opts.Retry, func(ctx context.Context) error {
				var err error
				bars, err = src.DailyBars(ctx, req)
				return err
			})
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Bars = bars
			return nil
		})
	}
	_ = g.Wait()
	return results
}
