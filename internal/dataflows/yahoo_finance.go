package dataflows

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"

	"github.com/dyike/t0quant/internal/models"
)

// YahooFinanceClient handles Yahoo Finance data operations
type YahooFinanceClient struct {
	retry RetryConfig
	chart func(*chart.Params) *chart.Iter
}

func NewYahooFinanceClient(retry RetryConfig) *YahooFinanceClient {
	return &YahooFinanceClient{retry: retry, chart: chart.Get}
}

// YahooSymbol maps an instrument to Yahoo's ".SS" / ".SZ" tickers.
func YahooSymbol(inst Instrument) string {
	if inst.Shanghai() {
		return inst.Code + ".SS"
	}
	return inst.Code + ".SZ"
}

// DailyBars ignores req.Adjust: Yahoo charts are unadjusted with a separate
// adjusted close that is not used here.
func (yf *YahooFinanceClient) DailyBars(ctx context.Context, req BarRequest) ([]models.PriceBar, error) {
	inst, err := ParseSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}

	start, end := req.Start, req.End
	if end.IsZero() {
		end = time.Now()
	}
	// the chart end bound is exclusive
	end = models.Day(end).AddDate(0, 0, 1)

	var result []models.PriceBar
	err = WithRetry(ctx, yf.retry, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := &chart.Params{
			Symbol:   YahooSymbol(inst),
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: datetime.OneDay,
		}

		iter := yf.chart(params)
		result = result[:0]
		for iter.Next() {
			bar := iter.Bar()
			day := tradingDay(time.Unix(int64(bar.Timestamp), 0))
			if !inRange(day, req) {
				continue
			}
			result = append(result, models.PriceBar{
				Symbol: req.Symbol,
				Date:   day,
				Open:   bar.Open,
				High:   bar.High,
				Low:    bar.Low,
				Close:  bar.Close,
				Volume: int64(bar.Volume),
			})
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to get historical data for %s: %w", req.Symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: yahoo returned no bars for %s", ErrNoData, req)
	}
	return result, nil
}
