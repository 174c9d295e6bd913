package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/models"
)

// Lookback widens the calendar window until enough trading days come back.
// Calendar days outnumber trading days, so the first attempt asks for twice
// as many calendar days as bars needed.
type Lookback struct {
	// InitialFactor multiplies the bar count for the first window. Default 2.
	InitialFactor int
	// MaxAttempts bounds the number of widenings. Default 5.
	MaxAttempts int
}

// Window answers rolling-window questions about a symbol as of a date.
type Window struct {
	Source   dataflows.BarSource
	Lookback Lookback
	Adjust   dataflows.Adjust
}

// Bars returns at least need bars ending on or before asOf, trimmed to the
// last need bars.
func (w Window) Bars(ctx context.Context, symbol string, asOf time.Time, need int) ([]models.PriceBar, error) {
	if need <= 0 {
		return nil, fmt.Errorf("%w: need=%d", ErrInvalidWindow, need)
	}
	factor := w.Lookback.InitialFactor
	if factor <= 0 {
		factor = 2
	}
	attempts := w.Lookback.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}

	end := models.Day(asOf)
	span := need * factor
	var got int
	for i := 0; i < attempts; i++ {
		bars, err := w.Source.DailyBars(ctx, dataflows.BarRequest{
			Symbol: symbol,
			Start:  end.AddDate(0, 0, -span),
			End:    end,
			Adjust: w.Adjust,
		})
		if err != nil {
			return nil, err
		}
		if len(bars) >= need {
			return bars[len(bars)-need:], nil
		}
		got = len(bars)
		span += need
	}
	return nil, fmt.Errorf("%w: %s has %d of %d bars before %s", ErrInsufficientHistory,
		symbol, got, need, end.Format(models.DateLayout))
}

// IsNewHigh reports whether the best recent close is also the best lookback-day close.
func (w Window) IsNewHigh(ctx context.Context, symbol string, asOf time.Time, recent, lookback int) (bool, error) {
	bars, err := w.Bars(ctx, symbol, asOf, lookback)
	if err != nil {
		return false, err
	}
	return NewHigh(bars, recent, lookback)
}

// IsConsecutiveDecline reports whether each of the last days closed lower.
func (w Window) IsConsecutiveDecline(ctx context.Context, symbol string, asOf time.Time, days int) (bool, error) {
	bars, err := w.Bars(ctx, symbol, asOf, days+1)
	if err != nil {
		return false, err
	}
	return ConsecutiveDecline(bars, days)
}

// Performance is the percentage change over the last days trading days.
func (w Window) Performance(ctx context.Context, symbol string, asOf time.Time, days int) (decimal.Decimal, error) {
	bars, err := w.Bars(ctx, symbol, asOf, days+1)
	if err != nil {
		return decimal.Zero, err
	}
	return ChangePct(bars, days)
}

// LastChange is the last close-to-close move in percent.
func (w Window) LastChange(ctx context.Context, symbol string, asOf time.Time) (decimal.Decimal, error) {
	return w.Performance(ctx, symbol, asOf, 1)
}
