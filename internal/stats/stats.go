// Package stats computes rolling-window statistics over ordered daily bars.
// Every function here is pure; Window adds the history lookup on top.
package stats

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/models"
)

var (
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrInvalidWindow       = errors.New("invalid window")
)

var hundred = decimal.NewFromInt(100)

// DailyChange is the close-to-close move of one bar, in percent.
type DailyChange struct {
	Date      string          `json:"date"`
	ChangePct decimal.Decimal `json:"change_pct"`
}

// DailyChanges returns the close-to-close percentage change for every bar but
// the first. Bars whose previous close is not positive are skipped.
func DailyChanges(bars []models.PriceBar) []DailyChange {
	if len(bars) < 2 {
		return nil
	}
	out := make([]DailyChange, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if !prev.IsPositive() {
			continue
		}
		out = append(out, DailyChange{
			Date:      bars[i].DateString(),
			ChangePct: bars[i].Close.Sub(prev).Div(prev).Mul(hundred),
		})
	}
	return out
}

// NewHigh reports whether the highest close of the last recent bars equals the
// highest close of the last lookback bars. Intraday highs are ignored.
func NewHigh(bars []models.PriceBar, recent, lookback int) (bool, error) {
	if recent <= 0 || lookback <= 0 || recent > lookback {
		return false, fmt.Errorf("%w: recent=%d lookback=%d", ErrInvalidWindow, recent, lookback)
	}
	if len(bars) < lookback {
		return false, fmt.Errorf("%w: need %d bars, have %d", ErrInsufficientHistory, lookback, len(bars))
	}
	window := bars[len(bars)-lookback:]
	all := maxClose(window)
	last := maxClose(window[len(window)-recent:])
	return last.Equal(all), nil
}

// ConsecutiveDecline reports whether each of the last days closes was below
// the close before it. It needs days+1 bars.
func ConsecutiveDecline(bars []models.PriceBar, days int) (bool, error) {
	if days <= 0 {
		return false, fmt.Errorf("%w: days=%d", ErrInvalidWindow, days)
	}
	if len(bars) < days+1 {
		return false, fmt.Errorf("%w: need %d bars, have %d", ErrInsufficientHistory, days+1, len(bars))
	}
	tail := bars[len(bars)-days-1:]
	for i := 1; i < len(tail); i++ {
		if !tail[i].Close.LessThan(tail[i-1].Close) {
			return false, nil
		}
	}
	return true, nil
}

// ChangePct is the percentage change from the close days bars ago to the
// last close.
func ChangePct(bars []models.PriceBar, days int) (decimal.Decimal, error) {
	if days <= 0 {
		return decimal.Zero, fmt.Errorf("%w: days=%d", ErrInvalidWindow, days)
	}
	if len(bars) < days+1 {
		return decimal.Zero, fmt.Errorf("%w: need %d bars, have %d", ErrInsufficientHistory, days+1, len(bars))
	}
	start := bars[len(bars)-days-1].Close
	if !start.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: start close %s", models.ErrInvalidPrice, start)
	}
	end := bars[len(bars)-1].Close
	return end.Sub(start).Div(start).Mul(hundred), nil
}

// Range summarizes intraday excursions from the open, as fractions.
type Range struct {
	Days              int             `json:"days"`
	MeanMaxIncrease   decimal.Decimal `json:"mean_max_increase"`
	MeanMaxDecrease   decimal.Decimal `json:"mean_max_decrease"`
	MedianMaxIncrease decimal.Decimal `json:"median_max_increase"`
	MedianMaxDecrease decimal.Decimal `json:"median_max_decrease"`
}

// RangeStats measures (high-open)/open and (low-open)/open per bar. It is the
// usual way to pick the intraday rise and fall thresholds.
func RangeStats(bars []models.PriceBar) (Range, error) {
	ups := make([]decimal.Decimal, 0, len(bars))
	downs := make([]decimal.Decimal, 0, len(bars))
	for _, b := range bars {
		if !b.Open.IsPositive() {
			continue
		}
		ups = append(ups, b.High.Sub(b.Open).Div(b.Open))
		downs = append(downs, b.Low.Sub(b.Open).Div(b.Open))
	}
	if len(ups) == 0 {
		return Range{}, fmt.Errorf("%w: no bars with a positive open", ErrInsufficientHistory)
	}
	return Range{
		Days:              len(ups),
		MeanMaxIncrease:   mean(ups),
		MeanMaxDecrease:   mean(downs),
		MedianMaxIncrease: median(ups),
		MedianMaxDecrease: median(downs),
	}, nil
}

func maxClose(bars []models.PriceBar) decimal.Decimal {
	m := bars[0].Close
	for _, b := range bars[1:] {
		m = decimal.Max(m, b.Close)
	}
	return m
}

func mean(vs []decimal.Decimal) decimal.Decimal {
	return decimal.Sum(vs[0], vs[1:]...).Div(decimal.NewFromInt(int64(len(vs))))
}

func median(vs []decimal.Decimal) decimal.Decimal {
	sorted := append([]decimal.Decimal(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}
