package t0

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/dyike/t0quant/internal/models"
)

const maxRangeSteps = 1000

// Range is a half-open arithmetic progression [From, To) with a positive Step.
type Range struct {
	From decimal.Decimal `json:"from" yaml:"from"`
	To   decimal.Decimal `json:"to" yaml:"to"`
	Step decimal.Decimal `json:"step" yaml:"step"`
}

// Values expands the range.
func (r Range) Values() ([]decimal.Decimal, error) {
	if !r.Step.IsPositive() {
		return nil, fmt.Errorf("%w: range step must be positive, got %s", ErrInvalidParams, r.Step)
	}
	var out []decimal.Decimal
	for v := r.From; v.LessThan(r.To); v = v.Add(r.Step) {
		if len(out) == maxRangeSteps {
			return nil, fmt.Errorf("%w: range %s..%s by %s exceeds %d values",
				ErrInvalidParams, r.From, r.To, r.Step, maxRangeSteps)
		}
		out = append(out, v)
	}
	return out, nil
}

// Grid is the cartesian product of gap thresholds evaluated by Sweep.
type Grid struct {
	OpenGapLow  Range `json:"open_gap_low" yaml:"open_gap_low"`
	OpenGapHigh Range `json:"open_gap_high" yaml:"open_gap_high"`
	// LinkIntraday sets IntradayRise to the high threshold and IntradayFall
	// to the low threshold in every cell.
	LinkIntraday bool `json:"link_intraday" yaml:"link_intraday"`
}

type SweepRow struct {
	OpenGapLow  decimal.Decimal `json:"open_gap_low"`
	OpenGapHigh decimal.Decimal `json:"open_gap_high"`
	Params      Params          `json:"params"`
	Summary     Summary         `json:"summary"`
}

// Sweep runs Simulate for every grid cell using at most workers goroutines.
// Rows come back sorted by (low, high) regardless of completion order.
func Sweep(ctx context.Context, bars []models.PriceBar, base Params, grid Grid, workers int) ([]SweepRow, error) {
	lows, err := grid.OpenGapLow.Values()
	if err != nil {
		return nil, fmt.Errorf("open_gap_low: %w", err)
	}
	highs, err := grid.OpenGapHigh.Values()
	if err != nil {
		return nil, fmt.Errorf("open_gap_high: %w", err)
	}
	if workers <= 0 {
		workers = 1
	}

	rows := make([]SweepRow, len(lows)*len(highs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, low := range lows {
		for j, high := range highs {
			idx := i*len(highs) + j
			p := base
			p.OpenGapLow, p.OpenGapHigh = low, high
			if grid.LinkIntraday {
				p.IntradayRise, p.IntradayFall = high, low
			}
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				res, err := Simulate(bars, p)
				if err != nil {
					return fmt.Errorf("cell low=%s high=%s: %w", low, high, err)
				}
				rows[idx] = SweepRow{OpenGapLow: low, OpenGapHigh: high, Params: p, Summary: res.Summary}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(rows, func(a, b int) bool {
		if c := rows[a].OpenGapLow.Cmp(rows[b].OpenGapLow); c != 0 {
			return c < 0
		}
		return rows[a].OpenGapHigh.LessThan(rows[b].OpenGapHigh)
	})
	return rows, nil
}

// Best returns the row with the highest cash return; the first row wins ties.
func Best(rows []SweepRow) (SweepRow, bool) {
	if len(rows) == 0 {
		return SweepRow{}, false
	}
	best := rows[0]
	for _, r := range rows[1:] {
		if r.Summary.CashReturn.GreaterThan(best.Summary.CashReturn) {
			best = r
		}
	}
	return best, true
}
