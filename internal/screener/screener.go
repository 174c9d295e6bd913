// Package screener filters index constituents by composable price criteria.
package screener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/stats"
)

// Subject is what a Criterion inspects: one symbol as of one date, with the
// benchmark index performance already computed.
type Subject struct {
	Code     string
	AsOf     time.Time
	IndexPct decimal.Decimal
}

// Criterion accepts or rejects a subject. A non-nil error means the check
// could not be evaluated.
type Criterion interface {
	Name() string
	Match(ctx context.Context, w stats.Window, s Subject) (bool, error)
}

type CriterionFunc struct {
	Label string
	Fn    func(ctx context.Context, w stats.Window, s Subject) (bool, error)
}

func (c CriterionFunc) Name() string { return c.Label }

func (c CriterionFunc) Match(ctx context.Context, w stats.Window, s Subject) (bool, error) {
	return c.Fn(ctx, w, s)
}

// And matches when every criterion matches, evaluated in order with early exit.
func And(criteria ...Criterion) Criterion {
	names := make([]string, len(criteria))
	for i, c := range criteria {
		names[i] = c.Name()
	}
	return CriterionFunc{
		Label: strings.Join(names, " & "),
		Fn: func(ctx context.Context, w stats.Window, s Subject) (bool, error) {
			for _, c := range criteria {
				ok, err := c.Match(ctx, w, s)
				if err != nil {
					return false, fmt.Errorf("%s: %w", c.Name(), err)
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		},
	}
}

// MaxLastDayChange keeps symbols whose last close-to-close move is at most pct percent.
func MaxLastDayChange(pct decimal.Decimal) Criterion {
	return CriterionFunc{
		Label: fmt.Sprintf("last day <= %s%%", pct),
		Fn: func(ctx context.Context, w stats.Window, s Subject) (bool, error) {
			chg, err := w.LastChange(ctx, s.Code, s.AsOf)
			if err != nil {
				return false, err
			}
			return chg.LessThanOrEqual(pct), nil
		},
	}
}

// ConsecutiveDecline keeps symbols that closed lower on each of the last days.
func ConsecutiveDecline(days int) Criterion {
	return CriterionFunc{
		Label: fmt.Sprintf("%d down days", days),
		Fn: func(ctx context.Context, w stats.Window, s Subject) (bool, error) {
			return w.IsConsecutiveDecline(ctx, s.Code, s.AsOf, days)
		},
	}
}

// NewHigh keeps symbols whose highest recent close is their highest
// lookback-day close.
func NewHigh(recent, lookback int) Criterion {
	return CriterionFunc{
		Label: fmt.Sprintf("%d/%d day high", recent, lookback),
		Fn: func(ctx context.Context, w stats.Window, s Subject) (bool, error) {
			return w.IsNewHigh(ctx, s.Code, s.AsOf, recent, lookback)
		},
	}
}

// Outperform keeps symbols that beat the index by at least excess percentage
// points over days.
func Outperform(days int, excess decimal.Decimal) Criterion {
	return CriterionFunc{
		Label: fmt.Sprintf("beats index by %s%% over %d days", excess, days),
		Fn: func(ctx context.Context, w stats.Window, s Subject) (bool, error) {
			perf, err := w.Performance(ctx, s.Code, s.AsOf, days)
			if err != nil {
				return false, err
			}
			return perf.GreaterThanOrEqual(s.IndexPct.Add(excess)), nil
		},
	}
}

// LimitFloor returns the last-day drop a board allows before the result is
// considered a limit-down artifact: ChiNext and STAR codes move ±20%, the
// main board ±10%.
func LimitFloor(code string) decimal.Decimal {
	if strings.HasPrefix(code, "3") || strings.HasPrefix(code, "68") {
		return decimal.RequireFromString("-19.9")
	}
	return decimal.RequireFromString("-9.9")
}

// NotLimitDown rejects symbols that closed at or near the board's limit-down.
func NotLimitDown() Criterion {
	return CriterionFunc{
		Label: "not limit down",
		Fn: func(ctx context.Context, w stats.Window, s Subject) (bool, error) {
			chg, err := w.LastChange(ctx, s.Code, s.AsOf)
			if err != nil {
				return false, err
			}
			return chg.GreaterThanOrEqual(LimitFloor(s.Code)), nil
		},
	}
}

// Adjusted evaluates c against bars with the given price adjustment. An empty
// adjust leaves the window's own setting in place.
func Adjusted(adjust dataflows.Adjust, c Criterion) Criterion {
	if adjust == dataflows.AdjustNone {
		return c
	}
	return CriterionFunc{
		Label: fmt.Sprintf("%s (%s)", c.Name(), adjust),
		Fn: func(ctx context.Context, w stats.Window, s Subject) (bool, error) {
			w.Adjust = adjust
			return c.Match(ctx, w, s)
		},
	}
}

// Options mirror the knobs of a classic "strong stock pulled back" screen.
type Options struct {
	Index           string
	AsOf            time.Time
	MaxDropPct      decimal.Decimal
	DeclineDays     int
	NewHighRecent   int
	NewHighLookback int
	VsIndexDays     int
	ExcessPct       decimal.Decimal
	Concurrency     int

	// TrendAdjust applies to the new-high, decline and index comparison
	// checks, ChangeAdjust to the last-day checks. Empty uses the window's.
	TrendAdjust  dataflows.Adjust
	ChangeAdjust dataflows.Adjust
}

// Criteria assembles the default pipeline from options.
func (o Options) Criteria() Criterion {
	return And(
		Adjusted(o.ChangeAdjust, MaxLastDayChange(o.MaxDropPct)),
		Adjusted(o.TrendAdjust, ConsecutiveDecline(o.DeclineDays)),
		Adjusted(o.TrendAdjust, NewHigh(o.NewHighRecent, o.NewHighLookback)),
		Adjusted(o.TrendAdjust, Outperform(o.VsIndexDays, o.ExcessPct)),
		Adjusted(o.ChangeAdjust, NotLimitDown()),
	)
}

func (o Options) Validate() error {
	switch {
	case o.Index == "":
		return errors.New("index is required")
	case o.DeclineDays <= 0:
		return errors.New("decline days must be positive")
	case o.NewHighRecent <= 0 || o.NewHighLookback < o.NewHighRecent:
		return errors.New("new high windows must satisfy 0 < recent <= lookback")
	case o.VsIndexDays <= 0:
		return errors.New("index comparison days must be positive")
	}
	return nil
}

type ConstituentLister interface {
	Constituents(ctx context.Context, index string) ([]dataflows.Constituent, error)
}

type Screener struct {
	Window  stats.Window
	Members ConstituentLister
	Logger  *slog.Logger
}

type Match struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Result struct {
	Index    string          `json:"index"`
	AsOf     time.Time       `json:"as_of"`
	IndexPct decimal.Decimal `json:"index_pct"`
	Scanned  int             `json:"scanned"`
	Failed   int             `json:"failed"`
	Matches  []Match         `json:"matches"`
}

// Run evaluates crit for every constituent of opts.Index. Constituents whose
// checks fail with an error are logged, counted and skipped.
func (s *Screener) Run(ctx context.Context, opts Options, crit Criterion) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	index := strings.TrimPrefix(dataflows.NormalizeSymbol(opts.Index), dataflows.IndexPrefix)

	indexPct, err := s.Window.Performance(ctx, dataflows.IndexPrefix+index, opts.AsOf, opts.VsIndexDays)
	if err != nil {
		return nil, fmt.Errorf("index %s performance: %w", index, err)
	}
	logger.Info("index performance", "index", index, "days", opts.VsIndexDays, "pct", indexPct.StringFixed(3))

	members, err := s.Members.Constituents(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("index %s constituents: %w", index, err)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	matched := make([]bool, len(members))
	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, m := range members {
		g.Go(func() error {
			ok, err := crit.Match(gctx, s.Window, Subject{Code: m.Code, AsOf: opts.AsOf, IndexPct: indexPct})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failed.Add(1)
				logger.Warn("constituent skipped", "code", m.Code, "error", err)
				return nil
			}
			matched[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Index:    index,
		AsOf:     opts.AsOf,
		IndexPct: indexPct,
		Scanned:  len(members),
		Failed:   int(failed.Load()),
	}
	for i, ok := range matched {
		if ok {
			res.Matches = append(res.Matches, Match{Code: members[i].Code, Name: members[i].Name})
		}
	}
	sort.Slice(res.Matches, func(a, b int) bool { return res.Matches[a].Code < res.Matches[b].Code })
	return res, nil
}
