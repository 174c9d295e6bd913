// Package t0 simulates a single-position intraday (T+0) rebalancing strategy
// over daily OHLC bars.
//
// Each day after the first, the open gap against the previous close selects one
// of three regimes (gap-down, gap-up, neutral). Intraday fills are priced at the
// threshold-implied level, reference × (1 + threshold), as if a limit order sat
// exactly at the trigger. At the close the holding is forced back to the
// baseline. Simulate is a pure function: it does no I/O and keeps no state
// between calls.
package t0

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/models"
)

var one = decimal.NewFromInt(1)

// Result is the output contract of one simulation run.
type Result struct {
	Params  Params              `json:"params"`
	Final   models.Position     `json:"final"`
	Trades  []models.TradeEvent `json:"trades"`
	Days    []models.DayRecord  `json:"days"`
	Summary Summary             `json:"summary"`
}

type simulator struct {
	p        Params
	pos      models.Position
	buyUnit  decimal.Decimal // 1 + fee
	sellUnit decimal.Decimal // 1 - fee - stamp duty

	trades     []models.TradeEvent
	days       []models.DayRecord
	cumulative decimal.Decimal
	day        time.Time
}

// Simulate runs the strategy over bars, which must be strictly ordered by
// calendar day. Unaffordable or empty trades resolve to no-ops; only invalid
// params and unordered input are errors.
func Simulate(bars []models.PriceBar, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	for i := 1; i < len(bars); i++ {
		if !models.Day(bars[i].Date).After(models.Day(bars[i-1].Date)) {
			return nil, fmt.Errorf("%w: %s follows %s", models.ErrUnorderedBars,
				bars[i].DateString(), bars[i-1].DateString())
		}
	}

	s := &simulator{
		p: p,
		pos: models.Position{
			Cash:       p.InitialCash,
			SharesHeld: p.BaselineShares,
		},
		buyUnit:    one.Add(p.FeeRate),
		sellUnit:   one.Sub(p.FeeRate).Sub(p.StampDutyRate),
		trades:     make([]models.TradeEvent, 0, len(bars)),
		days:       make([]models.DayRecord, 0, len(bars)),
		cumulative: decimal.Zero,
	}
	for _, bar := range bars {
		s.step(bar)
	}

	return &Result{
		Params:  p,
		Final:   s.pos,
		Trades:  s.trades,
		Days:    s.days,
		Summary: summarize(p, bars, s.days, s.pos),
	}, nil
}

func (s *simulator) step(bar models.PriceBar) {
	s.day = bar.Date
	rec := models.DayRecord{
		Date:       bar.Date,
		Bar:        bar,
		CashBefore: s.pos.Cash,
		Fees:       decimal.Zero,
		Profit:     decimal.Zero,
	}
	first := len(s.trades)

	switch {
	case !s.pos.HasPreviousClose:
		rec.Regime = models.RegimeSeed
	case !bar.Tradeable():
		rec.Regime = models.RegimeUntradeable
	case !s.pos.PreviousClose.IsPositive():
		rec.Regime = models.RegimeUntradeable
		rec.Shortfall = !s.closeOut(bar)
	default:
		rec.Regime = s.intraday(bar)
		rec.Shortfall = !s.closeOut(bar)
	}

	rec.CashAfter = s.pos.Cash
	rec.SharesAfter = s.pos.SharesHeld
	rec.Trades = len(s.trades) - first
	for _, tr := range s.trades[first:] {
		rec.Fees = rec.Fees.Add(tr.Fee)
	}
	if rec.Trades == 0 {
		rec.Outcome = models.OutcomeNoTrade
	} else {
		rec.Profit = rec.CashAfter.Sub(rec.CashBefore)
		switch rec.Profit.Sign() {
		case 1:
			rec.Outcome = models.OutcomeProfit
		case -1:
			rec.Outcome = models.OutcomeLoss
		default:
			rec.Outcome = models.OutcomeFlat
		}
	}
	s.cumulative = s.cumulative.Add(rec.Profit)
	rec.CumulativeProfit = s.cumulative
	s.days = append(s.days, rec)

	if bar.Close.IsPositive() || !s.pos.HasPreviousClose {
		s.pos.PreviousClose = bar.Close
		s.pos.HasPreviousClose = true
	}
}

// intraday applies the regime selected by the open gap. Comparisons are done
// against threshold-implied prices so no division by the previous close is
// needed.
func (s *simulator) intraday(bar models.PriceBar) models.Regime {
	prev := s.pos.PreviousClose
	switch {
	case bar.Open.LessThanOrEqual(impliedPrice(prev, s.p.OpenGapLow)):
		s.gapDown(bar, prev)
		return models.RegimeGapDown
	case bar.Open.GreaterThanOrEqual(impliedPrice(prev, s.p.OpenGapHigh)):
		s.gapUp(bar, prev)
		return models.RegimeGapUp
	default:
		s.neutral(bar, prev)
		return models.RegimeNeutral
	}
}

func (s *simulator) gapDown(bar models.PriceBar, prev decimal.Decimal) {
	qty := min(floorQuo(s.p.TradeNotional, bar.Open), s.affordable(bar.Open))
	if qty <= 0 {
		return
	}
	s.buy(bar.Open, qty, models.ReasonGapDownOpen)

	target := impliedPrice(prev, s.p.IntradayRise)
	if bar.High.GreaterThanOrEqual(target) {
		s.sell(target, qty, models.ReasonGapDownTakeProfit)
	}
}

func (s *simulator) gapUp(bar models.PriceBar, prev decimal.Decimal) {
	qty := min(floorQuo(s.p.TradeNotional, bar.Open), s.sellable())
	if qty <= 0 {
		return
	}
	proceeds := s.sell(bar.Open, qty, models.ReasonGapUpOpen)

	target := impliedPrice(prev, s.p.IntradayFall)
	if bar.Low.LessThanOrEqual(target) {
		back := min(floorQuo(proceeds, target), s.affordable(target))
		if back > 0 {
			s.buy(target, back, models.ReasonGapUpBuyback)
		}
	}
}

func (s *simulator) neutral(bar models.PriceBar, prev decimal.Decimal) {
	ref := prev
	if s.p.ReferencePrice == RefOpen {
		ref = bar.Open
	}

	dipPrice := impliedPrice(ref, s.p.IntradayFall)
	dip := bar.Low.LessThanOrEqual(dipPrice)
	if dip {
		qty := min(floorQuo(s.p.TradeNotional, dipPrice), s.affordable(dipPrice))
		if qty > 0 {
			s.buy(dipPrice, qty, models.ReasonIntradayDipBuy)
		}
	}
	if dip && s.p.ExclusiveNeutral {
		return
	}

	rallyPrice := impliedPrice(ref, s.p.IntradayRise)
	if bar.High.GreaterThanOrEqual(rallyPrice) {
		qty := min(floorQuo(s.p.TradeNotional, rallyPrice), s.sellable())
		if qty > 0 {
			s.sell(rallyPrice, qty, models.ReasonIntradayRallySell)
		}
	}
}

// closeOut restores the baseline at the close. It reports false when cash
// could not cover the full deficit.
func (s *simulator) closeOut(bar models.PriceBar) bool {
	held, baseline := s.pos.SharesHeld, s.p.BaselineShares
	switch {
	case held > baseline:
		s.sell(bar.Close, held-baseline, models.ReasonCloseoutSell)
	case held < baseline:
		qty := min(baseline-held, s.affordable(bar.Close))
		if qty > 0 {
			s.buy(bar.Close, qty, models.ReasonCloseoutBuy)
		}
	}
	return s.pos.SharesHeld == baseline
}

func (s *simulator) buy(price decimal.Decimal, qty int64, reason models.TradeReason) {
	gross := price.Mul(decimal.NewFromInt(qty))
	fee := gross.Mul(s.p.FeeRate)
	s.pos.Cash = s.pos.Cash.Sub(gross).Sub(fee)
	s.pos.SharesHeld += qty
	s.record(models.SideBuy, reason, price, qty, fee)
}

// sell returns the net proceeds credited to cash.
func (s *simulator) sell(price decimal.Decimal, qty int64, reason models.TradeReason) decimal.Decimal {
	gross := price.Mul(decimal.NewFromInt(qty))
	net := gross.Mul(s.sellUnit)
	s.pos.Cash = s.pos.Cash.Add(net)
	s.pos.SharesHeld -= qty
	s.record(models.SideSell, reason, price, qty, gross.Sub(net))
	return net
}

func (s *simulator) record(side models.Side, reason models.TradeReason, price decimal.Decimal, qty int64, fee decimal.Decimal) {
	s.trades = append(s.trades, models.TradeEvent{
		Date:          s.day,
		Side:          side,
		Reason:        reason,
		Price:         price,
		Quantity:      qty,
		Fee:           fee,
		ResultingCash: s.pos.Cash,
		SharesAfter:   s.pos.SharesHeld,
	})
}

// affordable is floor(cash / (price × (1 + fee))), never negative.
func (s *simulator) affordable(price decimal.Decimal) int64 {
	return floorQuo(s.pos.Cash, price.Mul(s.buyUnit))
}

func (s *simulator) sellable() int64 {
	return max(s.pos.SharesHeld-s.p.SellFloorShares, 0)
}

// AffordableShares is the closed-form affordability clamp used for every buy.
func AffordableShares(cash, price, feeRate decimal.Decimal) int64 {
	return floorQuo(cash, price.Mul(one.Add(feeRate)))
}

func impliedPrice(ref, threshold decimal.Decimal) decimal.Decimal {
	return ref.Mul(one.Add(threshold))
}

// floorQuo returns floor(a / b) for positive b using an exact integer
// quotient, and 0 when the result would be negative or b is not positive.
func floorQuo(a, b decimal.Decimal) int64 {
	if !b.IsPositive() || !a.IsPositive() {
		return 0
	}
	q, _ := a.QuoRem(b, 0)
	return q.IntPart()
}
