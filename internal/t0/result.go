package t0

import (
	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/models"
)

// Summary aggregates a run. Seed days are excluded from the day counters.
type Summary struct {
	TotalDays      int             `json:"total_days"`
	DaysWithTrades int             `json:"days_with_trades"`
	ProfitDays     int             `json:"profit_days"`
	LossDays       int             `json:"loss_days"`
	FlatDays       int             `json:"flat_days"`
	NoTradeDays    int             `json:"no_trade_days"`
	ShortfallDays  int             `json:"shortfall_days"`
	TradeCount     int             `json:"trade_count"`
	TotalFees      decimal.Decimal `json:"total_fees"`
	RealizedProfit decimal.Decimal `json:"realized_profit"`
	CashReturn     decimal.Decimal `json:"cash_return"`
	PeriodReturn   decimal.Decimal `json:"period_return"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	EndingEquity   decimal.Decimal `json:"ending_equity"`
}

// WinRate is profit days over days with trades, zero when nothing traded.
func (s Summary) WinRate() decimal.Decimal {
	if s.DaysWithTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.ProfitDays)).Div(decimal.NewFromInt(int64(s.DaysWithTrades)))
}

func summarize(p Params, bars []models.PriceBar, days []models.DayRecord, final models.Position) Summary {
	sum := Summary{
		TotalFees:      decimal.Zero,
		RealizedProfit: final.Cash.Sub(p.InitialCash),
		PeriodReturn:   decimal.Zero,
		MaxDrawdown:    decimal.Zero,
		EndingEquity:   final.Cash,
	}
	sum.CashReturn = sum.RealizedProfit.Div(p.InitialCash)

	peak := decimal.Zero
	for _, d := range days {
		sum.TotalFees = sum.TotalFees.Add(d.Fees)
		sum.TradeCount += d.Trades
		if d.Shortfall {
			sum.ShortfallDays++
		}
		if d.CumulativeProfit.GreaterThan(peak) {
			peak = d.CumulativeProfit
		}
		if dd := peak.Sub(d.CumulativeProfit); dd.GreaterThan(sum.MaxDrawdown) {
			sum.MaxDrawdown = dd
		}
		if d.Regime == models.RegimeSeed {
			continue
		}
		sum.TotalDays++
		switch d.Outcome {
		case models.OutcomeProfit:
			sum.ProfitDays++
		case models.OutcomeLoss:
			sum.LossDays++
		case models.OutcomeFlat:
			sum.FlatDays++
		default:
			sum.NoTradeDays++
		}
		if d.Traded() {
			sum.DaysWithTrades++
		}
	}

	if len(bars) > 0 {
		first, last := bars[0], bars[len(bars)-1]
		if first.Open.IsPositive() {
			sum.PeriodReturn = last.Close.Div(first.Open).Sub(one)
		}
		if last.Close.IsPositive() {
			sum.EndingEquity = final.Cash.Add(last.Close.Mul(decimal.NewFromInt(final.SharesHeld)))
		}
	}
	return sum
}
