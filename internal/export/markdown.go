package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/models"
	"github.com/dyike/t0quant/internal/t0"
)

var hundred = decimal.NewFromInt(100)

// RenderRunMarkdown formats one run as a Markdown report: parameters,
// summary and the trade ledger.
func RenderRunMarkdown(symbol string, res *t0.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# T+0 backtest: %s\n\n", symbol)
	if n := len(res.Days); n > 0 {
		fmt.Fprintf(&b, "%s to %s, %d trading days\n\n",
			res.Days[0].Date.Format(models.DateLayout), res.Days[n-1].Date.Format(models.DateLayout), n)
	}

	p := res.Params
	b.WriteString("## Parameters\n\n| parameter | value |\n| --- | --- |\n")
	for _, kv := range [][2]string{
		{"initial_cash", p.InitialCash.String()},
		{"baseline_shares", fmt.Sprint(p.BaselineShares)},
		{"sell_floor_shares", fmt.Sprint(p.SellFloorShares)},
		{"trade_notional", p.TradeNotional.String()},
		{"open_gap_low", p.OpenGapLow.String()},
		{"open_gap_high", p.OpenGapHigh.String()},
		{"intraday_rise", p.IntradayRise.String()},
		{"intraday_fall", p.IntradayFall.String()},
		{"fee_rate", p.FeeRate.String()},
		{"stamp_duty_rate", p.StampDutyRate.String()},
		{"reference_price", string(p.ReferencePrice)},
		{"exclusive_neutral", fmt.Sprint(p.ExclusiveNeutral)},
	} {
		fmt.Fprintf(&b, "| %s | %s |\n", kv[0], kv[1])
	}

	s := res.Summary
	b.WriteString("\n## Summary\n\n| metric | value |\n| --- | --- |\n")
	for _, kv := range [][2]string{
		{"days with trades", fmt.Sprint(s.DaysWithTrades)},
		{"profit / loss / flat days", fmt.Sprintf("%d / %d / %d", s.ProfitDays, s.LossDays, s.FlatDays)},
		{"shortfall days", fmt.Sprint(s.ShortfallDays)},
		{"win rate", percent(s.WinRate())},
		{"trades", fmt.Sprint(s.TradeCount)},
		{"fees", s.TotalFees.StringFixed(2)},
		{"realized profit", s.RealizedProfit.StringFixed(2)},
		{"cash return", percent(s.CashReturn)},
		{"period return", percent(s.PeriodReturn)},
		{"max drawdown", percent(s.MaxDrawdown)},
		{"ending equity", s.EndingEquity.StringFixed(2)},
		{"final shares", fmt.Sprint(res.Final.SharesHeld)},
	} {
		fmt.Fprintf(&b, "| %s | %s |\n", kv[0], kv[1])
	}

	b.WriteString("\n## Trades\n\n")
	if len(res.Trades) == 0 {
		b.WriteString("No trades.\n")
		return b.String()
	}
	b.WriteString("| date | side | reason | price | quantity | fee | cash | shares |\n")
	b.WriteString("| --- | --- | --- | ---: | ---: | ---: | ---: | ---: |\n")
	for _, tr := range res.Trades {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %s | %s | %d |\n",
			tr.Date.Format(models.DateLayout), tr.Side, tr.Reason, tr.Price.StringFixed(2), tr.Quantity,
			tr.Fee.StringFixed(2), tr.ResultingCash.StringFixed(2), tr.SharesAfter)
	}
	return b.String()
}

// WriteRunMarkdown writes RenderRunMarkdown output to path.
func WriteRunMarkdown(path, symbol string, res *t0.Result) error {
	if res == nil {
		return fmt.Errorf("nil result")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(RenderRunMarkdown(symbol, res)), 0o644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}

func percent(v decimal.Decimal) string {
	return v.Mul(hundred).StringFixed(2) + "%"
}
