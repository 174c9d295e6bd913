// Package export writes simulation output to spreadsheets and Markdown reports.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/dyike/t0quant/internal/models"
	"github.com/dyike/t0quant/internal/t0"
)

const (
	SheetSweep   = "Sweep"
	SheetSummary = "Summary"
	SheetTrades  = "Trades"
	SheetDays    = "Days"
)

var (
	sweepHeader = []string{
		"open_gap_low", "open_gap_high", "days_with_trades", "profit_days", "loss_days", "flat_days",
		"win_rate", "trade_count", "total_fees", "realized_profit", "cash_return", "period_return",
		"max_drawdown", "ending_equity",
	}
	tradesHeader = []string{"date", "side", "reason", "price", "quantity", "fee", "resulting_cash", "shares_after"}
	daysHeader   = []string{
		"date", "open", "high", "low", "close", "regime", "cash_before", "cash_after", "shares_after",
		"trades", "fees", "profit", "cumulative_profit", "outcome", "shortfall",
	}
)

// WriteSweepXLSX writes one row per grid cell.
func WriteSweepXLSX(path string, rows []t0.SweepRow) error {
	f := excelize.NewFile()
	defer f.Close()

	w, err := newSheet(f, SheetSweep, sweepHeader)
	if err != nil {
		return err
	}
	for _, r := range rows {
		s := r.Summary
		if err := w.row(
			num(r.OpenGapLow), num(r.OpenGapHigh), s.DaysWithTrades, s.ProfitDays, s.LossDays, s.FlatDays,
			num(s.WinRate()), s.TradeCount, num(s.TotalFees), num(s.RealizedProfit), num(s.CashReturn),
			num(s.PeriodReturn), num(s.MaxDrawdown), num(s.EndingEquity),
		); err != nil {
			return err
		}
	}
	return save(f, path)
}

// WriteLedgerXLSX writes the summary, trade ledger and per-day ledger of one run.
func WriteLedgerXLSX(path string, res *t0.Result) error {
	if res == nil {
		return fmt.Errorf("nil result")
	}
	f := excelize.NewFile()
	defer f.Close()

	sum, err := newSheet(f, SheetSummary, []string{"metric", "value"})
	if err != nil {
		return err
	}
	s := res.Summary
	metrics := []struct {
		name  string
		value any
	}{
		{"total_days", s.TotalDays},
		{"days_with_trades", s.DaysWithTrades},
		{"profit_days", s.ProfitDays},
		{"loss_days", s.LossDays},
		{"flat_days", s.FlatDays},
		{"no_trade_days", s.NoTradeDays},
		{"shortfall_days", s.ShortfallDays},
		{"win_rate", num(s.WinRate())},
		{"trade_count", s.TradeCount},
		{"total_fees", num(s.TotalFees)},
		{"realized_profit", num(s.RealizedProfit)},
		{"cash_return", num(s.CashReturn)},
		{"period_return", num(s.PeriodReturn)},
		{"max_drawdown", num(s.MaxDrawdown)},
		{"ending_equity", num(s.EndingEquity)},
		{"final_shares", res.Final.SharesHeld},
	}
	for _, m := range metrics {
		if err := sum.row(m.name, m.value); err != nil {
			return err
		}
	}

	trades, err := newSheet(f, SheetTrades, tradesHeader)
	if err != nil {
		return err
	}
	for _, tr := range res.Trades {
		if err := trades.row(
			tr.Date.Format(models.DateLayout), string(tr.Side), string(tr.Reason), num(tr.Price), tr.Quantity,
			num(tr.Fee), num(tr.ResultingCash), tr.SharesAfter,
		); err != nil {
			return err
		}
	}

	days, err := newSheet(f, SheetDays, daysHeader)
	if err != nil {
		return err
	}
	for _, d := range res.Days {
		if err := days.row(
			d.Date.Format(models.DateLayout), num(d.Bar.Open), num(d.Bar.High), num(d.Bar.Low), num(d.Bar.Close),
			string(d.Regime), num(d.CashBefore), num(d.CashAfter), d.SharesAfter, d.Trades, num(d.Fees),
			num(d.Profit), num(d.CumulativeProfit), string(d.Outcome), d.Shortfall,
		); err != nil {
			return err
		}
	}

	idx, err := f.GetSheetIndex(SheetSummary)
	if err != nil {
		return fmt.Errorf("summary sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	return save(f, path)
}

type sheetWriter struct {
	f    *excelize.File
	name string
	next int
}

// newSheet creates (or renames the default sheet to) name with a bold header row.
func newSheet(f *excelize.File, name string, header []string) (*sheetWriter, error) {
	if f.SheetCount == 1 && f.GetSheetName(0) == "Sheet1" {
		if err := f.SetSheetName("Sheet1", name); err != nil {
			return nil, fmt.Errorf("rename sheet: %w", err)
		}
	} else if _, err := f.NewSheet(name); err != nil {
		return nil, fmt.Errorf("create sheet %s: %w", name, err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &cells); err != nil {
		return nil, fmt.Errorf("write %s header: %w", name, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(name, "A1", last, bold); err != nil {
		return nil, fmt.Errorf("style %s header: %w", name, err)
	}
	if err := f.SetPanes(name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, fmt.Errorf("freeze %s header: %w", name, err)
	}
	return &sheetWriter{f: f, name: name, next: 2}, nil
}

func (w *sheetWriter) row(values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, w.next)
	if err != nil {
		return err
	}
	if err := w.f.SetSheetRow(w.name, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", w.name, w.next, err)
	}
	w.next++
	return nil
}

func save(f *excelize.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// num converts for the spreadsheet only; ledgers keep exact decimals.
func num(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
