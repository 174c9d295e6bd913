package display

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/models"
	"github.com/dyike/t0quant/internal/screener"
	"github.com/dyike/t0quant/internal/stats"
	"github.com/dyike/t0quant/internal/storage/sqlite"
	"github.com/dyike/t0quant/internal/t0"
)

var (
	cardStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#3B82F6")).
		Padding(0, 2)

	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED"))

	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280")).
		Width(18)

	headerCellStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#3B82F6")).
		Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	gainStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	lossStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	bestStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B")).Padding(0, 1)

	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
)

// ResultsDisplay renders simulation output for one symbol.
type ResultsDisplay struct {
	w      io.Writer
	symbol string
}

func NewResultsDisplay(w io.Writer, symbol string) *ResultsDisplay {
	return &ResultsDisplay{w: w, symbol: symbol}
}

// DisplaySimulation prints the summary card and, when verbose, both ledgers.
func (d *ResultsDisplay) DisplaySimulation(res *t0.Result, verbose bool) {
	fmt.Fprintln(d.w, SummaryCard(d.symbol, res))
	if !verbose {
		return
	}
	fmt.Fprintln(d.w, TradesTable(res.Trades))
	fmt.Fprintln(d.w, DaysTable(res.Days))
}

func (d *ResultsDisplay) DisplaySweep(rows []t0.SweepRow) {
	fmt.Fprintln(d.w, titleStyle.Render(fmt.Sprintf("Sweep %s (%d cells)", d.symbol, len(rows))))
	fmt.Fprintln(d.w, SweepTable(rows))
}

// SummaryCard renders the run summary as a bordered card.
func SummaryCard(symbol string, res *t0.Result) string {
	s := res.Summary
	lines := []struct {
		label string
		value string
	}{
		{"Days", strconv.Itoa(s.TotalDays)},
		{"Traded days", strconv.Itoa(s.DaysWithTrades)},
		{"Profit / loss", fmt.Sprintf("%d / %d (flat %d)", s.ProfitDays, s.LossDays, s.FlatDays)},
		{"Win rate", pct(s.WinRate())},
		{"Trades", strconv.Itoa(s.TradeCount)},
		{"Fees", s.TotalFees.StringFixed(2)},
		{"Realized P&L", signed(s.RealizedProfit.StringFixed(2), s.RealizedProfit)},
		{"Cash return", signed(pct(s.CashReturn), s.CashReturn)},
		{"Period return", pct(s.PeriodReturn)},
		{"Max drawdown", s.MaxDrawdown.StringFixed(2)},
		{"Ending cash", s.EndingEquity.StringFixed(2)},
		{"Shares", strconv.FormatInt(res.Final.SharesHeld, 10)},
	}
	if s.ShortfallDays > 0 {
		lines = append(lines, struct {
			label string
			value string
		}{"Shortfall days", warnStyle.Render(strconv.Itoa(s.ShortfallDays))})
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("T+0 " + symbol))
	b.WriteString("\n\n")
	for i, l := range lines {
		b.WriteString(labelStyle.Render(l.label))
		b.WriteString(l.value)
		if i < len(lines)-1 {
			b.WriteString("\n")
		}
	}
	return cardStyle.Render(b.String())
}

func TradesTable(trades []models.TradeEvent) string {
	rows := make([][]string, len(trades))
	for i, tr := range trades {
		rows[i] = []string{
			tr.Date.Format(models.DateLayout),
			string(tr.Side),
			string(tr.Reason),
			tr.Price.StringFixed(3),
			strconv.FormatInt(tr.Quantity, 10),
			tr.Fee.StringFixed(2),
			tr.ResultingCash.StringFixed(2),
			strconv.FormatInt(tr.SharesAfter, 10),
		}
	}
	return newTable([]string{"Date", "Side", "Reason", "Price", "Qty", "Fee", "Cash", "Shares"}, rows, nil).String()
}

func DaysTable(days []models.DayRecord) string {
	rows := make([][]string, len(days))
	for i, day := range days {
		rows[i] = []string{
			day.Date.Format(models.DateLayout),
			string(day.Regime),
			day.Bar.Open.StringFixed(2),
			day.Bar.Close.StringFixed(2),
			strconv.Itoa(day.Trades),
			day.Profit.StringFixed(2),
			day.CumulativeProfit.StringFixed(2),
			string(day.Outcome),
		}
	}
	return newTable([]string{"Date", "Regime", "Open", "Close", "Trades", "P&L", "Cum P&L", "Outcome"}, rows, nil).String()
}

// SweepTable highlights the best row as picked by t0.Best.
func SweepTable(rows []t0.SweepRow) string {
	data := make([][]string, len(rows))
	bestIdx := -1
	if best, ok := t0.Best(rows); ok {
		for i, r := range rows {
			if r.OpenGapLow.Equal(best.OpenGapLow) && r.OpenGapHigh.Equal(best.OpenGapHigh) {
				bestIdx = i
				break
			}
		}
	}
	for i, r := range rows {
		s := r.Summary
		data[i] = []string{
			pct(r.OpenGapLow),
			pct(r.OpenGapHigh),
			strconv.Itoa(s.DaysWithTrades),
			pct(s.WinRate()),
			strconv.Itoa(s.TradeCount),
			s.RealizedProfit.StringFixed(2),
			pct(s.CashReturn),
			s.MaxDrawdown.StringFixed(2),
		}
	}
	highlight := func(row int) bool { return row == bestIdx }
	return newTable([]string{"Gap low", "Gap high", "Traded", "Win", "Trades", "P&L", "Return", "Max DD"}, data, highlight).String()
}

func RangeCard(symbol string, r stats.Range) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s intraday range (%d days)", symbol, r.Days)))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("Mean high/open") + pct(r.MeanMaxIncrease) + "\n")
	b.WriteString(labelStyle.Render("Median high/open") + pct(r.MedianMaxIncrease) + "\n")
	b.WriteString(labelStyle.Render("Mean low/open") + pct(r.MeanMaxDecrease) + "\n")
	b.WriteString(labelStyle.Render("Median low/open") + pct(r.MedianMaxDecrease))
	return cardStyle.Render(b.String())
}

func ScreenTable(res *screener.Result) string {
	rows := make([][]string, len(res.Matches))
	for i, m := range res.Matches {
		rows[i] = []string{m.Code, m.Name}
	}
	title := titleStyle.Render(fmt.Sprintf("%s on %s: index %s%%, %d/%d matched, %d skipped",
		res.Index, res.AsOf.Format(models.DateLayout), res.IndexPct.StringFixed(2),
		len(res.Matches), res.Scanned, res.Failed))
	return title + "\n" + newTable([]string{"Code", "Name"}, rows, nil).String()
}

func RunsTable(runs []sqlite.RunWithMeta) string {
	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{
			r.ID,
			r.Kind,
			r.Symbol,
			r.StartDate + " ~ " + r.EndDate,
			r.Status,
			r.Summary.RealizedProfit.StringFixed(2),
			r.CreatedAt,
		}
	}
	return newTable([]string{"ID", "Kind", "Symbol", "Range", "Status", "P&L", "Created"}, rows, nil).String()
}

func newTable(headers []string, rows [][]string, highlight func(row int) bool) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerCellStyle
			case highlight != nil && highlight(row):
				return bestStyle
			}
			return cellStyle
		})
}

// A-share convention: red is up, green is down.
func signed(text string, v decimal.Decimal) string {
	switch v.Sign() {
	case 1:
		return gainStyle.Render(text)
	case -1:
		return lossStyle.Render(text)
	}
	return text
}

func pct(v decimal.Decimal) string {
	return v.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func DisplayError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("Error: "+err.Error()))
}

func DisplayWarning(w io.Writer, message string) {
	fmt.Fprintln(w, warnStyle.Render("Warning: "+message))
}

func DisplaySuccess(w io.Writer, message string) {
	fmt.Fprintln(w, successStyle.Render(message))
}

func DisplayInfo(w io.Writer, message string) {
	fmt.Fprintln(w, infoStyle.Render(message))
}
