// Package service wires data sources, the simulator and persistence together
// for the command line.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/export"
	"github.com/dyike/t0quant/internal/models"
	"github.com/dyike/t0quant/internal/storage/sqlite"
	"github.com/dyike/t0quant/internal/t0"
	"github.com/dyike/t0quant/internal/utils"
)

// RunStore persists finished runs. *sqlite.Store satisfies it.
type RunStore interface {
	SaveRun(ctx context.Context, run sqlite.RunRecord, res *t0.Result) (string, error)
	SaveSweep(ctx context.Context, run sqlite.RunRecord, rows []t0.SweepRow) (string, error)
}

type BacktestService struct {
	Source   dataflows.BarSource
	Store    RunStore
	CSV      *utils.CSVManager
	Logger   *slog.Logger
	Provider string
	// ExportDir receives ledger CSV, XLSX and Markdown files.
	ExportDir string
}

type BacktestRequest struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Adjust dataflows.Adjust
	Params t0.Params
	// Strict rejects bars with non-positive prices instead of letting the
	// simulator treat them as untradeable days.
	Strict   bool
	Persist  bool
	CSV      bool
	XLSX     bool
	Markdown bool
}

type BacktestOutcome struct {
	RunID   string
	Bars    []models.PriceBar
	Result  *t0.Result
	Exports []string
}

func (s *BacktestService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// LoadBars fetches and checks the bars for a request.
func (s *BacktestService) LoadBars(ctx context.Context, symbol string, start, end time.Time, adjust dataflows.Adjust, strict bool) ([]models.PriceBar, error) {
	if s.Source == nil {
		return nil, errors.New("no bar source configured")
	}
	symbol = dataflows.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", dataflows.ErrInvalidSymbol)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("end %s is before start %s", end.Format(models.DateLayout), start.Format(models.DateLayout))
	}

	req := dataflows.BarRequest{Symbol: symbol, Start: start, End: end, Adjust: adjust}
	bars, err := s.Source.DailyBars(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s", dataflows.ErrNoData, req)
	}

	if err := models.ValidateBars(bars); err != nil {
		if strict || !errors.Is(err, models.ErrInvalidPrice) {
			return nil, err
		}
		s.logger().Warn("bars contain untradeable days", "symbol", symbol, "error", err)
	}
	s.logger().Debug("bars loaded", "symbol", symbol, "count", len(bars),
		"first", bars[0].DateString(), "last", bars[len(bars)-1].DateString())
	return bars, nil
}

// Run fetches bars, simulates and then optionally persists and exports.
// Persistence and export failures are logged and do not fail the run.
func (s *BacktestService) Run(ctx context.Context, req BacktestRequest) (*BacktestOutcome, error) {
	bars, err := s.LoadBars(ctx, req.Symbol, req.Start, req.End, req.Adjust, req.Strict)
	if err != nil {
		return nil, err
	}

	res, err := t0.Simulate(bars, req.Params)
	if err != nil {
		return nil, fmt.Errorf("simulate %s: %w", req.Symbol, err)
	}
	out := &BacktestOutcome{Bars: bars, Result: res}
	s.logger().Info("simulation finished", "symbol", req.Symbol, "days", res.Summary.TotalDays,
		"trades", res.Summary.TradeCount, "profit", res.Summary.RealizedProfit.StringFixed(2))

	if req.Persist && s.Store != nil {
		id, err := s.Store.SaveRun(ctx, s.runRecord(req.Symbol, bars), res)
		if err != nil {
			s.logger().Error("failed to persist run", "symbol", req.Symbol, "error", err)
		} else {
			out.RunID = id
		}
	}

	base := s.exportBase(req.Symbol, bars, out.RunID)
	if req.CSV && s.CSV != nil {
		trades, days := base+"_trades.csv", base+"_days.csv"
		if err := s.CSV.WriteTradesCSV(trades, res.Trades); err != nil {
			s.logger().Error("failed to export trades", "path", trades, "error", err)
		} else {
			out.Exports = append(out.Exports, trades)
		}
		if err := s.CSV.WriteDaysCSV(days, res.Days); err != nil {
			s.logger().Error("failed to export days", "path", days, "error", err)
		} else {
			out.Exports = append(out.Exports, days)
		}
	}
	if req.XLSX {
		path := base + ".xlsx"
		if err := export.WriteLedgerXLSX(path, res); err != nil {
			s.logger().Error("failed to export workbook", "path", path, "error", err)
		} else {
			out.Exports = append(out.Exports, path)
		}
	}
	if req.Markdown {
		path := base + ".md"
		if err := export.WriteRunMarkdown(path, dataflows.NormalizeSymbol(req.Symbol), res); err != nil {
			s.logger().Error("failed to write report", "path", path, "error", err)
		} else {
			out.Exports = append(out.Exports, path)
		}
	}
	return out, nil
}

func (s *BacktestService) runRecord(symbol string, bars []models.PriceBar) sqlite.RunRecord {
	rec := sqlite.RunRecord{Symbol: dataflows.NormalizeSymbol(symbol), Provider: s.Provider}
	if len(bars) > 0 {
		rec.StartDate = bars[0].DateString()
		rec.EndDate = bars[len(bars)-1].DateString()
	}
	return rec
}

func (s *BacktestService) exportBase(symbol string, bars []models.PriceBar, runID string) string {
	dir := s.ExportDir
	if dir == "" {
		dir = "."
	}
	parts := []string{utils.SafeName(dataflows.NormalizeSymbol(symbol))}
	if len(bars) > 0 {
		parts = append(parts, bars[0].Date.Format("20060102"), bars[len(bars)-1].Date.Format("20060102"))
	}
	if runID != "" {
		parts = append(parts, runID[:min(8, len(runID))])
	} else {
		parts = append(parts, time.Now().Format("150405"))
	}
	return filepath.Join(dir, strings.Join(parts, "_"))
}
