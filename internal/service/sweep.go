package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/export"
	"github.com/dyike/t0quant/internal/t0"
	"github.com/dyike/t0quant/internal/utils"
)

// SweepService runs parameter grids over one symbol's bars.
type SweepService struct {
	Backtest *BacktestService
	Workers  int
}

type SweepRequest struct {
	Symbol  string
	Start   time.Time
	End     time.Time
	Adjust  dataflows.Adjust
	Base    t0.Params
	Grid    t0.Grid
	Persist bool
	XLSX    bool
}

type SweepOutcome struct {
	RunID  string
	Rows   []t0.SweepRow
	Best   t0.SweepRow
	Export string
}

func (s *SweepService) Run(ctx context.Context, req SweepRequest) (*SweepOutcome, error) {
	bt := s.Backtest
	bars, err := bt.LoadBars(ctx, req.Symbol, req.Start, req.End, req.Adjust, false)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	rows, err := t0.Sweep(ctx, bars, req.Base, req.Grid, s.Workers)
	if err != nil {
		return nil, fmt.Errorf("sweep %s: %w", req.Symbol, err)
	}
	out := &SweepOutcome{Rows: rows}
	out.Best, _ = t0.Best(rows)
	bt.logger().Info("sweep finished", "symbol", req.Symbol, "cells", len(rows),
		"elapsed", time.Since(started).Round(time.Millisecond),
		"best_low", out.Best.OpenGapLow, "best_high", out.Best.OpenGapHigh)

	if req.Persist && bt.Store != nil {
		id, err := bt.Store.SaveSweep(ctx, bt.runRecord(req.Symbol, bars), rows)
		if err != nil {
			bt.logger().Error("failed to persist sweep", "symbol", req.Symbol, "error", err)
		} else {
			out.RunID = id
		}
	}
	if req.XLSX {
		dir := bt.ExportDir
		if dir == "" {
			dir = "."
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_sweep_%s.xlsx",
			utils.SafeName(dataflows.NormalizeSymbol(req.Symbol)), time.Now().Format("20060102_150405")))
		if err := export.WriteSweepXLSX(path, rows); err != nil {
			bt.logger().Error("failed to export sweep", "path", path, "error", err)
		} else {
			out.Export = path
		}
	}
	return out, nil
}
