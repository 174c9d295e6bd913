package service

import (
	"context"
	"time"

	"github.com/dyike/t0quant/internal/dataflows"
)

type FetchRequest struct {
	Symbols []string
	Start   time.Time
	End     time.Time
	Adjust  dataflows.Adjust
	Options dataflows.FanOutOptions
	// CSV writes each successful symbol under the CSV manager's market dir.
	CSV bool
}

type FetchReport struct {
	Results []dataflows.FetchResult
	Files   map[string]string
	Failed  int
}

// Fetch downloads several symbols concurrently. Failures are reported per
// symbol and never abort the batch.
func (s *BacktestService) Fetch(ctx context.Context, req FetchRequest) *FetchReport {
	reqs := make([]dataflows.BarRequest, 0, len(req.Symbols))
	for _, sym := range req.Symbols {
		reqs = append(reqs, dataflows.BarRequest{
			Symbol: dataflows.NormalizeSymbol(sym),
			Start:  req.Start,
			End:    req.End,
			Adjust: req.Adjust,
		})
	}

	results := dataflows.FetchAll(ctx, s.Source, reqs, req.Options)
	report := &FetchReport{Results: results, Files: make(map[string]string)}
	for _, r := range results {
		if r.Err != nil {
			report.Failed++
			s.logger().Warn("fetch failed", "symbol", r.Request.Symbol, "error", r.Err)
			continue
		}
		s.logger().Info("fetched", "symbol", r.Request.Symbol, "bars", len(r.Bars))
		if !req.CSV || s.CSV == nil || len(r.Bars) == 0 {
			continue
		}
		path, err := s.CSV.WriteBarsToCSV(r.Request.Symbol, "daily", r.Bars)
		if err != nil {
			s.logger().Error("failed to write bars", "symbol", r.Request.Symbol, "error", err)
			continue
		}
		report.Files[r.Request.Symbol] = path
	}
	return report
}
