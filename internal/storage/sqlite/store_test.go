package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/models"
	"github.com/dyike/t0quant/internal/t0"
)

var d = decimal.RequireFromString

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs", "t0quant.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testParams() t0.Params {
	return t0.Params{
		InitialCash:    d("100000"),
		BaselineShares: 1000,
		TradeNotional:  d("10000"),
		OpenGapLow:     d("-0.005"),
		OpenGapHigh:    d("0.005"),
		IntradayRise:   d("0.005"),
		IntradayFall:   d("-0.005"),
		FeeRate:        d("0.0002"),
		StampDutyRate:  d("0.0005"),
		ReferencePrice: t0.RefPreviousClose,
	}
}

func testResult(t *testing.T) *t0.Result {
	t.Helper()
	day := func(n int) time.Time { return time.Date(2024, 6, 3+n, 0, 0, 0, 0, time.UTC) }
	bars := []models.PriceBar{
		{Symbol: "002780", Date: day(0), Open: d("10"), High: d("10.1"), Low: d("9.9"), Close: d("10")},
		{Symbol: "002780", Date: day(1), Open: d("9.9"), High: d("10"), Low: d("9.8"), Close: d("9.95")},
		{Symbol: "002780", Date: day(2), Open: d("10.1"), High: d("10.2"), Low: d("9.9"), Close: d("10")},
	}
	res, err := t0.Simulate(bars, testParams())
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(res.Trades) == 0 {
		t.Fatal("fixture should trade")
	}
	return res
}

func TestSaveAndLoadRun(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	res := testResult(t)

	id, err := s.SaveRun(ctx, RunRecord{Symbol: "002780", StartDate: "2024-06-03", EndDate: "2024-06-05", Provider: "eastmoney"}, res)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated run id")
	}

	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Kind != KindSimulate || run.Status != StatusDone || run.Symbol != "002780" {
		t.Fatalf("unexpected run %+v", run.RunRecord)
	}
	if !run.Params.OpenGapLow.Equal(d("-0.005")) || run.Params.ReferencePrice != t0.RefPreviousClose {
		t.Fatalf("params did not round trip: %+v", run.Params)
	}
	if !run.Summary.EndingEquity.Equal(res.Summary.EndingEquity) || run.Summary.TradeCount != res.Summary.TradeCount {
		t.Fatalf("summary did not round trip: %+v", run.Summary)
	}

	trades, err := s.ListTrades(ctx, id)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != len(res.Trades) {
		t.Fatalf("expected %d trades, got %d", len(res.Trades), len(trades))
	}
	for i, tr := range trades {
		want := res.Trades[i]
		if tr.Side != want.Side || tr.Reason != want.Reason || tr.Quantity != want.Quantity ||
			!tr.Price.Equal(want.Price) || !tr.Fee.Equal(want.Fee) || !tr.ResultingCash.Equal(want.ResultingCash) ||
			!tr.Date.Equal(want.Date) {
			t.Fatalf("trade %d: got %+v, want %+v", i, tr, want)
		}
	}

	days, err := s.ListDays(ctx, id)
	if err != nil {
		t.Fatalf("ListDays: %v", err)
	}
	if len(days) != len(res.Days) {
		t.Fatalf("expected %d days, got %d", len(res.Days), len(days))
	}
	for i, got := range days {
		want := res.Days[i]
		if got.Regime != want.Regime || got.Outcome != want.Outcome || got.Trades != want.Trades ||
			got.Shortfall != want.Shortfall || !got.CashAfter.Equal(want.CashAfter) ||
			!got.CumulativeProfit.Equal(want.CumulativeProfit) || !got.Bar.Close.Equal(want.Bar.Close) {
			t.Fatalf("day %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestListRunsPaging(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.SaveRun(ctx, RunRecord{Symbol: "600519", Params: testParams()}, nil)
		if err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
		ids = append(ids, id)
	}

	page, err := s.ListRuns(ctx, 0, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("unexpected first page %+v", page)
	}
	next, err := s.ListRuns(ctx, page[1].RowID, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(next) != 3 || next[2].ID != ids[0] {
		t.Fatalf("unexpected second page of %d", len(next))
	}
}

func TestSaveSweep(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	rows := []t0.SweepRow{
		{OpenGapLow: d("-0.01"), OpenGapHigh: d("0.01"), Params: testParams(), Summary: t0.Summary{RealizedProfit: d("5"), EndingEquity: d("100005")}},
		{OpenGapLow: d("-0.02"), OpenGapHigh: d("0.02"), Params: testParams(), Summary: t0.Summary{RealizedProfit: d("12"), EndingEquity: d("100012")}},
	}
	id, err := s.SaveSweep(ctx, RunRecord{Symbol: "002780"}, rows)
	if err != nil {
		t.Fatalf("SaveSweep: %v", err)
	}
	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Kind != KindSweep || !run.Summary.RealizedProfit.Equal(d("12")) {
		t.Fatalf("sweep run should carry the best row, got %+v", run.Summary)
	}
	got, err := s.ListSweepRows(ctx, id)
	if err != nil {
		t.Fatalf("ListSweepRows: %v", err)
	}
	if len(got) != 2 || !got[1].OpenGapHigh.Equal(d("0.02")) || !got[0].Summary.EndingEquity.Equal(d("100005")) {
		t.Fatalf("unexpected sweep rows %+v", got)
	}
}

func TestDeleteRunCascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.SaveRun(ctx, RunRecord{Symbol: "002780"}, testResult(t))
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.DeleteRun(ctx, id); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := s.GetRun(ctx, id); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	trades, err := s.ListTrades(ctx, id)
	if err != nil || len(trades) != 0 {
		t.Fatalf("trades should cascade, got %d %v", len(trades), err)
	}
	if err := s.DeleteRun(ctx, id); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound on second delete, got %v", err)
	}
}

func TestSaveRunRequiresSymbol(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.SaveRun(context.Background(), RunRecord{}, nil); err == nil {
		t.Fatal("expected an error for a missing symbol")
	}
}
