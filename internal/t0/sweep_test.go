package t0

import (
	"context"
	"errors"
	"testing"
)

func TestRangeValues(t *testing.T) {
	vals, err := Range{From: d("-0.01"), To: d("0"), Step: d("0.005")}.Values()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if len(vals) != 2 || !vals[0].Equal(d("-0.01")) || !vals[1].Equal(d("-0.005")) {
		t.Fatalf("unexpected values %v", vals)
	}

	if _, err := (Range{From: d("0"), To: d("1"), Step: d("0")}).Values(); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for zero step, got %v", err)
	}
	if _, err := (Range{From: d("0"), To: d("1"), Step: d("0.0001")}).Values(); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for oversized range, got %v", err)
	}
}

func TestSweepMatchesSimulate(t *testing.T) {
	bars := randomWalk(120, 11)
	base := testParams()
	grid := Grid{
		OpenGapLow:   Range{From: d("-0.02"), To: d("0"), Step: d("0.01")},
		OpenGapHigh:  Range{From: d("0.005"), To: d("0.02"), Step: d("0.005")},
		LinkIntraday: true,
	}

	rows, err := Sweep(context.Background(), bars, base, grid, 4)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("expected 2x3 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		if prev.OpenGapLow.GreaterThan(cur.OpenGapLow) ||
			(prev.OpenGapLow.Equal(cur.OpenGapLow) && !prev.OpenGapHigh.LessThan(cur.OpenGapHigh)) {
			t.Fatalf("rows not sorted at %d", i)
		}
	}
	for _, row := range rows {
		if !row.Params.IntradayRise.Equal(row.OpenGapHigh) || !row.Params.IntradayFall.Equal(row.OpenGapLow) {
			t.Fatalf("intraday thresholds not linked: %+v", row.Params)
		}
		res := mustSimulate(t, bars, row.Params)
		if !res.Summary.CashReturn.Equal(row.Summary.CashReturn) {
			t.Fatalf("row %s/%s differs from a direct run", row.OpenGapLow, row.OpenGapHigh)
		}
	}

	best, ok := Best(rows)
	if !ok {
		t.Fatal("expected a best row")
	}
	for _, row := range rows {
		if row.Summary.CashReturn.GreaterThan(best.Summary.CashReturn) {
			t.Fatalf("best row %s is beaten by %s", best.Summary.CashReturn, row.Summary.CashReturn)
		}
	}
}

func TestSweepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	grid := Grid{
		OpenGapLow:  Range{From: d("-0.02"), To: d("0"), Step: d("0.01")},
		OpenGapHigh: Range{From: d("0.01"), To: d("0.02"), Step: d("0.01")},
	}
	if _, err := Sweep(ctx, randomWalk(10, 1), testParams(), grid, 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBestEmpty(t *testing.T) {
	if _, ok := Best(nil); ok {
		t.Fatal("expected no best row for empty input")
	}
}
