package screener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/models"
	"github.com/dyike/t0quant/internal/stats"
)

var d = decimal.RequireFromString

var asOf = time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)

// series lays closes out on consecutive days ending at asOf.
func series(symbol string, closes ...string) []models.PriceBar {
	bars := make([]models.PriceBar, len(closes))
	start := asOf.AddDate(0, 0, -(len(closes) - 1))
	for i, c := range closes {
		p := d(c)
		bars[i] = models.PriceBar{Symbol: symbol, Date: start.AddDate(0, 0, i), Open: p, High: p, Low: p, Close: p}
	}
	return bars
}

type fakeMembers []dataflows.Constituent

func (f fakeMembers) Constituents(context.Context, string) ([]dataflows.Constituent, error) {
	return f, nil
}

func newScreener(data map[string][]models.PriceBar, members fakeMembers) *Screener {
	src := dataflows.BarSourceFunc(func(_ context.Context, req dataflows.BarRequest) ([]models.PriceBar, error) {
		bars, ok := data[req.Symbol]
		if !ok {
			return nil, dataflows.ErrNoData
		}
		return bars, nil
	})
	return &Screener{
		Window:  stats.Window{Source: src},
		Members: members,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testOptions() Options {
	return Options{
		Index:           "000300",
		AsOf:            asOf,
		MaxDropPct:      d("-1"),
		DeclineDays:     2,
		NewHighRecent:   5,
		NewHighLookback: 8,
		VsIndexDays:     7,
		ExcessPct:       d("5"),
		Concurrency:     2,
	}
}

func TestRunScreen(t *testing.T) {
	data := map[string][]models.PriceBar{
		// index +2% over 7 days
		"index:000300": series("index:000300", "100", "100", "100", "100", "100", "101", "102", "102"),
		// ran to a fresh high then pulled back two days
		"600519": series("600519", "10", "10.5", "11", "11.5", "12", "13", "12.7", "12.4"),
		// pulled back but never made a new high
		"000001": series("000001", "15", "14", "13", "12", "12", "12.5", "12.2", "12"),
		// strong but closed up on the last day
		"300750": series("300750", "10", "10.5", "11", "11.5", "12", "13", "12.5", "12.6"),
		// limit down on the last day
		"601318": series("601318", "10", "11", "12", "13", "14", "15", "14.8", "13.3"),
	}
	members := fakeMembers{
		{Code: "600519", Name: "A"},
		{Code: "000001", Name: "B"},
		{Code: "300750", Name: "C"},
		{Code: "601318", Name: "D"},
		{Code: "688001", Name: "missing"},
	}
	s := newScreener(data, members)
	opts := testOptions()

	res, err := s.Run(context.Background(), opts, opts.Criteria())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.IndexPct.Equal(d("2")) {
		t.Fatalf("expected index +2%%, got %s", res.IndexPct)
	}
	if res.Scanned != 5 || res.Failed != 1 {
		t.Fatalf("expected 5 scanned and 1 failed, got %d/%d", res.Scanned, res.Failed)
	}
	if len(res.Matches) != 1 || res.Matches[0].Code != "600519" {
		t.Fatalf("unexpected matches %+v", res.Matches)
	}
}

func TestLimitFloor(t *testing.T) {
	tests := map[string]string{
		"300750": "-19.9",
		"688001": "-19.9",
		"600519": "-9.9",
		"000001": "-9.9",
		"601318": "-9.9",
	}
	for code, want := range tests {
		if got := LimitFloor(code); !got.Equal(d(want)) {
			t.Errorf("%s: got %s, want %s", code, got, want)
		}
	}
}

func TestAndStopsAtFirstMiss(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	track := func(name string, ok bool) Criterion {
		return CriterionFunc{Label: name, Fn: func(context.Context, stats.Window, Subject) (bool, error) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
			return ok, nil
		}}
	}
	c := And(track("a", true), track("b", false), track("c", true))
	if c.Name() != "a & b & c" {
		t.Fatalf("unexpected name %q", c.Name())
	}
	ok, err := c.Match(context.Background(), stats.Window{}, Subject{})
	if err != nil || ok {
		t.Fatalf("expected a miss, got %v %v", ok, err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected evaluation to stop at b, got %v", calls)
	}

	boom := errors.New("boom")
	failing := And(CriterionFunc{Label: "x", Fn: func(context.Context, stats.Window, Subject) (bool, error) {
		return false, boom
	}})
	if _, err := failing.Match(context.Background(), stats.Window{}, Subject{}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestRunIndexFailure(t *testing.T) {
	s := newScreener(map[string][]models.PriceBar{}, nil)
	if _, err := s.Run(context.Background(), testOptions(), testOptions().Criteria()); !errors.Is(err, dataflows.ErrNoData) {
		t.Fatalf("expected index error, got %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	opts := testOptions()
	opts.NewHighLookback = 3
	if err := opts.Validate(); err == nil {
		t.Fatal("lookback shorter than recent must be rejected")
	}
	opts = testOptions()
	opts.Index = ""
	if err := opts.Validate(); err == nil {
		t.Fatal("empty index must be rejected")
	}
}

func TestAdjustedOverridesWindow(t *testing.T) {
	var seen dataflows.Adjust
	capture := CriterionFunc{Label: "p", Fn: func(_ context.Context, w stats.Window, _ Subject) (bool, error) {
		seen = w.Adjust
		return true, nil
	}}
	w := stats.Window{Adjust: dataflows.AdjustForward}

	c := Adjusted(dataflows.AdjustBack, capture)
	if _, err := c.Match(context.Background(), w, Subject{}); err != nil {
		t.Fatal(err)
	}
	if seen != dataflows.AdjustBack {
		t.Fatalf("criterion saw %q, want hfq", seen)
	}
	if c.Name() != "p (hfq)" {
		t.Fatalf("unexpected name %q", c.Name())
	}

	if _, err := Adjusted(dataflows.AdjustNone, capture).Match(context.Background(), w, Subject{}); err != nil {
		t.Fatal(err)
	}
	if seen != dataflows.AdjustForward {
		t.Fatalf("empty adjust should keep the window's, saw %q", seen)
	}
}

func TestRunAdjustsPerCheck(t *testing.T) {
	pullback := series("600519", "10", "10.5", "11", "11.5", "12", "13", "12.7", "12.4")
	index := series("index:000300", "100", "100", "100", "100", "100", "101", "102", "102")

	var mu sync.Mutex
	requested := map[dataflows.Adjust]int{}
	src := dataflows.BarSourceFunc(func(_ context.Context, req dataflows.BarRequest) ([]models.PriceBar, error) {
		mu.Lock()
		requested[req.Adjust]++
		mu.Unlock()
		if req.Symbol == "index:000300" {
			return index, nil
		}
		return pullback, nil
	})
	s := &Screener{
		Window:  stats.Window{Source: src},
		Members: fakeMembers{{Code: "600519", Name: "A"}},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	opts := testOptions()
	opts.TrendAdjust = dataflows.AdjustBack
	opts.ChangeAdjust = dataflows.AdjustForward

	res, err := s.Run(context.Background(), opts, opts.Criteria())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("unexpected matches %+v", res.Matches)
	}
	// one unadjusted index lookup, two last-day checks, three trend checks
	if requested[dataflows.AdjustNone] != 1 || requested[dataflows.AdjustForward] != 2 || requested[dataflows.AdjustBack] != 3 {
		t.Fatalf("unexpected adjust usage %v", requested)
	}
}
