package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dyike/t0quant/config"
	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/t0"
)

var d = decimal.RequireFromString

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParamsPrecedence(t *testing.T) {
	base := config.DefaultStrategy()
	file := writeFile(t, "strategy.yaml", `
open_gap_low: "-0.01"
open_gap_high: "0.01"
baseline_shares: 2000
reference_price: open
`)

	var f paramFlags
	cmd := &cobra.Command{Use: "test"}
	f.register(cmd)
	if err := cmd.Flags().Parse([]string{"--params", file, "--gap-high", "0.02", "--exclusive-neutral"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	p, err := f.resolve(cmd, base)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !p.OpenGapLow.Equal(d("-0.01")) {
		t.Errorf("gap low = %s, want file value -0.01", p.OpenGapLow)
	}
	if !p.OpenGapHigh.Equal(d("0.02")) {
		t.Errorf("gap high = %s, want flag value 0.02", p.OpenGapHigh)
	}
	if p.BaselineShares != 2000 {
		t.Errorf("baseline = %d, want 2000", p.BaselineShares)
	}
	if p.SellFloorShares != 2000 {
		t.Errorf("sell floor = %d, want it to follow the baseline", p.SellFloorShares)
	}
	if p.ReferencePrice != t0.RefOpen {
		t.Errorf("reference = %q, want open", p.ReferencePrice)
	}
	if !p.ExclusiveNeutral {
		t.Error("exclusive neutral flag ignored")
	}
	if !p.InitialCash.Equal(base.InitialCash) {
		t.Errorf("initial cash = %s, want config value %s", p.InitialCash, base.InitialCash)
	}
}

func TestParamsSellFloor(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int64
	}{
		{"configured floor", nil, 1000},
		{"follows a smaller baseline", []string{"--baseline", "500"}, 500},
		{"opt out", []string{"--sell-floor", "0"}, 0},
		{"explicit floor", []string{"--baseline", "500", "--sell-floor", "200"}, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f paramFlags
			cmd := &cobra.Command{Use: "test"}
			f.register(cmd)
			if err := cmd.Flags().Parse(tt.args); err != nil {
				t.Fatalf("parse: %v", err)
			}
			p, err := f.resolve(cmd, config.DefaultStrategy())
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if p.SellFloorShares != tt.want {
				t.Errorf("sell floor = %d, want %d", p.SellFloorShares, tt.want)
			}
		})
	}
}

func TestParamsFileRejectsUnknownKeys(t *testing.T) {
	file := writeFile(t, "strategy.yaml", "open_gap_lo: -0.01\n")
	if _, err := loadParamsFile(file, config.DefaultStrategy()); err == nil {
		t.Fatal("expected an error for a misspelled key")
	}
}

func TestParamsFlagValidation(t *testing.T) {
	var f paramFlags
	cmd := &cobra.Command{Use: "test"}
	f.register(cmd)
	if err := cmd.Flags().Parse([]string{"--gap-low=-1"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err := f.resolve(cmd, config.DefaultStrategy())
	if !errors.Is(err, t0.ErrInvalidParams) {
		t.Fatalf("err = %v, want ErrInvalidParams", err)
	}
}

func TestRangeFlags(t *testing.T) {
	tests := []struct {
		name    string
		f       rangeFlags
		adjust  dataflows.Adjust
		wantErr bool
	}{
		{name: "explicit", f: rangeFlags{start: "2024-01-01", end: "2024-06-30"}, adjust: dataflows.AdjustForward},
		{name: "compact dates", f: rangeFlags{start: "20240101", end: "20240630", adjust: "none"}, adjust: dataflows.AdjustNone},
		{name: "back adjusted", f: rangeFlags{end: "2024-06-30", adjust: "hfq"}, adjust: dataflows.AdjustBack},
		{name: "reversed", f: rangeFlags{start: "2024-06-30", end: "2024-01-01"}, wantErr: true},
		{name: "bad adjust", f: rangeFlags{adjust: "split"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, adjust, err := tt.f.resolve(dataflows.AdjustForward)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if end.Before(start) {
				t.Errorf("end %s before start %s", end, start)
			}
			if adjust != tt.adjust {
				t.Errorf("adjust = %q, want %q", adjust, tt.adjust)
			}
		})
	}
}

func TestRangeFlagsDefaultSpan(t *testing.T) {
	var f rangeFlags
	f.end = "2024-06-30"
	start, _, _, err := f.resolve(dataflows.AdjustNone)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := start.Format("2006-01-02"); got != "2023-06-30" {
		t.Errorf("start = %s, want one year back", got)
	}
}

func TestParseRange(t *testing.T) {
	r, err := parseRange("low", "-0.005", "0", "0.001")
	if err != nil {
		t.Fatalf("parseRange: %v", err)
	}
	values, err := r.Values()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if len(values) != 5 {
		t.Errorf("got %d values, want 5", len(values))
	}
	if _, err := parseRange("low", "x", "0", "0.001"); err == nil {
		t.Error("expected an error for a non-numeric bound")
	}
}

func TestSymbolArg(t *testing.T) {
	for in, want := range map[string]string{
		"002780":        "002780",
		" 600519 ":      "600519",
		"INDEX:000300":  "index:000300",
		"index:399006 ": "index:399006",
	} {
		got, err := symbolArg(in)
		if err != nil {
			t.Errorf("symbolArg(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("symbolArg(%q) = %q, want %q", in, got, want)
		}
	}
	for _, bad := range []string{"AAPL", "12345", "index:"} {
		if _, err := symbolArg(bad); !errors.Is(err, dataflows.ErrInvalidSymbol) {
			t.Errorf("symbolArg(%q) err = %v, want ErrInvalidSymbol", bad, err)
		}
	}
}

func TestPromptValidators(t *testing.T) {
	if err := validateSymbolAnswer("002780"); err != nil {
		t.Errorf("valid code rejected: %v", err)
	}
	if err := validateSymbolAnswer(""); err == nil {
		t.Error("empty code accepted")
	}
	if err := validateDateAnswer("2024-02-30"); err == nil {
		t.Error("impossible date accepted")
	}
	if err := validateDateAnswer("2999-01-01"); err == nil {
		t.Error("future date accepted")
	}
	if err := validateDecimalAnswer("-0.005"); err != nil {
		t.Errorf("decimal rejected: %v", err)
	}
	if err := validateDecimalAnswer("half"); err == nil {
		t.Error("word accepted as decimal")
	}
}

func TestSetConfigValue(t *testing.T) {
	cfg := *config.DefaultConfigWithRoot(t.TempDir())

	next, err := setConfigValue(cfg, "strategy.open_gap_low", "-0.01")
	if err != nil {
		t.Fatalf("set decimal: %v", err)
	}
	if !next.Strategy.OpenGapLow.Equal(d("-0.01")) {
		t.Errorf("open gap low = %s", next.Strategy.OpenGapLow)
	}

	if next, err = setConfigValue(next, "concurrency", "4"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if next.Concurrency != 4 {
		t.Errorf("concurrency = %d", next.Concurrency)
	}

	if next, err = setConfigValue(next, "cache_enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if next.CacheEnabled {
		t.Error("cache still enabled")
	}

	if _, err := setConfigValue(next, "data_provider", "tushare"); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("unknown provider err = %v, want ErrInvalidConfig", err)
	}
	if _, err := setConfigValue(next, "concurrency", "many"); err == nil {
		t.Error("non-numeric concurrency accepted")
	}
	if _, err := setConfigValue(next, "strategy", "x"); err == nil {
		t.Error("setting a whole section accepted")
	}
	if _, err := setConfigValue(next, "no_such_key", "1"); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestFlattenConfig(t *testing.T) {
	flat, err := flattenConfig(*config.DefaultConfigWithRoot(t.TempDir()))
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	for _, key := range []string{"data_provider", "strategy.fee_rate", "strategy.baseline_shares"} {
		if _, ok := flat[key]; !ok {
			t.Errorf("missing key %s", key)
		}
	}
	if _, ok := flat["strategy"]; ok {
		t.Error("section listed as a value")
	}
}

func TestLoadSymbolsFile(t *testing.T) {
	path := writeFile(t, "symbols.txt", "# watchlist\n002780\n\n 600519 \n")
	got, err := loadSymbolsFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0] != "002780" || got[1] != "600519" {
		t.Errorf("symbols = %v", got)
	}

	empty := writeFile(t, "empty.txt", "# nothing\n")
	if _, err := loadSymbolsFile(empty); err == nil {
		t.Error("expected an error for a file without symbols")
	}
}
