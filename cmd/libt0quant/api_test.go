package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/config"
	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/models"
)

var d = decimal.RequireFromString

func fixtureBars() []models.PriceBar {
	day := func(n int) time.Time { return time.Date(2024, 6, 3+n, 0, 0, 0, 0, time.UTC) }
	return []models.PriceBar{
		{Symbol: "002780", Date: day(0), Open: d("10"), High: d("10.1"), Low: d("9.9"), Close: d("10")},
		{Symbol: "002780", Date: day(1), Open: d("9.9"), High: d("10"), Low: d("9.8"), Close: d("9.95")},
		{Symbol: "002780", Date: day(2), Open: d("10.1"), High: d("10.2"), Low: d("9.9"), Close: d("10")},
	}
}

func useTempConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfgMu.Lock()
	activeCfg, manager = cfg, nil
	cfgMu.Unlock()
	t.Cleanup(func() {
		cfgMu.Lock()
		activeCfg, manager = nil, nil
		cfgMu.Unlock()
	})
	return cfg
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSimulateUsesConfiguredStrategy(t *testing.T) {
	useTempConfig(t)
	resp := runSimulate(mustJSON(t, simulateRequest{Bars: fixtureBars()}))
	if !resp.Success {
		t.Fatalf("simulate failed: %s", resp.Error)
	}
	if resp.Result.Summary.TotalDays != 3 {
		t.Errorf("total days = %d, want 3", resp.Result.Summary.TotalDays)
	}

	var decoded response
	if err := json.Unmarshal([]byte(encode(resp)), &decoded); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !decoded.Success || decoded.Result == nil {
		t.Errorf("envelope lost the result: %+v", decoded)
	}
}

func TestSimulateErrors(t *testing.T) {
	useTempConfig(t)
	if resp := runSimulate("{"); resp.Success || !strings.Contains(resp.Error, "parse request") {
		t.Errorf("malformed payload: %+v", resp)
	}

	bars := fixtureBars()
	bars[1], bars[2] = bars[2], bars[1]
	if resp := runSimulate(mustJSON(t, simulateRequest{Bars: bars})); resp.Success {
		t.Error("unordered bars accepted")
	}
}

func TestSweepPicksBest(t *testing.T) {
	useTempConfig(t)
	payload := `{"bars": ` + mustJSON(t, fixtureBars()) + `,
		"grid": {
			"open_gap_low": {"from": "-0.01", "to": "0", "step": "0.005"},
			"open_gap_high": {"from": "0", "to": "0.01", "step": "0.005"}
		},
		"workers": 2}`
	resp := runSweep(context.Background(), payload)
	if !resp.Success {
		t.Fatalf("sweep failed: %s", resp.Error)
	}
	if len(resp.Rows) != 4 {
		t.Errorf("rows = %d, want 4", len(resp.Rows))
	}
	if resp.Best == nil {
		t.Error("best row missing")
	}
}

func TestBacktestWithSource(t *testing.T) {
	cfg := useTempConfig(t)
	src := dataflows.BarSourceFunc(func(_ context.Context, req dataflows.BarRequest) ([]models.PriceBar, error) {
		if req.Symbol != "002780" {
			return nil, dataflows.ErrNoData
		}
		return fixtureBars(), nil
	})

	resp := runBacktest(context.Background(), `{"symbol":"002780","start":"2024-06-01","end":"2024-06-30","persist":true}`, src)
	if !resp.Success {
		t.Fatalf("backtest failed: %s", resp.Error)
	}
	if resp.RunID == "" {
		t.Error("persisted run has no id")
	}
	if _, err := os.Stat(cfg.DBPath); err != nil {
		t.Errorf("run database not created: %v", err)
	}

	if resp := runBacktest(context.Background(), `{"symbol":"000001","start":"2024-06-01","end":"2024-06-30"}`, src); resp.Success {
		t.Error("missing data reported as success")
	}
	if resp := runBacktest(context.Background(), `{"symbol":"002780","start":"June","end":"2024-06-30"}`, src); resp.Success {
		t.Error("bad start date accepted")
	}
}

func TestConfigLifecycle(t *testing.T) {
	useTempConfig(t)
	path := filepath.Join(t.TempDir(), "t0quant.json")

	cfg, err := setConfigPath(path)
	if err != nil {
		t.Fatalf("set config path: %v", err)
	}
	if cfg.DataProvider != config.ProviderEastMoney {
		t.Errorf("provider = %q", cfg.DataProvider)
	}

	cfg, err = updateConfigJSON(`{"concurrency": 3, "strategy": {"open_gap_low": "-0.02"}}`)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if cfg.Concurrency != 3 {
		t.Errorf("concurrency = %d, want 3", cfg.Concurrency)
	}
	if !cfg.Strategy.OpenGapLow.Equal(d("-0.02")) {
		t.Errorf("open gap low = %s", cfg.Strategy.OpenGapLow)
	}
	if !cfg.Strategy.OpenGapHigh.Equal(config.DefaultStrategy().OpenGapHigh) {
		t.Errorf("partial update reset open gap high to %s", cfg.Strategy.OpenGapHigh)
	}

	reloaded, err := config.NewManager(config.WithConfigPath(path))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Get().Concurrency; got != 3 {
		t.Errorf("persisted concurrency = %d, want 3", got)
	}

	if _, err := updateConfigJSON(`{"data_provider": "tushare"}`); err == nil {
		t.Error("invalid provider accepted")
	}
}
