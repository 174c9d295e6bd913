package config

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerCreatesAndUpdates(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	path := filepath.Join(dir, "config.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	var seen []Config
	cancel := mgr.Subscribe(func(cfg Config) { seen = append(seen, cfg) })

	err = mgr.Modify(func(cfg *Config) error {
		cfg.DataDir = filepath.Join(dir, "data")
		cfg.DataProvider = ProviderYahoo
		cfg.Strategy.TradeNotional = decimal.NewFromInt(20000)
		return nil
	})
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	cancel()

	updated := mgr.Get()
	if updated.DataProvider != ProviderYahoo {
		t.Fatalf("expected provider %s, got %s", ProviderYahoo, updated.DataProvider)
	}
	if !updated.Strategy.TradeNotional.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("expected notional 20000, got %s", updated.Strategy.TradeNotional)
	}
	if len(seen) != 1 || seen[0].DataProvider != ProviderYahoo {
		t.Fatalf("subscriber saw %d changes", len(seen))
	}

	if err := mgr.Update(mgr.Get()); err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("cancelled subscriber still notified")
	}

	reopened, err := NewManager(WithConfigDir(dir), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Get().DataDir != updated.DataDir {
		t.Fatalf("update was not persisted")
	}
}

func TestManagerRejectsInvalidUpdate(t *testing.T) {
	mgr, err := NewManager(WithConfigDir(t.TempDir()), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := mgr.Get()
	cfg.Concurrency = 0
	if err := mgr.Update(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if mgr.Get().Concurrency == 0 {
		t.Fatalf("invalid config must not be applied")
	}

	sentinel := errors.New("abort")
	if err := mgr.Modify(func(*Config) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected the callback error, got %v", err)
	}
}

func TestManagerPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t0quant.json")
	if err := os.WriteFile(path, []byte(`{"concurrency": 2, "strategy": {"open_gap_low": "-0.01"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	mgr, err := NewManager(WithConfigPath(path), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Concurrency != 2 || !cfg.Strategy.OpenGapLow.Equal(decimal.RequireFromString("-0.01")) {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	defaults := DefaultConfigWithRoot(dir)
	if cfg.DataProvider != defaults.DataProvider || !cfg.Strategy.InitialCash.Equal(defaults.Strategy.InitialCash) {
		t.Fatalf("missing keys lost their defaults: %+v", cfg)
	}

	if err := os.WriteFile(path, []byte(`{"concurency": 2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(WithConfigPath(path), WithLogger(quietLogger())); err == nil {
		t.Fatal("expected an error for a misspelled key")
	}
}

func TestManagerYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t0quant.yaml")
	mgr, err := NewManager(WithConfigPath(path), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.Modify(func(cfg *Config) error {
		cfg.Adjust = "hfq"
		cfg.Strategy.FeeRate = decimal.RequireFromString("0.0002")
		return nil
	}); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "adjust: hfq") {
		t.Fatalf("expected YAML output, got:\n%s", data)
	}

	reopened, err := NewManager(WithConfigPath(path), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Get()
	if got.Adjust != "hfq" || !got.Strategy.FeeRate.Equal(decimal.RequireFromString("0.0002")) {
		t.Fatalf("YAML round trip lost values: adjust %q fee %s", got.Adjust, got.Strategy.FeeRate)
	}
}

func TestManagerWatchReloads(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithLogger(quietLogger()), WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 1)
	if err := mgr.Watch(ctx, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	cfg := mgr.Get()
	cfg.Concurrency = 3
	cfg.ResultsDir = filepath.Join(dir, "results")
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := writeAtomic(mgr.Path(), data); err != nil {
		t.Fatalf("writeAtomic: %v", err)
	}

	select {
	case got := <-reloaded:
		if got.Concurrency != 3 {
			t.Fatalf("expected reloaded concurrency 3, got %d", got.Concurrency)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not fire on config change")
	}
	if mgr.Get().ResultsDir != cfg.ResultsDir {
		t.Fatalf("reloaded config not served by Get")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown provider", func(c *Config) { c.DataProvider = "tushare" }, false},
		{"unknown adjust", func(c *Config) { c.Adjust = "both" }, false},
		{"no rate", func(c *Config) { c.RequestsPerSecond = 0 }, false},
		{"cache without ttl", func(c *Config) { c.CacheTTLHours = 0 }, false},
		{"cache disabled without ttl", func(c *Config) { c.CacheEnabled, c.CacheTTLHours = false, 0 }, true},
		{"bad strategy", func(c *Config) { c.Strategy.InitialCash = decimal.Zero }, false},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfigWithRoot(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("T0QUANT_DATA_PROVIDER", "LONGPORT")
	t.Setenv("T0QUANT_CONCURRENCY", "2")
	t.Setenv("T0QUANT_CACHE_ENABLED", "false")
	t.Setenv("T0QUANT_ADJUST", "")

	cfg := DefaultConfigWithRoot(t.TempDir())
	cfg.loadFromEnv()

	if cfg.DataProvider != ProviderLongport || cfg.Concurrency != 2 || cfg.CacheEnabled || cfg.Adjust != "" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}
