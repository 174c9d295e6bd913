package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dyike/t0quant/config"
	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/models"
)

var asOf = time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)

// series lays closes out on consecutive days ending at asOf, with a small
// intraday range around each close.
func series(symbol string, closes ...string) []models.PriceBar {
	bars := make([]models.PriceBar, len(closes))
	start := asOf.AddDate(0, 0, -(len(closes) - 1))
	for i, c := range closes {
		p := d(c)
		bars[i] = models.PriceBar{
			Symbol: symbol,
			Date:   start.AddDate(0, 0, i),
			Open:   p,
			High:   p.Mul(d("1.01")),
			Low:    p.Mul(d("0.99")),
			Close:  p,
			Volume: 1000,
		}
	}
	return bars
}

var fixtures = map[string][]models.PriceBar{
	"002780":       series("002780", "10", "9.9", "10.1", "10", "10.2", "10.1", "9.95", "10"),
	"600519":       series("600519", "10", "10.5", "11", "11.5", "12", "13", "12.7", "12.4"),
	"index:000300": series("index:000300", "100", "100", "100", "100", "100", "101", "102", "102"),
}

type fakeMembers []dataflows.Constituent

func (f fakeMembers) Constituents(context.Context, string) ([]dataflows.Constituent, error) {
	return f, nil
}

type testEnv struct {
	cfg     *config.Config
	fetches atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{cfg: config.DefaultConfigWithRoot(t.TempDir())}
}

// run executes one command line against a fresh root command.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	src := dataflows.BarSourceFunc(func(_ context.Context, req dataflows.BarRequest) ([]models.PriceBar, error) {
		e.fetches.Add(1)
		bars, ok := fixtures[req.Symbol]
		if !ok {
			return nil, dataflows.ErrNoData
		}
		return bars, nil
	})
	var out, errOut bytes.Buffer
	root := NewRootCmd(
		WithConfig(e.cfg),
		WithBarSource(src),
		WithConstituents(fakeMembers{{Code: "600519", Name: "Kweichow Moutai"}, {Code: "002780", Name: "Sanfu"}}),
		WithOutput(&out, &errOut),
	)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSimulateThenHistory(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "simulate", "002780", "--start", "2024-06-01", "--end", "2024-06-14", "--csv", "--xlsx")
	if err != nil {
		t.Fatalf("simulate: %v\n%s", err, out)
	}
	for _, want := range []string{"T+0 002780", "run id:", "saved "} {
		if !strings.Contains(out, want) {
			t.Errorf("simulate output missing %q:\n%s", want, out)
		}
	}

	out, err = env.run(t, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "002780") || !strings.Contains(out, "simulate") {
		t.Errorf("history output missing the run:\n%s", out)
	}

	out, err = env.run(t, "history", "--exports")
	if err != nil {
		t.Fatalf("history --exports: %v", err)
	}
	if !strings.Contains(out, ".xlsx") || !strings.Contains(out, ".csv") {
		t.Errorf("exports listing incomplete:\n%s", out)
	}
}

func TestSimulateNoPersist(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "simulate", "002780", "--start", "2024-06-01", "--end", "2024-06-14", "--persist=false")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if strings.Contains(out, "run id:") {
		t.Errorf("run recorded despite --persist=false:\n%s", out)
	}
	if _, err := os.Stat(env.cfg.DBPath); !os.IsNotExist(err) {
		t.Errorf("database created: %v", err)
	}
}

func TestSimulateRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	cases := [][]string{
		{"simulate", "AAPL"},
		{"simulate", "002780", "--gap-low=-1"},
		{"simulate", "002780", "--start", "2024-06-30", "--end", "2024-06-01"},
		{"simulate", "000001", "--start", "2024-06-01", "--end", "2024-06-14"},
	}
	for _, args := range cases {
		if _, err := env.run(t, args...); err == nil {
			t.Errorf("%v: expected an error", args)
		}
	}
}

func TestSweepCommand(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "sweep", "002780", "--start", "2024-06-01", "--end", "2024-06-14",
		"--low-from", "-0.01", "--low-to", "0", "--low-step", "0.005",
		"--high-from", "0", "--high-to", "0.01", "--high-step", "0.005", "--xlsx")
	if err != nil {
		t.Fatalf("sweep: %v\n%s", err, out)
	}
	for _, want := range []string{"4 cells", "best:", "run id:", "_sweep_"} {
		if !strings.Contains(out, want) {
			t.Errorf("sweep output missing %q:\n%s", want, out)
		}
	}
}

func TestStatsCommands(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"stats", "newhigh", "600519", "--date", "2024-06-14", "--recent", "3", "--lookback", "8"}, "true"},
		{[]string{"stats", "decline", "600519", "--date", "2024-06-14", "--days", "2"}, "true"},
		{[]string{"stats", "decline", "002780", "--date", "2024-06-14", "--days", "2"}, "false"},
		{[]string{"stats", "perf", "600519", "--date", "2024-06-14", "--days", "7", "--index", "000300"}, "excess"},
		{[]string{"stats", "range", "002780", "--start", "2024-06-01", "--end", "2024-06-14"}, "intraday range (8 days)"},
	}
	for _, tt := range tests {
		out, err := env.run(t, tt.args...)
		if err != nil {
			t.Errorf("%v: %v", tt.args, err)
			continue
		}
		if !strings.Contains(out, tt.want) {
			t.Errorf("%v output missing %q:\n%s", tt.args, tt.want, out)
		}
	}
}

func TestScreenCommand(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "screen", "000300", "--date", "2024-06-14",
		"--max-drop", "-1", "--decline-days", "2", "--recent", "5", "--lookback", "8",
		"--vs-days", "7", "--excess", "5", "--json")
	if err != nil {
		t.Fatalf("screen: %v", err)
	}
	if !strings.Contains(out, `"code": "600519"`) {
		t.Errorf("600519 not matched:\n%s", out)
	}
	if strings.Contains(out, `"code": "002780"`) {
		t.Errorf("002780 should not match:\n%s", out)
	}
}

func TestFetchCommand(t *testing.T) {
	env := newTestEnv(t)
	list := filepath.Join(t.TempDir(), "symbols.txt")
	if err := os.WriteFile(list, []byte("600519\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := env.run(t, "fetch", "002780", "--file", list, "--start", "2024-06-01", "--end", "2024-06-14")
	if err != nil {
		t.Fatalf("fetch: %v\n%s", err, out)
	}
	if n := env.fetches.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
	if !strings.Contains(out, "002780: 8 bars") || !strings.Contains(out, "600519: 8 bars") {
		t.Errorf("fetch output:\n%s", out)
	}

	if _, err := env.run(t, "fetch", "002780", "000001"); err == nil {
		t.Error("expected an error when one symbol fails")
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t0quant.json")

	env := newTestEnv(t)
	if _, err := env.run(t, "--config", path, "config", "set", "--", "strategy.open_gap_low", "-0.01"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := env.run(t, "--config", path, "config", "get", "strategy.open_gap_low")
	if err != nil {
		t.Fatalf("config get: %v", err)
	}
	if strings.TrimSpace(out) != "-0.01" {
		t.Errorf("config get = %q, want -0.01", out)
	}

	if _, err := env.run(t, "config", "set", "concurrency", "2"); err == nil {
		t.Error("config set without --config should fail")
	}
}

func TestVersionCommand(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "t0quant "+Version) {
		t.Errorf("version output = %q", out)
	}
}
