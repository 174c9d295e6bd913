package utils

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/models"
)

var d = decimal.RequireFromString

func sampleBars() []models.PriceBar {
	return []models.PriceBar{
		{Symbol: "002780", Date: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), Open: d("10"), High: d("10.3"), Low: d("9.8"), Close: d("10.1"), Volume: 120000},
		{Symbol: "002780", Date: time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC), Open: d("10.05"), High: d("10.2"), Low: d("9.9"), Close: d("9.95"), Volume: 98000},
	}
}

func TestBarsRoundTrip(t *testing.T) {
	m := NewCSVManager(t.TempDir())
	path, err := m.WriteBarsToCSV("002780", "002780_qfq_20240603_20240604", sampleBars())
	if err != nil {
		t.Fatalf("WriteBarsToCSV: %v", err)
	}
	if !strings.Contains(path, "_2_records_") {
		t.Errorf("file name %s does not carry the record count", filepath.Base(path))
	}

	bars, written, err := m.ReadBarsFromCSV(path)
	if err != nil {
		t.Fatalf("ReadBarsFromCSV: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if !bars[1].Open.Equal(d("10.05")) || bars[1].Volume != 98000 || bars[1].DateString() != "2024-06-04" {
		t.Errorf("second bar = %+v", bars[1])
	}
	if time.Since(written) > time.Minute {
		t.Errorf("write time %s not recorded", written)
	}
}

func TestFindLatestCSV(t *testing.T) {
	m := NewCSVManager(t.TempDir())
	if _, err := m.FindLatestCSV("index:000300", "tag"); err == nil {
		t.Fatal("expected an error before anything was written")
	}

	first, err := m.WriteBarsToCSV("index:000300", "tag", sampleBars())
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.WriteBarsToCSV("index:000300", "tag", sampleBars()[:1])
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(first, old, old); err != nil {
		t.Fatal(err)
	}

	got, err := m.FindLatestCSV("index:000300", "tag")
	if err != nil {
		t.Fatalf("FindLatestCSV: %v", err)
	}
	if got != second {
		t.Errorf("latest = %s, want %s", got, second)
	}
	if strings.Contains(got, ":") {
		t.Errorf("path %s keeps the index separator", got)
	}
}

func TestReadBarsRejectsBadRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	content := strings.Join(barHeaders, ",") + "\n002780,2024-06-03,ten,10.3,9.8,10.1,1,0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewCSVManager("").ReadBarsFromCSV(path); err == nil {
		t.Fatal("expected an error for a non-numeric price")
	}
}

func TestWriteLedgers(t *testing.T) {
	dir := t.TempDir()
	m := NewCSVManager(dir)
	day := time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC)

	trades := filepath.Join(dir, "out", "trades.csv")
	err := m.WriteTradesCSV(trades, []models.TradeEvent{
		{Date: day, Side: models.SideBuy, Reason: models.ReasonGapDownOpen, Price: d("9.9"), Quantity: 1010, Fee: d("5"), ResultingCash: d("89996"), SharesAfter: 2010},
	})
	if err != nil {
		t.Fatalf("WriteTradesCSV: %v", err)
	}
	rows := readAll(t, trades)
	if len(rows) != 2 || rows[1][1] != "buy" || rows[1][6] != "89996.0000" {
		t.Errorf("trade rows = %v", rows)
	}

	days := filepath.Join(dir, "out", "days.csv")
	if err := m.WriteDaysCSV(days, []models.DayRecord{{Date: day, Outcome: models.OutcomeNoTrade}}); err != nil {
		t.Fatalf("WriteDaysCSV: %v", err)
	}
	rows = readAll(t, days)
	if len(rows) != 2 || len(rows[0]) != len(dayHeaders) || rows[1][13] != "no_trade" || rows[1][14] != "false" {
		t.Errorf("day rows = %v", rows)
	}
}

func TestCleanOldCSVFiles(t *testing.T) {
	m := NewCSVManager(t.TempDir())
	if err := m.CleanOldCSVFiles(time.Hour); err != nil {
		t.Fatalf("clean of a missing dir: %v", err)
	}

	stale, err := m.WriteBarsToCSV("002780", "stale", sampleBars())
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := m.WriteBarsToCSV("002780", "fresh", sampleBars())
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	if err := m.CleanOldCSVFiles(24 * time.Hour); err != nil {
		t.Fatalf("CleanOldCSVFiles: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file kept")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh file removed: %v", err)
	}
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}
