package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/models"
)

type CSVManager struct {
	basePath string
}

func NewCSVManager(basePath string) *CSVManager {
	return &CSVManager{
		basePath: basePath,
	}
}

// SafeName turns a symbol such as "index:000300" into a file-system friendly token.
func SafeName(s string) string {
	return strings.NewReplacer(":", "_", "/", "_", "\\", "_", " ", "_").Replace(s)
}

func (c *CSVManager) marketDir(symbol string) string {
	return filepath.Join(c.basePath, "csv", "market", SafeName(symbol))
}

var barHeaders = []string{
	"Symbol", "Date", "Open", "High", "Low", "Close", "Volume",
	"Timestamp", // cache expiry
}

// WriteBarsToCSV stores bars under tag, e.g. "002780_qfq_20240101_20240630".
func (c *CSVManager) WriteBarsToCSV(symbol, tag string, bars []models.PriceBar) (string, error) {
	dirPath := c.marketDir(symbol)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	now := time.Now()
	filename := fmt.Sprintf("%s_%d_records_%s.csv", SafeName(tag), len(bars), now.Format("20060102_150405.000"))
	filePath := filepath.Join(dirPath, filename)

	timestamp := strconv.FormatInt(now.Unix(), 10)
	rows := make([][]string, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, []string{
			b.Symbol,
			b.DateString(),
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			strconv.FormatInt(b.Volume, 10),
			timestamp,
		})
	}
	if err := writeCSV(filePath, barHeaders, rows); err != nil {
		return "", err
	}
	return filePath, nil
}

// ReadBarsFromCSV returns the bars of a file written by WriteBarsToCSV and
// the time it was written.
func (c *CSVManager) ReadBarsFromCSV(filePath string) ([]models.PriceBar, time.Time, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, time.Time{}, fmt.Errorf("no data in CSV file")
	}

	var bars []models.PriceBar
	var fileTimestamp time.Time
	for i, record := range records[1:] {
		if len(record) < len(barHeaders) {
			return nil, time.Time{}, fmt.Errorf("row %d: expected %d columns, got %d", i+2, len(barHeaders), len(record))
		}
		date, err := time.Parse(models.DateLayout, record[1])
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("row %d: %w", i+2, err)
		}
		var prices [4]decimal.Decimal
		for j := range prices {
			if prices[j], err = decimal.NewFromString(record[2+j]); err != nil {
				return nil, time.Time{}, fmt.Errorf("row %d column %s: %w", i+2, barHeaders[2+j], err)
			}
		}
		volume, _ := strconv.ParseInt(record[6], 10, 64)

		if i == 0 {
			if ts, err := strconv.ParseInt(record[7], 10, 64); err == nil {
				fileTimestamp = time.Unix(ts, 0)
			}
		}

		bars = append(bars, models.PriceBar{
			Symbol: record[0],
			Date:   date,
			Open:   prices[0],
			High:   prices[1],
			Low:    prices[2],
			Close:  prices[3],
			Volume: volume,
		})
	}
	return bars, fileTimestamp, nil
}

// FindLatestCSV returns the newest bar file written for symbol under tag.
func (c *CSVManager) FindLatestCSV(symbol, tag string) (string, error) {
	dirPath := c.marketDir(symbol)
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return "", fmt.Errorf("no CSV directory for symbol %s", symbol)
	}

	files, err := filepath.Glob(filepath.Join(dirPath, SafeName(tag)+"_*_records_*.csv"))
	if err != nil {
		return "", fmt.Errorf("failed to search CSV files: %w", err)
	}

	var bestFile string
	var latestTime time.Time
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if bestFile == "" || info.ModTime().After(latestTime) || (info.ModTime().Equal(latestTime) && file > bestFile) {
			latestTime = info.ModTime()
			bestFile = file
		}
	}
	if bestFile == "" {
		return "", fmt.Errorf("no CSV file found for symbol %s (%s)", symbol, tag)
	}
	return bestFile, nil
}

var tradeHeaders = []string{"Date", "Side", "Reason", "Price", "Quantity", "Fee", "Cash", "Shares"}

// WriteTradesCSV writes the trade ledger to path.
func (c *CSVManager) WriteTradesCSV(path string, trades []models.TradeEvent) error {
	rows := make([][]string, 0, len(trades))
	for _, tr := range trades {
		rows = append(rows, []string{
			tr.Date.Format(models.DateLayout),
			string(tr.Side),
			string(tr.Reason),
			tr.Price.String(),
			strconv.FormatInt(tr.Quantity, 10),
			tr.Fee.StringFixed(4),
			tr.ResultingCash.StringFixed(4),
			strconv.FormatInt(tr.SharesAfter, 10),
		})
	}
	return writeCSV(path, tradeHeaders, rows)
}

var dayHeaders = []string{
	"Date", "Open", "High", "Low", "Close", "Regime", "Trades",
	"CashBefore", "CashAfter", "Shares", "Fees", "Profit", "CumulativeProfit", "Outcome", "Shortfall",
}

// WriteDaysCSV writes the per-day summary to path.
func (c *CSVManager) WriteDaysCSV(path string, days []models.DayRecord) error {
	rows := make([][]string, 0, len(days))
	for _, d := range days {
		rows = append(rows, []string{
			d.Date.Format(models.DateLayout),
			d.Bar.Open.String(),
			d.Bar.High.String(),
			d.Bar.Low.String(),
			d.Bar.Close.String(),
			string(d.Regime),
			strconv.Itoa(d.Trades),
			d.CashBefore.StringFixed(4),
			d.CashAfter.StringFixed(4),
			strconv.FormatInt(d.SharesAfter, 10),
			d.Fees.StringFixed(4),
			d.Profit.StringFixed(4),
			d.CumulativeProfit.StringFixed(4),
			string(d.Outcome),
			strconv.FormatBool(d.Shortfall),
		})
	}
	return writeCSV(path, dayHeaders, rows)
}

// CleanOldCSVFiles removes cached bar files older than maxAge.
func (c *CSVManager) CleanOldCSVFiles(maxAge time.Duration) error {
	marketDir := filepath.Join(c.basePath, "csv", "market")
	if _, err := os.Stat(marketDir); os.IsNotExist(err) {
		return nil
	}

	err := filepath.Walk(marketDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".csv") && time.Since(info.ModTime()) > maxAge {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove old file %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clean directory %s: %w", marketDir, err)
	}
	return nil
}

func writeCSV(path string, headers []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return file.Close()
}
