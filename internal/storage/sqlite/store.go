package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/models"
	"github.com/dyike/t0quant/internal/t0"
)

const (
	KindSimulate = "simulate"
	KindSweep    = "sweep"
)

const (
	StatusDone  = "done"
	StatusError = "error"
)

var ErrRunNotFound = errors.New("run not found")

type Store struct {
	db *sql.DB
}

// RunRecord is one persisted simulate or sweep invocation.
type RunRecord struct {
	ID        string
	Kind      string
	Symbol    string
	StartDate string
	EndDate   string
	Provider  string
	Params    t0.Params
	Summary   t0.Summary
	Status    string
	Error     string
}

type RunWithMeta struct {
	RunRecord
	RowID     int64
	CreatedAt string
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps WAL happy and makes :memory: a single database
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    symbol TEXT NOT NULL,
    start_date TEXT,
    end_date TEXT,
    provider TEXT,
    params TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trades (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    date TEXT NOT NULL,
    side TEXT NOT NULL,
    reason TEXT NOT NULL,
    price TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    fee TEXT NOT NULL,
    resulting_cash TEXT NOT NULL,
    shares_after INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS days (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    date TEXT NOT NULL,
    open TEXT NOT NULL,
    high TEXT NOT NULL,
    low TEXT NOT NULL,
    close TEXT NOT NULL,
    regime TEXT NOT NULL,
    cash_before TEXT NOT NULL,
    cash_after TEXT NOT NULL,
    shares_after INTEGER NOT NULL,
    trades INTEGER NOT NULL,
    fees TEXT NOT NULL,
    profit TEXT NOT NULL,
    cumulative_profit TEXT NOT NULL,
    outcome TEXT NOT NULL,
    shortfall INTEGER NOT NULL,
    PRIMARY KEY (run_id, date)
);

CREATE TABLE IF NOT EXISTS sweep_rows (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    open_gap_low TEXT NOT NULL,
    open_gap_high TEXT NOT NULL,
    params TEXT NOT NULL,
    summary TEXT NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_runs_symbol_created ON runs(symbol, created_at);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func NewRunID() string {
	return uuid.NewString()
}

// SaveRun writes a simulate run with its trades and days in one transaction.
// An empty run ID is filled in and returned.
func (s *Store) SaveRun(ctx context.Context, run RunRecord, res *t0.Result) (string, error) {
	if run.Kind == "" {
		run.Kind = KindSimulate
	}
	if res != nil {
		run.Params = res.Params
		run.Summary = res.Summary
	}
	return s.withRun(ctx, run, func(tx *sql.Tx, id string) error {
		if res == nil {
			return nil
		}
		if err := insertTrades(ctx, tx, id, res.Trades); err != nil {
			return err
		}
		return insertDays(ctx, tx, id, res.Days)
	})
}

// SaveSweep writes a sweep run and its grid rows. The run summary holds the
// best row.
func (s *Store) SaveSweep(ctx context.Context, run RunRecord, rows []t0.SweepRow) (string, error) {
	run.Kind = KindSweep
	if best, ok := t0.Best(rows); ok {
		run.Summary = best.Summary
	}
	return s.withRun(ctx, run, func(tx *sql.Tx, id string) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO sweep_rows (run_id, seq, open_gap_low, open_gap_high, params, summary)
VALUES (?, ?, ?, ?, ?, ?)
`)
		if err != nil {
			return fmt.Errorf("prepare sweep rows: %w", err)
		}
		defer stmt.Close()
		for i, row := range rows {
			params, err := json.Marshal(row.Params)
			if err != nil {
				return fmt.Errorf("marshal params: %w", err)
			}
			summary, err := json.Marshal(row.Summary)
			if err != nil {
				return fmt.Errorf("marshal summary: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, id, i+1, row.OpenGapLow.String(), row.OpenGapHigh.String(),
				string(params), string(summary)); err != nil {
				return fmt.Errorf("insert sweep row: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) withRun(ctx context.Context, run RunRecord, fill func(tx *sql.Tx, id string) error) (string, error) {
	if strings.TrimSpace(run.Symbol) == "" {
		return "", fmt.Errorf("run symbol is required")
	}
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.Status == "" {
		run.Status = StatusDone
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (id, kind, symbol, start_date, end_date, provider, params, summary, status, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.ID, run.Kind, run.Symbol, run.StartDate, run.EndDate, run.Provider, string(params), string(summary), run.Status, run.Error)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	if err := fill(tx, run.ID); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return run.ID, nil
}

func insertTrades(ctx context.Context, tx *sql.Tx, runID string, trades []models.TradeEvent) error {
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO trades (run_id, seq, date, side, reason, price, quantity, fee, resulting_cash, shares_after)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("prepare trades: %w", err)
	}
	defer stmt.Close()
	for i, tr := range trades {
		if _, err := stmt.ExecContext(ctx, runID, i+1, tr.Date.Format(models.DateLayout), string(tr.Side), string(tr.Reason),
			tr.Price.String(), tr.Quantity, tr.Fee.String(), tr.ResultingCash.String(), tr.SharesAfter); err != nil {
			return fmt.Errorf("insert trade %d: %w", i+1, err)
		}
	}
	return nil
}

func insertDays(ctx context.Context, tx *sql.Tx, runID string, days []models.DayRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO days (run_id, date, open, high, low, close, regime, cash_before, cash_after,
    shares_after, trades, fees, profit, cumulative_profit, outcome, shortfall)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("prepare days: %w", err)
	}
	defer stmt.Close()
	for _, d := range days {
		if _, err := stmt.ExecContext(ctx, runID, d.Date.Format(models.DateLayout),
			d.Bar.Open.String(), d.Bar.High.String(), d.Bar.Low.String(), d.Bar.Close.String(),
			string(d.Regime), d.CashBefore.String(), d.CashAfter.String(), d.SharesAfter, d.Trades,
			d.Fees.String(), d.Profit.String(), d.CumulativeProfit.String(), string(d.Outcome), d.Shortfall); err != nil {
			return fmt.Errorf("insert day %s: %w", d.Date.Format(models.DateLayout), err)
		}
	}
	return nil
}

// ListRuns pages runs newest first by rowid. A zero cursor starts at the top.
func (s *Store) ListRuns(ctx context.Context, cursor int64, limit int) ([]RunWithMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT rowid, id, kind, symbol, start_date, end_date, provider, params, summary, status, error, created_at
FROM runs
WHERE (? = 0 OR rowid < ?)
ORDER BY rowid DESC
LIMIT ?
`, cursor, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunWithMeta
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs rows: %w", err)
	}
	return runs, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*RunWithMeta, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT rowid, id, kind, symbol, start_date, end_date, provider, params, summary, status, error, created_at
FROM runs
WHERE id = ?
LIMIT 1
`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*RunWithMeta, error) {
	var rec RunWithMeta
	var params, summary string
	if err := sc.Scan(&rec.RowID, &rec.ID, &rec.Kind, &rec.Symbol, &rec.StartDate, &rec.EndDate, &rec.Provider,
		&params, &summary, &rec.Status, &rec.Error, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
		return nil, fmt.Errorf("decode params of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(summary), &rec.Summary); err != nil {
		return nil, fmt.Errorf("decode summary of %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func (s *Store) ListTrades(ctx context.Context, runID string) ([]models.TradeEvent, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT date, side, reason, price, quantity, fee, resulting_cash, shares_after
FROM trades
WHERE run_id = ?
ORDER BY seq ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var trades []models.TradeEvent
	for rows.Next() {
		var (
			tr                     models.TradeEvent
			date, side, reason     string
			price, fee, resultCash string
		)
		if err := rows.Scan(&date, &side, &reason, &price, &tr.Quantity, &fee, &resultCash, &tr.SharesAfter); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		tr.Side = models.Side(side)
		tr.Reason = models.TradeReason(reason)
		var perr error
		tr.Date, perr = time.Parse(models.DateLayout, date)
		tr.Price = parseDecimal(price, &perr)
		tr.Fee = parseDecimal(fee, &perr)
		tr.ResultingCash = parseDecimal(resultCash, &perr)
		if perr != nil {
			return nil, fmt.Errorf("decode trade: %w", perr)
		}
		trades = append(trades, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list trades rows: %w", err)
	}
	return trades, nil
}

func (s *Store) ListDays(ctx context.Context, runID string) ([]models.DayRecord, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT date, open, high, low, close, regime, cash_before, cash_after,
    shares_after, trades, fees, profit, cumulative_profit, outcome, shortfall
FROM days
WHERE run_id = ?
ORDER BY date ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list days: %w", err)
	}
	defer rows.Close()

	var days []models.DayRecord
	for rows.Next() {
		var (
			rec                                 models.DayRecord
			date, open, high, low, closePx      string
			regime, outcome                     string
			cashBefore, cashAfter, fees, profit string
			cumProfit                           string
		)
		if err := rows.Scan(&date, &open, &high, &low, &closePx, &regime, &cashBefore, &cashAfter,
			&rec.SharesAfter, &rec.Trades, &fees, &profit, &cumProfit, &outcome, &rec.Shortfall); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		var perr error
		rec.Date, perr = time.Parse(models.DateLayout, date)
		rec.Bar = models.PriceBar{
			Date:  rec.Date,
			Open:  parseDecimal(open, &perr),
			High:  parseDecimal(high, &perr),
			Low:   parseDecimal(low, &perr),
			Close: parseDecimal(closePx, &perr),
		}
		rec.Regime = models.Regime(regime)
		rec.Outcome = models.DayOutcome(outcome)
		rec.CashBefore = parseDecimal(cashBefore, &perr)
		rec.CashAfter = parseDecimal(cashAfter, &perr)
		rec.Fees = parseDecimal(fees, &perr)
		rec.Profit = parseDecimal(profit, &perr)
		rec.CumulativeProfit = parseDecimal(cumProfit, &perr)
		if perr != nil {
			return nil, fmt.Errorf("decode day: %w", perr)
		}
		days = append(days, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list days rows: %w", err)
	}
	return days, nil
}

func (s *Store) ListSweepRows(ctx context.Context, runID string) ([]t0.SweepRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT open_gap_low, open_gap_high, params, summary
FROM sweep_rows
WHERE run_id = ?
ORDER BY seq ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list sweep rows: %w", err)
	}
	defer rows.Close()

	var out []t0.SweepRow
	for rows.Next() {
		var low, high, params, summary string
		if err := rows.Scan(&low, &high, &params, &summary); err != nil {
			return nil, fmt.Errorf("scan sweep row: %w", err)
		}
		var row t0.SweepRow
		var perr error
		row.OpenGapLow = parseDecimal(low, &perr)
		row.OpenGapHigh = parseDecimal(high, &perr)
		if perr != nil {
			return nil, fmt.Errorf("decode sweep row: %w", perr)
		}
		if err := json.Unmarshal([]byte(params), &row.Params); err != nil {
			return nil, fmt.Errorf("decode sweep params: %w", err)
		}
		if err := json.Unmarshal([]byte(summary), &row.Summary); err != nil {
			return nil, fmt.Errorf("decode sweep summary: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sweep rows: %w", err)
	}
	return out, nil
}

// DeleteRun removes a run; trades, days and sweep rows cascade.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// parseDecimal keeps the first error in errp.
func parseDecimal(s string, errp *error) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil && *errp == nil {
		*errp = err
	}
	return v
}
