package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dyike/t0quant/internal/models"
	"github.com/dyike/t0quant/internal/storage/sqlite"
	"github.com/dyike/t0quant/internal/t0"
)

// HistoryStore is the read side of the run database.
type HistoryStore interface {
	ListRuns(ctx context.Context, cursor int64, limit int) ([]sqlite.RunWithMeta, error)
	GetRun(ctx context.Context, runID string) (*sqlite.RunWithMeta, error)
	ListTrades(ctx context.Context, runID string) ([]models.TradeEvent, error)
	ListDays(ctx context.Context, runID string) ([]models.DayRecord, error)
	ListSweepRows(ctx context.Context, runID string) ([]t0.SweepRow, error)
}

type History struct {
	Store     HistoryStore
	ExportDir string
}

type RunPage struct {
	Runs       []sqlite.RunWithMeta
	NextCursor int64
	HasMore    bool
}

// Runs lists persisted runs newest first. Pass NextCursor back to continue.
func (h *History) Runs(ctx context.Context, cursor int64, limit int) (*RunPage, error) {
	if limit <= 0 {
		limit = 20
	}
	// one extra row tells whether another page exists
	runs, err := h.Store.ListRuns(ctx, cursor, limit+1)
	if err != nil {
		return nil, err
	}
	page := &RunPage{Runs: runs}
	if len(runs) > limit {
		page.Runs = runs[:limit]
		page.HasMore = true
		page.NextCursor = page.Runs[limit-1].RowID
	}
	return page, nil
}

type RunDetail struct {
	Run       *sqlite.RunWithMeta
	Trades    []models.TradeEvent
	Days      []models.DayRecord
	SweepRows []t0.SweepRow
}

// Run loads a run and the rows that belong to its kind.
func (h *History) Run(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := h.Store.GetRun(ctx, strings.TrimSpace(runID))
	if err != nil {
		return nil, err
	}
	detail := &RunDetail{Run: run}
	if run.Kind == sqlite.KindSweep {
		detail.SweepRows, err = h.Store.ListSweepRows(ctx, run.ID)
		return detail, err
	}
	if detail.Trades, err = h.Store.ListTrades(ctx, run.ID); err != nil {
		return nil, err
	}
	if detail.Days, err = h.Store.ListDays(ctx, run.ID); err != nil {
		return nil, err
	}
	return detail, nil
}

// Result rebuilds a simulate run as a t0.Result for display or re-export.
func (d *RunDetail) Result() *t0.Result {
	res := &t0.Result{
		Params:  d.Run.Params,
		Trades:  d.Trades,
		Days:    d.Days,
		Summary: d.Run.Summary,
	}
	if n := len(d.Days); n > 0 {
		last := d.Days[n-1]
		res.Final = models.Position{
			Cash:             last.CashAfter,
			SharesHeld:       last.SharesAfter,
			PreviousClose:    last.Bar.Close,
			HasPreviousClose: true,
		}
	}
	return res
}

type ExportItem struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type ExportPage struct {
	Items      []ExportItem `json:"items"`
	NextCursor string       `json:"next_cursor"`
	HasMore    bool         `json:"has_more"`
}

// Exports lists ledger files under ExportDir with bookmark paging on path.
func (h *History) Exports(cursor string, limit int) (*ExportPage, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	dir, err := filepath.Abs(strings.TrimSpace(h.ExportDir))
	if err != nil || h.ExportDir == "" {
		return nil, errors.New("export dir is not configured")
	}

	var items []ExportItem
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".csv", ".xlsx", ".md":
			items = append(items, ExportItem{Name: d.Name(), Path: filepath.ToSlash(path)})
		}
		return nil
	}); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ExportPage{}, nil
		}
		return nil, fmt.Errorf("walk export dir: %w", err)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Path < items[j].Path
	})

	start := 0
	if cursor != "" {
		for i, f := range items {
			if f.Path == cursor {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(items))
	page := &ExportPage{Items: items[start:end]}
	if end < len(items) {
		page.NextCursor = items[end-1].Path
		page.HasMore = true
	}
	return page, nil
}
