package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/dyike/t0quant/config"
	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/models"
	"github.com/dyike/t0quant/internal/service"
	"github.com/dyike/t0quant/internal/storage/sqlite"
	"github.com/dyike/t0quant/internal/t0"
)

// response is the envelope every exported function returns as JSON.
type response struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Config  *config.Config `json:"config,omitempty"`
	RunID   string         `json:"run_id,omitempty"`
	Result  *t0.Result     `json:"result,omitempty"`
	Rows    []t0.SweepRow  `json:"rows,omitempty"`
	Best    *t0.SweepRow   `json:"best,omitempty"`
}

type simulateRequest struct {
	Bars   []models.PriceBar `json:"bars"`
	Params *t0.Params        `json:"params,omitempty"`
}

type sweepRequest struct {
	Bars    []models.PriceBar `json:"bars"`
	Base    *t0.Params        `json:"base,omitempty"`
	Grid    t0.Grid           `json:"grid"`
	Workers int               `json:"workers,omitempty"`
}

type backtestRequest struct {
	Symbol  string     `json:"symbol"`
	Start   string     `json:"start"`
	End     string     `json:"end"`
	Adjust  string     `json:"adjust,omitempty"`
	Params  *t0.Params `json:"params,omitempty"`
	Persist bool       `json:"persist,omitempty"`
}

var (
	cfgMu     sync.RWMutex
	activeCfg *config.Config
	manager   *config.Manager

	logMu  sync.RWMutex
	logOut io.Writer = io.Discard
)

func setLogOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	if w == nil {
		w = io.Discard
	}
	logOut = w
}

func logger(cfg *config.Config) *slog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return cfg.NewLogger(logOut)
}

func ensureConfig() *config.Config {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	if activeCfg == nil {
		activeCfg = config.DefaultConfig()
	}
	clone := *activeCfg
	return &clone
}

// setConfigPath loads or creates the JSON config at path and makes it active.
// An empty path reverts to defaults from the environment.
func setConfigPath(path string) (*config.Config, error) {
	path = strings.TrimSpace(path)
	cfgMu.Lock()
	defer cfgMu.Unlock()
	if path == "" {
		manager = nil
		activeCfg = config.DefaultConfig()
		clone := *activeCfg
		return &clone, nil
	}
	m, err := config.NewManager(config.WithConfigPath(path))
	if err != nil {
		return nil, err
	}
	cfg := m.Get()
	manager, activeCfg = m, &cfg
	clone := cfg
	return &clone, nil
}

// updateConfigJSON overlays a partial JSON document on the active config.
func updateConfigJSON(payload string) (*config.Config, error) {
	next := ensureConfig()
	if trimmed := strings.TrimSpace(payload); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), next); err != nil {
			return nil, fmt.Errorf("parse config json: %w", err)
		}
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	cfgMu.Lock()
	defer cfgMu.Unlock()
	if manager != nil {
		if err := manager.Update(*next); err != nil {
			return nil, err
		}
	}
	activeCfg = next
	clone := *next
	return &clone, nil
}

func runSimulate(payload string) response {
	var req simulateRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return failure(fmt.Errorf("parse request: %w", err))
	}
	p := ensureConfig().Strategy
	if req.Params != nil {
		p = *req.Params
	}
	res, err := t0.Simulate(req.Bars, p)
	if err != nil {
		return failure(err)
	}
	return response{Success: true, Result: res}
}

func runSweep(ctx context.Context, payload string) response {
	var req sweepRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return failure(fmt.Errorf("parse request: %w", err))
	}
	cfg := ensureConfig()
	base := cfg.Strategy
	if req.Base != nil {
		base = *req.Base
	}
	workers := req.Workers
	if workers <= 0 {
		workers = cfg.Concurrency
	}
	rows, err := t0.Sweep(ctx, req.Bars, base, req.Grid, workers)
	if err != nil {
		return failure(err)
	}
	resp := response{Success: true, Rows: rows}
	if best, ok := t0.Best(rows); ok {
		resp.Best = &best
	}
	return resp
}

// runBacktest fetches bars from the configured provider before simulating.
func runBacktest(ctx context.Context, payload string, src dataflows.BarSource) response {
	var req backtestRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return failure(fmt.Errorf("parse request: %w", err))
	}
	cfg := ensureConfig()
	log := logger(cfg)

	start, err := dataflows.ParseDateString(req.Start)
	if err != nil {
		return failure(err)
	}
	end, err := dataflows.ParseDateString(req.End)
	if err != nil {
		return failure(err)
	}
	if src == nil {
		if src, err = dataflows.NewBarSource(cfg, log); err != nil {
			return failure(err)
		}
	}

	svc := &service.BacktestService{Source: src, Logger: log, Provider: cfg.DataProvider, ExportDir: cfg.ResultsDir}
	if req.Persist {
		if err := cfg.EnsureDirectories(); err != nil {
			return failure(err)
		}
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return failure(err)
		}
		defer store.Close()
		svc.Store = store
	}

	p := cfg.Strategy
	if req.Params != nil {
		p = *req.Params
	}
	adjust := dataflows.Adjust(cfg.Adjust)
	if req.Adjust != "" {
		adjust = dataflows.Adjust(strings.TrimSpace(req.Adjust))
		if adjust == "none" {
			adjust = dataflows.AdjustNone
		}
	}

	out, err := svc.Run(ctx, service.BacktestRequest{
		Symbol:  req.Symbol,
		Start:   start,
		End:     end,
		Adjust:  adjust,
		Params:  p,
		Persist: req.Persist,
	})
	if err != nil {
		return failure(err)
	}
	return response{Success: true, RunID: out.RunID, Result: out.Result}
}

func failure(err error) response {
	if err == nil {
		err = errors.New("unknown error")
	}
	return response{Success: false, Error: err.Error()}
}

func encode(resp response) string {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(failure(err))
	}
	return string(data)
}
