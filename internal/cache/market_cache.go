package cache

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/models"
	"github.com/dyike/t0quant/internal/utils"
)

// MarketDataCache sits in front of a BarSource: memory first, then CSV files,
// then the upstream. Fetched bars are written back to both layers.
type MarketDataCache struct {
	upstream    dataflows.BarSource
	memoryCache map[string]*CachedData
	csvManager  *utils.CSVManager
	mu          sync.RWMutex
	memoryTTL   time.Duration
	fileTTL     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

type CachedData struct {
	Data      []models.PriceBar
	Symbol    string
	Timestamp time.Time
	TTL       time.Duration
}

type Options struct {
	MemoryTTL time.Duration
	FileTTL   time.Duration
	Logger    *slog.Logger
}

func NewMarketDataCache(upstream dataflows.BarSource, csvManager *utils.CSVManager, opts Options) *MarketDataCache {
	if opts.MemoryTTL <= 0 {
		opts.MemoryTTL = 5 * time.Minute
	}
	if opts.FileTTL <= 0 {
		opts.FileTTL = 12 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MarketDataCache{
		upstream:    upstream,
		memoryCache: make(map[string]*CachedData),
		csvManager:  csvManager,
		memoryTTL:   opts.MemoryTTL,
		fileTTL:     opts.FileTTL,
		logger:      opts.Logger,
		now:         time.Now,
	}
}

// Tag identifies a request in both cache layers.
func Tag(req dataflows.BarRequest) string {
	adjust := string(req.Adjust)
	if adjust == "" {
		adjust = "none"
	}
	return fmt.Sprintf("%s_%s_%s_%s", utils.SafeName(req.Symbol), adjust,
		req.Start.Format("20060102"), req.End.Format("20060102"))
}

func (c *MarketDataCache) DailyBars(ctx context.Context, req dataflows.BarRequest) ([]models.PriceBar, error) {
	if bars, ok := c.Get(req); ok {
		return bars, nil
	}

	bars, err := c.upstream.DailyBars(ctx, req)
	if err != nil {
		return nil, err
	}
	c.Set(req, bars)
	return bars, nil
}

// Get looks the request up in memory, then on disk.
func (c *MarketDataCache) Get(req dataflows.BarRequest) ([]models.PriceBar, bool) {
	key := Tag(req)
	now := c.now()

	c.mu.RLock()
	cached, exists := c.memoryCache[key]
	c.mu.RUnlock()
	if exists {
		if now.Sub(cached.Timestamp) <= cached.TTL {
			c.logger.Debug("using memory cache", "symbol", req.Symbol, "key", key)
			return cloneBars(cached.Data), true
		}
		c.mu.Lock()
		delete(c.memoryCache, key)
		c.mu.Unlock()
	}

	if c.csvManager == nil {
		return nil, false
	}
	csvFile, err := c.csvManager.FindLatestCSV(req.Symbol, key)
	if err != nil {
		return nil, false
	}
	bars, fileTime, err := c.csvManager.ReadBarsFromCSV(csvFile)
	if err != nil {
		c.logger.Warn("failed to read CSV cache", "symbol", req.Symbol, "file", csvFile, "error", err)
		return nil, false
	}
	if now.Sub(fileTime) > c.fileTTL {
		c.logger.Debug("CSV cache expired", "symbol", req.Symbol, "age", now.Sub(fileTime))
		return nil, false
	}

	c.logger.Debug("using CSV cache", "symbol", req.Symbol, "file", filepath.Base(csvFile))
	c.mu.Lock()
	c.memoryCache[key] = &CachedData{Data: bars, Symbol: req.Symbol, Timestamp: now, TTL: c.memoryTTL}
	c.mu.Unlock()
	return cloneBars(bars), true
}

// Set stores bars in memory and writes them to CSV synchronously.
func (c *MarketDataCache) Set(req dataflows.BarRequest, bars []models.PriceBar) {
	key := Tag(req)

	c.mu.Lock()
	c.memoryCache[key] = &CachedData{
		Data:      cloneBars(bars),
		Symbol:    req.Symbol,
		Timestamp: c.now(),
		TTL:       c.memoryTTL,
	}
	c.mu.Unlock()

	if c.csvManager == nil {
		return
	}
	if _, err := c.csvManager.WriteBarsToCSV(req.Symbol, key, bars); err != nil {
		c.logger.Warn("failed to write market data to CSV", "symbol", req.Symbol, "error", err)
	}
}

func (c *MarketDataCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memoryCache = make(map[string]*CachedData)
}

// CleanExpiredFiles removes CSV files older than maxAge.
func (c *MarketDataCache) CleanExpiredFiles(maxAge time.Duration) error {
	if c.csvManager == nil {
		return nil
	}
	return c.csvManager.CleanOldCSVFiles(maxAge)
}

func (c *MarketDataCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.memoryCache)
}

func cloneBars(bars []models.PriceBar) []models.PriceBar {
	return append([]models.PriceBar(nil), bars...)
}
