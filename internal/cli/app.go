package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dyike/t0quant/config"
	"github.com/dyike/t0quant/internal/cache"
	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/screener"
	"github.com/dyike/t0quant/internal/service"
	"github.com/dyike/t0quant/internal/stats"
	"github.com/dyike/t0quant/internal/storage/sqlite"
	"github.com/dyike/t0quant/internal/utils"
)

// Option customizes the root command, mainly for tests.
type Option func(*app)

func WithConfig(cfg *config.Config) Option {
	return func(a *app) { a.cfg = cfg }
}

func WithBarSource(src dataflows.BarSource) Option {
	return func(a *app) { a.source = src }
}

func WithConstituents(c screener.ConstituentLister) Option {
	return func(a *app) { a.members = c }
}

func WithOutput(out, errOut io.Writer) Option {
	return func(a *app) {
		a.out = out
		a.errOut = errOut
	}
}

// app holds what a command invocation shares: configuration, logger and the
// lazily opened source and store.
type app struct {
	cfg        *config.Config
	manager    *config.Manager
	configPath string
	debug      bool

	out    io.Writer
	errOut io.Writer
	logger *slog.Logger

	source  dataflows.BarSource
	members screener.ConstituentLister
	store   *sqlite.Store
}

func newApp(opts ...Option) *app {
	a := &app{out: os.Stdout, errOut: os.Stderr}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// init loads configuration once flags are parsed.
func (a *app) init() error {
	if a.configPath != "" {
		initial := a.cfg
		if initial == nil {
			initial = config.DefaultConfig()
		}
		m, err := config.NewManager(config.WithConfigPath(a.configPath), config.WithInitialConfig(initial), config.WithLogger(slog.Default()))
		if err != nil {
			return fmt.Errorf("load config %s: %w", a.configPath, err)
		}
		a.manager = m
		cfg := m.Get()
		a.cfg = &cfg
	}
	if a.cfg == nil {
		a.cfg = config.DefaultConfig()
	}
	if a.debug {
		a.cfg.Debug = true
	}
	a.logger = a.cfg.NewLogger(a.errOut)
	slog.SetDefault(a.logger)

	if err := a.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	return nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
		a.store = nil
	}
}

// barSource builds the configured provider, wrapped in the market data cache
// when caching is enabled.
func (a *app) barSource() (dataflows.BarSource, error) {
	if a.source != nil {
		return a.source, nil
	}
	upstream, err := dataflows.NewBarSource(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.source = upstream
	if a.cfg.CacheEnabled {
		a.source = cache.NewMarketDataCache(upstream, utils.NewCSVManager(a.cfg.DataCacheDir), cache.Options{
			MemoryTTL: 10 * time.Minute,
			FileTTL:   a.cfg.CacheTTL(),
			Logger:    a.logger,
		})
	}
	return a.source, nil
}

func (a *app) constituents() screener.ConstituentLister {
	if a.members != nil {
		return a.members
	}
	jsonCache := dataflows.NewCacheManager(a.cfg.DataCacheDir, a.cfg.CacheTTL(), a.cfg.CacheEnabled)
	a.members = dataflows.NewConstituentsClient(a.cfg.SinaBaseURL, jsonCache, dataflows.RetryFromConfig(a.cfg), a.logger)
	return a.members
}

func (a *app) openStore() (*sqlite.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := sqlite.Open(a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

func (a *app) backtest(persist bool) (*service.BacktestService, error) {
	src, err := a.barSource()
	if err != nil {
		return nil, err
	}
	svc := &service.BacktestService{
		Source:    src,
		CSV:       utils.NewCSVManager(a.cfg.ResultsDir),
		Logger:    a.logger,
		Provider:  a.cfg.DataProvider,
		ExportDir: a.cfg.ResultsDir,
	}
	if persist {
		store, err := a.openStore()
		if err != nil {
			return nil, err
		}
		svc.Store = store
	}
	return svc, nil
}

func (a *app) window() (stats.Window, error) {
	src, err := a.barSource()
	if err != nil {
		return stats.Window{}, err
	}
	return stats.Window{Source: src, Adjust: a.adjust()}, nil
}

func (a *app) adjust() dataflows.Adjust {
	return dataflows.Adjust(a.cfg.Adjust)
}

func (a *app) fanOut() dataflows.FanOutOptions {
	// providers retry each request themselves; a single outer attempt suffices
	return dataflows.FanOutOptions{
		Concurrency: a.cfg.Concurrency,
		Timeout:     a.cfg.FetchTimeout() * time.Duration(a.cfg.RetryMax+1),
	}
}
