package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/t0"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	ProviderEastMoney = "eastmoney"
	ProviderLongport  = "longport"
	ProviderYahoo     = "yahoo"
)

type Config struct {
	ProjectDir   string `json:"project_dir"`
	ResultsDir   string `json:"results_dir"`
	DataDir      string `json:"data_dir"`
	DataCacheDir string `json:"data_cache_dir"`
	DBPath       string `json:"db_path"`

	DataProvider string `json:"data_provider"`
	// Adjust is the price adjustment requested from providers: "", "qfq" or "hfq".
	Adjust string `json:"adjust"`

	Concurrency       int     `json:"concurrency"`
	FetchTimeoutSec   int     `json:"fetch_timeout_sec"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	RetryMax          int     `json:"retry_max"`
	RetryBaseDelayMS  int     `json:"retry_base_delay_ms"`

	CacheEnabled  bool `json:"cache_enabled"`
	CacheTTLHours int  `json:"cache_ttl_hours"`

	Debug     bool   `json:"debug"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	EastMoneyBaseURL string `json:"eastmoney_base_url"`
	SinaBaseURL      string `json:"sina_base_url"`

	// Longport API Configuration
	LongportAppKey      string `json:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token"`

	Strategy t0.Params `json:"strategy"`
}

// DefaultStrategy mirrors the sample account used when calibrating the
// 002780 scripts: 10k cash, 1000 base shares, ±0.5% bands. Discretionary
// sells stop at the baseline.
func DefaultStrategy() t0.Params {
	return t0.Params{
		InitialCash:     decimal.NewFromInt(10000),
		BaselineShares:  1000,
		SellFloorShares: 1000,
		TradeNotional:   decimal.NewFromInt(10000),
		OpenGapLow:      decimal.RequireFromString("-0.005"),
		OpenGapHigh:     decimal.RequireFromString("0.005"),
		IntradayRise:    decimal.RequireFromString("0.005"),
		IntradayFall:    decimal.RequireFromString("-0.005"),
		FeeRate:         decimal.RequireFromString("0.0002"),
		StampDutyRate:   decimal.RequireFromString("0.0005"),
		ReferencePrice:  t0.RefPreviousClose,
	}
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()

	// Override with environment variables if they exist
	cfg.loadFromEnv()

	return cfg
}

// DefaultConfigWithRoot builds defaults with every directory under root.
// The environment is not consulted.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		ProjectDir:   root,
		ResultsDir:   filepath.Join(root, "results"),
		DataDir:      filepath.Join(root, "data"),
		DataCacheDir: filepath.Join(root, "data", "cache"),
		DBPath:       filepath.Join(root, "data", "t0quant.db"),

		DataProvider: ProviderEastMoney,
		Adjust:       "qfq",

		Concurrency:       8,
		FetchTimeoutSec:   15,
		RequestsPerSecond: 5,
		RetryMax:          3,
		RetryBaseDelayMS:  500,

		CacheEnabled:  true,
		CacheTTLHours: 12,

		LogLevel:  "info",
		LogFormat: "text",

		EastMoneyBaseURL: "https://push2his.eastmoney.com",
		SinaBaseURL:      "https://vip.stock.finance.sina.com.cn",

		Strategy: DefaultStrategy(),
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("T0QUANT_PROJECT_DIR"); val != "" {
		c.ProjectDir = val
	}
	if val := os.Getenv("T0QUANT_RESULTS_DIR"); val != "" {
		c.ResultsDir = val
	}
	if val := os.Getenv("T0QUANT_DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("T0QUANT_DATA_CACHE_DIR"); val != "" {
		c.DataCacheDir = val
	}
	if val := os.Getenv("T0QUANT_DB_PATH"); val != "" {
		c.DBPath = val
	}

	if val := os.Getenv("T0QUANT_DATA_PROVIDER"); val != "" {
		c.DataProvider = strings.ToLower(val)
	}
	if val, ok := os.LookupEnv("T0QUANT_ADJUST"); ok {
		c.Adjust = strings.ToLower(val)
	}

	if val := os.Getenv("T0QUANT_CONCURRENCY"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.Concurrency = v
		}
	}
	if val := os.Getenv("T0QUANT_FETCH_TIMEOUT_SEC"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.FetchTimeoutSec = v
		}
	}
	if val := os.Getenv("T0QUANT_REQUESTS_PER_SECOND"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			c.RequestsPerSecond = v
		}
	}
	if val := os.Getenv("T0QUANT_RETRY_MAX"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.RetryMax = v
		}
	}

	if val := os.Getenv("T0QUANT_CACHE_ENABLED"); val != "" {
		if cache, err := strconv.ParseBool(val); err == nil {
			c.CacheEnabled = cache
		}
	}
	if val := os.Getenv("T0QUANT_CACHE_TTL_HOURS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.CacheTTLHours = v
		}
	}

	if val := os.Getenv("T0QUANT_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Debug = enabled
		}
	}
	if val := os.Getenv("T0QUANT_LOG_LEVEL"); val != "" {
		c.LogLevel = strings.ToLower(val)
	}
	if val := os.Getenv("T0QUANT_LOG_FORMAT"); val != "" {
		c.LogFormat = strings.ToLower(val)
	}

	if val := os.Getenv("LONGPORT_APP_KEY"); val != "" {
		c.LongportAppKey = val
	}
	if val := os.Getenv("LONGPORT_APP_SECRET"); val != "" {
		c.LongportAppSecret = val
	}
	if val := os.Getenv("LONGPORT_ACCESS_TOKEN"); val != "" {
		c.LongportAccessToken = val
	}
}

func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, "data_dir is empty")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		problems = append(problems, "db_path is empty")
	}
	switch c.DataProvider {
	case ProviderEastMoney, ProviderLongport, ProviderYahoo:
	default:
		problems = append(problems, fmt.Sprintf("unknown data_provider %q", c.DataProvider))
	}
	switch c.Adjust {
	case "", "qfq", "hfq":
	default:
		problems = append(problems, fmt.Sprintf("unknown adjust %q", c.Adjust))
	}
	if c.Concurrency <= 0 {
		problems = append(problems, "concurrency must be positive")
	}
	if c.FetchTimeoutSec <= 0 {
		problems = append(problems, "fetch_timeout_sec must be positive")
	}
	if c.RequestsPerSecond <= 0 {
		problems = append(problems, "requests_per_second must be positive")
	}
	if c.RetryMax < 0 {
		problems = append(problems, "retry_max must be >= 0")
	}
	if c.CacheEnabled && c.CacheTTLHours <= 0 {
		problems = append(problems, "cache_ttl_hours must be positive when the cache is enabled")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log_format %q", c.LogFormat))
	}
	if err := c.Strategy.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.ResultsDir, c.DataDir, c.DataCacheDir, filepath.Dir(c.DBPath)}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
