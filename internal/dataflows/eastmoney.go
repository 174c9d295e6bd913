package dataflows

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/dyike/t0quant/internal/models"
)

const (
	eastMoneyKLinePath = "/api/qt/stock/kline/get"
	eastMoneyUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	eastMoneyReferer   = "https://quote.eastmoney.com/"
)

// EastMoneyClient fetches daily klines from the eastmoney history endpoint.
type EastMoneyClient struct {
	client  *resty.Client
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *slog.Logger
}

type EastMoneyOptions struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             RetryConfig
	Logger            *slog.Logger
}

func NewEastMoneyClient(opts EastMoneyOptions) *EastMoneyClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://push2his.eastmoney.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.SetTimeout(opts.Timeout)
	client.SetHeader("User-Agent", eastMoneyUserAgent)
	client.SetHeader("Referer", eastMoneyReferer)

	return &EastMoneyClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		retry:   opts.Retry,
		logger:  opts.Logger,
	}
}

// SecID converts an instrument to eastmoney's "market.code" id:
// 1 for Shanghai, 0 for Shenzhen and Beijing.
func SecID(inst Instrument) string {
	if inst.Shanghai() {
		return "1." + inst.Code
	}
	return "0." + inst.Code
}

func fqt(a Adjust) string {
	switch a {
	case AdjustForward:
		return "1"
	case AdjustBack:
		return "2"
	}
	return "0"
}

func (ec *EastMoneyClient) DailyBars(ctx context.Context, req BarRequest) ([]models.PriceBar, error) {
	inst, err := ParseSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"secid":   SecID(inst),
		"fields1": "f1,f2,f3,f4,f5,f6",
		"fields2": "f51,f52,f53,f54,f55,f56",
		"klt":     "101",
		"fqt":     fqt(req.Adjust),
		"beg":     "0",
		"end":     "20500101",
	}
	if !req.Start.IsZero() {
		params["beg"] = req.Start.Format("20060102")
	}
	if !req.End.IsZero() {
		params["end"] = req.End.Format("20060102")
	}

	var bars []models.PriceBar
	err = WithRetry(ctx, ec.retry, func(ctx context.Context) error {
		if err := ec.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := ec.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get(eastMoneyKLinePath)
		if err != nil {
			return fmt.Errorf("eastmoney klines for %s: %w", req.Symbol, err)
		}
		if resp.StatusCode() != http.StatusOK {
			err := fmt.Errorf("eastmoney status %d for %s", resp.StatusCode(), req.Symbol)
			if resp.StatusCode() >= 400 && resp.StatusCode() < 500 && resp.StatusCode() != http.StatusTooManyRequests {
				return Permanent(err)
			}
			return err
		}

		bars, err = parseEastMoneyKlines(resp.Body(), req.Symbol)
		return err
	})
	if err != nil {
		return nil, err
	}

	ec.logger.Debug("eastmoney klines fetched", "symbol", req.Symbol, "bars", len(bars))
	out := bars[:0]
	for _, b := range bars {
		if inRange(b.Date, req) {
			out = append(out, b)
		}
	}
	return out, nil
}

// parseEastMoneyKlines reads data.klines, where every row is
// "date,open,close,high,low,volume".
func parseEastMoneyKlines(body []byte, symbol string) ([]models.PriceBar, error) {
	klines := gjson.GetBytes(body, "data.klines")
	if !klines.Exists() || !klines.IsArray() {
		return nil, fmt.Errorf("%w: eastmoney returned no klines for %s", ErrNoData, symbol)
	}

	rows := klines.Array()
	out := make([]models.PriceBar, 0, len(rows))
	for _, row := range rows {
		parts := strings.Split(strings.TrimSpace(row.String()), ",")
		if len(parts) < 5 {
			continue
		}
		day, err := time.Parse(models.DateLayout, parts[0])
		if err != nil {
			return nil, Permanent(fmt.Errorf("eastmoney kline date %q: %w", parts[0], err))
		}
		vals := make([]decimal.Decimal, 4)
		for i := range vals {
			v, err := decimal.NewFromString(parts[i+1])
			if err != nil {
				return nil, Permanent(fmt.Errorf("eastmoney kline %s field %d: %w", parts[0], i+1, err))
			}
			vals[i] = v
		}
		var vol int64
		if len(parts) >= 6 {
			vol, _ = strconv.ParseInt(parts[5], 10, 64)
		}
		out = append(out, models.PriceBar{
			Symbol: symbol,
			Date:   day,
			Open:   vals[0],
			Close:  vals[1],
			High:   vals[2],
			Low:    vals[3],
			Volume: vol,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: eastmoney returned no klines for %s", ErrNoData, symbol)
	}
	return out, nil
}
