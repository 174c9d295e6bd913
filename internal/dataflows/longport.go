package dataflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/models"
)

// longportMaxCount is the largest candlestick count one request may ask for.
const longportMaxCount = 1000

type candlestickFetcher interface {
	Candlesticks(ctx context.Context, symbol string, period quote.Period, count int32, adjustType quote.AdjustType) ([]*quote.Candlestick, error)
}

type LongportClient struct {
	quoteCtx candlestickFetcher
	now      func() time.Time
}

type LongportCredentials struct {
	AppKey      string
	AppSecret   string
	AccessToken string
}

func NewLongportClient(creds LongportCredentials) (*LongportClient, error) {
	if creds.AppKey == "" || creds.AppSecret == "" || creds.AccessToken == "" {
		return nil, errors.New("longport API credentials not configured")
	}

	conf, err := lpconfig.New(lpconfig.WithConfigKey(creds.AppKey, creds.AppSecret, creds.AccessToken))
	if err != nil {
		return nil, err
	}

	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}

	return &LongportClient{quoteCtx: quoteContext, now: time.Now}, nil
}

// LongportSymbol maps an instrument to "CODE.SH" / "CODE.SZ".
func LongportSymbol(inst Instrument) string {
	if inst.Shanghai() {
		return inst.Code + ".SH"
	}
	return inst.Code + ".SZ"
}

// DailyBars asks for enough recent candles to reach req.Start and keeps the
// ones inside the range. Longport only serves the latest 1000 daily candles.
func (lpc *LongportClient) DailyBars(ctx context.Context, req BarRequest) ([]models.PriceBar, error) {
	if lpc.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}
	inst, err := ParseSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}

	count := longportMaxCount
	if !req.Start.IsZero() {
		days := int(lpc.now().Sub(req.Start).Hours()/24) + 1
		count = min(max(days, 1), longportMaxCount)
	}

	adjust := quote.AdjustTypeNo
	if req.Adjust == AdjustForward {
		adjust = quote.AdjustTypeForward
	}

	sticks, err := lpc.quoteCtx.Candlesticks(ctx, LongportSymbol(inst), quote.PeriodDay, int32(count), adjust)
	if err != nil {
		return nil, fmt.Errorf("longport candlesticks for %s: %w", req.Symbol, err)
	}

	out := make([]models.PriceBar, 0, len(sticks))
	for _, s := range sticks {
		if s == nil {
			continue
		}
		day := tradingDay(time.Unix(s.Timestamp, 0))
		if !inRange(day, req) {
			continue
		}
		out = append(out, models.PriceBar{
			Symbol: req.Symbol,
			Date:   day,
			Open:   deref(s.Open),
			High:   deref(s.High),
			Low:    deref(s.Low),
			Close:  deref(s.Close),
			Volume: s.Volume,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: longport returned no candles for %s", ErrNoData, req)
	}
	return out, nil
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
