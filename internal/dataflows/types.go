package dataflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyike/t0quant/internal/models"
)

var (
	ErrNoData        = errors.New("no data")
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// IndexPrefix marks a symbol as an index rather than a stock, e.g. "index:000300".
const IndexPrefix = "index:"

type Adjust string

const (
	AdjustNone    Adjust = ""
	AdjustForward Adjust = "qfq"
	AdjustBack    Adjust = "hfq"
)

// BarRequest asks for daily bars of one symbol in [Start, End], both inclusive.
type BarRequest struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Adjust Adjust    `json:"adjust"`
}

func (r BarRequest) String() string {
	return fmt.Sprintf("%s %s..%s %s", r.Symbol, r.Start.Format(models.DateLayout), r.End.Format(models.DateLayout), r.Adjust)
}

// BarSource returns daily bars ordered by date ascending.
type BarSource interface {
	DailyBars(ctx context.Context, req BarRequest) ([]models.PriceBar, error)
}

// BarSourceFunc adapts a function to BarSource.
type BarSourceFunc func(ctx context.Context, req BarRequest) ([]models.PriceBar, error)

func (f BarSourceFunc) DailyBars(ctx context.Context, req BarRequest) ([]models.PriceBar, error) {
	return f(ctx, req)
}

// Instrument is a parsed A-share symbol.
type Instrument struct {
	Code  string
	Index bool
}

// Shanghai reports whether the code trades on the Shanghai exchange.
func (i Instrument) Shanghai() bool {
	if i.Index {
		return !strings.HasPrefix(i.Code, "399")
	}
	switch i.Code[0] {
	case '5', '6', '9':
		return true
	}
	return false
}

// ParseSymbol accepts a six digit code, optionally prefixed with IndexPrefix.
func ParseSymbol(symbol string) (Instrument, error) {
	s := NormalizeSymbol(symbol)
	inst := Instrument{Code: s}
	if rest, ok := strings.CutPrefix(s, IndexPrefix); ok {
		inst = Instrument{Code: rest, Index: true}
	}
	if err := ValidateSymbol(inst.Code); err != nil {
		return Instrument{}, err
	}
	return inst, nil
}

// cst is the exchange calendar zone; bar dates are calendar days there.
var cst = time.FixedZone("CST", 8*60*60)

// tradingDay maps an instant to its exchange calendar day, as UTC midnight.
func tradingDay(t time.Time) time.Time {
	y, m, d := t.In(cst).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func inRange(day time.Time, req BarRequest) bool {
	if !req.Start.IsZero() && day.Before(models.Day(req.Start)) {
		return false
	}
	if !req.End.IsZero() && day.After(models.Day(req.End)) {
		return false
	}
	return true
}
