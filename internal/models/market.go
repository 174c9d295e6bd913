package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

var (
	ErrInvalidPrice  = errors.New("invalid price")
	ErrUnorderedBars = errors.New("bars are not strictly ordered by date")
)

// PriceBar is one trading day of an instrument.
type PriceBar struct {
	Symbol string          `json:"symbol"`
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Day truncates t to its calendar day, keeping the location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DateString formats the bar date as YYYY-MM-DD.
func (b PriceBar) DateString() string {
	return b.Date.Format(DateLayout)
}

// Tradeable reports whether every OHLC value is strictly positive.
func (b PriceBar) Tradeable() bool {
	return b.Open.IsPositive() && b.High.IsPositive() && b.Low.IsPositive() && b.Close.IsPositive()
}

// ValidateBars checks the shape the simulator expects: positive prices,
// high >= low and strictly increasing calendar days.
func ValidateBars(bars []PriceBar) error {
	for i, b := range bars {
		if !b.Tradeable() {
			return fmt.Errorf("%w: %s on %s", ErrInvalidPrice, b.Symbol, b.DateString())
		}
		if b.High.LessThan(b.Low) {
			return fmt.Errorf("%w: %s on %s has high %s below low %s",
				ErrInvalidPrice, b.Symbol, b.DateString(), b.High, b.Low)
		}
		if i > 0 && !Day(b.Date).After(Day(bars[i-1].Date)) {
			return fmt.Errorf("%w: %s follows %s", ErrUnorderedBars, b.DateString(), bars[i-1].DateString())
		}
	}
	return nil
}
