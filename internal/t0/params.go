package t0

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidParams = errors.New("invalid simulation params")

// ReferencePrice selects the price that neutral-open thresholds are measured from.
type ReferencePrice string

const (
	RefPreviousClose ReferencePrice = "previous_close"
	RefOpen          ReferencePrice = "open"
)

func ParseReferencePrice(s string) (ReferencePrice, error) {
	switch ReferencePrice(s) {
	case RefPreviousClose, RefOpen:
		return ReferencePrice(s), nil
	}
	return "", fmt.Errorf("%w: reference price %q (want %s or %s)", ErrInvalidParams, s, RefPreviousClose, RefOpen)
}

// Params configures one simulation run. Every field is required; the zero
// value is not a usable configuration.
type Params struct {
	InitialCash    decimal.Decimal `json:"initial_cash" yaml:"initial_cash"`
	BaselineShares int64           `json:"baseline_shares" yaml:"baseline_shares"`
	// SellFloorShares is the holding discretionary sells never go below.
	// Close-out always targets BaselineShares.
	SellFloorShares int64           `json:"sell_floor_shares" yaml:"sell_floor_shares"`
	TradeNotional   decimal.Decimal `json:"trade_notional" yaml:"trade_notional"`

	OpenGapLow   decimal.Decimal `json:"open_gap_low" yaml:"open_gap_low"`
	OpenGapHigh  decimal.Decimal `json:"open_gap_high" yaml:"open_gap_high"`
	IntradayRise decimal.Decimal `json:"intraday_rise" yaml:"intraday_rise"`
	IntradayFall decimal.Decimal `json:"intraday_fall" yaml:"intraday_fall"`

	FeeRate       decimal.Decimal `json:"fee_rate" yaml:"fee_rate"`
	StampDutyRate decimal.Decimal `json:"stamp_duty_rate" yaml:"stamp_duty_rate"`

	ReferencePrice ReferencePrice `json:"reference_price" yaml:"reference_price"`
	// ExclusiveNeutral skips the rally sell on days where the dip trigger fired.
	ExclusiveNeutral bool `json:"exclusive_neutral" yaml:"exclusive_neutral"`
}

var minusOne = decimal.NewFromInt(-1)

func (p Params) Validate() error {
	if !p.InitialCash.IsPositive() {
		return fmt.Errorf("%w: initial cash must be positive, got %s", ErrInvalidParams, p.InitialCash)
	}
	if p.BaselineShares < 0 {
		return fmt.Errorf("%w: baseline shares must be >= 0, got %d", ErrInvalidParams, p.BaselineShares)
	}
	if p.SellFloorShares < 0 || p.SellFloorShares > p.BaselineShares {
		return fmt.Errorf("%w: sell floor %d must be within [0, %d]", ErrInvalidParams, p.SellFloorShares, p.BaselineShares)
	}
	if !p.TradeNotional.IsPositive() {
		return fmt.Errorf("%w: trade notional must be positive, got %s", ErrInvalidParams, p.TradeNotional)
	}
	thresholds := []struct {
		name string
		v    decimal.Decimal
	}{
		{"open_gap_low", p.OpenGapLow},
		{"open_gap_high", p.OpenGapHigh},
		{"intraday_rise", p.IntradayRise},
		{"intraday_fall", p.IntradayFall},
	}
	for _, th := range thresholds {
		if th.v.LessThanOrEqual(minusOne) {
			return fmt.Errorf("%w: %s must be greater than -1, got %s", ErrInvalidParams, th.name, th.v)
		}
	}
	if p.FeeRate.IsNegative() || p.StampDutyRate.IsNegative() {
		return fmt.Errorf("%w: fee and stamp duty rates must be >= 0", ErrInvalidParams)
	}
	if p.FeeRate.Add(p.StampDutyRate).GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: fee plus stamp duty must stay below 1", ErrInvalidParams)
	}
	if _, err := ParseReferencePrice(string(p.ReferencePrice)); err != nil {
		return err
	}
	return nil
}
