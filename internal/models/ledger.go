package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeReason names the rule that produced a fill.
type TradeReason string

const (
	ReasonGapDownOpen       TradeReason = "gap_down_open"
	ReasonGapDownTakeProfit TradeReason = "gap_down_take_profit"
	ReasonGapUpOpen         TradeReason = "gap_up_open"
	ReasonGapUpBuyback      TradeReason = "gap_up_buyback"
	ReasonIntradayDipBuy    TradeReason = "intraday_dip_buy"
	ReasonIntradayRallySell TradeReason = "intraday_rally_sell"
	ReasonCloseoutSell      TradeReason = "closeout_sell"
	ReasonCloseoutBuy       TradeReason = "closeout_buy"
)

// TradeEvent is one fill. Events are appended to the ledger and never mutated.
type TradeEvent struct {
	Date          time.Time       `json:"date"`
	Side          Side            `json:"side"`
	Reason        TradeReason     `json:"reason"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int64           `json:"quantity"`
	Fee           decimal.Decimal `json:"fee"`
	ResultingCash decimal.Decimal `json:"resulting_cash"`
	SharesAfter   int64           `json:"shares_after"`
}

// Notional is quantity times price, before costs.
func (e TradeEvent) Notional() decimal.Decimal {
	return e.Price.Mul(decimal.NewFromInt(e.Quantity))
}

// Position is the mutable simulation state.
type Position struct {
	Cash             decimal.Decimal `json:"cash"`
	SharesHeld       int64           `json:"shares_held"`
	PreviousClose    decimal.Decimal `json:"previous_close"`
	HasPreviousClose bool            `json:"has_previous_close"`
}

type Regime string

const (
	RegimeSeed        Regime = "seed"
	RegimeGapDown     Regime = "gap_down"
	RegimeGapUp       Regime = "gap_up"
	RegimeNeutral     Regime = "neutral"
	RegimeUntradeable Regime = "untradeable"
)

type DayOutcome string

const (
	OutcomeNoTrade DayOutcome = "no_trade"
	OutcomeProfit  DayOutcome = "profit"
	OutcomeLoss    DayOutcome = "loss"
	OutcomeFlat    DayOutcome = "flat"
)

// DayRecord is the per-day ledger entry produced for every input bar.
type DayRecord struct {
	Date             time.Time       `json:"date"`
	Bar              PriceBar        `json:"bar"`
	Regime           Regime          `json:"regime"`
	CashBefore       decimal.Decimal `json:"cash_before"`
	CashAfter        decimal.Decimal `json:"cash_after"`
	SharesAfter      int64           `json:"shares_after"`
	Trades           int             `json:"trades"`
	Fees             decimal.Decimal `json:"fees"`
	Profit           decimal.Decimal `json:"profit"`
	CumulativeProfit decimal.Decimal `json:"cumulative_profit"`
	Outcome          DayOutcome      `json:"outcome"`
	Shortfall        bool            `json:"shortfall"`
}

// Traded reports whether at least one fill happened that day.
func (d DayRecord) Traded() bool {
	return d.Trades > 0
}
