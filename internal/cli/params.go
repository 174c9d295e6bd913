package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/t0"
)

// paramFlags overlays strategy flags on the configured strategy. Order of
// precedence: config, then --params file, then individual flags.
type paramFlags struct {
	file      string
	cash      string
	baseline  int64
	floor     int64
	notional  string
	gapLow    string
	gapHigh   string
	rise      string
	fall      string
	fee       string
	duty      string
	reference string
	exclusive bool
}

func (f *paramFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.file, "params", "", "YAML file with strategy parameters")
	fs.StringVar(&f.cash, "cash", "", "initial cash")
	fs.Int64Var(&f.baseline, "baseline", 0, "baseline shares restored at every close")
	fs.Int64Var(&f.floor, "sell-floor", 0, "holding that discretionary sells never go below (default from config; 0 sells the whole holding)")
	fs.StringVar(&f.notional, "notional", "", "target notional per discretionary trade")
	fs.StringVar(&f.gapLow, "gap-low", "", "open gap at or below which the day is a gap down, e.g. -0.005")
	fs.StringVar(&f.gapHigh, "gap-high", "", "open gap at or above which the day is a gap up, e.g. 0.005")
	fs.StringVar(&f.rise, "rise", "", "intraday rise that triggers a rally sell")
	fs.StringVar(&f.fall, "fall", "", "intraday fall that triggers a dip buy")
	fs.StringVar(&f.fee, "fee", "", "commission rate per side")
	fs.StringVar(&f.duty, "stamp-duty", "", "stamp duty rate on sells")
	fs.StringVar(&f.reference, "reference", "", "neutral-day reference price: previous_close or open")
	fs.BoolVar(&f.exclusive, "exclusive-neutral", false, "skip the rally sell on days the dip buy fired")
}

func (f *paramFlags) resolve(cmd *cobra.Command, base t0.Params) (t0.Params, error) {
	p := base
	if f.file != "" {
		var err error
		if p, err = loadParamsFile(f.file, p); err != nil {
			return t0.Params{}, err
		}
	}

	fs := cmd.Flags()
	decimals := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"cash", f.cash, &p.InitialCash},
		{"notional", f.notional, &p.TradeNotional},
		{"gap-low", f.gapLow, &p.OpenGapLow},
		{"gap-high", f.gapHigh, &p.OpenGapHigh},
		{"rise", f.rise, &p.IntradayRise},
		{"fall", f.fall, &p.IntradayFall},
		{"fee", f.fee, &p.FeeRate},
		{"stamp-duty", f.duty, &p.StampDutyRate},
	}
	for _, d := range decimals {
		if !fs.Changed(d.name) {
			continue
		}
		v, err := decimal.NewFromString(d.raw)
		if err != nil {
			return t0.Params{}, fmt.Errorf("--%s: %w", d.name, err)
		}
		*d.dst = v
	}
	if fs.Changed("baseline") {
		p.BaselineShares = f.baseline
	}
	if fs.Changed("sell-floor") {
		p.SellFloorShares = f.floor
	} else if base.SellFloorShares == base.BaselineShares && p.SellFloorShares == base.SellFloorShares {
		// a floor at the baseline moves with it
		p.SellFloorShares = p.BaselineShares
	}
	if fs.Changed("reference") {
		ref, err := t0.ParseReferencePrice(f.reference)
		if err != nil {
			return t0.Params{}, err
		}
		p.ReferencePrice = ref
	}
	if fs.Changed("exclusive-neutral") {
		p.ExclusiveNeutral = f.exclusive
	}
	return p, p.Validate()
}

// loadParamsFile decodes YAML over base so the file only needs the keys it changes.
func loadParamsFile(path string, base t0.Params) (t0.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return t0.Params{}, fmt.Errorf("read params: %w", err)
	}
	p := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return t0.Params{}, fmt.Errorf("decode params %s: %w", path, err)
	}
	return p, nil
}

// rangeFlags are the shared --start/--end/--adjust flags.
type rangeFlags struct {
	start  string
	end    string
	adjust string
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.start, "start", "", "first day YYYY-MM-DD (default one year before --end)")
	cmd.Flags().StringVar(&f.end, "end", "", "last day YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&f.adjust, "adjust", "", "price adjustment: none, qfq or hfq (default from config)")
}

func (f *rangeFlags) resolve(defaultAdjust dataflows.Adjust) (start, end time.Time, adjust dataflows.Adjust, err error) {
	end = today()
	if f.end != "" {
		if end, err = dataflows.ParseDateString(f.end); err != nil {
			return
		}
	}
	start = end.AddDate(-1, 0, 0)
	if f.start != "" {
		if start, err = dataflows.ParseDateString(f.start); err != nil {
			return
		}
	}
	if end.Before(start) {
		err = fmt.Errorf("--end %s is before --start %s", f.end, f.start)
		return
	}
	adjust, err = parseAdjust(f.adjust, defaultAdjust)
	return
}

func parseAdjust(s string, def dataflows.Adjust) (dataflows.Adjust, error) {
	switch s {
	case "":
		return def, nil
	case "none":
		return dataflows.AdjustNone, nil
	case string(dataflows.AdjustForward):
		return dataflows.AdjustForward, nil
	case string(dataflows.AdjustBack):
		return dataflows.AdjustBack, nil
	}
	return "", fmt.Errorf("unknown adjust %q (want none, qfq or hfq)", s)
}

// symbolArg normalizes a command-line symbol. Indices keep their prefix.
func symbolArg(s string) (string, error) {
	if _, err := dataflows.ParseSymbol(s); err != nil {
		return "", err
	}
	return dataflows.NormalizeSymbol(s), nil
}

func today() time.Time {
	y, m, d := time.Now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return today(), nil
	}
	return dataflows.ParseDateString(s)
}
