package cli

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dyike/t0quant/internal/display"
	"github.com/dyike/t0quant/internal/service"
	"github.com/dyike/t0quant/internal/t0"
)

func newSimulateCmd(a *app) *cobra.Command {
	var (
		rng     rangeFlags
		params  paramFlags
		persist bool
		csv     bool
		xlsx    bool
		md      bool
		strict  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "simulate SYMBOL",
		Short: "Replay the T+0 strategy over one symbol's daily bars",
		Example: `  t0quant simulate 002780 --start 2024-01-01 --end 2024-12-31
  t0quant simulate 600519 --params strategy.yaml --csv -v`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolArg(args[0])
			if err != nil {
				return err
			}
			start, end, adjust, err := rng.resolve(a.adjust())
			if err != nil {
				return err
			}
			p, err := params.resolve(cmd, a.cfg.Strategy)
			if err != nil {
				return err
			}
			svc, err := a.backtest(persist)
			if err != nil {
				return err
			}

			out, err := svc.Run(cmd.Context(), service.BacktestRequest{
				Symbol:   symbol,
				Start:    start,
				End:      end,
				Adjust:   adjust,
				Params:   p,
				Strict:   strict,
				Persist:  persist,
				CSV:      csv,
				XLSX:     xlsx,
				Markdown: md,
			})
			if err != nil {
				return err
			}
			display.NewResultsDisplay(a.out, symbol).DisplaySimulation(out.Result, verbose)
			if out.RunID != "" {
				display.DisplayInfo(a.out, "run id: "+out.RunID)
			}
			for _, path := range out.Exports {
				display.DisplaySuccess(a.out, "saved "+path)
			}
			return nil
		},
	}
	rng.register(cmd)
	params.register(cmd)
	fs := cmd.Flags()
	fs.BoolVar(&persist, "persist", true, "record the run in the history database")
	fs.BoolVar(&csv, "csv", false, "write trade and day ledgers as CSV")
	fs.BoolVar(&xlsx, "xlsx", false, "write the ledger workbook")
	fs.BoolVar(&md, "md", false, "write a Markdown report")
	fs.BoolVar(&strict, "strict", false, "reject bars with non-positive prices instead of skipping those days")
	fs.BoolVarP(&verbose, "verbose", "v", false, "print the trade and day ledgers")
	return cmd
}

// gridFlags hold the sweep ranges as strings so decimals parse exactly.
type gridFlags struct {
	lowFrom, lowTo, lowStep    string
	highFrom, highTo, highStep string
	link                       bool
}

func (f *gridFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.lowFrom, "low-from", "-0.005", "first open gap low threshold")
	fs.StringVar(&f.lowTo, "low-to", "0", "open gap low upper bound (exclusive)")
	fs.StringVar(&f.lowStep, "low-step", "0.001", "open gap low step")
	fs.StringVar(&f.highFrom, "high-from", "0", "first open gap high threshold")
	fs.StringVar(&f.highTo, "high-to", "0.005", "open gap high upper bound (exclusive)")
	fs.StringVar(&f.highStep, "high-step", "0.001", "open gap high step")
	fs.BoolVar(&f.link, "link-intraday", false, "use the gap thresholds as intraday rise and fall thresholds too")
}

func (f *gridFlags) grid() (t0.Grid, error) {
	low, err := parseRange("low", f.lowFrom, f.lowTo, f.lowStep)
	if err != nil {
		return t0.Grid{}, err
	}
	high, err := parseRange("high", f.highFrom, f.highTo, f.highStep)
	if err != nil {
		return t0.Grid{}, err
	}
	return t0.Grid{OpenGapLow: low, OpenGapHigh: high, LinkIntraday: f.link}, nil
}

func parseRange(name, from, to, step string) (t0.Range, error) {
	var r t0.Range
	for _, v := range []struct {
		flag string
		raw  string
		dst  *decimal.Decimal
	}{
		{name + "-from", from, &r.From},
		{name + "-to", to, &r.To},
		{name + "-step", step, &r.Step},
	} {
		d, err := decimal.NewFromString(strings.TrimSpace(v.raw))
		if err != nil {
			return t0.Range{}, fmt.Errorf("--%s: %w", v.flag, err)
		}
		*v.dst = d
	}
	return r, nil
}

func newSweepCmd(a *app) *cobra.Command {
	var (
		rng     rangeFlags
		params  paramFlags
		grid    gridFlags
		workers int
		persist bool
		xlsx    bool
	)
	cmd := &cobra.Command{
		Use:     "sweep SYMBOL",
		Short:   "Evaluate a grid of open gap thresholds",
		Example: `  t0quant sweep 002780 --low-from -0.02 --low-to 0 --high-from 0 --high-to 0.02 --xlsx`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolArg(args[0])
			if err != nil {
				return err
			}
			start, end, adjust, err := rng.resolve(a.adjust())
			if err != nil {
				return err
			}
			base, err := params.resolve(cmd, a.cfg.Strategy)
			if err != nil {
				return err
			}
			g, err := grid.grid()
			if err != nil {
				return err
			}
			bt, err := a.backtest(persist)
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = a.cfg.Concurrency
			}

			svc := &service.SweepService{Backtest: bt, Workers: workers}
			out, err := svc.Run(cmd.Context(), service.SweepRequest{
				Symbol:  symbol,
				Start:   start,
				End:     end,
				Adjust:  adjust,
				Base:    base,
				Grid:    g,
				Persist: persist,
				XLSX:    xlsx,
			})
			if err != nil {
				return err
			}
			display.NewResultsDisplay(a.out, symbol).DisplaySweep(out.Rows)
			if len(out.Rows) > 0 {
				display.DisplayInfo(a.out, fmt.Sprintf("best: low %s high %s return %s",
					out.Best.OpenGapLow, out.Best.OpenGapHigh, out.Best.Summary.CashReturn.StringFixed(4)))
			}
			if out.RunID != "" {
				display.DisplayInfo(a.out, "run id: "+out.RunID)
			}
			if out.Export != "" {
				display.DisplaySuccess(a.out, "saved "+out.Export)
			}
			return nil
		},
	}
	rng.register(cmd)
	params.register(cmd)
	grid.register(cmd)
	fs := cmd.Flags()
	fs.IntVar(&workers, "workers", 0, "concurrent simulations (default from config concurrency)")
	fs.BoolVar(&persist, "persist", true, "record the sweep in the history database")
	fs.BoolVar(&xlsx, "xlsx", false, "write the sweep workbook")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		rng  rangeFlags
		csv  bool
		file string
	)
	cmd := &cobra.Command{
		Use:   "fetch SYMBOL...",
		Short: "Download daily bars for several symbols concurrently",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				more, err := loadSymbolsFile(file)
				if err != nil {
					return err
				}
				args = append(args, more...)
			}
			if len(args) == 0 {
				return fmt.Errorf("no symbols given")
			}
			symbols := make([]string, len(args))
			for i, s := range args {
				sym, err := symbolArg(s)
				if err != nil {
					return err
				}
				symbols[i] = sym
			}
			start, end, adjust, err := rng.resolve(a.adjust())
			if err != nil {
				return err
			}
			svc, err := a.backtest(false)
			if err != nil {
				return err
			}

			report := svc.Fetch(cmd.Context(), service.FetchRequest{
				Symbols: symbols,
				Start:   start,
				End:     end,
				Adjust:  adjust,
				Options: a.fanOut(),
				CSV:     csv,
			})
			for _, r := range report.Results {
				label := fmt.Sprintf("%s: %d bars", r.Request.Symbol, len(r.Bars))
				if path, ok := report.Files[r.Request.Symbol]; ok {
					label += " -> " + path
				}
				check(a.out, label, r.Err)
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d of %d symbols failed", report.Failed, len(report.Results))
			}
			return nil
		},
	}
	rng.register(cmd)
	cmd.Flags().BoolVar(&csv, "csv", true, "write each symbol's bars as CSV under the results dir")
	cmd.Flags().StringVar(&file, "file", "", "read more symbols from this file, one per line")
	return cmd
}
