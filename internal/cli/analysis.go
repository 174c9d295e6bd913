package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/display"
	"github.com/dyike/t0quant/internal/models"
	"github.com/dyike/t0quant/internal/screener"
	"github.com/dyike/t0quant/internal/stats"
)

func newStatsCmd(a *app) *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Rolling-window statistics for a symbol",
	}
	statsCmd.AddCommand(newRangeStatsCmd(a))
	statsCmd.AddCommand(newNewHighCmd(a))
	statsCmd.AddCommand(newDeclineCmd(a))
	statsCmd.AddCommand(newPerfCmd(a))
	return statsCmd
}

func newRangeStatsCmd(a *app) *cobra.Command {
	var rng rangeFlags
	cmd := &cobra.Command{
		Use:   "range SYMBOL",
		Short: "Mean and median intraday excursion from the open",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolArg(args[0])
			if err != nil {
				return err
			}
			start, end, adjust, err := rng.resolve(a.adjust())
			if err != nil {
				return err
			}
			svc, err := a.backtest(false)
			if err != nil {
				return err
			}
			bars, err := svc.LoadBars(cmd.Context(), symbol, start, end, adjust, true)
			if err != nil {
				return err
			}
			r, err := stats.RangeStats(bars)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, display.RangeCard(symbol, r))
			return nil
		},
	}
	rng.register(cmd)
	return cmd
}

func newNewHighCmd(a *app) *cobra.Command {
	var (
		date     string
		recent   int
		lookback int
	)
	cmd := &cobra.Command{
		Use:   "newhigh SYMBOL",
		Short: "Whether the recent high is the highest of the lookback window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, asOf, w, err := a.windowArgs(args[0], date)
			if err != nil {
				return err
			}
			ok, err := w.IsNewHigh(cmd.Context(), symbol, asOf, recent, lookback)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s new %d-day high within the last %d days as of %s: %t\n",
				symbol, lookback, recent, asOf.Format(models.DateLayout), ok)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "as-of day YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&recent, "recent", 7, "days in which the high must occur")
	cmd.Flags().IntVar(&lookback, "lookback", 100, "days the high must beat")
	return cmd
}

func newDeclineCmd(a *app) *cobra.Command {
	var (
		date string
		days int
	)
	cmd := &cobra.Command{
		Use:   "decline SYMBOL",
		Short: "Whether every one of the last days closed lower",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, asOf, w, err := a.windowArgs(args[0], date)
			if err != nil {
				return err
			}
			ok, err := w.IsConsecutiveDecline(cmd.Context(), symbol, asOf, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s declined %d days in a row as of %s: %t\n",
				symbol, days, asOf.Format(models.DateLayout), ok)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "as-of day YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&days, "days", 2, "consecutive down closes")
	return cmd
}

func newPerfCmd(a *app) *cobra.Command {
	var (
		date  string
		days  int
		index string
	)
	cmd := &cobra.Command{
		Use:   "perf SYMBOL",
		Short: "Percentage change over the last trading days, optionally against an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, asOf, w, err := a.windowArgs(args[0], date)
			if err != nil {
				return err
			}
			perf, err := w.Performance(cmd.Context(), symbol, asOf, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %d-day change as of %s: %s%%\n",
				symbol, days, asOf.Format(models.DateLayout), perf.StringFixed(2))
			if index == "" {
				return nil
			}

			inst, err := dataflows.ParseSymbol(index)
			if err != nil {
				return err
			}
			idx := dataflows.IndexPrefix + inst.Code
			idxPerf, err := w.Performance(cmd.Context(), idx, asOf, days)
			if err != nil {
				return fmt.Errorf("index %s: %w", index, err)
			}
			excess := perf.Sub(idxPerf)
			fmt.Fprintf(a.out, "%s: %s%%, excess %s%%\n", idx, idxPerf.StringFixed(2), excess.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "as-of day YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&days, "days", 20, "trading days to measure")
	cmd.Flags().StringVar(&index, "index", "", "index code to compare against, e.g. 000300")
	return cmd
}

func newScreenCmd(a *app) *cobra.Command {
	var (
		date         string
		maxDrop      string
		excess       string
		trendAdjust  string
		changeAdjust string
		opts         screener.Options
		jsonMatches  bool
	)
	cmd := &cobra.Command{
		Use:   "screen INDEX",
		Short: "Find constituents that pulled back after a recent high while beating the index",
		Example: `  t0quant screen 000300 --date 2024-11-22
  t0quant screen 000905 --max-drop -2 --decline-days 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			opts.Index = args[0]
			if opts.AsOf, err = parseDay(date); err != nil {
				return err
			}
			if opts.MaxDropPct, err = decimal.NewFromString(maxDrop); err != nil {
				return fmt.Errorf("--max-drop: %w", err)
			}
			if opts.ExcessPct, err = decimal.NewFromString(excess); err != nil {
				return fmt.Errorf("--excess: %w", err)
			}
			if opts.TrendAdjust, err = parseAdjust(trendAdjust, a.adjust()); err != nil {
				return fmt.Errorf("--trend-adjust: %w", err)
			}
			if opts.ChangeAdjust, err = parseAdjust(changeAdjust, a.adjust()); err != nil {
				return fmt.Errorf("--change-adjust: %w", err)
			}
			if opts.Concurrency <= 0 {
				opts.Concurrency = a.cfg.Concurrency
			}
			w, err := a.window()
			if err != nil {
				return err
			}

			s := &screener.Screener{Window: w, Members: a.constituents(), Logger: a.logger}
			res, err := s.Run(cmd.Context(), opts, opts.Criteria())
			if err != nil {
				return err
			}
			if jsonMatches {
				return writeJSON(a.out, res)
			}
			fmt.Fprintln(a.out, display.ScreenTable(res))
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&date, "date", "", "as-of day YYYY-MM-DD (default today)")
	fs.StringVar(&maxDrop, "max-drop", "-3", "last-day change must be at or below this percentage")
	fs.IntVar(&opts.DeclineDays, "decline-days", 2, "consecutive down closes required")
	fs.IntVar(&opts.NewHighRecent, "recent", 7, "days in which a new high must have occurred")
	fs.IntVar(&opts.NewHighLookback, "lookback", 100, "days the new high must beat")
	fs.IntVar(&opts.VsIndexDays, "vs-days", 20, "trading days compared against the index")
	fs.StringVar(&excess, "excess", "0", "percentage points the stock must beat the index by")
	fs.StringVar(&trendAdjust, "trend-adjust", "hfq", "price adjustment for the new-high, decline and index checks")
	fs.StringVar(&changeAdjust, "change-adjust", "qfq", "price adjustment for the last-day checks")
	fs.IntVar(&opts.Concurrency, "concurrency", 0, "constituents checked at once (default from config)")
	fs.BoolVar(&jsonMatches, "json", false, "print the result as JSON")
	return cmd
}

// windowArgs resolves the symbol, as-of day and window shared by stats subcommands.
func (a *app) windowArgs(arg, date string) (string, time.Time, stats.Window, error) {
	symbol, err := symbolArg(arg)
	if err != nil {
		return "", time.Time{}, stats.Window{}, err
	}
	asOf, err := parseDay(date)
	if err != nil {
		return "", time.Time{}, stats.Window{}, err
	}
	w, err := a.window()
	if err != nil {
		return "", time.Time{}, stats.Window{}, err
	}
	return symbol, asOf, w, nil
}
