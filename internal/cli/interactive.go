package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/dyike/t0quant/internal/display"
	"github.com/dyike/t0quant/internal/service"
	"github.com/dyike/t0quant/internal/stats"
)

// runInteractiveMode loops over a survey menu until the user exits or
// interrupts. Failed actions are reported and the menu is shown again.
func runInteractiveMode(ctx context.Context, a *app) error {
	displayWelcomeBanner(a.out)

	for ctx.Err() == nil {
		action, err := PromptForAction()
		if err != nil {
			return ignoreInterrupt(err)
		}

		switch action {
		case actionSimulate:
			err = interactiveSimulate(ctx, a)
		case actionSweep:
			err = interactiveSweep(ctx, a)
		case actionRange:
			err = interactiveRange(ctx, a)
		case actionHistory:
			err = interactiveHistory(ctx, a)
		case actionExit:
			return nil
		}
		if errors.Is(err, terminal.InterruptErr) {
			return nil
		}
		if err != nil {
			display.DisplayError(a.errOut, err)
		}
		fmt.Fprintln(a.out)
	}
	return nil
}

func ignoreInterrupt(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return nil
	}
	return err
}

func interactiveSimulate(ctx context.Context, a *app) error {
	symbol, err := PromptForSymbol()
	if err != nil {
		return err
	}
	start, end, err := PromptForDateRange()
	if err != nil {
		return err
	}
	p, err := PromptForStrategy(a.cfg.Strategy)
	if err != nil {
		return err
	}
	verbose, err := PromptForConfirmation("Print the trade and day ledgers?", false)
	if err != nil {
		return err
	}

	svc, err := a.backtest(true)
	if err != nil {
		return err
	}
	out, err := svc.Run(ctx, service.BacktestRequest{
		Symbol:  symbol,
		Start:   start,
		End:     end,
		Adjust:  a.adjust(),
		Params:  p,
		Persist: true,
	})
	if err != nil {
		return err
	}
	display.NewResultsDisplay(a.out, symbol).DisplaySimulation(out.Result, verbose)
	if out.RunID != "" {
		display.DisplayInfo(a.out, "run id: "+out.RunID)
	}
	return nil
}

func interactiveSweep(ctx context.Context, a *app) error {
	symbol, err := PromptForSymbol()
	if err != nil {
		return err
	}
	start, end, err := PromptForDateRange()
	if err != nil {
		return err
	}
	var flags gridFlags
	flags.lowFrom, flags.lowTo, flags.lowStep = "-0.005", "0", "0.001"
	flags.highFrom, flags.highTo, flags.highStep = "0", "0.005", "0.001"
	if flags.link, err = PromptForConfirmation("Link intraday thresholds to the gap thresholds?", false); err != nil {
		return err
	}
	grid, err := flags.grid()
	if err != nil {
		return err
	}

	bt, err := a.backtest(true)
	if err != nil {
		return err
	}
	svc := &service.SweepService{Backtest: bt, Workers: a.cfg.Concurrency}
	out, err := svc.Run(ctx, service.SweepRequest{
		Symbol:  symbol,
		Start:   start,
		End:     end,
		Adjust:  a.adjust(),
		Base:    a.cfg.Strategy,
		Grid:    grid,
		Persist: true,
	})
	if err != nil {
		return err
	}
	display.NewResultsDisplay(a.out, symbol).DisplaySweep(out.Rows)
	return nil
}

func interactiveRange(ctx context.Context, a *app) error {
	symbol, err := PromptForSymbol()
	if err != nil {
		return err
	}
	start, end, err := PromptForDateRange()
	if err != nil {
		return err
	}
	svc, err := a.backtest(false)
	if err != nil {
		return err
	}
	bars, err := svc.LoadBars(ctx, symbol, start, end, a.adjust(), true)
	if err != nil {
		return err
	}
	r, err := stats.RangeStats(bars)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, display.RangeCard(symbol, r))
	return nil
}

func interactiveHistory(ctx context.Context, a *app) error {
	h, err := a.history()
	if err != nil {
		return err
	}
	page, err := h.Runs(ctx, 0, 20)
	if err != nil {
		return err
	}
	if len(page.Runs) == 0 {
		display.DisplayInfo(a.out, "no runs recorded yet")
		return nil
	}
	fmt.Fprintln(a.out, display.RunsTable(page.Runs))

	ids := make([]string, len(page.Runs))
	for i, r := range page.Runs {
		ids[i] = r.ID
	}
	id, err := PromptForRunID(ids)
	if err != nil {
		return err
	}
	detail, err := h.Run(ctx, id)
	if err != nil {
		return err
	}
	d := display.NewResultsDisplay(a.out, detail.Run.Symbol)
	if len(detail.SweepRows) > 0 {
		d.DisplaySweep(detail.SweepRows)
		return nil
	}
	d.DisplaySimulation(detail.Result(), true)
	return nil
}
