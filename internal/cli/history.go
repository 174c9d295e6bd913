package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dyike/t0quant/internal/display"
	"github.com/dyike/t0quant/internal/export"
	"github.com/dyike/t0quant/internal/service"
	"github.com/dyike/t0quant/internal/storage/sqlite"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		cursor  int64
		after   string
		limit   int
		exports bool
		xlsx    string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List recorded runs, or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.history()
			if err != nil {
				return err
			}
			if exports {
				page, err := h.Exports(after, limit)
				if err != nil {
					return err
				}
				for _, item := range page.Items {
					fmt.Fprintln(a.out, item.Path)
				}
				if page.HasMore {
					display.DisplayInfo(a.out, "more: --exports --after "+page.NextCursor)
				}
				return nil
			}
			if len(args) == 1 {
				return showRun(a, h, cmd, args[0], xlsx, verbose)
			}

			page, err := h.Runs(cmd.Context(), cursor, limit)
			if err != nil {
				return err
			}
			if len(page.Runs) == 0 {
				display.DisplayInfo(a.out, "no runs recorded yet")
				return nil
			}
			fmt.Fprintln(a.out, display.RunsTable(page.Runs))
			if page.HasMore {
				display.DisplayInfo(a.out, fmt.Sprintf("more: --cursor %d", page.NextCursor))
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.Int64Var(&cursor, "cursor", 0, "continue listing after this cursor")
	fs.StringVar(&after, "after", "", "continue the export listing after this path")
	fs.IntVar(&limit, "limit", 20, "entries per page")
	fs.BoolVar(&exports, "exports", false, "list exported CSV and XLSX files instead of runs")
	fs.StringVar(&xlsx, "xlsx", "", "write the selected run to this workbook path")
	fs.BoolVarP(&verbose, "verbose", "v", false, "print the trade and day ledgers")

	cmd.AddCommand(newHistoryRemoveCmd(a))
	return cmd
}

func showRun(a *app, h *service.History, cmd *cobra.Command, id, xlsx string, verbose bool) error {
	detail, err := h.Run(cmd.Context(), id)
	if err != nil {
		return err
	}
	run := detail.Run
	section(a.out, fmt.Sprintf("Run %s", run.ID))
	keyValue(a.out, "Kind", run.Kind)
	keyValue(a.out, "Range", run.StartDate+" ~ "+run.EndDate)
	keyValue(a.out, "Provider", run.Provider)
	keyValue(a.out, "Created", run.CreatedAt)
	if run.Status != sqlite.StatusDone {
		keyValue(a.out, "Status", run.Status+": "+run.Error)
	}

	d := display.NewResultsDisplay(a.out, run.Symbol)
	if run.Kind == sqlite.KindSweep {
		d.DisplaySweep(detail.SweepRows)
		if xlsx != "" {
			if err := export.WriteSweepXLSX(xlsx, detail.SweepRows); err != nil {
				return err
			}
			display.DisplaySuccess(a.out, "saved "+filepath.Clean(xlsx))
		}
		return nil
	}

	res := detail.Result()
	d.DisplaySimulation(res, verbose)
	if xlsx != "" {
		if err := export.WriteLedgerXLSX(xlsx, res); err != nil {
			return err
		}
		display.DisplaySuccess(a.out, "saved "+filepath.Clean(xlsx))
	}
	return nil
}

func (a *app) history() (*service.History, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	return &service.History{Store: store, ExportDir: a.cfg.ResultsDir}, nil
}
