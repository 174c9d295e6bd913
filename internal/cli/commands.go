package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyike/t0quant/config"
)

// NewRootCmd creates the root command
func NewRootCmd(opts ...Option) *cobra.Command {
	a := newApp(opts...)

	rootCmd := &cobra.Command{
		Use:   "t0quant",
		Short: "t0quant - intraday T+0 rebalancing backtests",
		Long: `t0quant replays a T+0 rebalancing strategy over A-share daily bars.
It holds a baseline position, trades around open gaps and intraday swings,
and restores the baseline at every close.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: start interactive mode
			return runInteractiveMode(cmd.Context(), a)
		},
	}
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	rootCmd.AddCommand(newSimulateCmd(a))
	rootCmd.AddCommand(newSweepCmd(a))
	rootCmd.AddCommand(newFetchCmd(a))
	rootCmd.AddCommand(newStatsCmd(a))
	rootCmd.AddCommand(newScreenCmd(a))
	rootCmd.AddCommand(newHistoryCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newCacheCmd(a))
	rootCmd.AddCommand(newVersionCmd(a))

	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "JSON configuration file (created with defaults if missing)")

	return rootCmd
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "t0quant %s\n", Version)
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				return writeJSON(a.out, a.cfg)
			}
			showConfig(a)
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	configCmd.AddCommand(show)

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(a)
		},
	})

	configCmd.AddCommand(newConfigGetCmd(a))
	configCmd.AddCommand(newConfigSetCmd(a))

	configCmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Watch the --config file and report reloads until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.manager == nil {
				return fmt.Errorf("watch needs --config")
			}
			fmt.Fprintf(a.out, "watching %s\n", a.manager.Path())
			err := a.manager.Watch(cmd.Context(), func(cfg config.Config) {
				if verr := cfg.Validate(); verr != nil {
					check(a.out, "reloaded", verr)
					return
				}
				check(a.out, fmt.Sprintf("reloaded (provider %s, strategy gap %s/%s)",
					cfg.DataProvider, cfg.Strategy.OpenGapLow, cfg.Strategy.OpenGapHigh), nil)
			})
			if err != nil {
				return err
			}
			<-cmd.Context().Done()
			return nil
		},
	})

	return configCmd
}

func showConfig(a *app) {
	cfg := a.cfg
	section(a.out, "Directories")
	keyValue(a.out, "Project", cfg.ProjectDir)
	keyValue(a.out, "Results", cfg.ResultsDir)
	keyValue(a.out, "Data", cfg.DataDir)
	keyValue(a.out, "Cache", cfg.DataCacheDir)
	keyValue(a.out, "Database", cfg.DBPath)

	section(a.out, "Data")
	keyValue(a.out, "Provider", cfg.DataProvider)
	keyValue(a.out, "Adjust", cfg.Adjust)
	keyValue(a.out, "Concurrency", cfg.Concurrency)
	keyValue(a.out, "Requests/second", cfg.RequestsPerSecond)
	keyValue(a.out, "Retries", cfg.RetryMax)
	keyValue(a.out, "Cache", fmt.Sprintf("%t (%dh)", cfg.CacheEnabled, cfg.CacheTTLHours))
	if cfg.LongportAppKey != "" && cfg.LongportAccessToken != "" {
		keyValue(a.out, "Longport", "configured")
	} else {
		keyValue(a.out, "Longport", "not configured")
	}

	s := cfg.Strategy
	section(a.out, "Strategy")
	keyValue(a.out, "Initial cash", s.InitialCash)
	keyValue(a.out, "Baseline shares", s.BaselineShares)
	keyValue(a.out, "Sell floor", s.SellFloorShares)
	keyValue(a.out, "Trade notional", s.TradeNotional)
	keyValue(a.out, "Open gap", fmt.Sprintf("%s / %s", s.OpenGapLow, s.OpenGapHigh))
	keyValue(a.out, "Intraday", fmt.Sprintf("%s / %s", s.IntradayFall, s.IntradayRise))
	keyValue(a.out, "Fee / stamp duty", fmt.Sprintf("%s / %s", s.FeeRate, s.StampDutyRate))
	keyValue(a.out, "Reference", s.ReferencePrice)
	keyValue(a.out, "Exclusive neutral", s.ExclusiveNeutral)
}

func validateConfig(a *app) error {
	cfgErr := a.cfg.Validate()
	check(a.out, "configuration values", cfgErr)

	dirErr := a.cfg.EnsureDirectories()
	check(a.out, "directories", dirErr)

	var dbErr error
	if _, err := os.Stat(a.cfg.DBPath); err == nil {
		_, dbErr = a.openStore()
	}
	check(a.out, "run database", dbErr)

	_, srcErr := a.barSource()
	check(a.out, "data provider "+a.cfg.DataProvider, srcErr)

	for _, err := range []error{cfgErr, dirErr, dbErr, srcErr} {
		if err != nil {
			return fmt.Errorf("configuration is not usable")
		}
	}
	return nil
}
