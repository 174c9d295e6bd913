// Command dataflow prints the daily bars one provider returns, as JSON.
//
//	go run ./cmd/dataflow -provider longport -symbol 600519 -days 10
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dyike/t0quant/config"
	"github.com/dyike/t0quant/internal/dataflows"
)

func main() {
	provider := flag.String("provider", "", "override data_provider")
	symbol := flag.String("symbol", "002780", "six digit code or index:CODE")
	days := flag.Int("days", 10, "calendar days to fetch")
	adjust := flag.String("adjust", "", "qfq, hfq or empty")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *provider != "" {
		cfg.DataProvider = *provider
	}
	logger := cfg.NewLogger(os.Stderr)

	src, err := dataflows.NewBarSource(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	end := time.Now()
	bars, err := src.DailyBars(context.Background(), dataflows.BarRequest{
		Symbol: dataflows.NormalizeSymbol(*symbol),
		Start:  end.AddDate(0, 0, -*days),
		End:    end,
		Adjust: dataflows.Adjust(*adjust),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	payload, _ := json.MarshalIndent(bars, "", "  ")
	fmt.Println(string(payload))
}
