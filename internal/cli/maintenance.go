package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/t0quant/config"
	"github.com/dyike/t0quant/internal/cache"
	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/display"
	"github.com/dyike/t0quant/internal/utils"
)

func newConfigGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get [KEY]",
		Short: "Print one configuration value, or list the keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flat, err := flattenConfig(*a.cfg)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				for _, k := range sortedKeys(flat) {
					fmt.Fprintln(a.out, k)
				}
				return nil
			}
			v, ok := flat[strings.ToLower(args[0])]
			if !ok {
				return fmt.Errorf("unknown configuration key: %s", args[0])
			}
			fmt.Fprintln(a.out, v)
			return nil
		},
	}
}

func newConfigSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change one value in the --config file",
		Example: `  t0quant --config t0.json config set data_provider longport
  t0quant --config t0.json config set -- strategy.open_gap_low -0.01`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.manager == nil {
				return fmt.Errorf("config set needs --config")
			}
			err := a.manager.Modify(func(cfg *config.Config) error {
				next, err := setConfigValue(*cfg, args[0], args[1])
				if err != nil {
					return err
				}
				*cfg = next
				return nil
			})
			if err != nil {
				return err
			}
			display.DisplaySuccess(a.out, fmt.Sprintf("%s = %s", args[0], args[1]))
			return nil
		},
	}
}

// flattenConfig maps dotted JSON keys, e.g. "strategy.fee_rate", to values.
func flattenConfig(cfg config.Config) (map[string]any, error) {
	tree, err := configTree(cfg)
	if err != nil {
		return nil, err
	}
	flat := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if sub, ok := v.(map[string]any); ok {
				walk(prefix+k+".", sub)
				continue
			}
			flat[prefix+k] = v
		}
	}
	walk("", tree)
	return flat, nil
}

// setConfigValue applies one dotted key through the JSON form of cfg, so the
// value is checked by the same decoding and Validate as a config file.
func setConfigValue(cfg config.Config, key, raw string) (config.Config, error) {
	tree, err := configTree(cfg)
	if err != nil {
		return config.Config{}, err
	}
	parts := strings.Split(strings.ToLower(key), ".")
	node := tree
	for _, p := range parts[:len(parts)-1] {
		sub, ok := node[p].(map[string]any)
		if !ok {
			return config.Config{}, fmt.Errorf("unknown configuration key: %s", key)
		}
		node = sub
	}
	leaf := parts[len(parts)-1]
	current, ok := node[leaf]
	if !ok {
		return config.Config{}, fmt.Errorf("unknown configuration key: %s", key)
	}

	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return config.Config{}, fmt.Errorf("%s must be true or false", key)
		}
		node[leaf] = b
	case json.Number:
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return config.Config{}, fmt.Errorf("%s must be a number", key)
		}
		node[leaf] = json.Number(raw)
	case map[string]any, []any:
		return config.Config{}, fmt.Errorf("%s is not a single value", key)
	default:
		node[leaf] = raw
	}

	data, err := json.Marshal(tree)
	if err != nil {
		return config.Config{}, err
	}
	var next config.Config
	if err := json.Unmarshal(data, &next); err != nil {
		return config.Config{}, fmt.Errorf("%s: %w", key, err)
	}
	return next, next.Validate()
}

func configTree(cfg config.Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree map[string]any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newHistoryRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm RUN_ID...",
		Short: "Delete recorded runs with their ledgers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			var failed int
			for _, id := range args {
				err := store.DeleteRun(cmd.Context(), id)
				check(a.out, "delete "+id, err)
				if err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs not deleted", failed, len(args))
			}
			return nil
		},
	}
}

func newCacheCmd(a *app) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Market data cache maintenance",
	}

	var maxAge time.Duration
	clean := &cobra.Command{
		Use:   "clean",
		Short: "Remove cached bars and provider lookups older than --max-age",
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxAge <= 0 {
				maxAge = a.cfg.CacheTTL()
			}
			c := cache.NewMarketDataCache(nil, utils.NewCSVManager(a.cfg.DataCacheDir), cache.Options{Logger: a.logger})
			if err := c.CleanExpiredFiles(maxAge); err != nil {
				return err
			}
			removed, err := dataflows.NewCacheManager(a.cfg.DataCacheDir, a.cfg.CacheTTL(), true).Purge(maxAge)
			if err != nil {
				return err
			}
			display.DisplaySuccess(a.out, fmt.Sprintf("removed cached bars and %d lookups older than %s", removed, maxAge))
			return nil
		},
	}
	clean.Flags().DurationVar(&maxAge, "max-age", 0, "age limit (default cache_ttl_hours)")
	cacheCmd.AddCommand(clean)
	return cacheCmd
}

// loadSymbolsFile reads one symbol per line. Blank lines and # comments are skipped.
func loadSymbolsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols file: %w", err)
	}
	var symbols []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols found in file: %s", path)
	}
	return symbols, nil
}
