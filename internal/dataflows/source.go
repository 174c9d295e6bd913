package dataflows

import (
	"fmt"
	"log/slog"

	"github.com/dyike/t0quant/config"
)

// RetryFromConfig derives the retry policy shared by every client.
func RetryFromConfig(cfg *config.Config) RetryConfig {
	rc := DefaultRetryConfig()
	rc.MaxRetries = cfg.RetryMax
	if d := cfg.RetryBaseDelay(); d > 0 {
		rc.BaseDelay = d
	}
	return rc
}

// NewBarSource picks the upstream provider named by cfg.DataProvider.
func NewBarSource(cfg *config.Config, logger *slog.Logger) (BarSource, error) {
	retry := RetryFromConfig(cfg)
	switch cfg.DataProvider {
	case config.ProviderEastMoney, "":
		return NewEastMoneyClient(EastMoneyOptions{
			BaseURL:           cfg.EastMoneyBaseURL,
			Timeout:           cfg.FetchTimeout(),
			RequestsPerSecond: cfg.RequestsPerSecond,
			Retry:             retry,
			Logger:            logger,
		}), nil
	case config.ProviderLongport:
		client, err := NewLongportClient(LongportCredentials{
			AppKey:      cfg.LongportAppKey,
			AppSecret:   cfg.LongportAppSecret,
			AccessToken: cfg.LongportAccessToken,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderYahoo:
		return NewYahooFinanceClient(retry), nil
	}
	return nil, fmt.Errorf("unknown data provider %q", cfg.DataProvider)
}
