package dataflows

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

const sinaComponentPath = "/corp/go.php/vII_NewestComponent/indexid/%s.phtml"

type Constituent struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ConstituentsClient scrapes index members from the Sina finance component page.
type ConstituentsClient struct {
	client *resty.Client
	cache  *CacheManager
	retry  RetryConfig
	logger *slog.Logger
}

func NewConstituentsClient(baseURL string, cache *CacheManager, retry RetryConfig, logger *slog.Logger) *ConstituentsClient {
	if baseURL == "" {
		baseURL = "https://vip.stock.finance.sina.com.cn"
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", eastMoneyUserAgent)

	return &ConstituentsClient{client: client, cache: cache, retry: retry, logger: logger}
}

// Constituents returns the members of an index such as "000300" or "index:000906".
func (cc *ConstituentsClient) Constituents(ctx context.Context, index string) ([]Constituent, error) {
	code := strings.TrimPrefix(NormalizeSymbol(index), IndexPrefix)
	if err := ValidateSymbol(code); err != nil {
		return nil, err
	}

	var cached []Constituent
	if cc.cache != nil && cc.cache.Get("sina", "constituents", code, &cached) {
		return cached, nil
	}

	var result []Constituent
	err := WithRetry(ctx, cc.retry, func(ctx context.Context) error {
		resp, err := cc.client.R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			Get(fmt.Sprintf(sinaComponentPath, code))
		if err != nil {
			return fmt.Errorf("fetch constituents for %s: %w", code, err)
		}
		body := resp.RawBody()
		defer body.Close()
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("sina status %d for %s", resp.StatusCode(), code)
		}

		doc, err := goquery.NewDocumentFromReader(transform.NewReader(body, simplifiedchinese.GBK.NewDecoder()))
		if err != nil {
			return Permanent(fmt.Errorf("parse constituents page: %w", err))
		}
		result = parseConstituents(doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: no constituents for index %s", ErrNoData, code)
	}

	if cc.cache != nil {
		if err := cc.cache.Set("sina", "constituents", code, result); err != nil {
			cc.logger.Warn("cache constituents failed", "index", code, "error", err)
		}
	}
	return result, nil
}

func parseConstituents(doc *goquery.Document) []Constituent {
	seen := make(map[string]bool)
	var out []Constituent
	doc.Find("#NewStockTable tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		code := strings.TrimSpace(cells.Eq(0).Text())
		if ValidateSymbol(code) != nil || seen[code] {
			return
		}
		seen[code] = true
		out = append(out, Constituent{Code: code, Name: strings.TrimSpace(cells.Eq(1).Text())})
	})
	return out
}
