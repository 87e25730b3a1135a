// Package spotfeed предоставляет клиент внешнего источника спот-котировок.
package spotfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/kmorozov/buyback-system/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с источником рыночных котировок.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// quoteResponse описывает одну котировку в ответе источника.
type quoteResponse struct {
	Metal           string  `json:"metal"`
	BidSpot         float64 `json:"bid_spot"`
	ScrapPercentage float64 `json:"scrap_percentage"`
}

// NewClient создаёт клиент источника котировок по указанному адресу.
// Сетевые сбои ретраятся на уровне HTTP-клиента.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// GetCurrentQuotes запрашивает текущие котировки. Гарантирует ровно одну
// котировку на каждый поддерживаемый металл, иначе возвращает ошибку.
func (c *Client) GetCurrentQuotes(ctx context.Context) ([]model.SpotQuote, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("spot feed client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := base + "/api/spots"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var raw []quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	seen := make(map[model.Metal]bool, len(raw))
	quotes := make([]model.SpotQuote, 0, len(raw))
	for _, q := range raw {
		metal := model.Metal(q.Metal)
		if !model.IsValidMetal(metal) {
			return nil, fmt.Errorf("unknown metal in feed: %q", q.Metal)
		}
		if seen[metal] {
			return nil, fmt.Errorf("duplicate quote for metal %s", metal)
		}
		seen[metal] = true

		quotes = append(quotes, model.SpotQuote{
			Metal:           metal,
			BidSpotCents:    int64(math.Round(q.BidSpot * 100)),
			ScrapPercentage: q.ScrapPercentage,
		})
	}

	for _, metal := range model.Metals() {
		if !seen[metal] {
			return nil, fmt.Errorf("feed has no quote for metal %s", metal)
		}
	}

	return quotes, nil
}
