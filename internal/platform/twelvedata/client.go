// Package twelvedata is a minimal REST client for the Twelve Data quote API.
package twelvedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// ErrAPI is returned when the API answers with an error envelope.
var ErrAPI = errors.New("twelvedata: api error")

// Client fetches latest prices. Requests share one token bucket.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client limited to requestsPerMinute. A non-positive
// rate disables client-side limiting.
func NewClient(baseURL, apiKey string, requestsPerMinute int) *Client {
	lim := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: lim,
	}
}

// priceResponse covers both the success and the error envelope.
type priceResponse struct {
	Price   string `json:"price"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Price returns the latest price for an upstream symbol such as "EUR/USD".
// It blocks until the limiter admits the request or ctx ends.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("twelvedata: price %s: %w", symbol, err)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/price?"+params.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("twelvedata: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("twelvedata: price %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("twelvedata: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return decimal.Zero, fmt.Errorf("twelvedata: price %s: %w", symbol, domain.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Zero, fmt.Errorf("twelvedata: price %s: unexpected status %d: %s", symbol, resp.StatusCode, string(body))
	}

	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return decimal.Zero, fmt.Errorf("twelvedata: decode price: %w", err)
	}
	if pr.Status == "error" {
		if pr.Code == http.StatusTooManyRequests {
			return decimal.Zero, fmt.Errorf("twelvedata: price %s: %s: %w", symbol, pr.Message, domain.ErrRateLimited)
		}
		return decimal.Zero, fmt.Errorf("%w: %s: %d %s", ErrAPI, symbol, pr.Code, pr.Message)
	}

	price, err := decimal.NewFromString(pr.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("twelvedata: price %s: bad value %q", symbol, pr.Price)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("twelvedata: price %s: non-positive value %s", symbol, pr.Price)
	}
	return price, nil
}
