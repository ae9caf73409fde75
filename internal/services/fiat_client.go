package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FiatClient wraps the provider's fiat-to-crypto API for card purchases of
// KAS. Estimates are cached briefly since the rate endpoint is slow and
// callers poll it from the UI.
type FiatClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger

	cacheTTL time.Duration
	mu       sync.Mutex
	cache    map[string]fiatCacheEntry
}

type fiatCacheEntry struct {
	estimate FiatEstimate
	fetched  time.Time
}

func NewFiatClient(baseURL, apiKey string, cacheTTL time.Duration, log *zap.Logger) *FiatClient {
	return &FiatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		log:      log,
		cacheTTL: cacheTTL,
		cache:    make(map[string]fiatCacheEntry),
	}
}

type FiatEstimate struct {
	FromCurrency    string  `json:"fromCurrency"`
	ToCurrency      string  `json:"toCurrency"`
	FromAmount      float64 `json:"fromAmount"`
	ToAmount        float64 `json:"toAmount"`
	ServiceFee      float64 `json:"serviceFee"`
	NetworkFee      float64 `json:"networkFee"`
	ValidUntil      string  `json:"validUntil,omitempty"`
}

// EstimateFiatPurchase quotes how much KAS a fiat amount buys.
func (c *FiatClient) EstimateFiatPurchase(ctx context.Context, fromCurrency string, amount float64) (*FiatEstimate, error) {
	key := fmt.Sprintf("%s:%g", fromCurrency, amount)

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && time.Since(entry.fetched) < c.cacheTTL {
		c.mu.Unlock()
		est := entry.estimate
		return &est, nil
	}
	c.mu.Unlock()

	path := fmt.Sprintf("/estimate?from_currency=%s&to_currency=kas&from_amount=%g",
		url.QueryEscape(strings.ToLower(fromCurrency)), amount)

	var est FiatEstimate
	if err := c.getJSON(ctx, path, &est); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = fiatCacheEntry{estimate: est, fetched: time.Now()}
	c.mu.Unlock()

	return &est, nil
}

type FiatOrderInput struct {
	FromCurrency  string  `json:"from_currency"`
	FromAmount    float64 `json:"from_amount"`
	PayoutAddress string  `json:"payout_address"`
}

type FiatOrder struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirect_url"`
	Status      string `json:"status"`
}

// CreateFiatOrder opens a card purchase order; the user completes payment
// on the provider's hosted page at RedirectURL.
func (c *FiatClient) CreateFiatOrder(ctx context.Context, in FiatOrderInput) (*FiatOrder, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("fiat api key not configured")
	}

	body, err := json.Marshal(map[string]any{
		"from_currency":  strings.ToLower(in.FromCurrency),
		"to_currency":    "kas",
		"from_amount":    in.FromAmount,
		"payout_address": in.PayoutAddress,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fiat provider unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fiat provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var order FiatOrder
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *FiatClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fiat provider unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fiat provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
