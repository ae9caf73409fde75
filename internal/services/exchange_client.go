package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ExchangeClient wraps the ChangeNOW v1 API for crypto-to-crypto swaps
// (buy or sell KAS against other currencies).
type ExchangeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewExchangeClient(baseURL, apiKey string, log *zap.Logger) *ExchangeClient {
	return &ExchangeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		log: log,
	}
}

type Currency struct {
	Ticker    string `json:"ticker"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	HasMemo   bool   `json:"hasExternalId"`
	IsFiat    bool   `json:"isFiat"`
	Featured  bool   `json:"featured"`
	IsStable  bool   `json:"isStable"`
	SupportsFixedRate bool `json:"supportsFixedRate"`
}

func (c *ExchangeClient) GetCurrencies(ctx context.Context) ([]Currency, error) {
	var out []Currency
	if err := c.getJSON(ctx, "/currencies?active=true", &out); err != nil {
		return nil, err
	}
	return out, nil
}

type minAmountResponse struct {
	MinAmount float64 `json:"minAmount"`
}

func (c *ExchangeClient) GetMinAmount(ctx context.Context, from, to string) (float64, error) {
	var out minAmountResponse
	path := fmt.Sprintf("/min-amount/%s_%s", url.PathEscape(from), url.PathEscape(to))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return 0, err
	}
	return out.MinAmount, nil
}

type estimateResponse struct {
	EstimatedAmount  float64 `json:"estimatedAmount"`
	TransactionSpeed string  `json:"transactionSpeedForecast"`
}

// EstimateExchange returns the expected payout for a from->to swap.
func (c *ExchangeClient) EstimateExchange(ctx context.Context, from, to string, amount float64) (float64, error) {
	var out estimateResponse
	path := fmt.Sprintf("/exchange-amount/%g/%s_%s?api_key=%s",
		amount, url.PathEscape(from), url.PathEscape(to), url.QueryEscape(c.apiKey))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return 0, err
	}
	return out.EstimatedAmount, nil
}

type CreateSwapInput struct {
	FromCurrency  string `json:"from"`
	ToCurrency    string `json:"to"`
	Amount        string `json:"amount"`
	PayoutAddress string `json:"address"`
	RefundAddress string `json:"refundAddress,omitempty"`
}

type SwapTransaction struct {
	ID            string `json:"id"`
	PayinAddress  string `json:"payinAddress"`
	PayoutAddress string `json:"payoutAddress"`
	FromCurrency  string `json:"fromCurrency"`
	ToCurrency    string `json:"toCurrency"`
	Amount        string `json:"amount"`
	Status        string `json:"status,omitempty"`
	ExpectedReceiveAmount string `json:"expectedReceiveAmount,omitempty"`
}

// CreateSwap opens a swap with the provider. The caller sends funds to the
// returned payin address; the provider pays out to PayoutAddress.
func (c *ExchangeClient) CreateSwap(ctx context.Context, in CreateSwapInput) (*SwapTransaction, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("exchange api key not configured")
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/transactions/%s", c.baseURL, url.PathEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange provider unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("exchange provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var tx SwapTransaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

type SwapStatus struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	PayinAddress   string  `json:"payinAddress"`
	PayoutAddress  string  `json:"payoutAddress"`
	FromCurrency   string  `json:"fromCurrency"`
	ToCurrency     string  `json:"toCurrency"`
	AmountSend     float64 `json:"amountSend"`
	AmountReceive  float64 `json:"amountReceive"`
	PayinHash      string  `json:"payinHash,omitempty"`
	PayoutHash     string  `json:"payoutHash,omitempty"`
}

func (c *ExchangeClient) GetSwapStatus(ctx context.Context, id string) (*SwapStatus, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("exchange api key not configured")
	}

	var out SwapStatus
	path := fmt.Sprintf("/transactions/%s/%s", url.PathEscape(id), url.PathEscape(c.apiKey))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ExchangeClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exchange provider unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("exchange provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
