package kaspa

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

// Client talks to a Kaspa REST API node (api.kaspa.org).
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
	maxRetries int
}

func NewClient(baseURL string, timeoutMS, maxRetries int, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		log:        log,
		maxRetries: maxRetries,
	}
}

type BalanceResponse struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

type TxOutput struct {
	TransactionID          string `json:"transaction_id"`
	Index                  int    `json:"index"`
	Amount                 int64  `json:"amount"`
	ScriptPublicKeyAddress string `json:"script_public_key_address"`
}

type TxInput struct {
	TransactionID           string `json:"transaction_id"`
	PreviousOutpointHash    string `json:"previous_outpoint_hash"`
	PreviousOutpointIndex   string `json:"previous_outpoint_index"`
	PreviousOutpointAddress string `json:"previous_outpoint_address"`
	PreviousOutpointAmount  int64  `json:"previous_outpoint_amount"`
}

type Transaction struct {
	TransactionID string     `json:"transaction_id"`
	IsAccepted    bool       `json:"is_accepted"`
	BlockTime     int64      `json:"block_time"`
	Inputs        []TxInput  `json:"inputs"`
	Outputs       []TxOutput `json:"outputs"`
}

type NetworkInfo struct {
	NetworkName     string  `json:"networkName"`
	BlockCount      string  `json:"blockCount"`
	HeaderCount     string  `json:"headerCount"`
	VirtualDaaScore string  `json:"virtualDaaScore"`
	Difficulty      float64 `json:"difficulty"`
}

// GetBalance returns the confirmed balance of an address in sompi.
func (c *Client) GetBalance(ctx context.Context, address string) (int64, error) {
	var out BalanceResponse
	path := fmt.Sprintf("/addresses/%s/balance", url.PathEscape(address))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// GetAddressTransactions returns the most recent transactions touching an
// address, newest first.
func (c *Client) GetAddressTransactions(ctx context.Context, address string, limit int) ([]Transaction, error) {
	var out []Transaction
	path := fmt.Sprintf("/addresses/%s/full-transactions?limit=%d&resolve_previous_outpoints=light",
		url.PathEscape(address), limit)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransaction fetches a single transaction by id.
func (c *Client) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	var out Transaction
	path := fmt.Sprintf("/transactions/%s?resolve_previous_outpoints=light", url.PathEscape(txID))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNetworkInfo returns node network state, used by the health endpoint.
func (c *Client) GetNetworkInfo(ctx context.Context) (*NetworkInfo, error) {
	var out NetworkInfo
	if err := c.getJSON(ctx, "/info/network", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return fmt.Errorf("not found: %s", path)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			lastErr = fmt.Errorf("kaspa api HTTP %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(body)))
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("decode %s: %w", path, err)
			continue
		}
		return nil
	}

	return lastErr
}
