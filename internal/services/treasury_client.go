package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TreasuryClient talks to the internal wallet signer service that holds the
// escrow wallet keys. It implements escrow.TransferSender.
type TreasuryClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewTreasuryClient(baseURL, apiKey string, log *zap.Logger) *TreasuryClient {
	return &TreasuryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

type transferRequest struct {
	To          string `json:"to"`
	AmountSompi string `json:"amount_sompi,omitempty"`
	TokenRef    string `json:"token_ref,omitempty"`
}

type transferResult struct {
	TxID string `json:"tx_id"`
}

func (c *TreasuryClient) SendKAS(ctx context.Context, toAddress string, amountSompi *big.Int) (string, error) {
	return c.submit(ctx, "/internal/transfers/kas", transferRequest{
		To:          toAddress,
		AmountSompi: amountSompi.String(),
	})
}

func (c *TreasuryClient) SendNFT(ctx context.Context, toAddress, tokenRef string) (string, error) {
	return c.submit(ctx, "/internal/transfers/nft", transferRequest{
		To:       toAddress,
		TokenRef: tokenRef,
	})
}

func (c *TreasuryClient) submit(ctx context.Context, path string, payload transferRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("treasury service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("treasury service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var result transferResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.TxID == "" {
		return "", fmt.Errorf("treasury service returned empty tx id")
	}
	return result.TxID, nil
}
