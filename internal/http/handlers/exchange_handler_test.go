package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bananaishere/kaspabox/internal/http/dto"
	"github.com/bananaishere/kaspabox/internal/models"
	"github.com/bananaishere/kaspabox/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type memSwapOrders struct {
	created []models.SwapOrder
	updated map[string]string
}

func (s *memSwapOrders) Create(ctx context.Context, o *models.SwapOrder) error {
	s.created = append(s.created, *o)
	return nil
}

func (s *memSwapOrders) UpdateStatus(ctx context.Context, providerID, status string) error {
	if s.updated == nil {
		s.updated = make(map[string]string)
	}
	s.updated[providerID] = status
	return nil
}

func TestCreateSwapRecordsOrder(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("provider got method %s, want POST", r.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":            "cn-123",
			"payinAddress":  "payin-btc-addr",
			"payoutAddress": "payout-btc-addr",
			"fromCurrency":  "kas",
			"toCurrency":    "btc",
			"amount":        "1500",
			"status":        "waiting",
		})
	}))
	defer provider.Close()

	exchange := services.NewExchangeClient(provider.URL, "test-key", zap.NewNop())
	orders := &memSwapOrders{}
	h := NewExchangeHandler(exchange, nil, orders, zap.NewNop())

	app := fiber.New()
	app.Post("/swap", h.CreateSwap)

	body, _ := json.Marshal(dto.CreateSwapRequest{
		FromCurrency:  "kas",
		ToCurrency:    "btc",
		Amount:        "1500",
		PayoutAddress: "payout-btc-addr",
	})
	req := httptest.NewRequest(http.MethodPost, "/swap", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	if len(orders.created) != 1 {
		t.Fatalf("recorded orders = %d, want 1", len(orders.created))
	}
	got := orders.created[0]
	if got.ProviderID != "cn-123" {
		t.Errorf("provider id = %q, want cn-123", got.ProviderID)
	}
	if got.PayinAddress != "payin-btc-addr" {
		t.Errorf("payin address = %q", got.PayinAddress)
	}
	if got.FromCurrency != "kas" || got.ToCurrency != "btc" || got.Amount != "1500" {
		t.Errorf("order pair = %s->%s amount %s", got.FromCurrency, got.ToCurrency, got.Amount)
	}
	if got.Status != "waiting" {
		t.Errorf("status = %q, want waiting", got.Status)
	}
}

func TestGetSwapStatusUpdatesOrder(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cn-123",
			"status": "finished",
		})
	}))
	defer provider.Close()

	exchange := services.NewExchangeClient(provider.URL, "test-key", zap.NewNop())
	orders := &memSwapOrders{}
	h := NewExchangeHandler(exchange, nil, orders, zap.NewNop())

	app := fiber.New()
	app.Get("/swap/:id", h.GetSwapStatus)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/swap/cn-123", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if orders.updated["cn-123"] != "finished" {
		t.Errorf("stored status = %q, want finished", orders.updated["cn-123"])
	}
}
