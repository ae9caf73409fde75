package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bananaishere/kaspabox/internal/config"
	"github.com/bananaishere/kaspabox/internal/escrow"
	"github.com/bananaishere/kaspabox/internal/events"
	"github.com/bananaishere/kaspabox/internal/http/dto"
	"github.com/bananaishere/kaspabox/internal/models"
	"github.com/bananaishere/kaspabox/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// flakyDealStore fails Create with a storage error. The embedded interface
// covers the methods these tests never reach.
type flakyDealStore struct {
	escrow.DealStore
	createErr error
}

func (s *flakyDealStore) Create(ctx context.Context, d *models.Deal) error { return s.createErr }

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, stream string, ev events.Event) error { return nil }

const handlerTestAddr = "kaspa:qqhandlerqqhandlerqqhandlerqqhandlerqqhandlerqqhandlerqpppp"

func newDealApp(t *testing.T, store escrow.DealStore) *fiber.App {
	t.Helper()
	cfg := &config.Config{FeeBPS: 10}
	svc := services.NewDealService(store, nil, nil, noopPublisher{}, cfg, zap.NewNop())
	h := NewDealHandler(svc, cfg, zap.NewNop())

	app := fiber.New()
	app.Post("/deals", h.CreateDeal)
	return app
}

func postDeal(t *testing.T, app *fiber.App, req dto.CreateDealRequest) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/deals", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(httpReq)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestCreateDealStorageErrorIsInternal(t *testing.T) {
	store := &flakyDealStore{createErr: fmt.Errorf("connection refused")}
	app := newDealApp(t, store)

	resp := postDeal(t, app, dto.CreateDealRequest{
		Party1Address: handlerTestAddr,
		Party1Asset:   dto.AssetPayload{Kind: models.AssetKindKAS, AmountKAS: "10"},
		Party2Asset:   dto.AssetPayload{Kind: models.AssetKindNFT, TokenID: "KASPUNKS:1"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	var body dto.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Storage details stay out of the response.
	if body.Error != "internal error" {
		t.Errorf("error = %q, want internal error", body.Error)
	}
}

func TestCreateDealBadAddressIsBadRequest(t *testing.T) {
	store := &flakyDealStore{createErr: fmt.Errorf("unreachable")}
	app := newDealApp(t, store)

	resp := postDeal(t, app, dto.CreateDealRequest{
		Party1Address: "not-an-address",
		Party1Asset:   dto.AssetPayload{Kind: models.AssetKindKAS, AmountKAS: "10"},
		Party2Asset:   dto.AssetPayload{Kind: models.AssetKindNFT, TokenID: "KASPUNKS:1"},
	})
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
