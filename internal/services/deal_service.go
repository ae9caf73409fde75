package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/bananaishere/kaspabox/internal/config"
	"github.com/bananaishere/kaspabox/internal/escrow"
	"github.com/bananaishere/kaspabox/internal/events"
	"github.com/bananaishere/kaspabox/internal/kaspa"
	"github.com/bananaishere/kaspabox/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidInput marks request validation failures. Handlers map it to a
// 400; any other service error is an internal failure.
var ErrInvalidInput = errors.New("invalid input")

type validationError struct{ msg string }

func (e validationError) Error() string        { return e.msg }
func (e validationError) Is(target error) bool { return target == ErrInvalidInput }

func invalidInput(format string, args ...any) error {
	return validationError{msg: fmt.Sprintf(format, args...)}
}

// OwnershipChecker answers whether an address currently holds an NFT.
// Satisfied by *kaspa.Client.
type OwnershipChecker interface {
	OwnsNFT(ctx context.Context, address, tokenRef string) (bool, error)
}

// DealService is the request-facing layer over the escrow engine: it
// validates inputs, creates and binds deals, and delegates lifecycle
// decisions to the engine.
type DealService struct {
	store     escrow.DealStore
	engine    *escrow.Engine
	ownership OwnershipChecker
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewDealService(
	store escrow.DealStore,
	engine *escrow.Engine,
	ownership OwnershipChecker,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *DealService {
	return &DealService{
		store:     store,
		engine:    engine,
		ownership: ownership,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

type CreateDealInput struct {
	Party1Address string
	Party2Address string // optional, may join later
	Party1Asset   models.Asset
	Party2Asset   models.Asset
}

// CreateDeal validates and persists a new deal. When the counterparty
// address is already known the deal opens directly in awaiting_deposits. A
// deal with a KAS leg also opens there with party2 unbound, since the payer
// can engage later; an NFT-for-NFT deal stays pending until JoinDeal because
// counterparty deposits cannot be attributed without an address.
func (s *DealService) CreateDeal(ctx context.Context, in CreateDealInput) (*models.Deal, error) {
	party1, err := kaspa.NormalizeAddress(in.Party1Address)
	if err != nil {
		return nil, invalidInput("party1 address: %v", err)
	}

	party2 := ""
	if in.Party2Address != "" {
		party2, err = kaspa.NormalizeAddress(in.Party2Address)
		if err != nil {
			return nil, invalidInput("party2 address: %v", err)
		}
		if party2 == party1 {
			return nil, invalidInput("parties must use different addresses")
		}
	}

	deal := &models.Deal{
		ExchangeType:  models.ExpectedExchangeType(in.Party1Asset, in.Party2Asset),
		Status:        models.DealStatusPending,
		Party1Address: party1,
		Party2Address: party2,
		Party1Asset:   in.Party1Asset,
		Party2Asset:   in.Party2Asset,
		FeeBPS:        s.cfg.FeeBPS,
	}
	if err := deal.Validate(); err != nil {
		return nil, invalidInput("%v", err)
	}

	// Pre-check NFT ownership so users do not open deals for tokens they
	// do not hold. An indexer outage skips the check; the deposit
	// verification stays authoritative either way.
	if deal.Party1Asset.IsNFT() {
		if err := s.checkOwnership(ctx, party1, deal.Party1Asset.TokenID); err != nil {
			return nil, err
		}
	}

	if party2 != "" || deal.ExchangeType != models.ExchangeNFTForNFT {
		deal.Status = models.DealStatusAwaitingDeposits
	}

	if err := s.store.Create(ctx, deal); err != nil {
		return nil, err
	}

	_ = s.store.RecordEvent(ctx, models.DealEvent{
		DealID:  deal.ID,
		ToState: deal.Status,
	})

	_ = s.publisher.Publish(ctx, events.ChannelDeals, events.Event{
		Type: events.EventDealCreated,
		Payload: map[string]any{
			"deal_id":       deal.ID.String(),
			"exchange_type": deal.ExchangeType,
			"status":        deal.Status,
		},
	})

	s.log.Info("deal created",
		zap.String("deal_id", deal.ID.String()),
		zap.String("exchange_type", deal.ExchangeType),
		zap.String("party1", kaspa.FormatAddress(party1)),
	)

	return deal, nil
}

// JoinDeal binds the second party's address and opens the deal for
// deposits. A deal can only be joined once.
func (s *DealService) JoinDeal(ctx context.Context, id uuid.UUID, party2Address string) (*models.Deal, error) {
	party2, err := kaspa.NormalizeAddress(party2Address)
	if err != nil {
		return nil, invalidInput("party2 address: %v", err)
	}

	deal, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	joinable := deal.Status == models.DealStatusPending ||
		(deal.Status == models.DealStatusAwaitingDeposits && deal.Party2Address == "")
	if !joinable {
		return nil, invalidInput("deal is %s and already has both parties", deal.Status)
	}
	if party2 == deal.Party1Address {
		return nil, invalidInput("parties must use different addresses")
	}

	if err := s.store.SetParty2Address(ctx, id, party2); err != nil {
		return nil, err
	}
	if deal.Status == models.DealStatusPending {
		if err := s.store.TransitionStatus(ctx, id, models.DealStatusPending, models.DealStatusAwaitingDeposits); err != nil {
			return nil, err
		}
	}

	from := deal.Status
	_ = s.store.RecordEvent(ctx, models.DealEvent{
		DealID:    id,
		FromState: &from,
		ToState:   models.DealStatusAwaitingDeposits,
	})

	_ = s.publisher.Publish(ctx, events.ChannelDeals, events.Event{
		Type: events.EventDealJoined,
		Payload: map[string]any{
			"deal_id": id.String(),
		},
	})

	return s.store.GetByID(ctx, id)
}

// RefreshDeal re-evaluates a deal against the chain. The heavy lifting is
// in the engine; this is the entry point used by both the HTTP handler and
// the cron endpoint.
func (s *DealService) RefreshDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return s.engine.Refresh(ctx, id)
}

func (s *DealService) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return s.store.GetByID(ctx, id)
}

func (s *DealService) ListDeals(ctx context.Context, f escrow.DealFilter) ([]models.Deal, error) {
	return s.store.List(ctx, f)
}

func (s *DealService) GetDealEvents(ctx context.Context, id uuid.UUID) ([]models.DealEvent, error) {
	return s.store.ListEvents(ctx, id, 100)
}

// ProcessOpenDeals sweeps all deals waiting on deposits plus any stalled
// settlements. Called by the worker loop and the cron endpoint.
func (s *DealService) ProcessOpenDeals(ctx context.Context) (int, error) {
	resumed, err := s.engine.ResumeStalled(ctx, s.cfg.PollInterval*3)
	if err != nil {
		s.log.Error("resume stalled failed", zap.Error(err))
	}
	if resumed > 0 {
		s.log.Info("resumed stalled settlements", zap.Int("count", resumed))
	}

	return s.engine.ProcessOpenDeals(ctx, s.cfg.RefreshBatchLimit)
}

func (s *DealService) checkOwnership(ctx context.Context, address, tokenRef string) error {
	owns, err := s.ownership.OwnsNFT(ctx, address, tokenRef)
	if err != nil {
		s.log.Warn("ownership pre-check unavailable, skipping",
			zap.String("token", tokenRef),
			zap.Error(err),
		)
		return nil
	}
	if !owns {
		return invalidInput("address %s does not hold token %s", kaspa.FormatAddress(address), tokenRef)
	}
	return nil
}
