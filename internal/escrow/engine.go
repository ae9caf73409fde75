package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/bananaishere/kaspabox/internal/events"
	"github.com/bananaishere/kaspabox/internal/kaspa"
	"github.com/bananaishere/kaspabox/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const settleTimeout = 2 * time.Minute

type Options struct {
	FeeAddress   string
	FlatFeeSompi *big.Int
}

// Engine drives deals through the deposit and settlement lifecycle. All
// status changes go through the store's guarded mutators, so concurrent
// refresh cycles for the same deal converge instead of double-applying.
type Engine struct {
	store     DealStore
	oracle    Oracle
	publisher events.Publisher
	opts      Options
	log       *zap.Logger

	// spawn runs settlement off the refresh path. Tests replace it with a
	// synchronous call.
	spawn func(func())

	mu       sync.Mutex
	locks    map[uuid.UUID]*sync.Mutex
	settling map[uuid.UUID]struct{}
}

func NewEngine(store DealStore, oracle Oracle, publisher events.Publisher, opts Options, log *zap.Logger) *Engine {
	if opts.FlatFeeSompi == nil {
		opts.FlatFeeSompi = big.NewInt(0)
	}
	return &Engine{
		store:     store,
		oracle:    oracle,
		publisher: publisher,
		opts:      opts,
		log:       log,
		spawn:     func(f func()) { go f() },
		locks:     make(map[uuid.UUID]*sync.Mutex),
		settling:  make(map[uuid.UUID]struct{}),
	}
}

// SetSpawn overrides how settlement is scheduled. Used by tests to run
// settlement inline.
func (e *Engine) SetSpawn(spawn func(func())) { e.spawn = spawn }

// Refresh re-evaluates a single deal: checks pending deposits with the
// oracle, advances the status when both sides have paid in, and enqueues
// settlement exactly once per deal. Safe to call concurrently and
// repeatedly; a refresh that learns nothing new changes nothing.
func (e *Engine) Refresh(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	lock := e.dealLock(id)
	lock.Lock()
	defer lock.Unlock()

	deal, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if deal.Status != models.DealStatusAwaitingDeposits {
		return deal, nil
	}

	e.checkDeposits(ctx, deal)

	if !deal.BothDeposited() {
		return deal, nil
	}

	// Both sides are in. The guarded transition decides which refresh
	// cycle owns settlement: only the winner enqueues it.
	err = e.store.TransitionStatus(ctx, deal.ID, models.DealStatusAwaitingDeposits, models.DealStatusProcessing)
	if errors.Is(err, ErrStaleStatus) {
		return e.store.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	from := deal.Status
	deal.Status = models.DealStatusProcessing
	e.recordTransition(ctx, deal.ID, &from, models.DealStatusProcessing, nil)
	e.publishStatus(ctx, deal, from)

	settleCopy := *deal
	if e.beginSettle(deal.ID) {
		e.spawn(func() { e.settle(&settleCopy) })
	}

	return deal, nil
}

// checkDeposits asks the oracle about each side that has not deposited yet.
// Oracle errors are logged and skipped: an unreachable chain means no new
// information, not a missing deposit.
func (e *Engine) checkDeposits(ctx context.Context, deal *models.Deal) {
	if !deal.Party1Deposited {
		e.checkPartyDeposit(ctx, deal, Party1, deal.Party1Address, deal.Party1Asset)
	}
	if !deal.Party2Deposited && deal.Party2Address != "" {
		e.checkPartyDeposit(ctx, deal, Party2, deal.Party2Address, deal.Party2Asset)
	}
}

func (e *Engine) checkPartyDeposit(ctx context.Context, deal *models.Deal, party int, address string, asset models.Asset) {
	txID, found, err := e.oracle.VerifyDeposit(ctx, address, asset, deal.CreatedAt)
	if err != nil {
		e.log.Warn("deposit check failed, will retry next cycle",
			zap.String("deal_id", deal.ID.String()),
			zap.Int("party", party),
			zap.Error(err),
		)
		return
	}
	if !found {
		return
	}

	if err := e.store.MarkDeposited(ctx, deal.ID, party, txID); err != nil {
		e.log.Error("failed to mark deposit",
			zap.String("deal_id", deal.ID.String()),
			zap.Int("party", party),
			zap.Error(err),
		)
		return
	}

	if party == Party1 {
		deal.Party1Deposited = true
		deal.Party1DepositTxID = &txID
	} else {
		deal.Party2Deposited = true
		deal.Party2DepositTxID = &txID
	}

	detail := fmt.Sprintf("party%d deposit %s", party, txID)
	e.recordTransition(ctx, deal.ID, nil, deal.Status, &detail)

	_ = e.publisher.Publish(ctx, events.ChannelDeals, events.Event{
		Type: events.EventDepositReceived,
		Payload: map[string]any{
			"deal_id": deal.ID.String(),
			"party":   party,
			"tx_id":   txID,
		},
	})

	e.log.Info("deposit received",
		zap.String("deal_id", deal.ID.String()),
		zap.Int("party", party),
		zap.String("tx_id", txID),
	)
}

// settle swaps the deposited assets and pays the service fee. Runs off the
// refresh path; on any transfer failure the deal is marked failed with the
// reason recorded.
func (e *Engine) settle(deal *models.Deal) {
	defer e.endSettle(deal.ID)

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	// Each party receives the other side's asset, net of fee on KAS legs.
	party1Gets, fee1 := e.netAsset(deal.Party2Asset, deal.FeeBPS)
	party2Gets, fee2 := e.netAsset(deal.Party1Asset, deal.FeeBPS)

	feeTotal := new(big.Int).Add(fee1, fee2)
	if feeTotal.Sign() == 0 {
		feeTotal = e.opts.FlatFeeSompi
	}

	party1Tx, err := e.oracle.SubmitTransfer(ctx, deal.Party1Address, party1Gets)
	if err != nil {
		e.failSettlement(ctx, deal, fmt.Sprintf("transfer to party1 failed: %v", err))
		return
	}

	party2Tx, err := e.oracle.SubmitTransfer(ctx, deal.Party2Address, party2Gets)
	if err != nil {
		e.failSettlement(ctx, deal, fmt.Sprintf("transfer to party2 failed: %v", err))
		return
	}

	feeTx, err := e.oracle.SubmitTransfer(ctx, e.opts.FeeAddress, models.Asset{
		Kind:        models.AssetKindKAS,
		AmountSompi: feeTotal.String(),
	})
	if err != nil {
		e.failSettlement(ctx, deal, fmt.Sprintf("fee transfer failed: %v", err))
		return
	}

	if err := e.store.Complete(ctx, deal.ID, party1Tx, party2Tx, feeTx); err != nil {
		if errors.Is(err, ErrStaleStatus) {
			e.log.Warn("deal no longer processing at completion", zap.String("deal_id", deal.ID.String()))
			return
		}
		e.log.Error("failed to record completion",
			zap.String("deal_id", deal.ID.String()),
			zap.Error(err),
		)
		return
	}

	from := models.DealStatusProcessing
	detail := fmt.Sprintf("settled: party1=%s party2=%s fee=%s", party1Tx, party2Tx, feeTx)
	e.recordTransition(ctx, deal.ID, &from, models.DealStatusCompleted, &detail)

	_ = e.publisher.Publish(ctx, events.ChannelDeals, events.Event{
		Type: events.EventDealCompleted,
		Payload: map[string]any{
			"deal_id":       deal.ID.String(),
			"party1_tx_id":  party1Tx,
			"party2_tx_id":  party2Tx,
			"fee_tx_id":     feeTx,
			"exchange_type": deal.ExchangeType,
		},
	})

	e.log.Info("deal settled",
		zap.String("deal_id", deal.ID.String()),
		zap.String("party1_tx_id", party1Tx),
		zap.String("party2_tx_id", party2Tx),
		zap.String("fee_tx_id", feeTx),
	)
}

func (e *Engine) failSettlement(ctx context.Context, deal *models.Deal, reason string) {
	e.log.Error("settlement failed",
		zap.String("deal_id", deal.ID.String()),
		zap.String("reason", reason),
	)

	if err := e.store.Fail(ctx, deal.ID, models.DealStatusProcessing, reason); err != nil {
		e.log.Error("failed to mark deal failed",
			zap.String("deal_id", deal.ID.String()),
			zap.Error(err),
		)
		return
	}

	from := models.DealStatusProcessing
	e.recordTransition(ctx, deal.ID, &from, models.DealStatusFailed, &reason)

	_ = e.publisher.Publish(ctx, events.ChannelDeals, events.Event{
		Type: events.EventDealFailed,
		Payload: map[string]any{
			"deal_id": deal.ID.String(),
			"reason":  reason,
		},
	})
}

// netAsset returns what the recipient actually gets. KAS legs carry the
// percentage fee; NFTs pass through unchanged.
func (e *Engine) netAsset(asset models.Asset, feeBPS int) (models.Asset, *big.Int) {
	if !asset.IsKAS() {
		return asset, big.NewInt(0)
	}

	amount, err := kaspa.ParseSompi(asset.AmountSompi)
	if err != nil {
		// Validated at creation; treat a corrupt amount as zero fee.
		e.log.Error("corrupt stored amount", zap.String("amount", asset.AmountSompi), zap.Error(err))
		return asset, big.NewInt(0)
	}

	fee := kaspa.FeeForAmount(amount, feeBPS)
	net := new(big.Int).Sub(amount, fee)
	return models.Asset{Kind: models.AssetKindKAS, AmountSompi: net.String()}, fee
}

// ProcessOpenDeals refreshes every deal still waiting on deposits. Returns
// the number of deals examined.
func (e *Engine) ProcessOpenDeals(ctx context.Context, limit int) (int, error) {
	deals, err := e.store.ListByStatus(ctx, models.DealStatusAwaitingDeposits, limit)
	if err != nil {
		return 0, err
	}

	for i := range deals {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		if _, err := e.Refresh(ctx, deals[i].ID); err != nil {
			e.log.Error("refresh failed",
				zap.String("deal_id", deals[i].ID.String()),
				zap.Error(err),
			)
		}
	}

	return len(deals), nil
}

// ResumeStalled re-enqueues settlement for deals stuck in processing, e.g.
// after a crash between the status flip and the transfers. olderThan keeps
// freshly enqueued settlements out of the sweep; a positive value is raised
// to settleTimeout, since a settlement younger than that can still be
// running under its context. Zero resumes everything.
func (e *Engine) ResumeStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan > 0 && olderThan < settleTimeout {
		olderThan = settleTimeout
	}

	deals, err := e.store.ListByStatus(ctx, models.DealStatusProcessing, 100)
	if err != nil {
		return 0, err
	}

	resumed := 0
	cutoff := time.Now().Add(-olderThan)
	for i := range deals {
		if deals[i].UpdatedAt.After(cutoff) {
			continue
		}
		if !e.beginSettle(deals[i].ID) {
			continue
		}
		e.log.Warn("resuming stalled settlement",
			zap.String("deal_id", deals[i].ID.String()),
			zap.Time("updated_at", deals[i].UpdatedAt),
		)
		settleCopy := deals[i]
		e.spawn(func() { e.settle(&settleCopy) })
		resumed++
	}

	return resumed, nil
}

func (e *Engine) recordTransition(ctx context.Context, dealID uuid.UUID, from *string, to string, detail *string) {
	_ = e.store.RecordEvent(ctx, models.DealEvent{
		DealID:    dealID,
		FromState: from,
		ToState:   to,
		Detail:    detail,
	})
}

func (e *Engine) publishStatus(ctx context.Context, deal *models.Deal, oldStatus string) {
	_ = e.publisher.Publish(ctx, events.ChannelDeals, events.Event{
		Type: events.EventDealStatusChanged,
		Payload: map[string]any{
			"deal_id":    deal.ID.String(),
			"old_status": oldStatus,
			"new_status": deal.Status,
		},
	})
}

// beginSettle claims the settlement slot for a deal. Returns false when a
// settlement goroutine for the deal is already in flight.
func (e *Engine) beginSettle(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, inFlight := e.settling[id]; inFlight {
		return false
	}
	e.settling[id] = struct{}{}
	return true
}

func (e *Engine) endSettle(id uuid.UUID) {
	e.mu.Lock()
	delete(e.settling, id)
	e.mu.Unlock()
}

func (e *Engine) dealLock(id uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}
