package escrow

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/bananaishere/kaspabox/internal/events"
	"github.com/bananaishere/kaspabox/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// memStore is an in-memory DealStore with the same guarded-update semantics
// as the postgres implementation.
type memStore struct {
	mu     sync.Mutex
	deals  map[uuid.UUID]*models.Deal
	events []models.DealEvent
}

func newMemStore() *memStore {
	return &memStore{deals: make(map[uuid.UUID]*models.Deal)}
}

func (s *memStore) Create(ctx context.Context, deal *models.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deal.ID == uuid.Nil {
		deal.ID = uuid.New()
	}
	now := time.Now()
	deal.CreatedAt = now
	deal.UpdatedAt = now
	cp := *deal
	s.deals[deal.ID] = &cp
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return nil, ErrDealNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) List(ctx context.Context, f DealFilter) ([]models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Deal
	for _, d := range s.deals {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (s *memStore) ListByStatus(ctx context.Context, status string, limit int) ([]models.Deal, error) {
	return s.List(ctx, DealFilter{Status: status, Limit: limit})
}

func (s *memStore) SetParty2Address(ctx context.Context, id uuid.UUID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return ErrDealNotFound
	}
	if d.Party2Address != "" {
		return ErrStaleStatus
	}
	d.Party2Address = address
	d.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) MarkDeposited(ctx context.Context, id uuid.UUID, party int, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return ErrDealNotFound
	}
	if party == Party1 && !d.Party1Deposited {
		d.Party1Deposited = true
		d.Party1DepositTxID = &txID
	}
	if party == Party2 && !d.Party2Deposited {
		d.Party2Deposited = true
		d.Party2DepositTxID = &txID
	}
	d.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return ErrDealNotFound
	}
	if d.Status != from {
		return ErrStaleStatus
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) Complete(ctx context.Context, id uuid.UUID, party1Tx, party2Tx, feeTx string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return ErrDealNotFound
	}
	if d.Status != models.DealStatusProcessing {
		return ErrStaleStatus
	}
	d.Status = models.DealStatusCompleted
	d.Party1TransferTxID = &party1Tx
	d.Party2TransferTxID = &party2Tx
	d.FeeTxID = &feeTx
	d.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) Fail(ctx context.Context, id uuid.UUID, from, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return ErrDealNotFound
	}
	if d.Status != from {
		return ErrStaleStatus
	}
	d.Status = models.DealStatusFailed
	d.FailureReason = &reason
	d.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) RecordEvent(ctx context.Context, ev models.DealEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memStore) ListEvents(ctx context.Context, dealID uuid.UUID, limit int) ([]models.DealEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DealEvent
	for _, ev := range s.events {
		if ev.DealID == dealID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// stubOracle returns scripted answers keyed by depositor address.
type stubOracle struct {
	mu          sync.Mutex
	deposits    map[string]string // fromAddress -> txID; missing means not yet
	verifyErr   error
	transferErr error
	transfers   []string       // destinations, in submission order
	assets      []models.Asset // what each destination was sent
	nextTxSeq   int
	onTransfer  func() // runs before each transfer is recorded
}

func newStubOracle() *stubOracle {
	return &stubOracle{deposits: make(map[string]string)}
}

func (o *stubOracle) depositArrived(from, txID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deposits[from] = txID
}

func (o *stubOracle) VerifyDeposit(ctx context.Context, fromAddress string, asset models.Asset, since time.Time) (string, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.verifyErr != nil {
		return "", false, o.verifyErr
	}
	txID, ok := o.deposits[fromAddress]
	return txID, ok, nil
}

func (o *stubOracle) SubmitTransfer(ctx context.Context, toAddress string, asset models.Asset) (string, error) {
	o.mu.Lock()
	hook := o.onTransfer
	o.mu.Unlock()
	if hook != nil {
		hook()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.transferErr != nil {
		return "", o.transferErr
	}
	o.nextTxSeq++
	o.transfers = append(o.transfers, toAddress)
	o.assets = append(o.assets, asset)
	return fmt.Sprintf("tx-%d", o.nextTxSeq), nil
}

func (o *stubOracle) transferTo(addr string) (models.Asset, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, to := range o.transfers {
		if to == addr {
			return o.assets[i], true
		}
	}
	return models.Asset{}, false
}

func (o *stubOracle) transferCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.transfers)
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, stream string, event events.Event) error { return nil }

const (
	addrParty1 = "kaspa:qqparty1party1party1party1party1party1party1party1party1pppp"
	addrParty2 = "kaspa:qqparty2party2party2party2party2party2party2party2party2pppp"
	addrFee    = "kaspa:qqfeeaddrfeeaddrfeeaddrfeeaddrfeeaddrfeeaddrfeeaddrfeeapppp"
)

func newTestEngine(t *testing.T, store DealStore, oracle Oracle) *Engine {
	t.Helper()
	e := NewEngine(store, oracle, nopPublisher{}, Options{
		FeeAddress:   addrFee,
		FlatFeeSompi: big.NewInt(100_000_000),
	}, zap.NewNop())
	// Run settlement inline so tests are deterministic.
	e.SetSpawn(func(f func()) { f() })
	return e
}

func createAwaitingDeal(t *testing.T, store DealStore) *models.Deal {
	t.Helper()
	deal := &models.Deal{
		ExchangeType:  models.ExchangeNFTForKAS,
		Status:        models.DealStatusAwaitingDeposits,
		Party1Address: addrParty1,
		Party2Address: addrParty2,
		Party1Asset:   models.Asset{Kind: models.AssetKindNFT, TokenID: "KASPUNKS:42"},
		Party2Asset:   models.Asset{Kind: models.AssetKindKAS, AmountSompi: "1000000000"},
		FeeBPS:        10,
	}
	if err := store.Create(context.Background(), deal); err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return deal
}

func TestRefreshHappyPath(t *testing.T) {
	store := newMemStore()
	oracle := newStubOracle()
	engine := newTestEngine(t, store, oracle)
	deal := createAwaitingDeal(t, store)
	ctx := context.Background()

	// First cycle: only party1 has deposited.
	oracle.depositArrived(addrParty1, "dep-1")
	got, err := engine.Refresh(ctx, deal.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.Status != models.DealStatusAwaitingDeposits {
		t.Fatalf("status = %s, want awaiting_deposits", got.Status)
	}
	if !got.Party1Deposited || got.Party2Deposited {
		t.Fatalf("deposits = (%v, %v), want (true, false)", got.Party1Deposited, got.Party2Deposited)
	}

	// Second cycle: party2 arrives, settlement runs inline.
	oracle.depositArrived(addrParty2, "dep-2")
	got, err = engine.Refresh(ctx, deal.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	final, err := store.GetByID(ctx, deal.ID)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if final.Status != models.DealStatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.Party1TransferTxID == nil || final.Party2TransferTxID == nil || final.FeeTxID == nil {
		t.Fatal("completed deal missing settlement tx ids")
	}
	if *final.Party1DepositTxID != "dep-1" || *final.Party2DepositTxID != "dep-2" {
		t.Errorf("deposit tx ids = (%v, %v)", *final.Party1DepositTxID, *final.Party2DepositTxID)
	}
	// Two asset transfers plus fee.
	if oracle.transferCount() != 3 {
		t.Errorf("transfers = %d, want 3", oracle.transferCount())
	}
}

func TestRefreshPartialDepositStaysAwaiting(t *testing.T) {
	store := newMemStore()
	oracle := newStubOracle()
	engine := newTestEngine(t, store, oracle)
	deal := createAwaitingDeal(t, store)
	ctx := context.Background()

	oracle.depositArrived(addrParty2, "dep-2")

	for i := 0; i < 3; i++ {
		got, err := engine.Refresh(ctx, deal.ID)
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
		if got.Status != models.DealStatusAwaitingDeposits {
			t.Fatalf("refresh %d: status = %s, want awaiting_deposits", i, got.Status)
		}
	}

	final, _ := store.GetByID(ctx, deal.ID)
	if final.Party1Deposited {
		t.Error("party1 marked deposited without a deposit")
	}
	if !final.Party2Deposited {
		t.Error("party2 deposit lost across refreshes")
	}
	if oracle.transferCount() != 0 {
		t.Errorf("transfers = %d, want 0", oracle.transferCount())
	}
}

func TestRefreshOracleErrorChangesNothing(t *testing.T) {
	store := newMemStore()
	oracle := newStubOracle()
	engine := newTestEngine(t, store, oracle)
	deal := createAwaitingDeal(t, store)
	ctx := context.Background()

	oracle.verifyErr = fmt.Errorf("api unreachable")

	got, err := engine.Refresh(ctx, deal.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.Status != models.DealStatusAwaitingDeposits {
		t.Fatalf("status = %s, want awaiting_deposits", got.Status)
	}
	if got.Party1Deposited || got.Party2Deposited {
		t.Error("oracle error must not flip deposit flags")
	}

	// Oracle recovers on a later cycle.
	oracle.verifyErr = nil
	oracle.depositArrived(addrParty1, "dep-1")
	oracle.depositArrived(addrParty2, "dep-2")

	if _, err := engine.Refresh(ctx, deal.ID); err != nil {
		t.Fatalf("refresh after recovery: %v", err)
	}
	final, _ := store.GetByID(ctx, deal.ID)
	if final.Status != models.DealStatusCompleted {
		t.Fatalf("status = %s, want completed after recovery", final.Status)
	}
}

func TestConcurrentRefreshSettlesOnce(t *testing.T) {
	store := newMemStore()
	oracle := newStubOracle()
	engine := newTestEngine(t, store, oracle)
	deal := createAwaitingDeal(t, store)
	ctx := context.Background()

	oracle.depositArrived(addrParty1, "dep-1")
	oracle.depositArrived(addrParty2, "dep-2")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Refresh(ctx, deal.ID); err != nil {
				t.Errorf("refresh: %v", err)
			}
		}()
	}
	wg.Wait()

	final, _ := store.GetByID(ctx, deal.ID)
	if final.Status != models.DealStatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if oracle.transferCount() != 3 {
		t.Errorf("transfers = %d, want exactly 3 (settlement ran more than once)", oracle.transferCount())
	}
}

func TestSettleNFTForNFTChargesFlatFee(t *testing.T) {
	store := newMemStore()
	oracle := newStubOracle()
	engine := newTestEngine(t, store, oracle)
	ctx := context.Background()

	deal := &models.Deal{
		ExchangeType:  models.ExchangeNFTForNFT,
		Status:        models.DealStatusAwaitingDeposits,
		Party1Address: addrParty1,
		Party2Address: addrParty2,
		Party1Asset:   models.Asset{Kind: models.AssetKindNFT, TokenID: "KASPUNKS:42"},
		Party2Asset:   models.Asset{Kind: models.AssetKindNFT, TokenID: "KASLAND:7"},
		FeeBPS:        10,
	}
	if err := store.Create(ctx, deal); err != nil {
		t.Fatalf("create: %v", err)
	}

	oracle.depositArrived(addrParty1, "dep-1")
	oracle.depositArrived(addrParty2, "dep-2")

	if _, err := engine.Refresh(ctx, deal.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	final, _ := store.GetByID(ctx, deal.ID)
	if final.Status != models.DealStatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}

	// Each party gets the other side's NFT untouched.
	got, ok := oracle.transferTo(addrParty1)
	if !ok || got.Kind != models.AssetKindNFT || got.TokenID != "KASLAND:7" {
		t.Errorf("party1 received %+v, want KASLAND:7", got)
	}
	got, ok = oracle.transferTo(addrParty2)
	if !ok || got.Kind != models.AssetKindNFT || got.TokenID != "KASPUNKS:42" {
		t.Errorf("party2 received %+v, want KASPUNKS:42", got)
	}

	// No KAS leg to take a percentage from, so the fee falls back to the
	// flat rate.
	fee, ok := oracle.transferTo(addrFee)
	if !ok {
		t.Fatal("no fee transfer submitted")
	}
	if fee.Kind != models.AssetKindKAS || fee.AmountSompi != "100000000" {
		t.Errorf("fee = %+v, want 100000000 sompi", fee)
	}
}

func TestSettlementFailureMarksDealFailed(t *testing.T) {
	store := newMemStore()
	oracle := newStubOracle()
	engine := newTestEngine(t, store, oracle)
	deal := createAwaitingDeal(t, store)
	ctx := context.Background()

	oracle.depositArrived(addrParty1, "dep-1")
	oracle.depositArrived(addrParty2, "dep-2")
	oracle.transferErr = fmt.Errorf("wallet offline")

	if _, err := engine.Refresh(ctx, deal.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	final, _ := store.GetByID(ctx, deal.ID)
	if final.Status != models.DealStatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.FailureReason == nil || *final.FailureReason == "" {
		t.Fatal("failed deal missing failure reason")
	}
	if final.Party1TransferTxID != nil || final.FeeTxID != nil {
		t.Error("failed deal must not carry settlement tx ids")
	}

	// Terminal: further refreshes are no-ops even if the wallet recovers.
	oracle.transferErr = nil
	got, err := engine.Refresh(ctx, deal.ID)
	if err != nil {
		t.Fatalf("refresh after failure: %v", err)
	}
	if got.Status != models.DealStatusFailed {
		t.Fatalf("status = %s, failed is terminal", got.Status)
	}
	if oracle.transferCount() != 0 {
		t.Errorf("transfers after terminal refresh = %d, want 0", oracle.transferCount())
	}
}

func TestRefreshSkipsUnboundParty2(t *testing.T) {
	store := newMemStore()
	oracle := newStubOracle()
	engine := newTestEngine(t, store, oracle)
	ctx := context.Background()

	deal := &models.Deal{
		ExchangeType:  models.ExchangeNFTForKAS,
		Status:        models.DealStatusAwaitingDeposits,
		Party1Address: addrParty1,
		Party1Asset:   models.Asset{Kind: models.AssetKindNFT, TokenID: "KASPUNKS:42"},
		Party2Asset:   models.Asset{Kind: models.AssetKindKAS, AmountSompi: "1000000000"},
		FeeBPS:        10,
	}
	if err := store.Create(ctx, deal); err != nil {
		t.Fatalf("create: %v", err)
	}

	oracle.depositArrived(addrParty1, "dep-1")

	got, err := engine.Refresh(ctx, deal.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.Status != models.DealStatusAwaitingDeposits {
		t.Fatalf("status = %s, deal cannot settle without party2 bound", got.Status)
	}
	if got.Party2Deposited {
		t.Error("party2 deposit attributed without an address")
	}
}

func TestProcessOpenDeals(t *testing.T) {
	store := newMemStore()
	oracle := newStubOracle()
	engine := newTestEngine(t, store, oracle)
	ctx := context.Background()

	ready := createAwaitingDeal(t, store)
	waiting := &models.Deal{
		ExchangeType:  models.ExchangeKASForNFT,
		Status:        models.DealStatusAwaitingDeposits,
		Party1Address: "kaspa:qqotherotherotherotherotherotherotherotherotherotherotpppp",
		Party2Address: "kaspa:qqother2other2other2other2other2other2other2other2other2pppp",
		Party1Asset:   models.Asset{Kind: models.AssetKindKAS, AmountSompi: "500000000"},
		Party2Asset:   models.Asset{Kind: models.AssetKindNFT, TokenID: "KASPUNKS:7"},
		FeeBPS:        10,
	}
	if err := store.Create(ctx, waiting); err != nil {
		t.Fatalf("create: %v", err)
	}

	oracle.depositArrived(addrParty1, "dep-1")
	oracle.depositArrived(addrParty2, "dep-2")

	n, err := engine.ProcessOpenDeals(ctx, 100)
	if err != nil {
		t.Fatalf("process open deals: %v", err)
	}
	if n != 2 {
		t.Errorf("examined = %d, want 2", n)
	}

	got, _ := store.GetByID(ctx, ready.ID)
	if got.Status != models.DealStatusCompleted {
		t.Errorf("ready deal status = %s, want completed", got.Status)
	}
	got, _ = store.GetByID(ctx, waiting.ID)
	if got.Status != models.DealStatusAwaitingDeposits {
		t.Errorf("waiting deal status = %s, want awaiting_deposits", got.Status)
	}
}

func TestResumeStalled(t *testing.T) {
	store := newMemStore()
	oracle := newStubOracle()
	engine := newTestEngine(t, store, oracle)
	ctx := context.Background()

	deal := createAwaitingDeal(t, store)
	oracle.depositArrived(addrParty1, "dep-1")
	oracle.depositArrived(addrParty2, "dep-2")

	// Simulate a crash between the status flip and settlement: flip the
	// status by hand without running settle.
	if err := store.MarkDeposited(ctx, deal.ID, Party1, "dep-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkDeposited(ctx, deal.ID, Party2, "dep-2"); err != nil {
		t.Fatal(err)
	}
	if err := store.TransitionStatus(ctx, deal.ID, models.DealStatusAwaitingDeposits, models.DealStatusProcessing); err != nil {
		t.Fatal(err)
	}

	n, err := engine.ResumeStalled(ctx, 0)
	if err != nil {
		t.Fatalf("resume stalled: %v", err)
	}
	if n != 1 {
		t.Fatalf("resumed = %d, want 1", n)
	}

	final, _ := store.GetByID(ctx, deal.ID)
	if final.Status != models.DealStatusCompleted {
		t.Fatalf("status = %s, want completed after resume", final.Status)
	}
}

func TestResumeStalledSkipsInFlightSettlement(t *testing.T) {
	store := newMemStore()
	oracle := newStubOracle()
	engine := newTestEngine(t, store, oracle)
	deal := createAwaitingDeal(t, store)
	ctx := context.Background()

	oracle.depositArrived(addrParty1, "dep-1")
	oracle.depositArrived(addrParty2, "dep-2")

	// A worker sweep that fires while the transfers are still running
	// must not enqueue a second settlement for the same deal.
	resumedDuring := -1
	var once sync.Once
	oracle.onTransfer = func() {
		once.Do(func() {
			n, err := engine.ResumeStalled(ctx, 0)
			if err != nil {
				t.Errorf("resume stalled: %v", err)
			}
			resumedDuring = n
		})
	}

	if _, err := engine.Refresh(ctx, deal.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if resumedDuring != 0 {
		t.Errorf("resumed mid-settlement = %d, want 0", resumedDuring)
	}
	final, _ := store.GetByID(ctx, deal.ID)
	if final.Status != models.DealStatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if oracle.transferCount() != 3 {
		t.Errorf("transfers = %d, want exactly 3 (settlement ran more than once)", oracle.transferCount())
	}
}

func TestResumeStalledLeavesRecentProcessingAlone(t *testing.T) {
	store := newMemStore()
	oracle := newStubOracle()
	engine := newTestEngine(t, store, oracle)
	ctx := context.Background()

	deal := createAwaitingDeal(t, store)
	if err := store.TransitionStatus(ctx, deal.ID, models.DealStatusAwaitingDeposits, models.DealStatusProcessing); err != nil {
		t.Fatal(err)
	}

	// A sweep interval shorter than the settlement window gets raised to
	// it: a deal that flipped to processing moments ago may still have
	// its transfers in flight elsewhere.
	n, err := engine.ResumeStalled(ctx, time.Second)
	if err != nil {
		t.Fatalf("resume stalled: %v", err)
	}
	if n != 0 {
		t.Fatalf("resumed = %d, want 0", n)
	}
	if oracle.transferCount() != 0 {
		t.Errorf("transfers = %d, want 0", oracle.transferCount())
	}
}
