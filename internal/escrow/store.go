package escrow

import (
	"context"
	"errors"

	"github.com/bananaishere/kaspabox/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrDealNotFound is returned when no deal exists for the given id.
	ErrDealNotFound = errors.New("deal not found")

	// ErrStaleStatus is returned when a guarded status update finds the deal
	// no longer in the expected state. Callers treat it as "someone else won".
	ErrStaleStatus = errors.New("deal status changed concurrently")
)

// Party identifiers for deposit bookkeeping.
const (
	Party1 = 1
	Party2 = 2
)

type DealFilter struct {
	Status  string
	Address string
	Limit   int
	Offset  int
}

// DealStore persists deals. Status mutators are compare-and-swap: they only
// apply when the deal is still in the expected prior state, so overlapping
// refresh cycles cannot double-apply a transition.
type DealStore interface {
	Create(ctx context.Context, deal *models.Deal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	List(ctx context.Context, f DealFilter) ([]models.Deal, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.Deal, error)

	// SetParty2Address binds the second party's address. Fails with
	// ErrStaleStatus when an address is already bound.
	SetParty2Address(ctx context.Context, id uuid.UUID, address string) error

	// MarkDeposited flips a party's deposit flag. The flag is monotonic:
	// marking an already deposited party is a no-op, never a reset.
	MarkDeposited(ctx context.Context, id uuid.UUID, party int, txID string) error

	// TransitionStatus moves a deal from -> to, guarded on the current
	// status being from. Returns ErrStaleStatus when the guard misses.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error

	// Complete moves processing -> completed and records all settlement
	// transaction ids in the same statement.
	Complete(ctx context.Context, id uuid.UUID, party1Tx, party2Tx, feeTx string) error

	// Fail moves the deal to failed from the given state with a reason.
	Fail(ctx context.Context, id uuid.UUID, from, reason string) error

	RecordEvent(ctx context.Context, ev models.DealEvent) error
	ListEvents(ctx context.Context, dealID uuid.UUID, limit int) ([]models.DealEvent, error)
}
