package models

import (
	"fmt"
	"time"

	"github.com/bananaishere/kaspabox/internal/kaspa"
	"github.com/google/uuid"
)

// Deal statuses
const (
	DealStatusPending          = "pending"
	DealStatusAwaitingDeposits = "awaiting_deposits"
	DealStatusProcessing       = "processing"
	DealStatusCompleted        = "completed"
	DealStatusFailed           = "failed"
)

// Exchange types
const (
	ExchangeNFTForNFT = "nft-nft"
	ExchangeNFTForKAS = "nft-kas"
	ExchangeKASForNFT = "kas-nft"
)

// Asset kinds
const (
	AssetKindNFT = "nft"
	AssetKindKAS = "kas"
)

// Valid state transitions: from -> []to
var ValidDealTransitions = map[string][]string{
	DealStatusPending:          {DealStatusAwaitingDeposits, DealStatusFailed},
	DealStatusAwaitingDeposits: {DealStatusProcessing, DealStatusFailed},
	DealStatusProcessing:       {DealStatusCompleted, DealStatusFailed},
	DealStatusCompleted:        {},
	DealStatusFailed:           {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidDealTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	return status == DealStatusCompleted || status == DealStatusFailed
}

// Asset is one side of an exchange: either a specific NFT or an amount of KAS.
type Asset struct {
	Kind     string `json:"kind"` // nft / kas
	TokenID  string `json:"token_id,omitempty"`
	Contract string `json:"contract,omitempty"`
	// AmountSompi is a numeric string, 1 KAS = 100_000_000 sompi.
	AmountSompi string `json:"amount_sompi,omitempty"`
}

func (a Asset) IsNFT() bool { return a.Kind == AssetKindNFT }
func (a Asset) IsKAS() bool { return a.Kind == AssetKindKAS }

func (a Asset) Validate() error {
	switch a.Kind {
	case AssetKindNFT:
		if a.TokenID == "" {
			return fmt.Errorf("nft asset requires token_id")
		}
	case AssetKindKAS:
		if a.AmountSompi == "" {
			return fmt.Errorf("kas asset requires amount_sompi")
		}
		amount, err := kaspa.ParseSompi(a.AmountSompi)
		if err != nil {
			return fmt.Errorf("kas asset amount: %w", err)
		}
		if amount.Sign() <= 0 {
			return fmt.Errorf("kas asset amount must be positive, got %s", a.AmountSompi)
		}
	default:
		return fmt.Errorf("unknown asset kind %q", a.Kind)
	}
	return nil
}

type Deal struct {
	ID           uuid.UUID `json:"id"`
	ExchangeType string    `json:"exchange_type"` // nft-nft / nft-kas / kas-nft
	Status       string    `json:"status"`

	Party1Address string `json:"party1_address"`
	Party2Address string `json:"party2_address,omitempty"` // empty until party 2 joins

	Party1Asset Asset `json:"party1_asset"`
	Party2Asset Asset `json:"party2_asset"`

	Party1Deposited bool `json:"party1_deposited"`
	Party2Deposited bool `json:"party2_deposited"`

	Party1DepositTxID *string `json:"party1_deposit_tx_id,omitempty"`
	Party2DepositTxID *string `json:"party2_deposit_tx_id,omitempty"`

	// Set together when the deal completes.
	Party1TransferTxID *string `json:"party1_transfer_tx_id,omitempty"`
	Party2TransferTxID *string `json:"party2_transfer_tx_id,omitempty"`
	FeeTxID            *string `json:"fee_tx_id,omitempty"`

	FeeBPS        int     `json:"fee_bps"`
	FailureReason *string `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExpectedExchangeType derives the exchange type from the two asset kinds.
func ExpectedExchangeType(party1, party2 Asset) string {
	switch {
	case party1.IsNFT() && party2.IsNFT():
		return ExchangeNFTForNFT
	case party1.IsNFT() && party2.IsKAS():
		return ExchangeNFTForKAS
	default:
		return ExchangeKASForNFT
	}
}

func (d *Deal) Validate() error {
	if err := d.Party1Asset.Validate(); err != nil {
		return fmt.Errorf("party1 asset: %w", err)
	}
	if err := d.Party2Asset.Validate(); err != nil {
		return fmt.Errorf("party2 asset: %w", err)
	}
	if d.Party1Asset.IsKAS() && d.Party2Asset.IsKAS() {
		return fmt.Errorf("at least one side must be an nft")
	}
	if want := ExpectedExchangeType(d.Party1Asset, d.Party2Asset); d.ExchangeType != want {
		return fmt.Errorf("exchange_type %q does not match assets, want %q", d.ExchangeType, want)
	}
	return nil
}

// BothDeposited reports whether the deal is ready for settlement.
func (d *Deal) BothDeposited() bool {
	return d.Party1Deposited && d.Party2Deposited
}

// DealEvent is an append-only record of a status change or deposit observation.
type DealEvent struct {
	ID        uuid.UUID `json:"id"`
	DealID    uuid.UUID `json:"deal_id"`
	FromState *string   `json:"from_state,omitempty"`
	ToState   string    `json:"to_state"`
	Detail    *string   `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
