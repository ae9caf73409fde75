package models

import (
	"time"

	"github.com/google/uuid"
)

// SwapOrder is the local record of a swap opened with the exchange
// provider, keyed by the provider's transaction id.
type SwapOrder struct {
	ID            uuid.UUID `json:"id"`
	ProviderID    string    `json:"provider_id"`
	FromCurrency  string    `json:"from_currency"`
	ToCurrency    string    `json:"to_currency"`
	Amount        string    `json:"amount"`
	PayinAddress  string    `json:"payin_address"`
	PayoutAddress string    `json:"payout_address"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
