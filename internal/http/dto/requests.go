package dto

type AssetPayload struct {
	Kind        string `json:"kind"` // nft / kas
	TokenID     string `json:"token_id,omitempty"`
	Contract    string `json:"contract,omitempty"`
	AmountKAS   string `json:"amount_kas,omitempty"`   // decimal KAS, converted to sompi server-side
	AmountSompi string `json:"amount_sompi,omitempty"` // integer sompi, takes precedence
}

type CreateDealRequest struct {
	Party1Address string       `json:"party1_address"`
	Party2Address string       `json:"party2_address,omitempty"`
	Party1Asset   AssetPayload `json:"party1_asset"`
	Party2Asset   AssetPayload `json:"party2_asset"`
}

type JoinDealRequest struct {
	Party2Address string `json:"party2_address"`
}

type ValidateAddressRequest struct {
	Address string `json:"address"`
}

type CreateSwapRequest struct {
	FromCurrency  string `json:"from_currency"`
	ToCurrency    string `json:"to_currency"`
	Amount        string `json:"amount"`
	PayoutAddress string `json:"payout_address"`
	RefundAddress string `json:"refund_address,omitempty"`
}

type FiatEstimateRequest struct {
	FromCurrency string  `json:"from_currency"`
	FromAmount   float64 `json:"from_amount"`
}

type CreateFiatOrderRequest struct {
	FromCurrency  string  `json:"from_currency"`
	FromAmount    float64 `json:"from_amount"`
	PayoutAddress string  `json:"payout_address"`
}

type AdminLoginRequest struct {
	Key string `json:"key"`
}
