package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type AdminLoginResponse struct {
	Token string `json:"token"`
}

type ValidateAddressResponse struct {
	Valid      bool   `json:"valid"`
	Normalized string `json:"normalized,omitempty"`
	Display    string `json:"display,omitempty"`
	Error      string `json:"error,omitempty"`
}

type DepositInfoResponse struct {
	DealID        string `json:"deal_id"`
	EscrowAddress string `json:"escrow_address"`
	Status        string `json:"status"`
}

type ProcessDealsResponse struct {
	OK       bool `json:"ok"`
	Examined int  `json:"examined"`
}
