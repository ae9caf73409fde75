package events

import "context"

// Pub/sub channels
const (
	ChannelDeals = "events:deals"
)

// Event types
const (
	EventDealCreated       = "deal_created"
	EventDealJoined        = "deal_joined"
	EventDealStatusChanged = "deal_status_changed"
	EventDepositReceived   = "deposit_received"
	EventDealCompleted     = "deal_completed"
	EventDealFailed        = "deal_failed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
