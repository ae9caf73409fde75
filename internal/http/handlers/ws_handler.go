package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bananaishere/kaspabox/internal/events"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WSHub fans deal events out to websocket clients. Clients subscribe either
// to a single deal (?deal_id=...) or, with no parameter, to every deal.
type WSHub struct {
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
}

// uuid.Nil keys the firehose subscribers.
func NewWSHub(subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		subscriber:  subscriber,
		log:         log,
		connections: make(map[uuid.UUID][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	_ = h.subscriber.Subscribe(ctx, events.ChannelDeals, func(event events.Event) {
		h.broadcast(event)
	})
}

func (h *WSHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	dealID := uuid.Nil
	if raw, ok := event.Payload["deal_id"].(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			dealID = id
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[uuid.Nil] {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	if dealID != uuid.Nil {
		for _, conn := range h.connections[dealID] {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	key := uuid.Nil
	if raw := conn.Query("deal_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid deal_id"}`))
			conn.Close()
			return
		}
		key = id
	}

	// Register
	h.mu.Lock()
	h.connections[key] = append(h.connections[key], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[key]
		for i, c := range conns {
			if c == conn {
				h.connections[key] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[key]) == 0 {
			delete(h.connections, key)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
