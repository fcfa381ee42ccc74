package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"csv-analyst-be/internal/constant"
	"csv-analyst-be/internal/dto"
	"csv-analyst-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const clusterChannel = "csv_analyst_stream_events"

type Hub struct {
	// Registered clients map: SessionID -> clients watching that session
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// Redis connection for cross-instance fan-out; nil runs single instance
	rdb *redis.Client

	// Frames published by this instance are skipped when they come back from Redis.
	instanceID string

	logger logger.ILogger
}

type clusterMessage struct {
	Origin          string          `json:"origin"`
	TargetSessionID string          `json:"target_session_id"`
	Message         json.RawMessage `json:"message"`
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		instanceID: uuid.NewString(),
		logger:     log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.SessionID] = append(h.clients[client.SessionID], client)
			h.mu.Unlock()
			h.logger.Info(constant.ModuleHub, "Client registered", map[string]interface{}{"session_id": client.SessionID})

		case client := <-h.unregister:
			h.mu.Lock()
			clients := h.clients[client.SessionID]
			for i, c := range clients {
				if c == client {
					h.clients[client.SessionID] = append(clients[:i], clients[i+1:]...)
					close(client.Send)
					break
				}
			}
			if len(h.clients[client.SessionID]) == 0 {
				delete(h.clients, client.SessionID)
				h.logger.Info(constant.ModuleHub, "Session has no more clients", map[string]interface{}{"session_id": client.SessionID})
			}
			h.mu.Unlock()
		}
	}
}

// Send delivers a stream event to every client of the session, here and on
// other instances.
func (h *Hub) Send(ctx context.Context, sessionID string, evt dto.StreamEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error(constant.ModuleHub, "Failed to marshal stream event", map[string]interface{}{"error": err})
		return
	}

	h.deliver(sessionID, data)

	if h.rdb != nil {
		payload, _ := json.Marshal(clusterMessage{
			Origin:          h.instanceID,
			TargetSessionID: sessionID,
			Message:         data,
		})
		if err := h.rdb.Publish(ctx, clusterChannel, payload).Err(); err != nil {
			h.logger.Warn(constant.ModuleHub, "Failed to publish to Redis", map[string]interface{}{"error": err})
		}
	}
}

// Reply sends an event to one client only. Clients already unregistered
// are skipped.
func (h *Hub) Reply(client *Client, evt dto.StreamEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error(constant.ModuleHub, "Failed to marshal stream event", map[string]interface{}{"error": err})
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients[client.SessionID] {
		if c != client {
			continue
		}
		select {
		case client.Send <- data:
		default:
			go func() { h.unregister <- client }()
		}
		return
	}
}

// Subscribers reports how many local clients watch the session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (h *Hub) deliver(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients[sessionID] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn(constant.ModuleHub, "Client Send buffer full, dropping client", map[string]interface{}{"session_id": sessionID})
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload clusterMessage
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.logger.Warn(constant.ModuleHub, "Redis message parse error", map[string]interface{}{"error": err})
				continue
			}
			if payload.Origin == h.instanceID {
				continue
			}
			h.deliver(payload.TargetSessionID, payload.Message)
		}
	}
}
