package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"arenaoj/internal/common/cache"
	"arenaoj/pkg/utils/logger"
)

// Hub owns the per-contest rooms on one server instance. The first client
// joining a room opens the cross-instance subscription for that contest;
// the last one leaving closes it. Everything arriving on the subscription
// is fanned out to the room's local connections.
type Hub struct {
	bus *Bus

	mu    sync.RWMutex
	rooms map[int64]*room
}

type room struct {
	clients map[*Client]struct{}
	sub     cache.Subscription
}

// NewHub creates a hub.
func NewHub(bus *Bus) (*Hub, error) {
	if bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	return &Hub{bus: bus, rooms: make(map[int64]*room)}, nil
}

// Join adds a client to a contest room, opening the room if needed.
func (h *Hub) Join(ctx context.Context, contestID int64, client *Client) error {
	if contestID <= 0 || client == nil {
		return fmt.Errorf("contestID and client are required")
	}

	h.mu.Lock()
	r, ok := h.rooms[contestID]
	if !ok {
		sub, err := h.bus.Subscribe(ctx, contestID)
		if err != nil {
			h.mu.Unlock()
			return err
		}
		r = &room{clients: make(map[*Client]struct{}), sub: sub}
		h.rooms[contestID] = r
		go h.pump(contestID, sub)
	}
	r.clients[client] = struct{}{}
	online := len(r.clients)
	h.mu.Unlock()

	client.track(contestID)
	h.broadcastPresence(contestID, online)
	return nil
}

// Leave removes a client from a contest room, closing the room when it
// empties.
func (h *Hub) Leave(contestID int64, client *Client) {
	h.mu.Lock()
	r, ok := h.rooms[contestID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(r.clients, client)
	online := len(r.clients)
	var sub cache.Subscription
	if online == 0 {
		sub = r.sub
		delete(h.rooms, contestID)
	}
	h.mu.Unlock()

	client.untrack(contestID)
	if sub != nil {
		if err := sub.Close(); err != nil {
			logger.Warn(context.Background(), "close room subscription failed",
				zap.Int64("contest_id", contestID),
				zap.Error(err))
		}
		return
	}
	h.broadcastPresence(contestID, online)
}

// LeaveAll removes a disconnecting client from every room it joined.
func (h *Hub) LeaveAll(client *Client) {
	for _, contestID := range client.joinedRooms() {
		h.Leave(contestID, client)
	}
}

// OnlineCount returns the number of local connections in a room.
func (h *Hub) OnlineCount(contestID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[contestID]; ok {
		return len(r.clients)
	}
	return 0
}

// pump drains one room subscription until it closes, routing each event to
// the room's local clients.
func (h *Hub) pump(contestID int64, sub cache.Subscription) {
	for msg := range sub.Messages() {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			logger.Warn(context.Background(), "drop malformed room event",
				zap.Int64("contest_id", contestID),
				zap.Error(err))
			continue
		}
		if event.TargetUserID != 0 {
			h.sendToUser(contestID, event.TargetUserID, []byte(msg.Payload))
			continue
		}
		h.broadcast(contestID, []byte(msg.Payload))
	}
}

func (h *Hub) broadcast(contestID int64, payload []byte) {
	h.mu.RLock()
	r, ok := h.rooms[contestID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(r.clients))
	for client := range r.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.enqueue(payload)
	}
}

func (h *Hub) sendToUser(contestID, userID int64, payload []byte) {
	h.mu.RLock()
	r, ok := h.rooms[contestID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	clients := make([]*Client, 0, 1)
	for client := range r.clients {
		if client.UserID() == userID {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.enqueue(payload)
	}
}

// broadcastPresence pushes this instance's room occupancy to its local
// clients. Counts are per instance, not global.
func (h *Hub) broadcastPresence(contestID int64, online int) {
	event, err := NewEvent(EventPresence, contestID, map[string]int{"online": online})
	if err != nil {
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.broadcast(contestID, raw)
}
