package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// orderEvent is an internal struct for routing events to a customer's feed
// and the staff firehose
type orderEvent struct {
	UserID uuid.UUID
	Event  Event
}

// Hub maintains the set of active clients and broadcasts order events.
// Customers get events for their own orders; staff clients get everything.
type Hub struct {
	// Registered customer clients by user ID
	rooms map[uuid.UUID]map[*Client]bool

	// Registered staff clients (ADMIN / DESIGNER)
	staff map[*Client]bool

	// Inbound messages from clients (register/unregister)
	register   chan *Client
	unregister chan *Client

	// Outbound messages to broadcast
	broadcast chan *orderEvent

	// Mutex for thread-safe room access
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		staff:      make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *orderEvent, 256),
	}
}

// Run starts the hub's main loop
// This should be called as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if client.isStaff {
				h.staff[client] = true
			} else {
				if h.rooms[client.userID] == nil {
					h.rooms[client.userID] = make(map[*Client]bool)
				}
				h.rooms[client.userID][client] = true
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			// Marshal event to JSON once
			message, err := json.Marshal(event.Event)
			if err != nil {
				h.mu.Unlock()
				continue
			}

			for client := range h.rooms[event.UserID] {
				h.send(client, message)
			}
			for client := range h.staff {
				h.send(client, message)
			}
			h.mu.Unlock()
		}
	}
}

// send delivers a message to a client, dropping the client if its buffer is
// full. Caller must hold h.mu.
func (h *Hub) send(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		h.drop(client)
	}
}

// drop removes a client and cleans up its room. Caller must hold h.mu.
func (h *Hub) drop(client *Client) {
	if client.isStaff {
		if _, exists := h.staff[client]; exists {
			delete(h.staff, client)
			close(client.send)
		}
		return
	}
	if clients, ok := h.rooms[client.userID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			close(client.send)
			if len(clients) == 0 {
				delete(h.rooms, client.userID)
			}
		}
	}
}

// BroadcastOrderEvent sends an event to the owning user's feed and to all
// staff clients. This is the public API for handlers to broadcast events.
func (h *Hub) BroadcastOrderEvent(userID uuid.UUID, event Event) {
	h.broadcast <- &orderEvent{
		UserID: userID,
		Event:  event,
	}
}
