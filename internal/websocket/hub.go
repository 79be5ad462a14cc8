package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/xelth-com/dairysync/internal/events"
)

// Hub maintains the set of active clients and pushes bus events to them
type Hub struct {
	// Registered clients: client ID -> Client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client

	// closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]*Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. Every event read from feed is broadcast
// until ctx ends, at which point all clients are disconnected.
func (h *Hub) Run(ctx context.Context, feed <-chan events.Event) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.Printf("📱 UI client connected: %s (%s)", client.ID, client.Principal.Username)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
				log.Printf("📴 UI client disconnected: %s", client.ID)
			}
			h.mu.Unlock()

		case e, ok := <-feed:
			if !ok {
				feed = nil
				continue
			}
			h.Broadcast(e)

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast sends e to every client subscribed to its collection and
// returns how many clients it reached. Clients with a full buffer miss it.
func (h *Hub) Broadcast(e events.Event) int {
	msg, err := json.Marshal(e)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, client := range h.clients {
		if !client.wants(e.Collection) {
			continue
		}
		select {
		case client.send <- msg:
			sent++
		default:
			// Buffer full or client dead
		}
	}
	return sent
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
