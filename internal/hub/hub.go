// Package hub fans directory events out to subscribed WebSocket clients.
// It replaces the snapshot listeners the original client attached to the
// hosted database.
package hub

import (
	"context"
	"encoding/json"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/monitor111/pwa-chat/internal/directory"
)

var droppedClients = promauto.NewCounter(prometheus.CounterOpts{
	Name: "directory_hub_dropped_clients_total",
	Help: "Subscribers disconnected because their send buffer filled up.",
})

type Hub struct {
	register   chan *Client
	unregister chan *Client
	events     chan directory.Event
	clients    map[*Client]bool
}

func New() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan directory.Event, 256),
		clients:    make(map[*Client]bool),
	}
}

// Publish hands an event to the hub for fan-out. It satisfies the same
// event-sink shape as the Redis roster so the HTTP layer can publish to
// either without caring which is wired.
func (h *Hub) Publish(_ context.Context, event directory.Event) error {
	h.events <- event
	return nil
}

// Run owns the client set; all registration and fan-out happens on this
// goroutine. Feed is an optional extra event source (the Redis subscription
// bridge); pass nil when events arrive only through Publish.
func (h *Hub) Run(ctx context.Context, feed <-chan directory.Event) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.close()
			}
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if h.clients[client] {
				delete(h.clients, client)
				client.close()
			}
		case event := <-h.events:
			h.fanOut(event)
		case event, ok := <-feed:
			if !ok {
				feed = nil
				continue
			}
			h.fanOut(event)
		}
	}
}

func (h *Hub) fanOut(event directory.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("hub: marshal event: %v", err)
		return
	}
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			// Slow consumer: drop it rather than stall everyone else.
			delete(h.clients, client)
			client.close()
			droppedClients.Inc()
		}
	}
}
