package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/barberhub/totem-api/internal/events"
)

// roomMessage is an encoded event routed to one or more rooms.
type roomMessage struct {
	rooms   []string
	message []byte
}

// Hub maintains the dashboard connections and fans events out to the rooms
// they joined. It implements events.Publisher.
type Hub struct {
	// Registered clients, and the same clients by room
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *roomMessage

	logger logrus.FieldLogger

	mu sync.RWMutex
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomMessage, 256),
		logger:     logger,
	}
}

// Run starts the hub's main loop
// This should be called as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			for _, room := range client.rooms {
				if h.rooms[room] == nil {
					h.rooms[room] = make(map[*Client]bool)
				}
				h.rooms[room][client] = true
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			// A client in several target rooms gets the event once.
			seen := make(map[*Client]bool)
			for _, room := range msg.rooms {
				for client := range h.rooms[room] {
					if seen[client] {
						continue
					}
					seen[client] = true
					select {
					case client.send <- msg.message:
					default:
						// Client's send buffer is full, close and unregister
						h.removeLocked(client)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)
	for _, room := range client.rooms {
		delete(h.rooms[room], client)
		// Clean up empty rooms
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Publish queues e for every client in e.Rooms. Events without rooms are
// ignored.
func (h *Hub) Publish(ctx context.Context, e events.Event) error {
	if len(e.Rooms) == 0 {
		return nil
	}
	message, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	select {
	case h.broadcast <- &roomMessage{rooms: e.Rooms, message: message}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
