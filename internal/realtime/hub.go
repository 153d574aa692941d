// Package realtime fans party events out to websocket subscribers of a room.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"dinner-roulette/internal/logging"
)

// Event types published to room subscribers.
const (
	EventMemberJoined       = "member_joined"
	EventMemberLeft         = "member_left"
	EventConstraintsUpdated = "constraints_updated"
	EventSpinStarted        = "spin_started"
	EventChat               = "chat"
	EventPartyClosed        = "party_closed"
	EventHostChanged        = "host_changed"
)

// ErrHubStopped is returned when subscribing after Run has returned.
var ErrHubStopped = errors.New("realtime hub stopped")

// Event is the envelope delivered to every subscriber of a room.
type Event struct {
	Type   string    `json:"type"`
	Room   string    `json:"room"`
	Data   any       `json:"data,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// Hub keeps the clients of each room and broadcasts events to them.
type Hub struct {
	rooms      map[string]map[*Client]struct{}
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	now        func() time.Time
}

// NewHub creates a new Hub. Call Run to start delivering events.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Publish queues an event for a room. It never blocks; events are dropped when the queue is full.
func (h *Hub) Publish(room, eventType string, data any) {
	ev := Event{Type: eventType, Room: room, Data: data, SentAt: h.now().UTC()}
	select {
	case h.broadcast <- ev:
	default:
		logging.Warn().Str("room", room).Str("type", eventType).Msg("realtime queue full, event dropped")
	}
}

// ClientCount returns the number of subscribers of a room.
func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Run delivers events until ctx is canceled, then closes every client.
// Subscriptions attempted after Run returns fail with ErrHubStopped.
func (h *Hub) Run(ctx context.Context) error {
	log := logging.With("realtime-hub")
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		// lifecycle events go first so a fresh subscriber sees the next broadcast
		select {
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			log.Info().Msg("hub stopped")
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	clients, ok := h.rooms[c.room]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[c.room] = clients
	}
	clients[c] = struct{}{}
	total := len(clients)
	h.mu.Unlock()

	logging.Debug().Str("room", c.room).Str("member", c.memberID).Int("room_clients", total).Msg("websocket client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *Client) {
	clients, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.rooms, c.room)
	}
}

func (h *Hub) deliver(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[ev.Room] {
		select {
		case c.send <- ev:
		default:
			// slow consumer
			logging.Warn().Str("room", ev.Room).Str("member", c.memberID).Msg("dropping slow websocket client")
			h.dropLocked(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.rooms {
		for c := range clients {
			h.dropLocked(c)
		}
	}
}
