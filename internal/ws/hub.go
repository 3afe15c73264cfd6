package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/restrona-pos/api/internal/events"
)

// ErrHubStopped is returned by Publish once Run has returned.
var ErrHubStopped = errors.New("ws hub stopped")

// Message is a WebSocket frame sent to subscribers.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// delivery routes a message to a restaurant room, or to a single client
// when target is set. Room deliveries carry the statuses they concern so
// filtered clients can skip them, and the order version they describe so a
// client catching up from a snapshot can skip what it already has.
type delivery struct {
	restaurantID uuid.UUID
	statuses     []string
	target       *Client
	message      Message

	orderID   uuid.UUID
	updatedAt time.Time

	step     syncStep
	versions map[uuid.UUID]time.Time
}

type syncStep int

const (
	syncNone syncStep = iota
	syncBegin
	syncEnd
)

// maxHeld caps the room messages held for a client waiting on its snapshot.
const maxHeld = 256

// heldMessage is a room message queued while its client was syncing.
type heldMessage struct {
	orderID   uuid.UUID
	updatedAt time.Time
	data      []byte
}

// coveredBy reports whether a snapshot with the given order versions
// already reflects m.
func (m heldMessage) coveredBy(versions map[uuid.UUID]time.Time) bool {
	if m.updatedAt.IsZero() {
		return false
	}
	v, ok := versions[m.orderID]
	return ok && !m.updatedAt.After(v)
}

// Hub maintains the set of active clients and broadcasts messages to them.
// Broadcasts and direct messages share one queue so a client sees them in
// the order they were submitted.
type Hub struct {
	// Registered clients by restaurant ID
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *delivery

	done chan struct{}

	// Mutex for thread-safe room access
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *delivery, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled.
// This should be called as a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.restaurantID] == nil {
				h.rooms[client.restaurantID] = make(map[*Client]bool)
			}
			h.rooms[client.restaurantID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case d := <-h.broadcast:
			h.mu.Lock()
			h.dispatch(d)
			h.mu.Unlock()
		}
	}
}

// dispatch routes d. Caller holds h.mu.
func (h *Hub) dispatch(d *delivery) {
	if d.target != nil {
		if !h.rooms[d.restaurantID][d.target] {
			return
		}
		switch d.step {
		case syncBegin:
			d.target.syncing = true
			return
		case syncEnd:
			h.finishSync(d.target, d)
			return
		}
		if message, err := json.Marshal(d.message); err == nil {
			h.deliver(d.target, message)
		}
		return
	}

	// Marshal message to JSON once
	message, err := json.Marshal(d.message)
	if err != nil {
		return
	}
	for client := range h.rooms[d.restaurantID] {
		if !client.wants(d.statuses) {
			continue
		}
		if client.syncing {
			h.hold(client, d, message)
			continue
		}
		h.deliver(client, message)
	}
}

// hold queues a room message for a syncing client. A client that falls
// maxHeld messages behind is dropped. Caller holds h.mu.
func (h *Hub) hold(client *Client, d *delivery, message []byte) {
	if len(client.held) >= maxHeld {
		h.remove(client)
		return
	}
	client.held = append(client.held, heldMessage{orderID: d.orderID, updatedAt: d.updatedAt, data: message})
}

// finishSync delivers the snapshot carried by d, if any, then the held
// messages it does not cover. Caller holds h.mu.
func (h *Hub) finishSync(client *Client, d *delivery) {
	held := client.held
	client.held = nil
	client.syncing = false

	if d.message.Type != "" {
		message, err := json.Marshal(d.message)
		if err == nil && !h.deliver(client, message) {
			return
		}
	}
	for _, m := range held {
		if m.coveredBy(d.versions) {
			continue
		}
		if !h.deliver(client, m.data) {
			return
		}
	}
}

// deliver queues message for client. A client whose buffer is full is
// dropped; it will resync from a snapshot when it reconnects.
// Caller holds h.mu.
func (h *Hub) deliver(client *Client, message []byte) bool {
	select {
	case client.send <- message:
		return true
	default:
		h.remove(client)
		return false
	}
}

// remove unregisters client and closes its send channel. Caller holds h.mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.rooms[client.restaurantID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	client.held = nil
	close(client.send)
	// Clean up empty rooms
	if len(clients) == 0 {
		delete(h.rooms, client.restaurantID)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.rooms {
		for client := range clients {
			h.remove(client)
		}
	}
	close(h.done)
}

// Register adds client to its restaurant room.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister removes client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) enqueue(ctx context.Context, d *delivery) error {
	select {
	case h.broadcast <- d:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BroadcastToRestaurant sends a message to every client subscribed to a
// restaurant whose filter matches one of statuses. No statuses means every
// client.
func (h *Hub) BroadcastToRestaurant(ctx context.Context, restaurantID uuid.UUID, statuses []string, msg Message) error {
	return h.enqueue(ctx, &delivery{restaurantID: restaurantID, statuses: statuses, message: msg})
}

// SendTo queues a message for a single registered client.
func (h *Hub) SendTo(ctx context.Context, client *Client, msg Message) error {
	return h.enqueue(ctx, &delivery{restaurantID: client.restaurantID, target: client, message: msg})
}

// BeginSync holds room messages for client until EndSync.
func (h *Hub) BeginSync(ctx context.Context, client *Client) error {
	return h.enqueue(ctx, &delivery{restaurantID: client.restaurantID, target: client, step: syncBegin})
}

// EndSync queues snapshot for client, followed by the messages held since
// BeginSync (or registration) that the snapshot does not already reflect.
// versions maps each order in the snapshot to its updated_at. A nil
// snapshot releases the held messages unfiltered.
func (h *Hub) EndSync(ctx context.Context, client *Client, snapshot *Message, versions map[uuid.UUID]time.Time) error {
	d := &delivery{restaurantID: client.restaurantID, target: client, step: syncEnd}
	if snapshot != nil {
		d.message = *snapshot
		d.versions = versions
	}
	return h.enqueue(ctx, d)
}

// Publish implements events.Publisher. A status change concerns both the
// old and the new status so a client filtering on either one hears about
// the order entering or leaving its view.
func (h *Hub) Publish(ctx context.Context, ev events.Event) error {
	statuses := []string{ev.Status}
	if ev.PreviousStatus != "" {
		statuses = append(statuses, ev.PreviousStatus)
	}
	return h.enqueue(ctx, &delivery{
		restaurantID: ev.RestaurantID,
		statuses:     statuses,
		message:      Message{Type: ev.Type, Payload: ev.Order},
		orderID:      ev.OrderID,
		updatedAt:    ev.UpdatedAt,
	})
}

// RoomSize returns the number of clients subscribed to a restaurant.
func (h *Hub) RoomSize(restaurantID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[restaurantID])
}

var _ events.Publisher = (*Hub)(nil)
