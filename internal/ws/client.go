package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/restrona-pos/api/internal/auth"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/restrona-pos/api/internal/events"
	"github.com/restrona-pos/api/internal/service"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// snapshotLimit caps the number of orders in a snapshot.
	snapshotLimit = 200

	snapshotTimeout = 5 * time.Second
)

// MessageTypeResync is sent by a client that wants a fresh snapshot.
const MessageTypeResync = "resync"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (we validate via JWT)
	},
}

// TokenValidator parses access tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// PrincipalLoader loads the current principal of a user.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, id uuid.UUID) (*authz.Principal, error)
}

// OrderLister serves snapshots. It applies the authorization gate itself.
type OrderLister interface {
	ListOrders(ctx context.Context, actor *authz.Principal, params service.ListOrdersParams) ([]service.OrderView, error)
}

// Snapshot is the payload of an orders.snapshot message.
type Snapshot struct {
	Orders []service.OrderView `json:"orders"`
	AsOf   time.Time           `json:"as_of"`
}

// Client represents a single WebSocket connection
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	restaurantID uuid.UUID
	// statuses is the client's filter; empty means every status.
	statuses map[string]bool
	send     chan []byte
	resync   func()
	logger   *logrus.Logger

	// syncing and held are owned by the hub and guarded by hub.mu.
	syncing bool
	held    []heldMessage
}

// wants reports whether a message about any of statuses passes the filter.
func (c *Client) wants(statuses []string) bool {
	if len(c.statuses) == 0 || len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if c.statuses[s] {
			return true
		}
	}
	return false
}

// ReadPump pumps messages from the WebSocket connection to the hub.
// The only client message understood is {"type":"resync"}.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).WithField("restaurant_id", c.restaurantID).Warn("websocket read")
			}
			break
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypeResync && c.resync != nil {
			c.resync()
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
// The application runs WritePump in a per-connection goroutine
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame so clients can parse each message.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler upgrades order subscription requests.
// Endpoint: WS /ws/restaurants/{rid}/orders?token=JWT&status=pending,ready
type Handler struct {
	hub        *Hub
	tokens     TokenValidator
	principals PrincipalLoader
	orders     OrderLister
	logger     *logrus.Logger
}

func NewHandler(hub *Hub, tokens TokenValidator, principals PrincipalLoader, orders OrderLister, logger *logrus.Logger) *Handler {
	return &Handler{hub: hub, tokens: tokens, principals: principals, orders: orders, logger: logger}
}

// ParseStatusFilter reads a comma separated status list. Unknown statuses
// are rejected.
func ParseStatusFilter(raw string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		if !enum.IsOrderStatus(s) {
			return nil, service.ErrInvalidStatus
		}
		out = append(out, s)
	}
	return out, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. Extract token from query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	// 2. Validate JWT and load the current principal
	claims, err := h.tokens.Validate(tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	principal, err := h.principals.LoadPrincipal(r.Context(), claims.UserID)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// 3. Extract restaurant ID and filter from URL
	restaurantID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		http.Error(w, "invalid restaurant id", http.StatusBadRequest)
		return
	}
	statuses, err := ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, "invalid status filter", http.StatusBadRequest)
		return
	}

	// 4. Register before taking the snapshot so no event committed after
	// the snapshot is missed. Room messages are held until the snapshot
	// is queued.
	client := &Client{
		hub:          h.hub,
		restaurantID: restaurantID,
		statuses:     make(map[string]bool, len(statuses)),
		send:         make(chan []byte, 256),
		logger:       h.logger,
		syncing:      true,
	}
	for _, s := range statuses {
		client.statuses[s] = true
	}
	if err := h.hub.Register(client); err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	// 5. The first snapshot doubles as the access check
	snapshot, versions, err := h.snapshot(r.Context(), principal, restaurantID, statuses)
	if err != nil {
		h.hub.Unregister(client)
		var denied *authz.DeniedError
		if errors.As(err, &denied) {
			status := http.StatusForbidden
			if denied.Reason == authz.ReasonUnauthenticated {
				status = http.StatusUnauthorized
			}
			http.Error(w, "restaurant access denied", status)
			return
		}
		h.logger.WithError(err).WithField("restaurant_id", restaurantID).Error("websocket snapshot")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// 6. Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.Unregister(client)
		h.logger.WithError(err).Warn("websocket upgrade")
		return
	}
	client.conn = conn
	client.resync = func() {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		if err := h.hub.BeginSync(ctx, client); err != nil {
			return
		}
		msg, versions, err := h.snapshot(ctx, principal, restaurantID, statuses)
		if err != nil {
			h.logger.WithError(err).WithField("restaurant_id", restaurantID).Warn("websocket resync")
			_ = h.hub.EndSync(context.Background(), client, nil, nil)
			return
		}
		_ = h.hub.EndSync(context.Background(), client, &msg, versions)
	}
	_ = h.hub.EndSync(r.Context(), client, &snapshot, versions)

	// 7. Start pumps in separate goroutines
	go client.WritePump()
	go client.ReadPump()
}

// snapshot lists the client's orders. versions maps each listed order to
// the updated_at the snapshot shows.
func (h *Handler) snapshot(ctx context.Context, principal *authz.Principal, restaurantID uuid.UUID, statuses []string) (Message, map[uuid.UUID]time.Time, error) {
	orders, err := h.orders.ListOrders(ctx, principal, service.ListOrdersParams{
		RestaurantID: restaurantID,
		Statuses:     statuses,
		Limit:        snapshotLimit,
	})
	if err != nil {
		return Message{}, nil, err
	}
	payload, err := json.Marshal(Snapshot{Orders: orders, AsOf: time.Now().UTC()})
	if err != nil {
		return Message{}, nil, err
	}
	versions := make(map[uuid.UUID]time.Time, len(orders))
	for _, o := range orders {
		versions[o.ID] = o.UpdatedAt
	}
	return Message{Type: events.TypeOrdersSnapshot, Payload: payload}, versions, nil
}
