package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/restrona-pos/api/internal/auth"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/restrona-pos/api/internal/events"
	"github.com/restrona-pos/api/internal/logging"
	"github.com/restrona-pos/api/internal/service"
)

// mockClient creates a client for testing without a real WebSocket connection
func mockClient(hub *Hub, restaurantID uuid.UUID, statuses ...string) *Client {
	c := &Client{
		hub:          hub,
		restaurantID: restaurantID,
		statuses:     map[string]bool{},
		send:         make(chan []byte, 256),
	}
	for _, s := range statuses {
		c.statuses[s] = true
	}
	return c
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub()
	go hub.Run(ctx)
	return hub
}

func register(t *testing.T, hub *Hub, clients ...*Client) {
	t.Helper()
	for _, c := range clients {
		if err := hub.Register(c); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	// Give hub time to process
	time.Sleep(10 * time.Millisecond)
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.send:
		var received Message
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal message: %v", err)
		}
		return received
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client did not receive message")
	}
	return Message{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRegistration(t *testing.T) {
	hub := startHub(t)
	restaurantID := uuid.New()
	client := mockClient(hub, restaurantID)

	register(t, hub, client)

	if hub.RoomSize(restaurantID) != 1 {
		t.Fatal("client not registered in restaurant room")
	}
}

func TestHubCleanupEmptyRoom(t *testing.T) {
	hub := startHub(t)
	restaurantID := uuid.New()
	client1 := mockClient(hub, restaurantID)
	client2 := mockClient(hub, restaurantID)
	register(t, hub, client1, client2)

	if n := hub.RoomSize(restaurantID); n != 2 {
		t.Fatalf("expected 2 clients, got %d", n)
	}

	hub.Unregister(client1)
	time.Sleep(10 * time.Millisecond)
	if n := hub.RoomSize(restaurantID); n != 1 {
		t.Fatalf("expected 1 client after first unregister, got %d", n)
	}

	hub.Unregister(client2)
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if hub.rooms[restaurantID] != nil {
		t.Fatal("room should be deleted when last client unregisters")
	}
	if _, open := <-client2.send; open {
		t.Fatal("send channel should be closed")
	}
}

func TestBroadcastIsolatedPerRestaurant(t *testing.T) {
	hub := startHub(t)
	r1, r2 := uuid.New(), uuid.New()
	client1 := mockClient(hub, r1)
	client2 := mockClient(hub, r2)
	register(t, hub, client1, client2)

	payload := json.RawMessage(`{"id":"abc","status":"pending"}`)
	if err := hub.BroadcastToRestaurant(context.Background(), r1, nil, Message{Type: events.TypeOrderCreated, Payload: payload}); err != nil {
		t.Fatal(err)
	}

	got := receive(t, client1)
	if got.Type != events.TypeOrderCreated {
		t.Errorf("expected type %q, got %q", events.TypeOrderCreated, got.Type)
	}
	if string(got.Payload) != string(payload) {
		t.Errorf("expected payload %s, got %s", payload, got.Payload)
	}
	expectNothing(t, client2)
}

func TestPublishRespectsStatusFilter(t *testing.T) {
	hub := startHub(t)
	restaurantID := uuid.New()
	all := mockClient(hub, restaurantID)
	kitchen := mockClient(hub, restaurantID, enum.OrderStatusConfirmed, enum.OrderStatusPreparing)
	pass := mockClient(hub, restaurantID, enum.OrderStatusReady)
	register(t, hub, all, kitchen, pass)

	ctx := context.Background()
	order := json.RawMessage(`{"id":"o1"}`)

	// pending -> confirmed enters the kitchen view
	if err := hub.Publish(ctx, events.Event{
		Type:           events.TypeOrderStatusChanged,
		RestaurantID:   restaurantID,
		Status:         enum.OrderStatusConfirmed,
		PreviousStatus: enum.OrderStatusPending,
		Order:          order,
	}); err != nil {
		t.Fatal(err)
	}
	receive(t, all)
	receive(t, kitchen)
	expectNothing(t, pass)

	// preparing -> ready leaves the kitchen view and enters the pass view
	if err := hub.Publish(ctx, events.Event{
		Type:           events.TypeOrderStatusChanged,
		RestaurantID:   restaurantID,
		Status:         enum.OrderStatusReady,
		PreviousStatus: enum.OrderStatusPreparing,
		Order:          order,
	}); err != nil {
		t.Fatal(err)
	}
	receive(t, all)
	receive(t, kitchen)
	receive(t, pass)

	// a new pending order only concerns unfiltered clients
	if err := hub.Publish(ctx, events.Event{
		Type:         events.TypeOrderCreated,
		RestaurantID: restaurantID,
		Status:       enum.OrderStatusPending,
		Order:        order,
	}); err != nil {
		t.Fatal(err)
	}
	receive(t, all)
	expectNothing(t, kitchen)
	expectNothing(t, pass)
}

func TestSendToTargetsSingleClient(t *testing.T) {
	hub := startHub(t)
	restaurantID := uuid.New()
	client1 := mockClient(hub, restaurantID)
	client2 := mockClient(hub, restaurantID)
	register(t, hub, client1, client2)

	if err := hub.SendTo(context.Background(), client1, Message{Type: events.TypeOrdersSnapshot, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, client1); got.Type != events.TypeOrdersSnapshot {
		t.Errorf("expected snapshot, got %q", got.Type)
	}
	expectNothing(t, client2)
}

func TestMessagesKeepSubmissionOrder(t *testing.T) {
	hub := startHub(t)
	restaurantID := uuid.New()
	client := mockClient(hub, restaurantID)
	register(t, hub, client)

	ctx := context.Background()
	_ = hub.SendTo(ctx, client, Message{Type: events.TypeOrdersSnapshot, Payload: json.RawMessage(`{}`)})
	_ = hub.BroadcastToRestaurant(ctx, restaurantID, nil, Message{Type: events.TypeOrderCreated, Payload: json.RawMessage(`{}`)})
	_ = hub.SendTo(ctx, client, Message{Type: events.TypeOrdersSnapshot, Payload: json.RawMessage(`{}`)})

	want := []string{events.TypeOrdersSnapshot, events.TypeOrderCreated, events.TypeOrdersSnapshot}
	for i, typ := range want {
		if got := receive(t, client); got.Type != typ {
			t.Fatalf("message %d: expected %q, got %q", i, typ, got.Type)
		}
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := startHub(t)
	restaurantID := uuid.New()
	slow := &Client{hub: hub, restaurantID: restaurantID, send: make(chan []byte, 1)}
	register(t, hub, slow)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = hub.BroadcastToRestaurant(ctx, restaurantID, nil, Message{Type: events.TypeOrderCreated, Payload: json.RawMessage(`{}`)})
	}
	time.Sleep(20 * time.Millisecond)

	if hub.RoomSize(restaurantID) != 0 {
		t.Fatal("slow client should have been dropped")
	}
}

func statusEvent(restaurantID, orderID uuid.UUID, from, to string, updatedAt time.Time) events.Event {
	return events.Event{
		Type:           events.TypeOrderStatusChanged,
		RestaurantID:   restaurantID,
		OrderID:        orderID,
		Status:         to,
		PreviousStatus: from,
		UpdatedAt:      updatedAt,
		Order:          json.RawMessage(`{"id":"` + orderID.String() + `","status":"` + to + `"}`),
	}
}

func TestSyncingClientGetsSnapshotFirst(t *testing.T) {
	hub := startHub(t)
	restaurantID := uuid.New()
	client := mockClient(hub, restaurantID)
	client.syncing = true
	register(t, hub, client)

	covered, newer := uuid.New(), uuid.New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_ = hub.Publish(ctx, statusEvent(restaurantID, covered, enum.OrderStatusPending, enum.OrderStatusConfirmed, t0))
	_ = hub.Publish(ctx, statusEvent(restaurantID, newer, enum.OrderStatusPending, enum.OrderStatusConfirmed, t0.Add(time.Second)))
	_ = hub.Publish(ctx, events.Event{Type: events.TypeOrderCreated, RestaurantID: restaurantID, Status: enum.OrderStatusPending, Order: json.RawMessage(`{}`)})
	expectNothing(t, client)

	snapshot := Message{Type: events.TypeOrdersSnapshot, Payload: json.RawMessage(`{}`)}
	versions := map[uuid.UUID]time.Time{covered: t0, newer: t0}
	if err := hub.EndSync(ctx, client, &snapshot, versions); err != nil {
		t.Fatal(err)
	}

	if msg := receive(t, client); msg.Type != events.TypeOrdersSnapshot {
		t.Fatalf("expected snapshot first, got %q", msg.Type)
	}
	msg := receive(t, client)
	if msg.Type != events.TypeOrderStatusChanged || !strings.Contains(string(msg.Payload), newer.String()) {
		t.Fatalf("expected the change newer than the snapshot, got %q %s", msg.Type, msg.Payload)
	}
	if msg := receive(t, client); msg.Type != events.TypeOrderCreated {
		t.Fatalf("expected unversioned event to pass, got %q", msg.Type)
	}
	expectNothing(t, client)

	// Live again
	_ = hub.Publish(ctx, statusEvent(restaurantID, covered, enum.OrderStatusConfirmed, enum.OrderStatusPreparing, t0))
	if msg := receive(t, client); msg.Type != events.TypeOrderStatusChanged {
		t.Fatalf("expected live event after sync, got %q", msg.Type)
	}
}

func TestBeginSyncHoldsUntilEndSync(t *testing.T) {
	hub := startHub(t)
	restaurantID := uuid.New()
	client := mockClient(hub, restaurantID)
	register(t, hub, client)
	ctx := context.Background()

	if err := hub.BeginSync(ctx, client); err != nil {
		t.Fatal(err)
	}
	_ = hub.Publish(ctx, statusEvent(restaurantID, uuid.New(), enum.OrderStatusPending, enum.OrderStatusConfirmed, time.Now()))
	expectNothing(t, client)

	// No snapshot: held messages are released as they are.
	if err := hub.EndSync(ctx, client, nil, nil); err != nil {
		t.Fatal(err)
	}
	if msg := receive(t, client); msg.Type != events.TypeOrderStatusChanged {
		t.Fatalf("expected held event, got %q", msg.Type)
	}
	expectNothing(t, client)
}

func TestSyncingClientFallingBehindIsDropped(t *testing.T) {
	hub := startHub(t)
	restaurantID := uuid.New()
	client := mockClient(hub, restaurantID)
	client.syncing = true
	register(t, hub, client)

	for i := 0; i <= maxHeld; i++ {
		_ = hub.BroadcastToRestaurant(context.Background(), restaurantID, nil, Message{Type: events.TypeOrderCreated, Payload: json.RawMessage(`{}`)})
	}
	time.Sleep(20 * time.Millisecond)

	if hub.RoomSize(restaurantID) != 0 {
		t.Fatal("client holding too many messages should be dropped")
	}
	if _, open := <-client.send; open {
		t.Fatal("dropped client should have its channel closed")
	}
}

func TestHubStopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	client := mockClient(hub, uuid.New())
	register(t, hub, client)
	cancel()
	<-stopped

	if _, open := <-client.send; open {
		t.Fatal("send channel should be closed on shutdown")
	}
	err := hub.Publish(context.Background(), events.Event{Type: events.TypeOrderCreated, RestaurantID: client.restaurantID})
	if !errors.Is(err, ErrHubStopped) {
		t.Fatalf("expected ErrHubStopped, got %v", err)
	}
	if err := hub.Register(mockClient(hub, uuid.New())); !errors.Is(err, ErrHubStopped) {
		t.Fatalf("expected ErrHubStopped, got %v", err)
	}
}

func TestParseStatusFilter(t *testing.T) {
	got, err := ParseStatusFilter("pending, ready,")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != enum.OrderStatusPending || got[1] != enum.OrderStatusReady {
		t.Fatalf("unexpected filter %v", got)
	}
	if got, err := ParseStatusFilter(""); err != nil || len(got) != 0 {
		t.Fatalf("empty filter: %v %v", got, err)
	}
	if _, err := ParseStatusFilter("pending,served"); !errors.Is(err, service.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// --- Handler ---

type fakeTokens struct {
	userID uuid.UUID
}

func (f fakeTokens) Validate(token string) (*auth.Claims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return &auth.Claims{UserID: f.userID}, nil
}

type fakePrincipals struct {
	principal *authz.Principal
}

func (f fakePrincipals) LoadPrincipal(ctx context.Context, id uuid.UUID) (*authz.Principal, error) {
	return f.principal, nil
}

type fakeOrders struct {
	mu     sync.Mutex
	calls  int
	last   service.ListOrdersParams
	orders []service.OrderView
	err    error
	// onList runs before the orders are returned, e.g. to commit a change
	// concurrently with the snapshot read.
	onList func()
}

func (f *fakeOrders) ListOrders(ctx context.Context, actor *authz.Principal, params service.ListOrdersParams) ([]service.OrderView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = params
	if f.err != nil {
		return nil, f.err
	}
	if err := authz.Check(actor, authz.Requirement{}.ForRestaurant(params.RestaurantID)); err != nil {
		return nil, err
	}
	if f.onList != nil {
		f.onList()
	}
	return f.orders, nil
}

func newTestServer(t *testing.T, hub *Hub, restaurantID uuid.UUID, orders *fakeOrders) *httptest.Server {
	t.Helper()
	principal := &authz.Principal{
		UserID:       uuid.New(),
		Role:         enum.UserRoleWaiter,
		RestaurantID: uuid.NullUUID{UUID: restaurantID, Valid: true},
		Permissions:  []string{enum.PermissionManageOrders},
		IsActive:     true,
	}
	h := NewHandler(hub, fakeTokens{userID: principal.UserID}, fakePrincipals{principal: principal}, orders, logging.Discard())
	r := chi.NewRouter()
	r.Get("/ws/restaurants/{rid}/orders", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandlerRejectsBeforeUpgrade(t *testing.T) {
	hub := startHub(t)
	restaurantID := uuid.New()
	orders := &fakeOrders{}
	srv := newTestServer(t, hub, restaurantID, orders)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing token", "/ws/restaurants/" + restaurantID.String() + "/orders", http.StatusUnauthorized},
		{"bad token", "/ws/restaurants/" + restaurantID.String() + "/orders?token=bad", http.StatusUnauthorized},
		{"bad restaurant id", "/ws/restaurants/nope/orders?token=good", http.StatusBadRequest},
		{"bad filter", "/ws/restaurants/" + restaurantID.String() + "/orders?token=good&status=served", http.StatusBadRequest},
		{"other restaurant", "/ws/restaurants/" + uuid.New().String() + "/orders?token=good", http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tc.path)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
	time.Sleep(10 * time.Millisecond)
	if hub.RoomSize(restaurantID) != 0 {
		t.Fatal("rejected clients must not stay registered")
	}
}

func TestHandlerSnapshotEventsAndResync(t *testing.T) {
	hub := startHub(t)
	restaurantID := uuid.New()
	orders := &fakeOrders{orders: []service.OrderView{{ID: uuid.New(), RestaurantID: restaurantID, Status: enum.OrderStatusPending}}}
	srv := newTestServer(t, hub, restaurantID, orders)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/restaurants/" + restaurantID.String() + "/orders?token=good&status=pending"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() Message {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	msg := read()
	if msg.Type != events.TypeOrdersSnapshot {
		t.Fatalf("expected snapshot first, got %q", msg.Type)
	}
	var snap Snapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Orders) != 1 {
		t.Fatalf("expected 1 order in snapshot, got %d", len(snap.Orders))
	}
	if len(orders.last.Statuses) != 1 || orders.last.Statuses[0] != enum.OrderStatusPending {
		t.Fatalf("filter not passed to snapshot: %v", orders.last.Statuses)
	}

	if err := hub.Publish(context.Background(), events.Event{
		Type:         events.TypeOrderCreated,
		RestaurantID: restaurantID,
		Status:       enum.OrderStatusPending,
		Order:        json.RawMessage(`{"id":"new"}`),
	}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != events.TypeOrderCreated {
		t.Fatalf("expected order.created, got %q", msg.Type)
	}

	if err := conn.WriteJSON(Message{Type: MessageTypeResync}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != events.TypeOrdersSnapshot {
		t.Fatalf("expected snapshot after resync, got %q", msg.Type)
	}
}

func TestHandlerChangeDuringSnapshotIsNotOverwritten(t *testing.T) {
	restaurantID := uuid.New()
	orderID := uuid.New()
	readAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := []service.OrderView{{ID: orderID, RestaurantID: restaurantID, Status: enum.OrderStatusPending, UpdatedAt: readAt}}

	dial := func(t *testing.T, hub *Hub, orders *fakeOrders) func() Message {
		t.Helper()
		srv := newTestServer(t, hub, restaurantID, orders)
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/restaurants/" + restaurantID.String() + "/orders?token=good"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		return func() Message {
			t.Helper()
			conn.SetReadDeadline(time.Now().Add(time.Second))
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("read: %v", err)
			}
			return msg
		}
	}

	t.Run("change after the read is delivered after the snapshot", func(t *testing.T) {
		hub := startHub(t)
		orders := &fakeOrders{orders: stale}
		var once sync.Once
		orders.onList = func() {
			once.Do(func() {
				_ = hub.Publish(context.Background(), statusEvent(restaurantID, orderID, enum.OrderStatusPending, enum.OrderStatusConfirmed, readAt.Add(time.Second)))
			})
		}
		read := dial(t, hub, orders)

		msg := read()
		if msg.Type != events.TypeOrdersSnapshot {
			t.Fatalf("expected snapshot first, got %q", msg.Type)
		}
		var snap Snapshot
		if err := json.Unmarshal(msg.Payload, &snap); err != nil {
			t.Fatal(err)
		}
		if len(snap.Orders) != 1 || snap.Orders[0].Status != enum.OrderStatusPending {
			t.Fatalf("unexpected snapshot: %+v", snap.Orders)
		}

		msg = read()
		if msg.Type != events.TypeOrderStatusChanged {
			t.Fatalf("expected status change after snapshot, got %q", msg.Type)
		}
		var order struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(msg.Payload, &order); err != nil {
			t.Fatal(err)
		}
		if order.Status != enum.OrderStatusConfirmed {
			t.Fatalf("client should end at confirmed, got %q", order.Status)
		}
	})

	t.Run("change already in the snapshot is not repeated", func(t *testing.T) {
		hub := startHub(t)
		fresh := []service.OrderView{{ID: orderID, RestaurantID: restaurantID, Status: enum.OrderStatusConfirmed, UpdatedAt: readAt}}
		orders := &fakeOrders{orders: fresh}
		var once sync.Once
		orders.onList = func() {
			once.Do(func() {
				_ = hub.Publish(context.Background(), statusEvent(restaurantID, orderID, enum.OrderStatusPending, enum.OrderStatusConfirmed, readAt))
			})
		}
		read := dial(t, hub, orders)

		if msg := read(); msg.Type != events.TypeOrdersSnapshot {
			t.Fatalf("expected snapshot first, got %q", msg.Type)
		}
		if err := hub.Publish(context.Background(), events.Event{
			Type:         events.TypeOrderCreated,
			RestaurantID: restaurantID,
			Status:       enum.OrderStatusPending,
			Order:        json.RawMessage(`{"id":"next"}`),
		}); err != nil {
			t.Fatal(err)
		}
		if msg := read(); msg.Type != events.TypeOrderCreated {
			t.Fatalf("covered change should be skipped, got %q", msg.Type)
		}
	})
}
