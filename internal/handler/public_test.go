package handler_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/restrona-pos/api/internal/handler"
	"github.com/restrona-pos/api/internal/logging"
	"github.com/restrona-pos/api/internal/service"
)

// publicStore joins the registry mocks into a PublicMenuStore.
type publicStore struct {
	*mockRestaurantStore
	*mockMenuStore
	tables *mockTableStore
}

func (s publicStore) GetTable(ctx context.Context, arg database.GetTableParams) (database.RestaurantTable, error) {
	return s.tables.GetTable(ctx, arg)
}

type mockOrderSubmitter struct {
	created service.CreateOrderRequest
	err     error
	orders  map[uuid.UUID]*service.OrderView
}

func (m *mockOrderSubmitter) CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.OrderView, error) {
	m.created = req
	if m.err != nil {
		return nil, m.err
	}
	v := testOrderView(req.RestaurantID, enum.OrderStatusPending)
	v.TableID = req.TableID
	v.Customer = req.Customer
	return v, nil
}

func (m *mockOrderSubmitter) TrackOrder(ctx context.Context, orderID uuid.UUID, phone string) (*service.OrderView, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, service.ErrCustomerPhone
	}
	v, ok := m.orders[orderID]
	if !ok || v.Customer.Phone != phone {
		return nil, service.ErrOrderNotFound
	}
	return v, nil
}

type publicFixture struct {
	restaurant database.Restaurant
	table      database.RestaurantTable
	orders     *mockOrderSubmitter
	router     http.Handler
}

func setupPublic(t *testing.T) *publicFixture {
	t.Helper()
	rest := testRestaurant()
	table := testTable(rest.ID, "A1")
	soldOut := testMenuItem(rest.ID, "Rendang", "mains", "45000")
	soldOut.IsAvailable = false

	store := publicStore{
		mockRestaurantStore: newMockRestaurantStore(rest),
		mockMenuStore: newMockMenuStore(
			testMenuItem(rest.ID, "Nasi Goreng", "mains", "25000"),
			testMenuItem(rest.ID, "Es Jeruk", "drinks", "8000"),
			soldOut,
		),
		tables: newMockTableStore(table),
	}
	orders := &mockOrderSubmitter{orders: make(map[uuid.UUID]*service.OrderView)}

	h := handler.NewPublicHandler(store, orders, logging.Discard())
	r := newRouter(nil)
	r.Route("/public", h.RegisterRoutes)
	return &publicFixture{restaurant: rest, table: table, orders: orders, router: r}
}

// --- Tests ---

func TestPublicMenu(t *testing.T) {
	f := setupPublic(t)

	rr := doRequest(t, f.router, "GET", "/public/restaurants/"+f.restaurant.ID.String()+"/menu", nil)
	expectStatus(t, rr, http.StatusOK)

	resp := decodeJSON(t, rr)
	rest := resp["restaurant"].(map[string]interface{})
	if rest["accepting_orders"] != true {
		t.Errorf("accepting_orders: got %v", rest["accepting_orders"])
	}
	if _, ok := rest["settings"]; ok {
		t.Error("settings are staff-only")
	}
	if items := resp["items"].([]interface{}); len(items) != 2 {
		t.Errorf("items: got %d, want only the 2 available ones", len(items))
	}
	if _, ok := resp["table"]; ok {
		t.Error("table should be omitted without ?table=")
	}
}

func TestPublicMenu_WithTable(t *testing.T) {
	f := setupPublic(t)
	base := "/public/restaurants/" + f.restaurant.ID.String() + "/menu?table="

	rr := doRequest(t, f.router, "GET", base+f.table.ID.String(), nil)
	expectStatus(t, rr, http.StatusOK)
	table := decodeJSON(t, rr)["table"].(map[string]interface{})
	if table["table_number"] != "A1" {
		t.Errorf("table_number: got %v", table["table_number"])
	}

	rr = doRequest(t, f.router, "GET", base+uuid.New().String(), nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = doRequest(t, f.router, "GET", base+"A1", nil)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestPublicMenu_SuspendedRestaurant(t *testing.T) {
	f := setupPublic(t)
	store := newMockRestaurantStore()
	suspended := f.restaurant
	suspended.Status = enum.RestaurantStatusSuspended
	store.restaurants[suspended.ID] = suspended

	h := handler.NewPublicHandler(publicStore{
		mockRestaurantStore: store,
		mockMenuStore:       newMockMenuStore(),
		tables:              newMockTableStore(),
	}, f.orders, logging.Discard())
	r := newRouter(nil)
	r.Route("/public", h.RegisterRoutes)

	rr := doRequest(t, r, "GET", "/public/restaurants/"+suspended.ID.String()+"/menu", nil)
	expectStatus(t, rr, http.StatusOK)
	resp := decodeJSON(t, rr)
	if resp["restaurant"].(map[string]interface{})["accepting_orders"] != false {
		t.Error("suspended restaurant must not accept orders")
	}
	if items := resp["items"].([]interface{}); len(items) != 0 {
		t.Errorf("items: got %d, want empty array", len(items))
	}
}

func TestPublicMenu_UnknownRestaurant(t *testing.T) {
	f := setupPublic(t)

	rr := doRequest(t, f.router, "GET", "/public/restaurants/"+uuid.New().String()+"/menu", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestPublicCreateOrder(t *testing.T) {
	f := setupPublic(t)
	itemA, itemB := uuid.New(), uuid.New()

	rr := doRequest(t, f.router, "POST", "/public/restaurants/"+f.restaurant.ID.String()+"/tables/"+f.table.ID.String()+"/orders",
		map[string]interface{}{
			"customer": map[string]string{"name": "Ana", "phone": "+15550100", "notes": "no chili"},
			"items": []map[string]interface{}{
				{"menu_item_id": itemA.String(), "quantity": 2},
				{"menu_item_id": itemB.String(), "quantity": 1},
			},
			"total": "0.01",
		})
	expectStatus(t, rr, http.StatusCreated)

	got := f.orders.created
	if got.RestaurantID != f.restaurant.ID || got.TableID != f.table.ID {
		t.Errorf("ids: got %+v", got)
	}
	if len(got.Lines) != 2 || got.Lines[0].MenuItemID != itemA || got.Lines[0].Quantity != 2 {
		t.Errorf("lines: got %+v", got.Lines)
	}
	if got.Customer.Notes != "no chili" {
		t.Errorf("notes: got %q", got.Customer.Notes)
	}
	if resp := decodeJSON(t, rr); resp["status"] != enum.OrderStatusPending {
		t.Errorf("status: got %v", resp["status"])
	}
}

func TestPublicCreateOrder_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		items   []map[string]interface{}
		want    int
		message string
	}{
		{"bad menu item id", nil, []map[string]interface{}{{"menu_item_id": "x", "quantity": 1}}, http.StatusBadRequest, "invalid menu_item_id"},
		{"empty cart", service.ErrEmptyCart, nil, http.StatusBadRequest, "cart is empty"},
		{"quantity too large", service.ErrInvalidQuantity, nil, http.StatusBadRequest, "quantity must be between 1 and 999"},
		{"total too large", service.ErrOrderTooLarge, nil, http.StatusBadRequest, "order total exceeds 9999999999.99"},
		{"closed", service.ErrRestaurantClosed, nil, http.StatusBadRequest, "restaurant is not accepting orders"},
		{"unavailable item", service.ErrMenuItemUnavailable, nil, http.StatusBadRequest, "menu item is not available"},
		{"missing table", service.ErrTableNotFound, nil, http.StatusNotFound, "table not found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := setupPublic(t)
			f.orders.err = tc.err
			rr := doRequest(t, f.router, "POST", "/public/restaurants/"+f.restaurant.ID.String()+"/tables/"+f.table.ID.String()+"/orders",
				map[string]interface{}{
					"customer": map[string]string{"name": "Ana", "phone": "+15550100"},
					"items":    tc.items,
				})
			expectStatus(t, rr, tc.want)
			if resp := decodeJSON(t, rr); resp["error"] != tc.message {
				t.Errorf("error: got %v, want %q", resp["error"], tc.message)
			}
		})
	}
}

func TestPublicCreateOrder_Limits(t *testing.T) {
	f := setupPublic(t)
	path := "/public/restaurants/" + f.restaurant.ID.String() + "/tables/" + f.table.ID.String() + "/orders"

	items := make([]map[string]interface{}, service.MaxOrderLines+1)
	for i := range items {
		items[i] = map[string]interface{}{"menu_item_id": uuid.New().String(), "quantity": 1}
	}
	rr := doRequest(t, f.router, "POST", path, map[string]interface{}{
		"customer": map[string]string{"name": "Ana", "phone": "+15550100"},
		"items":    items,
	})
	expectStatus(t, rr, http.StatusBadRequest)
	if f.orders.created.Lines != nil {
		t.Error("oversized cart must not reach the order service")
	}

	rr = doRequest(t, f.router, "POST", path, map[string]interface{}{
		"customer": map[string]string{"name": "Ana", "phone": "+15550100", "notes": strings.Repeat("x", 70<<10)},
		"items":    items[:1],
	})
	expectStatus(t, rr, http.StatusRequestEntityTooLarge)
	if resp := decodeJSON(t, rr); resp["error"] != "request body too large" {
		t.Errorf("error: got %v", resp["error"])
	}
}

func TestPublicTrackOrder(t *testing.T) {
	f := setupPublic(t)
	view := testOrderView(f.restaurant.ID, enum.OrderStatusReady)
	view.Items = []service.OrderItemView{{ID: uuid.New(), Name: "Nasi Goreng", Price: "25000.00", Quantity: 2, Total: "50000.00"}}
	f.orders.orders[view.ID] = view

	rr := doRequest(t, f.router, "GET", "/public/orders/"+view.ID.String()+"?phone=%2B15550100", nil)
	expectStatus(t, rr, http.StatusOK)

	resp := decodeJSON(t, rr)
	if resp["status"] != enum.OrderStatusReady {
		t.Errorf("status: got %v", resp["status"])
	}
	if _, ok := resp["customer"]; ok {
		t.Error("tracking view must not echo customer details")
	}
	items := resp["items"].([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["total"] != "50000.00" {
		t.Errorf("items: got %v", items)
	}

	rr = doRequest(t, f.router, "GET", "/public/orders/"+view.ID.String()+"?phone=%2B19999999", nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = doRequest(t, f.router, "GET", "/public/orders/"+view.ID.String(), nil)
	expectStatus(t, rr, http.StatusBadRequest)
}
