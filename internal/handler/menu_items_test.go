package handler_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/handler"
	"github.com/restrona-pos/api/internal/logging"
)

// --- Mock MenuStore ---

type mockMenuStore struct {
	items      map[uuid.UUID]database.MenuItem
	ordered    map[uuid.UUID]bool
	lastFilter database.ListMenuItemsParams
}

func newMockMenuStore(seed ...database.MenuItem) *mockMenuStore {
	m := &mockMenuStore{
		items:   make(map[uuid.UUID]database.MenuItem),
		ordered: make(map[uuid.UUID]bool),
	}
	for _, it := range seed {
		m.items[it.ID] = it
	}
	return m
}

func (m *mockMenuStore) ListMenuItems(ctx context.Context, arg database.ListMenuItemsParams) ([]database.MenuItem, error) {
	m.lastFilter = arg
	out := []database.MenuItem{}
	for _, it := range m.items {
		if it.RestaurantID != arg.RestaurantID {
			continue
		}
		if arg.Category.Valid && it.Category != arg.Category.String {
			continue
		}
		if arg.AvailableOnly && !it.IsAvailable {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (m *mockMenuStore) ListMenuCategories(ctx context.Context, restaurantID uuid.UUID) ([]string, error) {
	seen := map[string]bool{}
	out := []string{}
	for _, it := range m.items {
		if it.RestaurantID == restaurantID && it.IsAvailable && !seen[it.Category] {
			seen[it.Category] = true
			out = append(out, it.Category)
		}
	}
	return out, nil
}

func (m *mockMenuStore) GetMenuItem(ctx context.Context, arg database.GetMenuItemParams) (database.MenuItem, error) {
	it, ok := m.items[arg.ID]
	if !ok || it.RestaurantID != arg.RestaurantID {
		return database.MenuItem{}, pgx.ErrNoRows
	}
	return it, nil
}

func (m *mockMenuStore) CreateMenuItem(ctx context.Context, arg database.CreateMenuItemParams) (database.MenuItem, error) {
	it := database.MenuItem{
		ID:           uuid.New(),
		RestaurantID: arg.RestaurantID,
		Name:         arg.Name,
		Description:  arg.Description,
		Price:        arg.Price,
		Category:     arg.Category,
		ImageUrl:     arg.ImageUrl,
		IsAvailable:  arg.IsAvailable,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.items[it.ID] = it
	return it, nil
}

func (m *mockMenuStore) UpdateMenuItem(ctx context.Context, arg database.UpdateMenuItemParams) (database.MenuItem, error) {
	it, err := m.GetMenuItem(ctx, database.GetMenuItemParams{ID: arg.ID, RestaurantID: arg.RestaurantID})
	if err != nil {
		return it, err
	}
	it.Name, it.Description, it.Price, it.Category = arg.Name, arg.Description, arg.Price, arg.Category
	it.ImageUrl, it.IsAvailable = arg.ImageUrl, arg.IsAvailable
	m.items[it.ID] = it
	return it, nil
}

func (m *mockMenuStore) SetMenuItemAvailability(ctx context.Context, arg database.SetMenuItemAvailabilityParams) (database.MenuItem, error) {
	it, err := m.GetMenuItem(ctx, database.GetMenuItemParams{ID: arg.ID, RestaurantID: arg.RestaurantID})
	if err != nil {
		return it, err
	}
	it.IsAvailable = arg.IsAvailable
	m.items[it.ID] = it
	return it, nil
}

func (m *mockMenuStore) DeleteMenuItem(ctx context.Context, arg database.GetMenuItemParams) (int64, error) {
	if _, err := m.GetMenuItem(ctx, arg); err != nil || m.ordered[arg.ID] {
		return 0, nil
	}
	delete(m.items, arg.ID)
	return 1, nil
}

func testPrice(s string) pgtype.Numeric {
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		panic(err)
	}
	return n
}

func testMenuItem(restaurantID uuid.UUID, name, category, price string) database.MenuItem {
	return database.MenuItem{
		ID:           uuid.New(),
		RestaurantID: restaurantID,
		Name:         name,
		Category:     category,
		Price:        testPrice(price),
		IsAvailable:  true,
	}
}

func setupMenuRouter(store *mockMenuStore, actor *authz.Principal) http.Handler {
	h := handler.NewMenuHandler(store, logging.Discard())
	r := newRouter(actor)
	r.Route("/restaurants/{rid}/menu-items", h.RegisterRoutes)
	return r
}

// --- Tests ---

func TestMenuItemCreate(t *testing.T) {
	rid := uuid.New()
	store := newMockMenuStore()
	router := setupMenuRouter(store, restaurantAdmin(rid))

	rr := doRequest(t, router, "POST", "/restaurants/"+rid.String()+"/menu-items", map[string]interface{}{
		"name":     " Nasi Goreng ",
		"price":    "25000.5",
		"category": "mains",
	})
	expectStatus(t, rr, http.StatusCreated)

	resp := decodeJSON(t, rr)
	if resp["name"] != "Nasi Goreng" {
		t.Errorf("name: got %v", resp["name"])
	}
	if resp["price"] != "25000.50" {
		t.Errorf("price: got %v, want 25000.50", resp["price"])
	}
	if resp["is_available"] != true {
		t.Error("new items should be available by default")
	}
	if resp["image_url"] != nil {
		t.Errorf("image_url: got %v, want null", resp["image_url"])
	}
}

func TestMenuItemCreate_Validation(t *testing.T) {
	rid := uuid.New()
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing name", map[string]interface{}{"price": "10"}},
		{"negative price", map[string]interface{}{"name": "Tea", "price": "-1"}},
		{"non-numeric price", map[string]interface{}{"name": "Tea", "price": "cheap"}},
		{"missing price", map[string]interface{}{"name": "Tea"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMockMenuStore()
			router := setupMenuRouter(store, restaurantAdmin(rid))
			rr := doRequest(t, router, "POST", "/restaurants/"+rid.String()+"/menu-items", tc.body)
			expectStatus(t, rr, http.StatusBadRequest)
			if len(store.items) != 0 {
				t.Error("nothing should be stored")
			}
		})
	}
}

func TestMenuItemCreate_WaiterDenied(t *testing.T) {
	rid := uuid.New()
	router := setupMenuRouter(newMockMenuStore(), waiter(rid))

	rr := doRequest(t, router, "POST", "/restaurants/"+rid.String()+"/menu-items", map[string]interface{}{"name": "Tea", "price": "1"})
	expectStatus(t, rr, http.StatusForbidden)
	if resp := decodeJSON(t, rr); resp["reason"] != string(authz.ReasonMissingPermission) {
		t.Errorf("reason: got %v", resp["reason"])
	}
}

func TestMenuItemList_Filters(t *testing.T) {
	rid := uuid.New()
	soldOut := testMenuItem(rid, "Soto", "soups", "18000")
	soldOut.IsAvailable = false
	store := newMockMenuStore(
		testMenuItem(rid, "Sate", "grill", "30000"),
		testMenuItem(rid, "Bakso", "soups", "20000"),
		soldOut,
		testMenuItem(uuid.New(), "Elsewhere", "soups", "1"),
	)
	router := setupMenuRouter(store, waiter(rid))
	base := "/restaurants/" + rid.String() + "/menu-items"

	rr := doRequest(t, router, "GET", base, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeJSONArray(t, rr); len(got) != 3 {
		t.Errorf("all items: got %d, want 3", len(got))
	}

	rr = doRequest(t, router, "GET", base+"?category=soups&available=true", nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeJSONArray(t, rr); len(got) != 1 {
		t.Errorf("available soups: got %d, want 1", len(got))
	}
	if !store.lastFilter.AvailableOnly || store.lastFilter.Category.String != "soups" {
		t.Errorf("filter: got %+v", store.lastFilter)
	}
}

func TestMenuItemSetAvailability(t *testing.T) {
	rid := uuid.New()
	item := testMenuItem(rid, "Es Teh", "drinks", "5000")
	store := newMockMenuStore(item)
	router := setupMenuRouter(store, restaurantAdmin(rid))

	rr := doRequest(t, router, "PATCH", "/restaurants/"+rid.String()+"/menu-items/"+item.ID.String()+"/availability",
		map[string]bool{"is_available": false})
	expectStatus(t, rr, http.StatusOK)
	if store.items[item.ID].IsAvailable {
		t.Error("item should be unavailable")
	}

	rr = doRequest(t, router, "PATCH", "/restaurants/"+rid.String()+"/menu-items/"+uuid.New().String()+"/availability",
		map[string]bool{"is_available": true})
	expectStatus(t, rr, http.StatusNotFound)
}

func TestMenuItemUpdate_KeepsAvailabilityExplicit(t *testing.T) {
	rid := uuid.New()
	item := testMenuItem(rid, "Es Teh", "drinks", "5000")
	store := newMockMenuStore(item)
	router := setupMenuRouter(store, restaurantAdmin(rid))

	rr := doRequest(t, router, "PUT", "/restaurants/"+rid.String()+"/menu-items/"+item.ID.String(), map[string]interface{}{
		"name":         "Es Teh Manis",
		"price":        "6000",
		"category":     "drinks",
		"is_available": false,
	})
	expectStatus(t, rr, http.StatusOK)

	got := store.items[item.ID]
	if got.Name != "Es Teh Manis" || got.IsAvailable {
		t.Errorf("item: got %+v", got)
	}
	if resp := decodeJSON(t, rr); resp["price"] != "6000.00" {
		t.Errorf("price: got %v", resp["price"])
	}
}

func TestMenuItemDelete(t *testing.T) {
	rid := uuid.New()
	fresh := testMenuItem(rid, "New", "mains", "1")
	ordered := testMenuItem(rid, "Old", "mains", "1")
	store := newMockMenuStore(fresh, ordered)
	store.ordered[ordered.ID] = true
	router := setupMenuRouter(store, restaurantAdmin(rid))
	base := "/restaurants/" + rid.String() + "/menu-items/"

	rr := doRequest(t, router, "DELETE", base+fresh.ID.String(), nil)
	expectStatus(t, rr, http.StatusNoContent)

	rr = doRequest(t, router, "DELETE", base+ordered.ID.String(), nil)
	expectStatus(t, rr, http.StatusConflict)

	rr = doRequest(t, router, "DELETE", base+uuid.New().String(), nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = doRequest(t, router, "DELETE", base+"not-a-uuid", nil)
	expectStatus(t, rr, http.StatusBadRequest)
}
