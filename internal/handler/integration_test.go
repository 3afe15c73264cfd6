//go:build integration

package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/restrona-pos/api/internal/auth"
	"github.com/restrona-pos/api/internal/config"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/logging"
	"github.com/restrona-pos/api/internal/router"
	"github.com/restrona-pos/api/internal/ws"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestIntegrationFlow runs the restaurant lifecycle through the real router
// against PostgreSQL: a super admin sets up a restaurant, a customer orders
// from a table, and a waiter walks the order to delivered.
func TestIntegrationFlow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgContainer, connStr, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	runMigrations(t, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	cfg := &config.Config{
		Port:               "8081",
		DatabaseURL:        connStr,
		JWTSecret:          "integration-test-secret",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    time.Hour,
		AllowedOrigins:     []string{"http://localhost:3000"},
		OTPTTL:             5 * time.Minute,
		LoginRatePerMinute: 100,
		PersistenceRetries: 2,
	}
	logger := logging.Discard()
	queries := database.New(pool)
	hub := ws.NewHub()
	go hub.Run(ctx)

	server := httptest.NewServer(router.New(cfg, logger, queries, pool, hub, hub))
	defer server.Close()

	// --- 1. Bootstrap super admin (the seed command does this in production) ---
	adminID := createSuperAdmin(t, ctx, pool, "root@test.com", "password123")
	adminToken := login(t, server, "root@test.com", "password123")

	// --- 2. Super admin creates a restaurant ---
	restaurant := httpJSON(t, server, "POST", "/restaurants", map[string]interface{}{
		"name": "Warung Integrasi",
		"type": "indonesian",
	}, adminToken, http.StatusCreated)
	restaurantID := restaurant["id"].(string)

	// --- 3. Restaurant admin and waiter accounts ---
	httpJSON(t, server, "POST", "/users", map[string]interface{}{
		"email":         "manager@test.com",
		"password":      "password123",
		"name":          "Manager",
		"role":          "restaurant_admin",
		"restaurant_id": restaurantID,
	}, adminToken, http.StatusCreated)
	managerToken := login(t, server, "manager@test.com", "password123")

	waiter := httpJSON(t, server, "POST", "/restaurants/"+restaurantID+"/staff", map[string]interface{}{
		"email":    "waiter@test.com",
		"password": "password123",
		"name":     "Waiter",
	}, managerToken, http.StatusCreated)
	if waiter["role"] != "waiter" {
		t.Fatalf("staff role: got %v, want waiter", waiter["role"])
	}
	waiterToken := login(t, server, "waiter@test.com", "password123")

	// --- 4. Manager sets up a table and the menu ---
	table := httpJSON(t, server, "POST", "/restaurants/"+restaurantID+"/tables", map[string]interface{}{
		"table_number": "A1",
		"capacity":     4,
	}, managerToken, http.StatusCreated)
	tableID := table["id"].(string)

	nasi := httpJSON(t, server, "POST", "/restaurants/"+restaurantID+"/menu-items", map[string]interface{}{
		"name": "Nasi Goreng", "price": "25000", "category": "mains",
	}, managerToken, http.StatusCreated)
	teh := httpJSON(t, server, "POST", "/restaurants/"+restaurantID+"/menu-items", map[string]interface{}{
		"name": "Es Teh", "price": "5000.50", "category": "drinks",
	}, managerToken, http.StatusCreated)

	// The waiter may not edit the menu.
	httpJSON(t, server, "POST", "/restaurants/"+restaurantID+"/menu-items", map[string]interface{}{
		"name": "Free Food", "price": "0",
	}, waiterToken, http.StatusForbidden)

	// --- 5. Customer reads the QR menu and orders ---
	menu := httpJSON(t, server, "GET", "/public/restaurants/"+restaurantID+"/menu?table="+tableID, nil, "", http.StatusOK)
	if items := menu["items"].([]interface{}); len(items) != 2 {
		t.Fatalf("public menu items: got %d, want 2", len(items))
	}

	order := httpJSON(t, server, "POST", "/public/restaurants/"+restaurantID+"/tables/"+tableID+"/orders", map[string]interface{}{
		"customer": map[string]string{"name": "Ana", "phone": "+15550100"},
		"items": []map[string]interface{}{
			{"menu_item_id": nasi["id"], "quantity": 2},
			{"menu_item_id": teh["id"], "quantity": 1},
		},
		"total": "1.00",
	}, "", http.StatusCreated)
	orderID := order["id"].(string)

	// Prices come from the menu: 2*25000 + 5000.50
	if order["total"] != "55000.50" {
		t.Fatalf("order total: got %v, want 55000.50", order["total"])
	}
	if order["status"] != "pending" {
		t.Fatalf("order status: got %v, want pending", order["status"])
	}

	tableAfter := httpJSON(t, server, "GET", "/restaurants/"+restaurantID+"/tables/"+tableID, nil, waiterToken, http.StatusOK)
	if tableAfter["status"] != "occupied" {
		t.Fatalf("table status after order: got %v, want occupied", tableAfter["status"])
	}

	// --- 6. Waiter walks the order through its lifecycle ---
	advance := func(target, expected string, want int) map[string]interface{} {
		t.Helper()
		return httpJSON(t, server, "PATCH", "/restaurants/"+restaurantID+"/orders/"+orderID+"/status", map[string]string{
			"status":          target,
			"expected_status": expected,
		}, waiterToken, want)
	}

	advance("delivered", "", http.StatusUnprocessableEntity)
	advance("confirmed", "pending", http.StatusOK)
	advance("preparing", "pending", http.StatusConflict)
	advance("preparing", "confirmed", http.StatusOK)
	advance("ready", "", http.StatusOK)
	final := advance("delivered", "ready", http.StatusOK)
	if next := final["next_statuses"].([]interface{}); len(next) != 0 {
		t.Fatalf("delivered order next_statuses: got %v, want none", next)
	}

	tableAfter = httpJSON(t, server, "GET", "/restaurants/"+restaurantID+"/tables/"+tableID, nil, waiterToken, http.StatusOK)
	if tableAfter["status"] != "available" {
		t.Fatalf("table status after delivery: got %v, want available", tableAfter["status"])
	}

	// --- 7. Customer tracks the order ---
	tracked := httpJSON(t, server, "GET", "/public/orders/"+orderID+"?phone=%2B15550100", nil, "", http.StatusOK)
	if tracked["status"] != "delivered" {
		t.Fatalf("tracked status: got %v", tracked["status"])
	}

	// --- 8. Analytics see the delivered revenue ---
	summary := httpJSON(t, server, "GET", "/restaurants/"+restaurantID+"/analytics/summary", nil, managerToken, http.StatusOK)
	if summary["revenue"] != "55000.50" || summary["delivered_orders"] != float64(1) {
		t.Fatalf("summary: got revenue=%v delivered=%v", summary["revenue"], summary["delivered_orders"])
	}

	// --- 9. Tenant isolation ---
	other := httpJSON(t, server, "POST", "/restaurants", map[string]interface{}{"name": "Other"}, adminToken, http.StatusCreated)
	httpJSON(t, server, "GET", "/restaurants/"+other["id"].(string)+"/orders", nil, waiterToken, http.StatusForbidden)

	t.Logf("Integration test passed: container=%s, admin=%s, restaurant=%s, order=%s",
		pgContainer.GetContainerID(), adminID, restaurantID, orderID)
}

// --- Setup helpers ---

func setupPostgresContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string, func()) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("pos_test"),
		tcpostgres.WithUsername("pos"),
		tcpostgres.WithPassword("pos"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	cleanup := func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}
	return pgContainer, connStr, cleanup
}

func runMigrations(t *testing.T, connStr string) {
	t.Helper()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open db for migrations: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		t.Fatalf("create migrate driver: %v", err)
	}

	// Go test sets cwd to the package directory.
	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	if err != nil {
		t.Fatalf("create migrate instance: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("run migrations: %v", err)
	}
}

func createSuperAdmin(t *testing.T, ctx context.Context, pool *pgxpool.Pool, email, password string) uuid.UUID {
	t.Helper()

	hashed, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	var id uuid.UUID
	err = pool.QueryRow(ctx,
		`INSERT INTO users (email, hashed_password, name, role)
		 VALUES ($1, $2, $3, 'super_admin')
		 RETURNING id`,
		email, hashed, "Root",
	).Scan(&id)
	if err != nil {
		t.Fatalf("create super admin: %v", err)
	}
	return id
}

// --- HTTP helpers ---

func login(t *testing.T, server *httptest.Server, email, password string) string {
	t.Helper()
	resp := httpJSON(t, server, "POST", "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "", http.StatusOK)
	token, ok := resp["access_token"].(string)
	if !ok || token == "" {
		t.Fatalf("login failed: no access_token in response: %+v", resp)
	}
	return token
}

// httpJSON sends body as JSON, asserts the status and decodes an object
// response. Non-object responses decode to nil.
func httpJSON(t *testing.T, server *httptest.Server, method, path string, body interface{}, token string, want int) map[string]interface{} {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != want {
		t.Fatalf("%s %s: got status %d, want %d; body: %v", method, path, resp.StatusCode, want, out)
	}
	return out
}
