package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/restrona-pos/api/internal/middleware"
)

// withActor stands in for middleware.Authenticate: it puts p in the
// request context. A nil p leaves the request unauthenticated.
func withActor(p *authz.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p != nil {
				r = r.WithContext(middleware.WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newRouter(p *authz.Principal) *chi.Mux {
	r := chi.NewRouter()
	r.Use(withActor(p))
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func decodeJSONArray(t *testing.T, rr *httptest.ResponseRecorder) []interface{} {
	t.Helper()
	var resp []interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, want, rr.Body.String())
	}
}

// --- Principals ---

func superAdmin() *authz.Principal {
	return &authz.Principal{
		UserID:      uuid.New(),
		Name:        "Root",
		Role:        enum.UserRoleSuperAdmin,
		Permissions: authz.DefaultPermissions(enum.UserRoleSuperAdmin),
		IsActive:    true,
	}
}

func restaurantAdmin(restaurantID uuid.UUID) *authz.Principal {
	return &authz.Principal{
		UserID:       uuid.New(),
		Name:         "Manager",
		Role:         enum.UserRoleRestaurantAdmin,
		RestaurantID: uuid.NullUUID{UUID: restaurantID, Valid: true},
		Permissions:  authz.DefaultPermissions(enum.UserRoleRestaurantAdmin),
		IsActive:     true,
	}
}

func waiter(restaurantID uuid.UUID) *authz.Principal {
	return &authz.Principal{
		UserID:       uuid.New(),
		Name:         "Waiter",
		Role:         enum.UserRoleWaiter,
		RestaurantID: uuid.NullUUID{UUID: restaurantID, Valid: true},
		Permissions:  authz.DefaultPermissions(enum.UserRoleWaiter),
		IsActive:     true,
	}
}
