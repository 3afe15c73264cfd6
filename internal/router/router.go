package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/restrona-pos/api/internal/auth"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/config"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/restrona-pos/api/internal/events"
	"github.com/restrona-pos/api/internal/handler"
	mw "github.com/restrona-pos/api/internal/middleware"
	"github.com/restrona-pos/api/internal/service"
	"github.com/restrona-pos/api/internal/ws"
	"github.com/sirupsen/logrus"
)

// New creates a Chi router with all application routes wired up.
// Order events go to publisher; pass the hub (or a fan-out including it) so
// websocket subscribers see changes.
func New(cfg *config.Config, logger *logrus.Logger, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub, publisher events.Publisher) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Services
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	otpService := service.NewOTPService(queries, service.LogSender{Logger: logger}, cfg.OTPTTL, logger)
	userService := service.NewUserService(queries, otpService, logger)
	orderService := service.NewOrderService(
		pool,
		queries,
		func(db database.DBTX) service.OrderStore {
			return database.New(db)
		},
		publisher,
		logger,
		cfg.PersistenceRetries,
	)

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if err := pool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded","database":"unreachable"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	// Auth routes (public, rate limited per client IP)
	authHandler := handler.NewAuthHandler(userService, otpService, issuer, logger)
	limiter := mw.NewIPRateLimiter(cfg.LoginRatePerMinute, cfg.LoginRatePerMinute)
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(limiter))
		authHandler.RegisterRoutes(r)
	})

	// Customer routes: QR menu, order placement, tracking
	publicHandler := handler.NewPublicHandler(queries, orderService, logger)
	r.Route("/public", publicHandler.RegisterRoutes)

	// WebSocket route (handles auth internally via query param)
	r.Method(http.MethodGet, "/ws/restaurants/{rid}/orders", ws.NewHandler(hub, issuer, userService, orderService, logger))

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(issuer, userService))

		authHandler.RegisterProtectedRoutes(r)

		userHandler := handler.NewUserHandler(userService, logger)
		restaurantHandler := handler.NewRestaurantHandler(queries, logger)
		analyticsHandler := handler.NewAnalyticsHandler(queries, logger)

		// Super admin routes (not restaurant-scoped)
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleSuperAdmin))
			r.Route("/users", userHandler.RegisterRoutes)
		})
		r.Route("/analytics", analyticsHandler.RegisterAdminRoutes)

		r.Route("/restaurants", func(r chi.Router) {
			restaurantHandler.RegisterRoutes(r)

			// Restaurant-scoped routes
			r.Route("/{rid}", func(r chi.Router) {
				restaurantHandler.RegisterScopedRoutes(r)

				tableHandler := handler.NewTableHandler(queries, logger)
				r.Route("/tables", tableHandler.RegisterRoutes)

				menuHandler := handler.NewMenuHandler(queries, logger)
				r.Route("/menu-items", menuHandler.RegisterRoutes)

				r.Route("/staff", func(r chi.Router) {
					r.Use(mw.RequireAccess(authz.Requirement{
						Roles:      []string{enum.UserRoleRestaurantAdmin},
						Permission: enum.PermissionManageStaff,
					}))
					userHandler.RegisterRoutes(r)
				})

				orderHandler := handler.NewOrderHandler(orderService, logger)
				r.Route("/orders", orderHandler.RegisterRoutes)

				r.Route("/analytics", analyticsHandler.RegisterRoutes)
			})
		})
	})

	logger.Info("router initialized")
	return r
}
