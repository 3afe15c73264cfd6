package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/restrona-pos/api/internal/auth"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/config"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/restrona-pos/api/internal/logging"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func main() {
	// CLI flags
	email := flag.String("email", "", "Super admin email address")
	password := flag.String("password", "", "Super admin password")
	name := flag.String("name", "", "Super admin display name")
	demo := flag.Bool("demo", false, "Also create a demo restaurant with tables and a menu")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	// Fall back to environment variables, then defaults
	if *email == "" {
		*email = envOr("SEED_EMAIL", "admin@restrona.local")
	}
	if *password == "" {
		*password = os.Getenv("SEED_PASSWORD")
	}
	if *password == "" {
		*password = "password123"
		logger.Warn("using default password 'password123'; change it immediately in production")
	}
	if *name == "" {
		*name = envOr("SEED_NAME", "Super Admin")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("unable to connect to database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.WithError(err).Fatal("unable to ping database")
	}
	logger.Info("connected to database")

	// Seed in a transaction: everything or nothing.
	tx, err := pool.Begin(ctx)
	if err != nil {
		logger.WithError(err).Fatal("begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	q := database.New(tx)

	adminID, err := seedSuperAdmin(ctx, q, logger, *email, *password, *name)
	if err != nil {
		logger.WithError(err).Fatal("seed super admin")
	}

	if *demo {
		if err := seedDemoRestaurant(ctx, tx, q, logger, adminID); err != nil {
			logger.WithError(err).Fatal("seed demo restaurant")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		logger.WithError(err).Fatal("commit")
	}
	logger.WithField("user_id", adminID).Info("seed completed")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// seedSuperAdmin creates the super admin unless the email is taken.
func seedSuperAdmin(ctx context.Context, q *database.Queries, logger *logrus.Logger, email, password, name string) (uuid.UUID, error) {
	existing, err := q.GetUserByEmail(ctx, email)
	if err == nil {
		logger.WithField("user_id", existing.ID).Infof("user %q already exists, skipping", email)
		return existing.ID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("check user: %w", err)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hash password: %w", err)
	}
	u, err := q.CreateUser(ctx, database.CreateUserParams{
		Email:          email,
		HashedPassword: hashed,
		Name:           name,
		Role:           enum.UserRoleSuperAdmin,
		Permissions:    authz.DefaultPermissions(enum.UserRoleSuperAdmin),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert user: %w", err)
	}
	logger.WithField("user_id", u.ID).Infof("created super admin %q", email)
	return u.ID, nil
}

// seedDemoRestaurant creates a restaurant with a restaurant admin, a waiter,
// tables and a small menu. Skipped when a restaurant of the same name exists.
func seedDemoRestaurant(ctx context.Context, tx pgx.Tx, q *database.Queries, logger *logrus.Logger, adminID uuid.UUID) error {
	const restaurantName = "Demo Bistro"

	var existingID uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM restaurants WHERE name = $1 LIMIT 1`, restaurantName).Scan(&existingID)
	if err == nil {
		logger.WithField("restaurant_id", existingID).Infof("restaurant %q already exists, skipping", restaurantName)
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check restaurant: %w", err)
	}

	rest, err := q.CreateRestaurant(ctx, database.CreateRestaurantParams{
		Name:         restaurantName,
		Type:         "bistro",
		Description:  "Demo restaurant created by the seed command",
		Phone:        "+15550100",
		Address:      "1 Demo Street",
		OpeningHours: database.DefaultOpeningHours(),
		Settings:     database.DefaultRestaurantSettings(),
		Status:       enum.RestaurantStatusActive,
	})
	if err != nil {
		return fmt.Errorf("insert restaurant: %w", err)
	}
	rid := pgtype.UUID{Bytes: rest.ID, Valid: true}
	createdBy := pgtype.UUID{Bytes: adminID, Valid: true}

	staff := []struct {
		email, name, role string
	}{
		{"manager@demo.local", "Demo Manager", enum.UserRoleRestaurantAdmin},
		{"waiter@demo.local", "Demo Waiter", enum.UserRoleWaiter},
	}
	hashed, err := auth.HashPassword("password123")
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	for _, s := range staff {
		if _, err := q.CreateUser(ctx, database.CreateUserParams{
			Email:          s.email,
			HashedPassword: hashed,
			Name:           s.name,
			Role:           s.role,
			RestaurantID:   rid,
			Permissions:    authz.DefaultPermissions(s.role),
			CreatedBy:      createdBy,
		}); err != nil {
			return fmt.Errorf("insert %s: %w", s.email, err)
		}
	}

	for i := 1; i <= 6; i++ {
		if _, err := q.CreateTable(ctx, database.CreateTableParams{
			RestaurantID: rest.ID,
			TableNumber:  fmt.Sprintf("T%d", i),
			Capacity:     4,
			Status:       enum.TableStatusAvailable,
			Location:     "main hall",
		}); err != nil {
			return fmt.Errorf("insert table T%d: %w", i, err)
		}
	}

	menu := []struct {
		name, category, price string
	}{
		{"Margherita Pizza", "mains", "12.50"},
		{"Caesar Salad", "starters", "8.00"},
		{"Tomato Soup", "starters", "6.50"},
		{"Grilled Salmon", "mains", "18.90"},
		{"Lemonade", "drinks", "3.20"},
		{"Espresso", "drinks", "2.50"},
	}
	for _, m := range menu {
		var price pgtype.Numeric
		if err := price.Scan(decimal.RequireFromString(m.price).StringFixed(2)); err != nil {
			return fmt.Errorf("price %s: %w", m.name, err)
		}
		if _, err := q.CreateMenuItem(ctx, database.CreateMenuItemParams{
			RestaurantID: rest.ID,
			Name:         m.name,
			Price:        price,
			Category:     m.category,
			IsAvailable:  true,
		}); err != nil {
			return fmt.Errorf("insert menu item %s: %w", m.name, err)
		}
	}

	logger.WithFields(logrus.Fields{
		"restaurant_id": rest.ID,
		"tables":        6,
		"menu_items":    len(menu),
	}).Infof("created demo restaurant %q (staff password: password123)", restaurantName)
	return nil
}
