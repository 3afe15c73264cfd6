package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// DayHours is one entry of a restaurant's weekly schedule. Times are "HH:MM".
type DayHours struct {
	Open   string `json:"open"`
	Close  string `json:"close"`
	IsOpen bool   `json:"isOpen"`
}

// OpeningHours maps a lower-case weekday name to its hours.
type OpeningHours map[string]DayHours

type RestaurantSettings struct {
	AutoAcceptOrders        bool `json:"autoAcceptOrders"`
	RequireTableReservation bool `json:"requireTableReservation"`
	AllowWalkIns            bool `json:"allowWalkIns"`
	MaxTableReservationSize int  `json:"maxTableReservationSize"`
	OrderPreparationTime    int  `json:"orderPreparationTime"`
	DeliveryRadius          int  `json:"deliveryRadius"`
}

// DefaultRestaurantSettings are applied to restaurants created without
// explicit settings.
func DefaultRestaurantSettings() RestaurantSettings {
	return RestaurantSettings{
		AutoAcceptOrders:        false,
		RequireTableReservation: false,
		AllowWalkIns:            true,
		MaxTableReservationSize: 8,
		OrderPreparationTime:    20,
		DeliveryRadius:          5,
	}
}

// DefaultOpeningHours is 09:00-22:00 every day.
func DefaultOpeningHours() OpeningHours {
	days := []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
	h := make(OpeningHours, len(days))
	for _, d := range days {
		h[d] = DayHours{Open: "09:00", Close: "22:00", IsOpen: true}
	}
	return h
}

type Restaurant struct {
	ID           uuid.UUID          `json:"id"`
	Name         string             `json:"name"`
	Type         string             `json:"type"`
	Description  string             `json:"description"`
	Phone        string             `json:"phone"`
	Email        string             `json:"email"`
	Website      string             `json:"website"`
	Address      string             `json:"address"`
	OpeningHours OpeningHours       `json:"opening_hours"`
	Settings     RestaurantSettings `json:"settings"`
	Status       string             `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

type User struct {
	ID                uuid.UUID          `json:"id"`
	Email             string             `json:"email"`
	HashedPassword    string             `json:"hashed_password"`
	Name              string             `json:"name"`
	Role              string             `json:"role"`
	RestaurantID      pgtype.UUID        `json:"restaurant_id"`
	Permissions       []string           `json:"permissions"`
	Phone             string             `json:"phone"`
	PhoneVerified     bool               `json:"phone_verified"`
	IsActive          bool               `json:"is_active"`
	PasswordUpdatedAt pgtype.Timestamptz `json:"password_updated_at"`
	PasswordUpdatedBy pgtype.UUID        `json:"password_updated_by"`
	CreatedBy         pgtype.UUID        `json:"created_by"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

type RestaurantTable struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	TableNumber  string    `json:"table_number"`
	Capacity     int32     `json:"capacity"`
	Status       string    `json:"status"`
	Location     string    `json:"location"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type MenuItem struct {
	ID           uuid.UUID      `json:"id"`
	RestaurantID uuid.UUID      `json:"restaurant_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Price        pgtype.Numeric `json:"price"`
	Category     string         `json:"category"`
	ImageUrl     pgtype.Text    `json:"image_url"`
	IsAvailable  bool           `json:"is_available"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type Order struct {
	ID            uuid.UUID      `json:"id"`
	RestaurantID  uuid.UUID      `json:"restaurant_id"`
	TableID       uuid.UUID      `json:"table_id"`
	CustomerName  string         `json:"customer_name"`
	CustomerPhone string         `json:"customer_phone"`
	CustomerNotes pgtype.Text    `json:"customer_notes"`
	Total         pgtype.Numeric `json:"total"`
	Status        string         `json:"status"`
	OrderType     string         `json:"order_type"`
	OrderNumber   string         `json:"order_number"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type OrderItem struct {
	ID         uuid.UUID      `json:"id"`
	OrderID    uuid.UUID      `json:"order_id"`
	MenuItemID uuid.UUID      `json:"menu_item_id"`
	Name       string         `json:"name"`
	Price      pgtype.Numeric `json:"price"`
	Quantity   int32          `json:"quantity"`
	Total      pgtype.Numeric `json:"total"`
	Position   int32          `json:"position"`
}

type OtpVerification struct {
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	IsUsed    bool      `json:"is_used"`
	Attempts  int32     `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}
