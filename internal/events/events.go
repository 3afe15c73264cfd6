// Package events carries order changes from the lifecycle engine to
// live subscribers (dashboards over websocket, other services over AMQP).
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
	TypeOrdersSnapshot     = "orders.snapshot"
)

// Event is a committed change to one order. Order holds the full order
// document as served by the API.
type Event struct {
	Type           string          `json:"type"`
	RestaurantID   uuid.UUID       `json:"restaurant_id"`
	OrderID        uuid.UUID       `json:"order_id"`
	Status         string          `json:"status"`
	PreviousStatus string          `json:"previous_status,omitempty"`
	// UpdatedAt is the order's updated_at after the change.
	UpdatedAt      time.Time       `json:"updated_at"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Order          json.RawMessage `json:"order"`
}

// Publisher delivers events after the change has been committed.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers. A failing publisher does
// not stop the others; failures are logged and joined.
type Multi struct {
	publishers []Publisher
	logger     *logrus.Logger
}

func NewMulti(logger *logrus.Logger, publishers ...Publisher) *Multi {
	return &Multi{publishers: publishers, logger: logger}
}

func (m *Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"event":    ev.Type,
				"order_id": ev.OrderID,
			}).Warn("publish event")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
