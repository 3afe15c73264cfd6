package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/cart"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/restrona-pos/api/internal/events"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxOrderNumberRetries = 3

// MaxOrderLines bounds the lines of one submitted order.
const MaxOrderLines = 100

// maxOrderTotal is the largest value a NUMERIC(12, 2) money column holds.
var maxOrderTotal = decimal.RequireFromString("9999999999.99")

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// allowedTransitions is the order state machine. delivered and cancelled
// have no successors.
var allowedTransitions = map[string][]string{
	enum.OrderStatusPending:   {enum.OrderStatusConfirmed, enum.OrderStatusCancelled},
	enum.OrderStatusConfirmed: {enum.OrderStatusPreparing},
	enum.OrderStatusPreparing: {enum.OrderStatusReady},
	enum.OrderStatusReady:     {enum.OrderStatusDelivered},
}

// CanTransition reports whether to is a direct successor of from.
func CanTransition(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the legal successors of status.
func NextStatuses(status string) []string {
	return append([]string(nil), allowedTransitions[status]...)
}

// orderManagement is what staff need to read or advance orders.
var orderManagement = authz.Requirement{
	Roles:      []string{enum.UserRoleRestaurantAdmin, enum.UserRoleWaiter},
	Permission: enum.PermissionManageOrders,
}

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed by the order lifecycle.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetRestaurant(ctx context.Context, id uuid.UUID) (database.Restaurant, error)
	GetTableForUpdate(ctx context.Context, arg database.GetTableParams) (database.RestaurantTable, error)
	UpdateTableStatus(ctx context.Context, arg database.UpdateTableStatusParams) (database.RestaurantTable, error)
	GetMenuItemForOrder(ctx context.Context, arg database.GetMenuItemParams) (database.GetMenuItemForOrderRow, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOrderItemsByOrders(ctx context.Context, orderIDs []uuid.UUID) ([]database.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	CountOpenOrdersForTable(ctx context.Context, tableID uuid.UUID) (int64, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// CustomerInfo identifies the person who placed an order.
type CustomerInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Notes string `json:"notes,omitempty"`
}

// OrderLine is one submitted cart entry. Prices are never taken from the
// client.
type OrderLine struct {
	MenuItemID uuid.UUID
	Quantity   int
}

type CreateOrderRequest struct {
	RestaurantID uuid.UUID
	TableID      uuid.UUID
	Customer     CustomerInfo
	Lines        []OrderLine
}

type AdvanceStatusRequest struct {
	OrderID uuid.UUID
	// RestaurantID, when set, must own the order.
	RestaurantID uuid.UUID
	Target       string
	// Expected is the status the caller last saw. Empty means "whatever
	// is stored now".
	Expected string
}

type ListOrdersParams struct {
	RestaurantID uuid.UUID
	Statuses     []string
	Limit        int
	Offset       int
}

// OrderView is the order document served to staff, customers and
// subscribers.
type OrderView struct {
	ID           uuid.UUID       `json:"id"`
	RestaurantID uuid.UUID       `json:"restaurant_id"`
	TableID      uuid.UUID       `json:"table_id"`
	OrderNumber  string          `json:"order_number"`
	Customer     CustomerInfo    `json:"customer"`
	Items        []OrderItemView `json:"items"`
	Total        string          `json:"total"`
	Status       string          `json:"status"`
	NextStatuses []string        `json:"next_statuses"`
	OrderType    string          `json:"order_type"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type OrderItemView struct {
	ID         uuid.UUID `json:"id"`
	MenuItemID uuid.UUID `json:"menu_item_id"`
	Name       string    `json:"name"`
	Price      string    `json:"price"`
	Quantity   int32     `json:"quantity"`
	Total      string    `json:"total"`
}

// NewOrderView builds the order document from its rows.
func NewOrderView(o database.Order, items []database.OrderItem) OrderView {
	v := OrderView{
		ID:           o.ID,
		RestaurantID: o.RestaurantID,
		TableID:      o.TableID,
		OrderNumber:  o.OrderNumber,
		Customer: CustomerInfo{
			Name:  o.CustomerName,
			Phone: o.CustomerPhone,
			Notes: o.CustomerNotes.String,
		},
		Items:        make([]OrderItemView, 0, len(items)),
		Total:        NumericString(o.Total),
		Status:       o.Status,
		NextStatuses: NextStatuses(o.Status),
		OrderType:    o.OrderType,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	if v.NextStatuses == nil {
		v.NextStatuses = []string{}
	}
	for _, it := range items {
		v.Items = append(v.Items, OrderItemView{
			ID:         it.ID,
			MenuItemID: it.MenuItemID,
			Name:       it.Name,
			Price:      NumericString(it.Price),
			Quantity:   it.Quantity,
			Total:      NumericString(it.Total),
		})
	}
	return v
}

// OrderService is the order lifecycle engine: it creates orders from a
// cart and moves them through the status state machine.
type OrderService struct {
	pool      TxBeginner
	store     OrderStore
	newStore  NewOrderStore
	publisher events.Publisher
	logger    *logrus.Logger
	retries   int
	now       func() time.Time
}

// NewOrderService creates a new OrderService. store serves reads outside a
// transaction; newStore builds tx-scoped stores for writes.
func NewOrderService(pool TxBeginner, store OrderStore, newStore NewOrderStore, publisher events.Publisher, logger *logrus.Logger, retries int) *OrderService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &OrderService{
		pool:      pool,
		store:     store,
		newStore:  newStore,
		publisher: publisher,
		logger:    logger,
		retries:   retries,
		now:       time.Now,
	}
}

var orderSeq atomic.Uint32

// nextOrderNumber is ORD<unix millis><2-digit sequence>. The sequence keeps
// numbers unique within a process for up to 100 orders per millisecond; the
// unique constraint and retry loop cover collisions across processes.
func nextOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD%d%02d", now.UnixMilli(), orderSeq.Add(1)%100)
}

// CreateOrder validates the cart, prices it from the menu, and persists a
// pending order together with its items in one transaction. The table is
// marked occupied in the same transaction.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderView, error) {
	customer := CustomerInfo{
		Name:  strings.TrimSpace(req.Customer.Name),
		Phone: strings.TrimSpace(req.Customer.Phone),
		Notes: strings.TrimSpace(req.Customer.Notes),
	}
	if len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	if len(req.Lines) > MaxOrderLines {
		return nil, ErrTooManyLines
	}
	if customer.Name == "" {
		return nil, ErrCustomerName
	}
	if customer.Phone == "" {
		return nil, ErrCustomerPhone
	}

	// Merge duplicate lines before pricing.
	basket := cart.New()
	for i, l := range req.Lines {
		if err := basket.AddQuantity(cart.Item{ID: l.MenuItemID}, l.Quantity); err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidQuantity)
		}
	}

	var (
		order database.Order
		items []database.OrderItem
	)
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		err := withRetry(ctx, s.retries, func() error {
			var txErr error
			order, items, txErr = s.createOrderTx(ctx, req.RestaurantID, req.TableID, customer, basket.Lines())
			return txErr
		})
		if err == nil {
			lastErr = nil
			break
		}
		if isOrderNumberConflict(err) {
			lastErr = err
			continue
		}
		return nil, persistenceError("create order", err)
	}
	if lastErr != nil {
		return nil, persistenceError("create order", lastErr)
	}

	view := NewOrderView(order, items)
	s.publish(ctx, events.TypeOrderCreated, "", view)

	s.logger.WithFields(logrus.Fields{
		"order_id":      order.ID,
		"order_number":  order.OrderNumber,
		"restaurant_id": order.RestaurantID,
		"total":         view.Total,
	}).Info("order created")

	return &view, nil
}

// isOrderNumberConflict checks if the error is a unique constraint violation
// on the order number (pgconn error code 23505).
func isOrderNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_order_number_key"
	}
	return false
}

func (s *OrderService) createOrderTx(ctx context.Context, restaurantID, tableID uuid.UUID, customer CustomerInfo, lines []cart.Line) (database.Order, []database.OrderItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	restaurant, err := store.GetRestaurant(ctx, restaurantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, nil, ErrRestaurantNotFound
		}
		return database.Order{}, nil, fmt.Errorf("get restaurant: %w", err)
	}
	if restaurant.Status != enum.RestaurantStatusActive {
		return database.Order{}, nil, ErrRestaurantClosed
	}

	table, err := store.GetTableForUpdate(ctx, database.GetTableParams{ID: tableID, RestaurantID: restaurantID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, nil, ErrTableNotFound
		}
		return database.Order{}, nil, fmt.Errorf("get table: %w", err)
	}
	if table.Status == enum.TableStatusMaintenance {
		return database.Order{}, nil, ErrTableUnavailable
	}

	priced := cart.New()
	for i, l := range lines {
		item, err := store.GetMenuItemForOrder(ctx, database.GetMenuItemParams{ID: l.MenuItemID, RestaurantID: restaurantID})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return database.Order{}, nil, fmt.Errorf("items[%d]: %w", i, ErrMenuItemNotFound)
			}
			return database.Order{}, nil, fmt.Errorf("items[%d]: get menu item: %w", i, err)
		}
		if !item.IsAvailable {
			return database.Order{}, nil, fmt.Errorf("items[%d]: %w", i, ErrMenuItemUnavailable)
		}
		if err := priced.AddQuantity(cart.Item{
			ID:    item.ID,
			Name:  item.Name,
			Price: numericToDecimal(item.Price),
		}, l.Quantity); err != nil {
			return database.Order{}, nil, fmt.Errorf("items[%d]: %w: %w", i, ErrValidation, err)
		}
	}
	if priced.Total().GreaterThan(maxOrderTotal) {
		return database.Order{}, nil, ErrOrderTooLarge
	}

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		RestaurantID:  restaurantID,
		TableID:       tableID,
		CustomerName:  customer.Name,
		CustomerPhone: customer.Phone,
		CustomerNotes: optionalText(customer.Notes),
		Total:         decimalToNumeric(priced.Total()),
		OrderType:     enum.OrderTypeDineIn,
		OrderNumber:   nextOrderNumber(s.now()),
	})
	if err != nil {
		return database.Order{}, nil, fmt.Errorf("create order: %w", err)
	}

	items := make([]database.OrderItem, 0, len(lines))
	for pos, l := range priced.Lines() {
		item, err := store.CreateOrderItem(ctx, database.CreateOrderItemParams{
			OrderID:    order.ID,
			MenuItemID: l.MenuItemID,
			Name:       l.Name,
			Price:      decimalToNumeric(l.Price),
			Quantity:   int32(l.Quantity),
			Total:      decimalToNumeric(l.Total()),
			Position:   int32(pos),
		})
		if err != nil {
			return database.Order{}, nil, fmt.Errorf("create order item: %w", err)
		}
		items = append(items, item)
	}

	if table.Status != enum.TableStatusOccupied {
		if _, err := store.UpdateTableStatus(ctx, database.UpdateTableStatusParams{
			ID:           table.ID,
			RestaurantID: restaurantID,
			Status:       enum.TableStatusOccupied,
		}); err != nil {
			return database.Order{}, nil, fmt.Errorf("occupy table: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, nil, fmt.Errorf("commit tx: %w", err)
	}
	return order, items, nil
}

// AdvanceStatus moves an order to req.Target. The write is a conditional
// update keyed on the expected prior status, so of two concurrent callers
// aiming at different targets exactly one wins and the other gets
// ErrConflict. Callers racing towards the same target both succeed.
func (s *OrderService) AdvanceStatus(ctx context.Context, actor *authz.Principal, req AdvanceStatusRequest) (*OrderView, error) {
	if err := authz.Check(actor, authz.Requirement{}); err != nil {
		return nil, err
	}
	if !enum.IsOrderStatus(req.Target) {
		return nil, ErrInvalidStatus
	}
	if req.Expected != "" && !enum.IsOrderStatus(req.Expected) {
		return nil, ErrInvalidStatus
	}

	current, err := s.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, persistenceError("get order", err)
	}
	if req.RestaurantID != uuid.Nil && current.RestaurantID != req.RestaurantID {
		return nil, ErrOrderNotFound
	}

	if err := authz.Check(actor, orderManagement.ForRestaurant(current.RestaurantID)); err != nil {
		return nil, err
	}

	expected := current.Status
	if req.Expected != "" {
		if !CanTransition(req.Expected, req.Target) {
			return nil, &IllegalTransitionError{From: req.Expected, To: req.Target}
		}
		if current.Status != req.Expected {
			if current.Status == req.Target {
				return s.orderView(ctx, current)
			}
			return nil, ErrStatusChanged
		}
	}
	if !CanTransition(expected, req.Target) {
		return nil, &IllegalTransitionError{From: expected, To: req.Target}
	}

	var (
		updated database.Order
		changed bool
	)
	err = withRetry(ctx, s.retries, func() error {
		var txErr error
		updated, changed, txErr = s.advanceTx(ctx, current, expected, req.Target)
		return txErr
	})
	if err != nil {
		return nil, persistenceError("advance order status", err)
	}

	view, err := s.orderView(ctx, updated)
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(ctx, events.TypeOrderStatusChanged, expected, *view)
		s.logger.WithFields(logrus.Fields{
			"order_id": updated.ID,
			"from":     expected,
			"to":       updated.Status,
			"actor":    actor.UserID,
		}).Info("order status changed")
	}
	return view, nil
}

// advanceTx applies the conditional update. changed is false when the order
// already holds the target status because a concurrent caller got there
// first.
func (s *OrderService) advanceTx(ctx context.Context, current database.Order, expected, target string) (database.Order, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	updated, err := store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:       current.ID,
		Status:   target,
		Status_2: expected,
	})
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, false, fmt.Errorf("update order status: %w", err)
		}
		latest, getErr := store.GetOrder(ctx, current.ID)
		if getErr != nil {
			if errors.Is(getErr, pgx.ErrNoRows) {
				return database.Order{}, false, ErrOrderNotFound
			}
			return database.Order{}, false, fmt.Errorf("reload order: %w", getErr)
		}
		if latest.Status == target {
			return latest, false, nil
		}
		return database.Order{}, false, ErrStatusChanged
	}

	if enum.IsTerminalOrderStatus(target) {
		if err := releaseTable(ctx, store, updated); err != nil {
			return database.Order{}, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, false, fmt.Errorf("commit tx: %w", err)
	}
	return updated, true, nil
}

// releaseTable frees the order's table once no open order remains on it.
// The table row is locked before counting so a concurrent CreateOrder on
// the same table is either counted or waits for us.
func releaseTable(ctx context.Context, store OrderStore, order database.Order) error {
	table, err := store.GetTableForUpdate(ctx, database.GetTableParams{ID: order.TableID, RestaurantID: order.RestaurantID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("lock table: %w", err)
	}
	if table.Status != enum.TableStatusOccupied {
		return nil
	}
	open, err := store.CountOpenOrdersForTable(ctx, table.ID)
	if err != nil {
		return fmt.Errorf("count open orders: %w", err)
	}
	if open > 0 {
		return nil
	}
	if _, err := store.UpdateTableStatus(ctx, database.UpdateTableStatusParams{
		ID:           table.ID,
		RestaurantID: table.RestaurantID,
		Status:       enum.TableStatusAvailable,
	}); err != nil {
		return fmt.Errorf("release table: %w", err)
	}
	return nil
}

// ListOrders returns the restaurant's orders, newest first, optionally
// filtered by status.
func (s *OrderService) ListOrders(ctx context.Context, actor *authz.Principal, params ListOrdersParams) ([]OrderView, error) {
	if err := authz.Check(actor, orderManagement.ForRestaurant(params.RestaurantID)); err != nil {
		return nil, err
	}
	for _, st := range params.Statuses {
		if !enum.IsOrderStatus(st) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, st)
		}
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	orders, err := s.store.ListOrders(ctx, database.ListOrdersParams{
		RestaurantID: params.RestaurantID,
		Statuses:     params.Statuses,
		Limit:        int32(limit),
		Offset:       int32(offset),
	})
	if err != nil {
		return nil, persistenceError("list orders", err)
	}
	return s.orderViews(ctx, orders)
}

// GetOrder returns one order of the given restaurant.
func (s *OrderService) GetOrder(ctx context.Context, actor *authz.Principal, restaurantID, orderID uuid.UUID) (*OrderView, error) {
	if err := authz.Check(actor, orderManagement.ForRestaurant(restaurantID)); err != nil {
		return nil, err
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, persistenceError("get order", err)
	}
	if order.RestaurantID != restaurantID {
		return nil, ErrOrderNotFound
	}
	return s.orderView(ctx, order)
}

// TrackOrder lets a customer follow their own order. The phone number
// given at submission acts as the credential.
func (s *OrderService) TrackOrder(ctx context.Context, orderID uuid.UUID, phone string) (*OrderView, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, ErrCustomerPhone
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, persistenceError("get order", err)
	}
	if order.CustomerPhone != phone {
		return nil, ErrOrderNotFound
	}
	return s.orderView(ctx, order)
}

func (s *OrderService) orderView(ctx context.Context, order database.Order) (*OrderView, error) {
	views, err := s.orderViews(ctx, []database.Order{order})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *OrderService) orderViews(ctx context.Context, orders []database.Order) ([]OrderView, error) {
	views := make([]OrderView, 0, len(orders))
	if len(orders) == 0 {
		return views, nil
	}
	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := s.store.ListOrderItemsByOrders(ctx, ids)
	if err != nil {
		return nil, persistenceError("list order items", err)
	}
	byOrder := make(map[uuid.UUID][]database.OrderItem, len(orders))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	for _, o := range orders {
		views = append(views, NewOrderView(o, byOrder[o.ID]))
	}
	return views, nil
}

// publish runs after commit. A failed publish never fails the request;
// subscribers recover through a snapshot.
func (s *OrderService) publish(ctx context.Context, typ, previous string, view OrderView) {
	body, err := json.Marshal(view)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", view.ID).Error("marshal order event")
		return
	}
	ev := events.Event{
		Type:           typ,
		RestaurantID:   view.RestaurantID,
		OrderID:        view.ID,
		Status:         view.Status,
		PreviousStatus: previous,
		UpdatedAt:      view.UpdatedAt,
		OccurredAt:     s.now().UTC(),
		Order:          body,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.WithError(err).WithField("order_id", view.ID).Warn("publish order event")
	}
}
