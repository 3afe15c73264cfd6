package service

import (
	"errors"
	"fmt"

	"github.com/restrona-pos/api/internal/cart"
)

// Error kinds. Every error returned by a service matches at most one of
// these (or authz.ErrDenied) via errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrConflict          = errors.New("conflict")
	ErrPersistence       = errors.New("persistence error")
)

var (
	ErrEmptyCart           = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrCustomerName        = fmt.Errorf("%w: customer name is required", ErrValidation)
	ErrCustomerPhone       = fmt.Errorf("%w: customer phone is required", ErrValidation)
	ErrInvalidQuantity     = fmt.Errorf("%w: quantity must be between 1 and %d", ErrValidation, cart.MaxQuantity)
	ErrTooManyLines        = fmt.Errorf("%w: an order holds at most %d lines", ErrValidation, MaxOrderLines)
	ErrOrderTooLarge       = fmt.Errorf("%w: order total exceeds %s", ErrValidation, maxOrderTotal.StringFixed(2))
	ErrMenuItemNotFound    = fmt.Errorf("%w: menu item not found in restaurant", ErrValidation)
	ErrMenuItemUnavailable = fmt.Errorf("%w: menu item is not available", ErrValidation)
	ErrInvalidStatus       = fmt.Errorf("%w: unknown order status", ErrValidation)
	ErrRestaurantClosed    = fmt.Errorf("%w: restaurant is not accepting orders", ErrValidation)
	ErrTableUnavailable    = fmt.Errorf("%w: table is under maintenance", ErrValidation)

	ErrOrderNotFound      = fmt.Errorf("order %w", ErrNotFound)
	ErrRestaurantNotFound = fmt.Errorf("restaurant %w", ErrNotFound)
	ErrTableNotFound      = fmt.Errorf("table %w", ErrNotFound)

	ErrStatusChanged = fmt.Errorf("%w: order status changed, please retry", ErrConflict)
)

// IllegalTransitionError reports a status change that the order state
// machine does not allow.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition from %s to %s", e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrPersistence) ||
		isDenied(err)
}

// persistenceError tags a backend failure so callers can tell it apart
// from a rejected request. Domain errors pass through unchanged.
func persistenceError(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
