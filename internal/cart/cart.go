// Package cart aggregates menu selections before an order is submitted.
// It holds no persistence and is safe to use only from one goroutine.
package cart

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxQuantity is the most units a single line may hold.
const MaxQuantity = 999

var (
	ErrInvalid          = errors.New("invalid cart operation")
	ErrNegativePrice    = fmt.Errorf("%w: price must not be negative", ErrInvalid)
	ErrInvalidQuantity  = fmt.Errorf("%w: quantity must be at least 1", ErrInvalid)
	ErrQuantityTooLarge = fmt.Errorf("%w: quantity must not exceed %d", ErrInvalid, MaxQuantity)
)

// Item is a menu entry as seen by the customer.
type Item struct {
	ID    uuid.UUID
	Name  string
	Price decimal.Decimal
}

type Line struct {
	MenuItemID uuid.UUID       `json:"menu_item_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
}

// Total is Price * Quantity.
func (l Line) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart keeps insertion order and never holds two lines for one item.
type Cart struct {
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

// Add puts one unit of item in the cart.
func (c *Cart) Add(item Item) error {
	return c.AddQuantity(item, 1)
}

// AddQuantity adds n units of item, merging with an existing line. A line
// never grows past MaxQuantity; the cart is unchanged when it would.
func (c *Cart) AddQuantity(item Item, n int) error {
	if item.Price.IsNegative() {
		return ErrNegativePrice
	}
	if n < 1 {
		return ErrInvalidQuantity
	}
	if n > MaxQuantity {
		return ErrQuantityTooLarge
	}
	if i := c.index(item.ID); i >= 0 {
		if c.lines[i].Quantity > MaxQuantity-n {
			return ErrQuantityTooLarge
		}
		c.lines[i].Quantity += n
		return nil
	}
	c.lines = append(c.lines, Line{
		MenuItemID: item.ID,
		Name:       item.Name,
		Price:      item.Price,
		Quantity:   n,
	})
	return nil
}

// Remove takes one unit of the item out, dropping the line at zero.
// Removing an item that is not in the cart is a no-op.
func (c *Cart) Remove(id uuid.UUID) {
	i := c.index(id)
	if i < 0 {
		return
	}
	c.lines[i].Quantity--
	if c.lines[i].Quantity <= 0 {
		c.drop(i)
	}
}

// SetQuantity sets the quantity of an item already in the cart. n <= 0
// removes the line; n above MaxQuantity is clamped.
func (c *Cart) SetQuantity(id uuid.UUID, n int) {
	i := c.index(id)
	if i < 0 {
		return
	}
	if n <= 0 {
		c.drop(i)
		return
	}
	c.lines[i].Quantity = min(n, MaxQuantity)
}

func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Total())
	}
	return total
}

// Count is the number of units, not lines.
func (c *Cart) Count() int {
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

// Lines returns a copy of the cart contents in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

func (c *Cart) Clear() {
	c.lines = nil
}

func (c *Cart) index(id uuid.UUID) int {
	for i, l := range c.lines {
		if l.MenuItemID == id {
			return i
		}
	}
	return -1
}

func (c *Cart) drop(i int) {
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
}
