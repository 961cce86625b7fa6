// Package cart holds the client-side shopping cart and the immutable snapshot
// handed to checkout. Checkout never reads a live Cart.
package cart

import (
	"time"

	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/models"
	"github.com/shopspring/decimal"
)

type Line struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Snapshot is the cart frozen at checkout time.
type Snapshot struct {
	Version    int       `json:"version"`
	Lines      []Line    `json:"lines"`
	CapturedAt time.Time `json:"captured_at"`
}

func (s Snapshot) Total() decimal.Decimal {
	return sum(s.Lines)
}

func (s Snapshot) Empty() bool {
	return len(s.Lines) == 0
}

// Validate rejects empty snapshots, lines with a quantity below one and unit
// prices that are negative or finer than a cent. Prices are stored as
// numeric(12,2), so sub-cent prices would be rounded column by column.
func (s Snapshot) Validate() error {
	if s.Empty() {
		return database.ErrEmptyCart
	}
	for _, line := range s.Lines {
		if line.Quantity < 1 {
			return database.ErrInvalidQuantity
		}
		if line.UnitPrice.IsNegative() || !line.UnitPrice.Equal(line.UnitPrice.Round(2)) {
			return database.ErrInvalidPrice
		}
	}
	return nil
}

// Cart is not safe for concurrent use; it belongs to one customer session.
type Cart struct {
	lines   []Line
	version int
	now     func() time.Time
}

func New() *Cart {
	return &Cart{now: time.Now}
}

// Add puts quantity units of product in the cart at its effective price,
// merging with an existing line for the same product.
func (c *Cart) Add(product models.Product, quantity int) error {
	if quantity < 1 {
		return database.ErrInvalidQuantity
	}

	for i := range c.lines {
		if c.lines[i].ProductID == product.ID {
			c.lines[i].Quantity += quantity
			c.version++
			return nil
		}
	}

	c.lines = append(c.lines, Line{
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    quantity,
		UnitPrice:   product.EffectivePrice(),
	})
	c.version++
	return nil
}

// SetQuantity replaces a line's quantity; zero or less removes the line.
func (c *Cart) SetQuantity(productID int64, quantity int) {
	if quantity <= 0 {
		c.Remove(productID)
		return
	}

	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			if c.lines[i].Quantity != quantity {
				c.lines[i].Quantity = quantity
				c.version++
			}
			return
		}
	}
}

func (c *Cart) Remove(productID int64) {
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			c.version++
			return
		}
	}
}

func (c *Cart) Clear() {
	if len(c.lines) == 0 {
		return
	}
	c.lines = nil
	c.version++
}

func (c *Cart) Total() decimal.Decimal {
	return sum(c.lines)
}

func (c *Cart) ItemCount() int {
	count := 0
	for _, line := range c.lines {
		count += line.Quantity
	}
	return count
}

func (c *Cart) Version() int {
	return c.version
}

// Snapshot copies the current lines; later cart mutations do not affect it.
func (c *Cart) Snapshot() Snapshot {
	lines := make([]Line, len(c.lines))
	copy(lines, c.lines)
	return Snapshot{
		Version:    c.version,
		Lines:      lines,
		CapturedAt: c.now(),
	}
}

func sum(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal())
	}
	return total
}
