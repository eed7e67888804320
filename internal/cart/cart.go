// Package cart keeps the shopping cart: ordered lines, one per product, with
// totals derived on demand.
package cart

import (
	"math"

	"github.com/Skotchmaster/blytz_client/pkg/models"
)

type Line struct {
	ProductID string  `json:"product_id"`
	Title     string  `json:"title"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image,omitempty"`
}

func (l Line) Subtotal() float64 {
	return l.UnitPrice * float64(l.Quantity)
}

// Cart is immutable: every operation returns a new Cart.
type Cart struct {
	lines []Line
}

func New(lines ...Line) Cart {
	var c Cart
	for _, l := range lines {
		c = c.AddItem(models.Product{ID: l.ProductID, Title: l.Title, Price: l.UnitPrice, Image: l.Image}, l.Quantity)
	}
	return c
}

// ValidPrice reports whether p can be a unit price: finite and not negative.
func ValidPrice(p float64) bool {
	return p >= 0 && !math.IsInf(p, 1)
}

// AddItem merges into the existing line for the product, or appends a new
// one. qty < 1 or an invalid price leaves the cart unchanged. Quantities
// saturate at math.MaxInt.
func (c Cart) AddItem(p models.Product, qty int) Cart {
	if qty < 1 || !ValidPrice(p.Price) {
		return c
	}
	lines := c.Lines()
	for i := range lines {
		if lines[i].ProductID == p.ID {
			lines[i].Quantity = addQty(lines[i].Quantity, qty)
			return Cart{lines: lines}
		}
	}
	return Cart{lines: append(lines, Line{
		ProductID: p.ID,
		Title:     p.Title,
		UnitPrice: p.Price,
		Quantity:  qty,
		Image:     p.Image,
	})}
}

func (c Cart) RemoveItem(productID string) Cart {
	lines := make([]Line, 0, len(c.lines))
	for _, l := range c.lines {
		if l.ProductID != productID {
			lines = append(lines, l)
		}
	}
	return Cart{lines: lines}
}

// UpdateQuantity shifts a line's quantity by delta and drops the line once it
// reaches zero. Unknown products are ignored.
func (c Cart) UpdateQuantity(productID string, delta int) Cart {
	lines := c.Lines()
	for i := range lines {
		if lines[i].ProductID != productID {
			continue
		}
		if delta <= -lines[i].Quantity {
			return c.RemoveItem(productID)
		}
		lines[i].Quantity = addQty(lines[i].Quantity, delta)
		return Cart{lines: lines}
	}
	return c
}

// addQty adds delta to a positive quantity without wrapping past math.MaxInt.
func addQty(q, delta int) int {
	if delta > 0 && q > math.MaxInt-delta {
		return math.MaxInt
	}
	return q + delta
}

func (c Cart) Clear() Cart {
	return Cart{}
}

func (c Cart) Total() float64 {
	var total float64
	for _, l := range c.lines {
		total += l.Subtotal()
	}
	return total
}

func (c Cart) ItemCount() int {
	n := 0
	for _, l := range c.lines {
		n = addQty(n, l.Quantity)
	}
	return n
}

func (c Cart) Line(productID string) (Line, bool) {
	for _, l := range c.lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return Line{}, false
}

// Lines returns a copy in insertion order.
func (c Cart) Lines() []Line {
	if len(c.lines) == 0 {
		return nil
	}
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c Cart) Len() int {
	return len(c.lines)
}

func (c Cart) IsEmpty() bool {
	return len(c.lines) == 0
}
