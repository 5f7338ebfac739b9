// Package cart is a client-side aggregator of intended purchases. A cart is
// not persisted server-side and places no hold on stock; availability is only
// checked when the cart is turned into an order.
package cart

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gofrs/uuid"

	"github.com/shopflow/shopflow/internal/order"
)

var (
	ErrEmptyCart   = errors.New("cart has no items for this shop")
	ErrBadQuantity = errors.New("quantity must be positive")
)

// Line is one product/quantity pair. A cart can hold lines from several
// shops; checkout splits them per shop.
type Line struct {
	ShopID    uuid.UUID `json:"shop_id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type Cart struct {
	lines map[uuid.UUID]Line // keyed by product
}

func New() *Cart {
	return &Cart{lines: make(map[uuid.UUID]Line)}
}

// Add increases the quantity for a product, creating the line when absent.
func (c *Cart) Add(shopID, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("cart: add %d of product %s: %w", qty, productID, ErrBadQuantity)
	}

	line, ok := c.lines[productID]
	if !ok {
		line = Line{ShopID: shopID, ProductID: productID}
	}
	line.Quantity += qty
	c.lines[productID] = line

	return nil
}

// SetQuantity replaces the quantity for a product. Zero removes the line.
func (c *Cart) SetQuantity(productID uuid.UUID, qty int) error {
	if qty < 0 {
		return fmt.Errorf("cart: set quantity %d for product %s: %w", qty, productID, ErrBadQuantity)
	}
	if qty == 0 {
		delete(c.lines, productID)
		return nil
	}

	line, ok := c.lines[productID]
	if !ok {
		return fmt.Errorf("cart: product %s is not in the cart", productID)
	}
	line.Quantity = qty
	c.lines[productID] = line

	return nil
}

func (c *Cart) Remove(productID uuid.UUID) {
	delete(c.lines, productID)
}

func (c *Cart) Clear() {
	c.lines = make(map[uuid.UUID]Line)
}

func (c *Cart) Len() int {
	return len(c.lines)
}

// ItemsForShop returns the lines belonging to one shop, ordered by product id
// so the output is stable.
func (c *Cart) ItemsForShop(shopID uuid.UUID) []Line {
	items := make([]Line, 0)
	for _, line := range c.lines {
		if line.ShopID == shopID {
			items = append(items, line)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ProductID.String() < items[j].ProductID.String()
	})

	return items
}

// Shops lists the distinct shops the cart holds lines for.
func (c *Cart) Shops() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	shops := make([]uuid.UUID, 0)
	for _, line := range c.lines {
		if !seen[line.ShopID] {
			seen[line.ShopID] = true
			shops = append(shops, line.ShopID)
		}
	}
	sort.Slice(shops, func(i, j int) bool {
		return shops[i].String() < shops[j].String()
	})

	return shops
}

// Snapshot serialises the cart for client-side storage.
func (c *Cart) Snapshot() []Line {
	items := make([]Line, 0, len(c.lines))
	for _, line := range c.lines {
		items = append(items, line)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ProductID.String() < items[j].ProductID.String()
	})

	return items
}

// Restore rebuilds a cart from a snapshot, dropping lines with non-positive
// quantities.
func Restore(lines []Line) *Cart {
	c := New()
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		c.lines[line.ProductID] = line
	}

	return c
}

// OrderForm turns the shop's slice of the cart into an order-creation form.
// Customer and shipping details are filled in by the caller.
func (c *Cart) OrderForm(shopID uuid.UUID) (*order.CreateForm, error) {
	lines := c.ItemsForShop(shopID)
	if len(lines) == 0 {
		return nil, fmt.Errorf("cart: shop %s: %w", shopID, ErrEmptyCart)
	}

	form := &order.CreateForm{
		ShopID: shopID,
		Items:  make([]order.FormItem, 0, len(lines)),
	}
	for _, line := range lines {
		form.Items = append(form.Items, order.FormItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
	}

	return form, nil
}
